// Copyright (C) 2023 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package index

import (
	"bytes"

	"github.com/SnellerInc/spindle/table"
)

// Iter yields row pointers from a seek. Results are
// materialized at seek time, so an Iter stays valid
// across subsequent index mutations. The zero Iter
// is empty.
type Iter struct {
	ptrs []table.RowPointer
	pos  int
}

func newSliceIter(ptrs []table.RowPointer) Iter {
	return Iter{ptrs: ptrs}
}

// Next returns the next pointer, or (Null, false)
// when the iterator is exhausted.
func (it *Iter) Next() (table.RowPointer, bool) {
	if it.pos >= len(it.ptrs) {
		return table.Null, false
	}
	p := it.ptrs[it.pos]
	it.pos++
	return p, true
}

// Len returns the number of results remaining.
func (it *Iter) Len() int { return len(it.ptrs) - it.pos }

// Collect drains the iterator into a slice.
func (it *Iter) Collect() []table.RowPointer {
	out := it.ptrs[it.pos:]
	it.pos = len(it.ptrs)
	return out
}

func compareBytes(a, b []byte) int { return bytes.Compare(a, b) }
