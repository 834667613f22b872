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

package table

import "fmt"

// Space selects the logical address space a row
// pointer refers to: the committed table state or a
// transaction-local overlay.
type Space uint8

const (
	Committed Space = 0
	TxState   Space = 1
)

// RowPointer is a 64-bit handle to a physical row:
//
//	bit  63     reserved (sentinel / unset)
//	bit  62     space (0 committed, 1 tx overlay)
//	bits 16..61 page index
//	bits 0..15  byte offset of the fixed slot
//
// Pointers are stable for the lifetime of the row;
// deleting the row invalidates them.
type RowPointer uint64

// Null is the sentinel pointer.
const Null RowPointer = 1 << 63

// MakePointer packs a row pointer.
func MakePointer(space Space, pageIdx uint32, off uint16) RowPointer {
	return RowPointer(uint64(space)<<62 | uint64(pageIdx)<<16 | uint64(off))
}

// IsNull reports whether the reserved bit is set.
func (r RowPointer) IsNull() bool { return r&Null != 0 }

// Space returns the pointer's address space.
func (r RowPointer) Space() Space { return Space(r >> 62 & 1) }

// PageIndex returns the page index.
func (r RowPointer) PageIndex() uint32 { return uint32(r >> 16 & 0xffff_ffff) }

// Offset returns the byte offset of the fixed slot.
func (r RowPointer) Offset() uint16 { return uint16(r) }

func (r RowPointer) String() string {
	if r.IsNull() {
		return "row(null)"
	}
	space := "c"
	if r.Space() == TxState {
		space = "tx"
	}
	return fmt.Sprintf("row(%s:%d+%d)", space, r.PageIndex(), r.Offset())
}
