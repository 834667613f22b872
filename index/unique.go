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
	"github.com/SnellerInc/spindle/table"
	"github.com/tidwall/btree"
)

type uniqueItem struct {
	key []byte
	ptr table.RowPointer
}

// uniqueTree is an ordered map key -> pointer with at
// most one row per key.
type uniqueTree struct {
	tr *btree.BTreeG[uniqueItem]
}

func newUniqueTree() *uniqueTree {
	return &uniqueTree{
		tr: btree.NewBTreeGOptions(func(a, b uniqueItem) bool {
			return compareBytes(a.key, b.key) < 0
		}, btree.Options{NoLocks: true}),
	}
}

// insert adds key -> ptr unless key is present; in
// that case the existing pointer is returned with
// ok == false.
func (u *uniqueTree) insert(key []byte, ptr table.RowPointer) (table.RowPointer, bool) {
	if prev, ok := u.tr.Get(uniqueItem{key: key}); ok {
		return prev.ptr, false
	}
	u.tr.Set(uniqueItem{key: append([]byte(nil), key...), ptr: ptr})
	return table.Null, true
}

func (u *uniqueTree) get(key []byte) (table.RowPointer, bool) {
	it, ok := u.tr.Get(uniqueItem{key: key})
	if !ok {
		return table.Null, false
	}
	return it.ptr, true
}

func (u *uniqueTree) delete(key []byte, ptr table.RowPointer) bool {
	it, ok := u.tr.Get(uniqueItem{key: key})
	if !ok || it.ptr != ptr {
		return false
	}
	u.tr.Delete(uniqueItem{key: key})
	return true
}

func (u *uniqueTree) seekRange(r Range) Iter {
	var out []table.RowPointer
	scan := func(it uniqueItem) bool {
		ok, past := r.check(it.key)
		if past {
			return false
		}
		if ok {
			out = append(out, it.ptr)
		}
		return true
	}
	if r.Lo != nil {
		u.tr.Ascend(uniqueItem{key: r.Lo}, scan)
	} else {
		u.tr.Scan(scan)
	}
	return newSliceIter(out)
}

func (u *uniqueTree) len() int { return u.tr.Len() }
