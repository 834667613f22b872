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

// ptrSet is a per-key value set with a single element
// stored inline; most keys relate to exactly one row,
// and the inline slot avoids a slice allocation for
// that case. Order is insertion order, which is the
// deterministic tiebreaker among equal keys.
type ptrSet struct {
	one  table.RowPointer // valid when n >= 1
	rest []table.RowPointer
	n    int
}

func (s *ptrSet) add(ptr table.RowPointer) bool {
	if s.contains(ptr) {
		return false
	}
	if s.n == 0 {
		s.one = ptr
	} else {
		s.rest = append(s.rest, ptr)
	}
	s.n++
	return true
}

func (s *ptrSet) contains(ptr table.RowPointer) bool {
	if s.n >= 1 && s.one == ptr {
		return true
	}
	for i := range s.rest {
		if s.rest[i] == ptr {
			return true
		}
	}
	return false
}

// remove deletes ptr preserving insertion order.
func (s *ptrSet) remove(ptr table.RowPointer) bool {
	if s.n == 0 {
		return false
	}
	if s.one == ptr {
		if len(s.rest) > 0 {
			s.one = s.rest[0]
			s.rest = s.rest[1:]
		}
		s.n--
		return true
	}
	for i := range s.rest {
		if s.rest[i] == ptr {
			s.rest = append(s.rest[:i], s.rest[i+1:]...)
			s.n--
			return true
		}
	}
	return false
}

func (s *ptrSet) appendTo(dst []table.RowPointer) []table.RowPointer {
	if s.n == 0 {
		return dst
	}
	dst = append(dst, s.one)
	return append(dst, s.rest...)
}

type multiItem struct {
	key []byte
	set ptrSet
}

// multiTree is an ordered multimap key -> set of
// pointers.
type multiTree struct {
	tr   *btree.BTreeG[multiItem]
	rows int
}

func newMultiTree() *multiTree {
	return &multiTree{
		tr: btree.NewBTreeGOptions(func(a, b multiItem) bool {
			return compareBytes(a.key, b.key) < 0
		}, btree.Options{NoLocks: true}),
	}
}

func (m *multiTree) insert(key []byte, ptr table.RowPointer, keyBytes *int) bool {
	it, ok := m.tr.Get(multiItem{key: key})
	if !ok {
		it = multiItem{key: append([]byte(nil), key...)}
		*keyBytes += len(key)
	}
	if !it.set.add(ptr) {
		return false
	}
	m.tr.Set(it)
	m.rows++
	return true
}

func (m *multiTree) delete(key []byte, ptr table.RowPointer) (ok, lastForKey bool) {
	it, found := m.tr.Get(multiItem{key: key})
	if !found || !it.set.remove(ptr) {
		return false, false
	}
	m.rows--
	if it.set.n == 0 {
		m.tr.Delete(it)
		return true, true
	}
	m.tr.Set(it)
	return true, false
}

func (m *multiTree) seekPoint(key []byte) Iter {
	it, ok := m.tr.Get(multiItem{key: key})
	if !ok {
		return Iter{}
	}
	return newSliceIter(it.set.appendTo(nil))
}

func (m *multiTree) seekRange(r Range) Iter {
	var out []table.RowPointer
	scan := func(it multiItem) bool {
		ok, past := r.check(it.key)
		if past {
			return false
		}
		if ok {
			out = it.set.appendTo(out)
		}
		return true
	}
	if r.Lo != nil {
		m.tr.Ascend(multiItem{key: r.Lo}, scan)
	} else {
		m.tr.Scan(scan)
	}
	return newSliceIter(out)
}

func (m *multiTree) numKeys() int { return m.tr.Len() }
func (m *multiTree) numRows() int { return m.rows }
