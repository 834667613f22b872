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

// Package index implements the three index variants
// over encoded keys: an ordered unique map, an ordered
// B-tree multimap, and a hash multimap. Keys are
// order-preserving encodings (see sats.AppendKey), so
// byte-lexicographic order equals column-tuple order.
//
// The variants share one operation set; a tagged
// struct keeps seek hot paths monomorphic rather than
// dispatching through an interface.
package index

import "github.com/SnellerInc/spindle/table"

// ID identifies an index within a database.
type ID uint32

// Kind selects the index variant.
type Kind uint8

const (
	Unique Kind = iota // ordered, at most one row per key
	BTree              // ordered, many rows per key
	Hash               // unordered, many rows per key
)

func (k Kind) String() string {
	switch k {
	case Unique:
		return "unique"
	case BTree:
		return "btree"
	case Hash:
		return "hash"
	}
	return "invalid"
}

// Ordered reports whether the variant supports range
// scans.
func (k Kind) Ordered() bool { return k != Hash }

// Range describes a key range with optional bounds.
// A nil bound is unbounded on that side.
type Range struct {
	Lo, Hi       []byte
	LoInc, HiInc bool
}

// PointRange returns the range containing exactly key.
func PointRange(key []byte) Range {
	return Range{Lo: key, Hi: key, LoInc: true, HiInc: true}
}

// FullRange returns the unbounded range.
func FullRange() Range { return Range{} }

// Index is one index over one table.
type Index struct {
	id   ID
	kind Kind
	cols []int // key column positions, in key order

	uniq  *uniqueTree
	multi *multiTree
	hash  *hashMap

	keyBytes int // total bytes across distinct keys
}

// New constructs an empty index of the given kind
// keyed on the column positions in cols.
func New(id ID, kind Kind, cols []int) *Index {
	ix := &Index{id: id, kind: kind, cols: append([]int(nil), cols...)}
	switch kind {
	case Unique:
		ix.uniq = newUniqueTree()
	case BTree:
		ix.multi = newMultiTree()
	case Hash:
		ix.hash = newHashMap(uint64(id))
	default:
		panic("index: invalid kind")
	}
	return ix
}

// ID returns the index identifier.
func (ix *Index) ID() ID { return ix.id }

// Kind returns the index variant.
func (ix *Index) Kind() Kind { return ix.kind }

// Cols returns the key column positions.
func (ix *Index) Cols() []int { return ix.cols }

// IsUnique reports whether the index enforces
// at-most-one row per key.
func (ix *Index) IsUnique() bool { return ix.kind == Unique }

// Insert adds key -> ptr. For the unique variant,
// a pre-existing entry under key is returned with
// ok == false and the index is not modified. The
// multi variants return ok == false (and do not
// modify the index) only if the exact (key, ptr)
// pair is already present.
func (ix *Index) Insert(key []byte, ptr table.RowPointer) (existing table.RowPointer, ok bool) {
	switch ix.kind {
	case Unique:
		existing, ok = ix.uniq.insert(key, ptr)
	case BTree:
		ok = ix.multi.insert(key, ptr, &ix.keyBytes)
		existing = table.Null
	case Hash:
		ok = ix.hash.insert(key, ptr, &ix.keyBytes)
		existing = table.Null
	}
	if ix.kind == Unique && ok {
		ix.keyBytes += len(key)
	}
	return existing, ok
}

// Delete removes key -> ptr, reporting whether the
// pair was present.
func (ix *Index) Delete(key []byte, ptr table.RowPointer) bool {
	var ok, lastForKey bool
	switch ix.kind {
	case Unique:
		ok = ix.uniq.delete(key, ptr)
		lastForKey = ok
	case BTree:
		ok, lastForKey = ix.multi.delete(key, ptr)
	case Hash:
		ok, lastForKey = ix.hash.delete(key, ptr)
	}
	if lastForKey {
		ix.keyBytes -= len(key)
	}
	return ok
}

// SeekPoint returns an iterator over the rows stored
// under exactly key: zero or one pointer for the
// unique variant, any number for the multi variants
// (in insertion order).
func (ix *Index) SeekPoint(key []byte) Iter {
	switch ix.kind {
	case Unique:
		if ptr, ok := ix.uniq.get(key); ok {
			return newSliceIter([]table.RowPointer{ptr})
		}
		return Iter{}
	case BTree:
		return ix.multi.seekPoint(key)
	case Hash:
		return ix.hash.seekPoint(key)
	}
	return Iter{}
}

// SeekRange returns an iterator over the rows whose
// keys fall within r, in key order with an
// insertion-order tiebreaker among equal keys. Only
// the ordered variants support ranges; SeekRange on
// a hash index panics.
func (ix *Index) SeekRange(r Range) Iter {
	switch ix.kind {
	case Unique:
		return ix.uniq.seekRange(r)
	case BTree:
		return ix.multi.seekRange(r)
	}
	panic("index: range scan on hash index")
}

// NumKeys returns the number of distinct keys.
func (ix *Index) NumKeys() int {
	switch ix.kind {
	case Unique:
		return ix.uniq.len()
	case BTree:
		return ix.multi.numKeys()
	case Hash:
		return ix.hash.numKeys()
	}
	return 0
}

// NumRows returns the number of (key, ptr) entries.
func (ix *Index) NumRows() int {
	switch ix.kind {
	case Unique:
		return ix.uniq.len()
	case BTree:
		return ix.multi.numRows()
	case Hash:
		return ix.hash.numRows()
	}
	return 0
}

// NumKeyBytes returns the total encoded size of the
// distinct keys. The planner's index selection does
// not read it.
func (ix *Index) NumKeyBytes() int { return ix.keyBytes }

// check evaluates a key against the range bounds.
// ok reports a match; past reports the key is beyond
// the high bound, so ordered scans can stop.
func (r *Range) check(key []byte) (ok, past bool) {
	if r.Lo != nil {
		c := compareBytes(key, r.Lo)
		if c < 0 || (c == 0 && !r.LoInc) {
			return false, false
		}
	}
	if r.Hi != nil {
		c := compareBytes(key, r.Hi)
		if c > 0 || (c == 0 && !r.HiInc) {
			return false, true
		}
	}
	return true, false
}
