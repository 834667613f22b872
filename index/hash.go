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
	"github.com/SnellerInc/spindle/sats"
	"github.com/SnellerInc/spindle/table"
)

// hashMap is an unordered multimap for point lookups.
// Buckets are keyed by a siphash of the encoded key;
// entries within a bucket are distinguished by the
// full key, so hash collisions are handled, not
// assumed away.
type hashMap struct {
	seed    uint64
	buckets map[uint64][]hashEntry
	keys    int
	rows    int
}

type hashEntry struct {
	key []byte
	set ptrSet
}

func newHashMap(seed uint64) *hashMap {
	return &hashMap{
		seed:    seed,
		buckets: make(map[uint64][]hashEntry),
	}
}

func (h *hashMap) hash(key []byte) uint64 {
	return sats.HashKey(h.seed, ^h.seed, key)
}

func (h *hashMap) insert(key []byte, ptr table.RowPointer, keyBytes *int) bool {
	b := h.hash(key)
	bucket := h.buckets[b]
	for i := range bucket {
		if string(bucket[i].key) == string(key) {
			if !bucket[i].set.add(ptr) {
				return false
			}
			h.buckets[b] = bucket
			h.rows++
			return true
		}
	}
	var e hashEntry
	e.key = append([]byte(nil), key...)
	e.set.add(ptr)
	h.buckets[b] = append(bucket, e)
	h.keys++
	h.rows++
	*keyBytes += len(key)
	return true
}

func (h *hashMap) delete(key []byte, ptr table.RowPointer) (ok, lastForKey bool) {
	b := h.hash(key)
	bucket := h.buckets[b]
	for i := range bucket {
		if string(bucket[i].key) != string(key) {
			continue
		}
		if !bucket[i].set.remove(ptr) {
			return false, false
		}
		h.rows--
		if bucket[i].set.n == 0 {
			h.keys--
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(h.buckets, b)
			} else {
				h.buckets[b] = bucket
			}
			return true, true
		}
		h.buckets[b] = bucket
		return true, false
	}
	return false, false
}

func (h *hashMap) seekPoint(key []byte) Iter {
	bucket := h.buckets[h.hash(key)]
	for i := range bucket {
		if string(bucket[i].key) == string(key) {
			return newSliceIter(bucket[i].set.appendTo(nil))
		}
	}
	return Iter{}
}

func (h *hashMap) numKeys() int { return h.keys }
func (h *hashMap) numRows() int { return h.rows }
