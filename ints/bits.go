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

package ints

import "math/bits"

// Bitset is a dense bitmap addressed from bit 0.
type Bitset struct {
	words []uint64
}

// Grow ensures the bitset can address bits [0, n).
func (b *Bitset) Grow(n int) {
	need := (n + 63) / 64
	for len(b.words) < need {
		b.words = append(b.words, 0)
	}
}

// Test reports whether bit k is set.
func (b *Bitset) Test(k int) bool {
	w := k / 64
	return w < len(b.words) && b.words[w]&(1<<(k%64)) != 0
}

// Set sets bit k, growing as needed.
func (b *Bitset) Set(k int) {
	b.Grow(k + 1)
	b.words[k/64] |= 1 << (k % 64)
}

// Clear clears bit k.
func (b *Bitset) Clear(k int) {
	if w := k / 64; w < len(b.words) {
		b.words[w] &^= 1 << (k % 64)
	}
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Next returns the index of the first set bit at or
// after k, or -1 if there is none.
func (b *Bitset) Next(k int) int {
	if k < 0 {
		k = 0
	}
	for w := k / 64; w < len(b.words); w++ {
		word := b.words[w]
		if w == k/64 {
			word &= ^uint64(0) << (k % 64)
		}
		if word != 0 {
			return w*64 + bits.TrailingZeros64(word)
		}
	}
	return -1
}

// Reset clears all bits without releasing storage.
func (b *Bitset) Reset() {
	for i := range b.words {
		b.words[i] = 0
	}
}
