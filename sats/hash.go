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

package sats

import "github.com/dchest/siphash"

// Hash returns a 64-bit hash of v under the given
// seed. Values that compare equal hash equally; the
// hash is computed over the order-preserving key
// encoding so it agrees with index key identity.
func Hash(seed0, seed1 uint64, t *Type, v Value) uint64 {
	var stack [64]byte
	buf := AppendKey(stack[:0], t, v)
	return siphash.Hash(seed0, seed1, buf)
}

// HashKey hashes an already-encoded key.
func HashKey(seed0, seed1 uint64, key []byte) uint64 {
	return siphash.Hash(seed0, seed1, key)
}
