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

import "encoding/binary"

// Order-preserving key encoding: for values a, b of
// the same type, bytes.Compare(AppendKey(nil, t, a),
// AppendKey(nil, t, b)) == Compare(t, a, b). Index
// keys (including composite keys, which are products)
// are stored in this form so that byte-lexicographic
// B-tree order equals tuple order.
//
// Scalars encode big-endian; signed integers flip the
// sign bit; floats map through the IEEE-754 total
// order; strings and byte blobs escape 0x00 as
// 0x00 0xff and terminate with 0x00 0x01 so that a
// shorter string sorts before its extensions; sums
// encode the tag byte before the payload; arrays
// terminate with a 0x00 byte after 0x01-prefixed
// elements.

const (
	keyEscape     = 0x00
	keyEscaped00  = 0xff
	keyTerminator = 0x01
)

// AppendKey appends the order-preserving encoding of
// v (of type t) to dst and returns the extended slice.
func AppendKey(dst []byte, t *Type, v Value) []byte {
	switch t.Kind {
	case BoolKind, U8Kind:
		return append(dst, byte(v.bits))
	case I8Kind:
		return append(dst, byte(v.bits)^0x80)
	case U16Kind:
		return binary.BigEndian.AppendUint16(dst, uint16(v.bits))
	case I16Kind:
		return binary.BigEndian.AppendUint16(dst, uint16(v.bits)^0x8000)
	case U32Kind:
		return binary.BigEndian.AppendUint32(dst, uint32(v.bits))
	case I32Kind:
		return binary.BigEndian.AppendUint32(dst, uint32(v.bits)^0x8000_0000)
	case U64Kind:
		return binary.BigEndian.AppendUint64(dst, v.bits)
	case I64Kind:
		return binary.BigEndian.AppendUint64(dst, v.bits^(1<<63))
	case F32Kind:
		return binary.BigEndian.AppendUint32(dst, totalOrder32(uint32(v.bits)))
	case F64Kind:
		return binary.BigEndian.AppendUint64(dst, totalOrder64(v.bits))
	case StringKind:
		return appendEscaped(dst, v.str)
	case BytesKind:
		return appendEscaped(dst, string(v.blob))
	case ArrayKind:
		for i := range v.kids {
			dst = append(dst, keyTerminator)
			dst = AppendKey(dst, t.Elem, v.kids[i])
		}
		return append(dst, keyEscape)
	case ProductKind:
		for i := range t.Fields {
			dst = AppendKey(dst, t.Fields[i].Type, v.kids[i])
		}
		return dst
	case SumKind:
		dst = append(dst, v.Tag())
		if vt := t.Variants[v.Tag()].Type; vt != nil {
			dst = AppendKey(dst, vt, v.kids[0])
		}
		return dst
	}
	panic("sats: AppendKey on invalid type")
}

func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == keyEscape {
			dst = append(dst, keyEscape, keyEscaped00)
		} else {
			dst = append(dst, s[i])
		}
	}
	return append(dst, keyEscape, keyTerminator)
}

// KeySize returns an upper bound on the encoded key
// size for preallocation.
func KeySize(t *Type, v Value) int {
	switch t.Kind {
	case BoolKind, U8Kind, I8Kind:
		return 1
	case U16Kind, I16Kind:
		return 2
	case U32Kind, I32Kind, F32Kind:
		return 4
	case U64Kind, I64Kind, F64Kind:
		return 8
	case StringKind:
		return 2*len(v.str) + 2
	case BytesKind:
		return 2*len(v.blob) + 2
	case ArrayKind:
		n := 1
		for i := range v.kids {
			n += 1 + KeySize(t.Elem, v.kids[i])
		}
		return n
	case ProductKind:
		n := 0
		for i := range t.Fields {
			n += KeySize(t.Fields[i].Type, v.kids[i])
		}
		return n
	case SumKind:
		n := 1
		if vt := t.Variants[v.Tag()].Type; vt != nil {
			n += KeySize(vt, v.kids[0])
		}
		return n
	}
	return 0
}
