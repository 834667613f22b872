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

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// BSATN is the canonical binary encoding:
// products are concatenated fields in declaration
// order, sums are a u8 tag followed by the variant
// payload, integers are little-endian two's
// complement, floats are IEEE-754 little-endian,
// and strings, byte blobs, and arrays carry a u32
// little-endian length prefix.

var (
	// ErrTruncated indicates the input ended in the
	// middle of an encoded value.
	ErrTruncated = errors.New("sats: truncated bsatn input")
	// ErrTrailing indicates the input continued past
	// the end of the encoded value.
	ErrTrailing = errors.New("sats: trailing bytes after bsatn value")
)

// Append appends the BSATN encoding of v (of type t)
// to dst and returns the extended slice.
func Append(dst []byte, t *Type, v Value) []byte {
	switch t.Kind {
	case BoolKind, U8Kind, I8Kind:
		return append(dst, byte(v.bits))
	case U16Kind, I16Kind:
		return binary.LittleEndian.AppendUint16(dst, uint16(v.bits))
	case U32Kind, I32Kind, F32Kind:
		return binary.LittleEndian.AppendUint32(dst, uint32(v.bits))
	case U64Kind, I64Kind, F64Kind:
		return binary.LittleEndian.AppendUint64(dst, v.bits)
	case StringKind:
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.str)))
		return append(dst, v.str...)
	case BytesKind:
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.blob)))
		return append(dst, v.blob...)
	case ArrayKind:
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(v.kids)))
		for i := range v.kids {
			dst = Append(dst, t.Elem, v.kids[i])
		}
		return dst
	case ProductKind:
		for i := range t.Fields {
			dst = Append(dst, t.Fields[i].Type, v.kids[i])
		}
		return dst
	case SumKind:
		dst = append(dst, v.Tag())
		if vt := t.Variants[v.Tag()].Type; vt != nil {
			dst = Append(dst, vt, v.kids[0])
		}
		return dst
	}
	panic("sats: Append on invalid type")
}

// Encode returns the BSATN encoding of v.
func Encode(t *Type, v Value) []byte {
	return Append(nil, t, v)
}

// Decode decodes one value of type t from the
// beginning of buf and returns it along with any
// remaining bytes.
func Decode(t *Type, buf []byte) (Value, []byte, error) {
	switch t.Kind {
	case BoolKind:
		if len(buf) < 1 {
			return Value{}, buf, ErrTruncated
		}
		if buf[0] > 1 {
			return Value{}, buf, fmt.Errorf("sats: bool byte %#x out of range", buf[0])
		}
		return Value{kind: BoolKind, bits: uint64(buf[0])}, buf[1:], nil
	case U8Kind, I8Kind:
		if len(buf) < 1 {
			return Value{}, buf, ErrTruncated
		}
		return Value{kind: t.Kind, bits: uint64(buf[0])}, buf[1:], nil
	case U16Kind, I16Kind:
		if len(buf) < 2 {
			return Value{}, buf, ErrTruncated
		}
		return Value{kind: t.Kind, bits: uint64(binary.LittleEndian.Uint16(buf))}, buf[2:], nil
	case U32Kind, I32Kind, F32Kind:
		if len(buf) < 4 {
			return Value{}, buf, ErrTruncated
		}
		return Value{kind: t.Kind, bits: uint64(binary.LittleEndian.Uint32(buf))}, buf[4:], nil
	case U64Kind, I64Kind, F64Kind:
		if len(buf) < 8 {
			return Value{}, buf, ErrTruncated
		}
		return Value{kind: t.Kind, bits: binary.LittleEndian.Uint64(buf)}, buf[8:], nil
	case StringKind:
		n, rest, err := decodeLen(buf)
		if err != nil {
			return Value{}, buf, err
		}
		s := string(rest[:n])
		if !utf8.ValidString(s) {
			return Value{}, buf, fmt.Errorf("sats: string payload is not valid utf-8")
		}
		return StringValue(s), rest[n:], nil
	case BytesKind:
		n, rest, err := decodeLen(buf)
		if err != nil {
			return Value{}, buf, err
		}
		b := make([]byte, n)
		copy(b, rest)
		return BytesValue(b), rest[n:], nil
	case ArrayKind:
		n, rest, err := decodeLen32(buf)
		if err != nil {
			return Value{}, buf, err
		}
		kids := make([]Value, 0, min(int(n), 1024))
		for i := uint32(0); i < n; i++ {
			var kid Value
			kid, rest, err = Decode(t.Elem, rest)
			if err != nil {
				return Value{}, buf, err
			}
			kids = append(kids, kid)
		}
		return Value{kind: ArrayKind, kids: kids}, rest, nil
	case ProductKind:
		kids := make([]Value, len(t.Fields))
		rest := buf
		var err error
		for i := range t.Fields {
			kids[i], rest, err = Decode(t.Fields[i].Type, rest)
			if err != nil {
				return Value{}, buf, err
			}
		}
		return Value{kind: ProductKind, kids: kids}, rest, nil
	case SumKind:
		if len(buf) < 1 {
			return Value{}, buf, ErrTruncated
		}
		tag := buf[0]
		if int(tag) >= len(t.Variants) {
			return Value{}, buf, fmt.Errorf("sats: sum tag %d out of range (%d variants)", tag, len(t.Variants))
		}
		rest := buf[1:]
		vt := t.Variants[tag].Type
		if vt == nil {
			return SumValue(tag, Value{}), rest, nil
		}
		payload, rest, err := Decode(vt, rest)
		if err != nil {
			return Value{}, buf, err
		}
		return SumValue(tag, payload), rest, nil
	}
	return Value{}, buf, fmt.Errorf("sats: decode on invalid type kind %s", t.Kind)
}

// DecodeAll decodes a value that must consume buf exactly.
func DecodeAll(t *Type, buf []byte) (Value, error) {
	v, rest, err := Decode(t, buf)
	if err != nil {
		return Value{}, err
	}
	if len(rest) != 0 {
		return Value{}, ErrTrailing
	}
	return v, nil
}

func decodeLen(buf []byte) (int, []byte, error) {
	n, rest, err := decodeLen32(buf)
	if err != nil {
		return 0, buf, err
	}
	if uint64(n) > uint64(len(rest)) {
		return 0, buf, ErrTruncated
	}
	return int(n), rest, nil
}

func decodeLen32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, buf, ErrTruncated
	}
	return binary.LittleEndian.Uint32(buf), buf[4:], nil
}

// EncodedSize returns the size in bytes of the
// BSATN encoding of v without materializing it.
func EncodedSize(t *Type, v Value) int {
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
		return 4 + len(v.str)
	case BytesKind:
		return 4 + len(v.blob)
	case ArrayKind:
		n := 4
		for i := range v.kids {
			n += EncodedSize(t.Elem, v.kids[i])
		}
		return n
	case ProductKind:
		n := 0
		for i := range t.Fields {
			n += EncodedSize(t.Fields[i].Type, v.kids[i])
		}
		return n
	case SumKind:
		n := 1
		if vt := t.Variants[v.Tag()].Type; vt != nil {
			n += EncodedSize(vt, v.kids[0])
		}
		return n
	}
	return 0
}
