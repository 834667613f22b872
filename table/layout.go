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

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/SnellerInc/spindle/page"
	"github.com/SnellerInc/spindle/sats"
)

// Fixed-part layout rules. Scalars occupy their
// natural size at their natural alignment; strings,
// byte blobs, and arrays occupy an inline 8-byte
// VarLenRef aligned to 4; products lay out fields in
// declaration order with padding; sums store the tag
// at relative offset 0 and the payload at the
// variants' maximum alignment. A row's fixed size is
// its product layout size rounded up to its alignment.

// SizeAlign describes the fixed footprint of a type.
type SizeAlign struct {
	Size  int
	Align int
}

// FixedSize computes the fixed-part footprint of t.
func FixedSize(t *sats.Type) SizeAlign {
	switch t.Kind {
	case sats.BoolKind, sats.U8Kind, sats.I8Kind:
		return SizeAlign{1, 1}
	case sats.U16Kind, sats.I16Kind:
		return SizeAlign{2, 2}
	case sats.U32Kind, sats.I32Kind, sats.F32Kind:
		return SizeAlign{4, 4}
	case sats.U64Kind, sats.I64Kind, sats.F64Kind:
		return SizeAlign{8, 8}
	case sats.StringKind, sats.BytesKind, sats.ArrayKind:
		return SizeAlign{page.VarLenRefSize, 4}
	case sats.ProductKind:
		size, align := 0, 1
		for i := range t.Fields {
			sa := FixedSize(t.Fields[i].Type)
			size = alignUp(size, sa.Align) + sa.Size
			if sa.Align > align {
				align = sa.Align
			}
		}
		size = alignUp(size, align)
		if size == 0 {
			size = 1 // a row always occupies at least one byte
		}
		return SizeAlign{size, align}
	case sats.SumKind:
		payload, align := 0, 1
		for i := range t.Variants {
			if t.Variants[i].Type == nil {
				continue
			}
			sa := FixedSize(t.Variants[i].Type)
			if sa.Size > payload {
				payload = sa.Size
			}
			if sa.Align > align {
				align = sa.Align
			}
		}
		size := alignUp(payloadOffset(align)+payload, align)
		return SizeAlign{size, align}
	}
	panic("table: FixedSize on invalid type")
}

// payloadOffset returns the relative offset of a sum
// payload given the payload alignment; the tag byte
// lives at relative offset 0.
func payloadOffset(align int) int {
	if align < 1 {
		return 1
	}
	return align
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

// fieldOffset returns the relative offset of field i
// within product type t.
func fieldOffset(t *sats.Type, i int) int {
	off := 0
	for j := 0; j <= i; j++ {
		sa := FixedSize(t.Fields[j].Type)
		off = alignUp(off, sa.Align)
		if j == i {
			return off
		}
		off += sa.Size
	}
	return off
}

// writer tracks var-len chains written during a row
// insert so a mid-row failure can be unwound.
type writer struct {
	pg   *page.Page
	refs []page.VarLenRef
}

func (w *writer) unwind() {
	for i := range w.refs {
		w.pg.FreeVarLen(w.refs[i])
	}
}

// writeFixed serializes v (of type t) into dst at
// base, writing var-len payloads into w.pg as it goes.
func (w *writer) writeFixed(dst []byte, base int, t *sats.Type, v sats.Value) error {
	switch t.Kind {
	case sats.BoolKind, sats.U8Kind, sats.I8Kind:
		dst[base] = byte(v.Uint())
	case sats.U16Kind, sats.I16Kind:
		binary.LittleEndian.PutUint16(dst[base:], uint16(v.Uint()))
	case sats.U32Kind, sats.I32Kind, sats.F32Kind:
		binary.LittleEndian.PutUint32(dst[base:], uint32(v.Uint()))
	case sats.U64Kind, sats.I64Kind, sats.F64Kind:
		binary.LittleEndian.PutUint64(dst[base:], v.Uint())
	case sats.StringKind:
		return w.writeVarLen(dst, base, []byte(v.Str()))
	case sats.BytesKind:
		return w.writeVarLen(dst, base, v.Blob())
	case sats.ArrayKind:
		// nested structure is stored as the BSATN
		// encoding of the whole array value
		return w.writeVarLen(dst, base, sats.Encode(t, v))
	case sats.ProductKind:
		for i := range t.Fields {
			err := w.writeFixed(dst, base+fieldOffset(t, i), t.Fields[i].Type, v.Kid(i))
			if err != nil {
				return err
			}
		}
	case sats.SumKind:
		dst[base] = v.Tag()
		vt := t.Variants[v.Tag()].Type
		if vt == nil {
			return nil
		}
		align := FixedSize(t).Align
		return w.writeFixed(dst, base+payloadOffset(align), vt, v.Payload())
	default:
		return fmt.Errorf("table: cannot lay out %s", t.Kind)
	}
	return nil
}

func (w *writer) writeVarLen(dst []byte, base int, payload []byte) error {
	ref, err := w.pg.InsertVarLen(payload)
	if err != nil {
		return err
	}
	w.refs = append(w.refs, ref)
	page.PutVarLenRef(dst[base:], ref)
	return nil
}

// readFixed materializes a value of type t from the
// fixed slot bytes at base, chasing var-len refs
// through pg.
func readFixed(pg *page.Page, src []byte, base int, t *sats.Type) (sats.Value, error) {
	switch t.Kind {
	case sats.BoolKind:
		return sats.BoolValue(src[base] != 0), nil
	case sats.U8Kind:
		return sats.U8Value(src[base]), nil
	case sats.I8Kind:
		return sats.I8Value(int8(src[base])), nil
	case sats.U16Kind:
		return sats.U16Value(binary.LittleEndian.Uint16(src[base:])), nil
	case sats.I16Kind:
		return sats.I16Value(int16(binary.LittleEndian.Uint16(src[base:]))), nil
	case sats.U32Kind:
		return sats.U32Value(binary.LittleEndian.Uint32(src[base:])), nil
	case sats.I32Kind:
		return sats.I32Value(int32(binary.LittleEndian.Uint32(src[base:]))), nil
	case sats.F32Kind:
		bits := binary.LittleEndian.Uint32(src[base:])
		return sats.F32Value(math.Float32frombits(bits)), nil
	case sats.U64Kind:
		return sats.U64Value(binary.LittleEndian.Uint64(src[base:])), nil
	case sats.I64Kind:
		return sats.I64Value(int64(binary.LittleEndian.Uint64(src[base:]))), nil
	case sats.F64Kind:
		bits := binary.LittleEndian.Uint64(src[base:])
		return sats.F64Value(math.Float64frombits(bits)), nil
	case sats.StringKind:
		ref := page.GetVarLenRef(src[base:])
		return sats.StringValue(string(pg.AppendVarLen(nil, ref))), nil
	case sats.BytesKind:
		ref := page.GetVarLenRef(src[base:])
		return sats.BytesValue(pg.AppendVarLen(nil, ref)), nil
	case sats.ArrayKind:
		ref := page.GetVarLenRef(src[base:])
		buf := pg.AppendVarLen(nil, ref)
		return sats.DecodeAll(t, buf)
	case sats.ProductKind:
		kids := make([]sats.Value, len(t.Fields))
		for i := range t.Fields {
			kid, err := readFixed(pg, src, base+fieldOffset(t, i), t.Fields[i].Type)
			if err != nil {
				return sats.Value{}, err
			}
			kids[i] = kid
		}
		return sats.ProductValue(kids...), nil
	case sats.SumKind:
		tag := src[base]
		if int(tag) >= len(t.Variants) {
			return sats.Value{}, fmt.Errorf("table: stored sum tag %d out of range", tag)
		}
		vt := t.Variants[tag].Type
		if vt == nil {
			return sats.SumValue(tag, sats.Value{}), nil
		}
		align := FixedSize(t).Align
		payload, err := readFixed(pg, src, base+payloadOffset(align), vt)
		if err != nil {
			return sats.Value{}, err
		}
		return sats.SumValue(tag, payload), nil
	}
	return sats.Value{}, fmt.Errorf("table: cannot read %s", t.Kind)
}
