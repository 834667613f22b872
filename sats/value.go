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
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a runtime value of some algebraic type.
// The zero Value is invalid. Values are immutable
// from the perspective of the accessors; callers
// must not alias and mutate the byte slices passed
// to the constructors.
type Value struct {
	kind Kind
	// bits holds integers (two's complement in
	// the low bits), bools (0 or 1), float bits,
	// and the variant tag for sums.
	bits uint64
	str  string  // StringKind payload
	blob []byte  // BytesKind payload
	kids []Value // product fields, array elements, or sum payload at [0]
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Valid returns whether the value has been initialized.
func (v Value) Valid() bool { return v.kind != InvalidKind }

func BoolValue(b bool) Value {
	bits := uint64(0)
	if b {
		bits = 1
	}
	return Value{kind: BoolKind, bits: bits}
}

func U8Value(u uint8) Value   { return Value{kind: U8Kind, bits: uint64(u)} }
func I8Value(i int8) Value    { return Value{kind: I8Kind, bits: uint64(uint8(i))} }
func U16Value(u uint16) Value { return Value{kind: U16Kind, bits: uint64(u)} }
func I16Value(i int16) Value  { return Value{kind: I16Kind, bits: uint64(uint16(i))} }
func U32Value(u uint32) Value { return Value{kind: U32Kind, bits: uint64(u)} }
func I32Value(i int32) Value  { return Value{kind: I32Kind, bits: uint64(uint32(i))} }
func U64Value(u uint64) Value { return Value{kind: U64Kind, bits: u} }
func I64Value(i int64) Value  { return Value{kind: I64Kind, bits: uint64(i)} }

func F32Value(f float32) Value {
	return Value{kind: F32Kind, bits: uint64(math.Float32bits(f))}
}

func F64Value(f float64) Value {
	return Value{kind: F64Kind, bits: math.Float64bits(f)}
}

func StringValue(s string) Value { return Value{kind: StringKind, str: s} }
func BytesValue(b []byte) Value  { return Value{kind: BytesKind, blob: b} }

// ProductValue constructs a product from its fields
// in declaration order.
func ProductValue(fields ...Value) Value {
	return Value{kind: ProductKind, kids: fields}
}

// ArrayValue constructs an array value.
func ArrayValue(elems ...Value) Value {
	return Value{kind: ArrayKind, kids: elems}
}

// SumValue constructs a sum value with the given tag.
// payload is ignored for unit variants; pass an
// invalid Value.
func SumValue(tag uint8, payload Value) Value {
	v := Value{kind: SumKind, bits: uint64(tag)}
	if payload.Valid() {
		v.kids = []Value{payload}
	}
	return v
}

// Some wraps v in tag 0 of an option sum.
func Some(v Value) Value { return SumValue(0, v) }

// None is tag 1 of an option sum.
func None() Value { return SumValue(1, Value{}) }

func (v Value) Bool() bool     { return v.bits != 0 }
func (v Value) Uint() uint64   { return v.bits }
func (v Value) Int() int64     { return int64(v.bits) }
func (v Value) Float() float64 { return math.Float64frombits(v.bits) }
func (v Value) Float32() float32 {
	return math.Float32frombits(uint32(v.bits))
}
func (v Value) Str() string  { return v.str }
func (v Value) Blob() []byte { return v.blob }
func (v Value) Tag() uint8   { return uint8(v.bits) }
func (v Value) NumKids() int { return len(v.kids) }
func (v Value) Kid(i int) Value {
	return v.kids[i]
}

// WithKid returns a copy of a product or array value
// with element i replaced.
func (v Value) WithKid(i int, kid Value) Value {
	kids := make([]Value, len(v.kids))
	copy(kids, v.kids)
	kids[i] = kid
	return Value{kind: v.kind, bits: v.bits, kids: kids}
}

// MakeInteger constructs a value of integer type t
// from a widened 64-bit representation.
func MakeInteger(t *Type, n int64) Value {
	switch t.Kind {
	case U8Kind:
		return U8Value(uint8(n))
	case I8Kind:
		return I8Value(int8(n))
	case U16Kind:
		return U16Value(uint16(n))
	case I16Kind:
		return I16Value(int16(n))
	case U32Kind:
		return U32Value(uint32(n))
	case I32Kind:
		return I32Value(int32(n))
	case U64Kind:
		return U64Value(uint64(n))
	case I64Kind:
		return I64Value(n)
	}
	panic("sats: MakeInteger on non-integer type")
}

// Payload returns a sum value's payload, or an
// invalid Value for unit variants.
func (v Value) Payload() Value {
	if len(v.kids) == 0 {
		return Value{}
	}
	return v.kids[0]
}

// SignedInt widens any integer value to int64,
// interpreting it per the declared type t.
func (v Value) SignedInt(t *Type) int64 {
	switch t.Kind {
	case I8Kind:
		return int64(int8(v.bits))
	case I16Kind:
		return int64(int16(v.bits))
	case I32Kind:
		return int64(int32(v.bits))
	default:
		return int64(v.bits)
	}
}

// Conforms reports whether v is a valid inhabitant of t.
func (v Value) Conforms(t *Type) bool {
	if t == nil || v.kind != t.Kind {
		return false
	}
	switch t.Kind {
	case ArrayKind:
		for i := range v.kids {
			if !v.kids[i].Conforms(t.Elem) {
				return false
			}
		}
	case ProductKind:
		if len(v.kids) != len(t.Fields) {
			return false
		}
		for i := range v.kids {
			if !v.kids[i].Conforms(t.Fields[i].Type) {
				return false
			}
		}
	case SumKind:
		tag := int(v.Tag())
		if tag >= len(t.Variants) {
			return false
		}
		vt := t.Variants[tag].Type
		if vt == nil {
			return len(v.kids) == 0
		}
		return len(v.kids) == 1 && v.kids[0].Conforms(vt)
	}
	return true
}

// Equal reports deep equality. Values of different
// kinds are never equal; float comparison is bitwise,
// so NaN equals NaN and -0 differs from +0.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case StringKind:
		return v.str == other.str
	case BytesKind:
		return string(v.blob) == string(other.blob)
	case ArrayKind, ProductKind, SumKind:
		if v.bits != other.bits || len(v.kids) != len(other.kids) {
			return false
		}
		for i := range v.kids {
			if !v.kids[i].Equal(other.kids[i]) {
				return false
			}
		}
		return true
	default:
		return v.bits == other.bits
	}
}

// Compare orders two values of the same type t.
// Products and arrays compare elementwise; sums
// compare by tag first, then payload. Floats use
// IEEE-754 total ordering so that every pair of
// values is comparable.
func Compare(t *Type, a, b Value) int {
	switch t.Kind {
	case BoolKind, U8Kind, U16Kind, U32Kind, U64Kind:
		return cmpU64(a.bits, b.bits)
	case I8Kind, I16Kind, I32Kind, I64Kind:
		return cmpI64(a.SignedInt(t), b.SignedInt(t))
	case F32Kind:
		return cmpU64(uint64(totalOrder32(uint32(a.bits))), uint64(totalOrder32(uint32(b.bits))))
	case F64Kind:
		return cmpU64(totalOrder64(a.bits), totalOrder64(b.bits))
	case StringKind:
		return strings.Compare(a.str, b.str)
	case BytesKind:
		return strings.Compare(string(a.blob), string(b.blob))
	case ArrayKind:
		n := len(a.kids)
		if len(b.kids) < n {
			n = len(b.kids)
		}
		for i := 0; i < n; i++ {
			if c := Compare(t.Elem, a.kids[i], b.kids[i]); c != 0 {
				return c
			}
		}
		return cmpI64(int64(len(a.kids)), int64(len(b.kids)))
	case ProductKind:
		for i := range t.Fields {
			if c := Compare(t.Fields[i].Type, a.kids[i], b.kids[i]); c != 0 {
				return c
			}
		}
		return 0
	case SumKind:
		if c := cmpU64(a.bits, b.bits); c != 0 {
			return c
		}
		vt := t.Variants[a.Tag()].Type
		if vt == nil {
			return 0
		}
		return Compare(vt, a.kids[0], b.kids[0])
	}
	return 0
}

func cmpU64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpI64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// totalOrder64 maps float64 bits to a uint64 whose
// unsigned order is the IEEE-754 total order.
func totalOrder64(bits uint64) uint64 {
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

func totalOrder32(bits uint32) uint32 {
	if bits&(1<<31) != 0 {
		return ^bits
	}
	return bits | (1 << 31)
}

// String renders the value for diagnostics; it is
// not a stable serialization.
func (v Value) String() string {
	switch v.kind {
	case InvalidKind:
		return "<invalid>"
	case BoolKind:
		if v.Bool() {
			return "true"
		}
		return "false"
	case F32Kind:
		return strconv.FormatFloat(float64(v.Float32()), 'g', -1, 32)
	case F64Kind:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case StringKind:
		return strconv.Quote(v.str)
	case BytesKind:
		return fmt.Sprintf("0x%x", v.blob)
	case ArrayKind, ProductKind:
		open, close := "[", "]"
		if v.kind == ProductKind {
			open, close = "(", ")"
		}
		var sb strings.Builder
		sb.WriteString(open)
		for i := range v.kids {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(v.kids[i].String())
		}
		sb.WriteString(close)
		return sb.String()
	case SumKind:
		if len(v.kids) == 0 {
			return fmt.Sprintf("#%d", v.Tag())
		}
		return fmt.Sprintf("#%d(%s)", v.Tag(), v.kids[0])
	default:
		// integers; the value's own kind tells signed
		// from unsigned, so signed kinds render with
		// their sign
		switch v.kind {
		case I8Kind:
			return strconv.FormatInt(int64(int8(v.bits)), 10)
		case I16Kind:
			return strconv.FormatInt(int64(int16(v.bits)), 10)
		case I32Kind:
			return strconv.FormatInt(int64(int32(v.bits)), 10)
		case I64Kind:
			return strconv.FormatInt(int64(v.bits), 10)
		}
		return strconv.FormatUint(v.bits, 10)
	}
}
