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

// Package sats implements the structural algebraic type
// system used for table rows and reducer arguments: type
// descriptors, runtime values, the canonical BSATN binary
// encoding, and an order-preserving key encoding for
// composite index keys.
package sats

import "fmt"

// Kind enumerates the type constructors.
type Kind uint8

const (
	InvalidKind Kind = iota
	BoolKind
	U8Kind
	I8Kind
	U16Kind
	I16Kind
	U32Kind
	I32Kind
	U64Kind
	I64Kind
	F32Kind
	F64Kind
	StringKind
	BytesKind
	ArrayKind
	ProductKind
	SumKind
)

var kindNames = [...]string{
	InvalidKind: "invalid",
	BoolKind:    "bool",
	U8Kind:      "u8",
	I8Kind:      "i8",
	U16Kind:     "u16",
	I16Kind:     "i16",
	U32Kind:     "u32",
	I32Kind:     "i32",
	U64Kind:     "u64",
	I64Kind:     "i64",
	F32Kind:     "f32",
	F64Kind:     "f64",
	StringKind:  "string",
	BytesKind:   "bytes",
	ArrayKind:   "array",
	ProductKind: "product",
	SumKind:     "sum",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Type is an algebraic type descriptor.
// Exactly one of Elem, Fields, or Variants is
// populated for array, product, and sum kinds
// respectively; primitive kinds use none.
// Types are immutable once constructed and may
// be shared freely.
type Type struct {
	Kind     Kind
	Elem     *Type     // ArrayKind element type
	Fields   []Field   // ProductKind fields, in declaration order
	Variants []Variant // SumKind variants, in tag order
}

// Field is one element of a product type.
type Field struct {
	Name string
	Type *Type
}

// Variant is one case of a sum type.
// A nil Type marks a unit (payload-free) variant.
type Variant struct {
	Name string
	Type *Type
}

// Shared descriptors for the primitive types.
var (
	Bool   = &Type{Kind: BoolKind}
	U8     = &Type{Kind: U8Kind}
	I8     = &Type{Kind: I8Kind}
	U16    = &Type{Kind: U16Kind}
	I16    = &Type{Kind: I16Kind}
	U32    = &Type{Kind: U32Kind}
	I32    = &Type{Kind: I32Kind}
	U64    = &Type{Kind: U64Kind}
	I64    = &Type{Kind: I64Kind}
	F32    = &Type{Kind: F32Kind}
	F64    = &Type{Kind: F64Kind}
	String = &Type{Kind: StringKind}
	Bytes  = &Type{Kind: BytesKind}
)

// ArrayOf constructs an array type.
func ArrayOf(elem *Type) *Type {
	return &Type{Kind: ArrayKind, Elem: elem}
}

// ProductOf constructs a product type from fields.
func ProductOf(fields ...Field) *Type {
	return &Type{Kind: ProductKind, Fields: fields}
}

// SumOf constructs a sum type from variants.
func SumOf(variants ...Variant) *Type {
	return &Type{Kind: SumKind, Variants: variants}
}

// OptionOf constructs the conventional option sum:
// tag 0 is "some" carrying t, tag 1 is "none".
func OptionOf(t *Type) *Type {
	return SumOf(Variant{Name: "some", Type: t}, Variant{Name: "none"})
}

// Scalar returns true if the type has no
// interior structure (everything except
// arrays, products, and sums).
func (t *Type) Scalar() bool {
	switch t.Kind {
	case ArrayKind, ProductKind, SumKind:
		return false
	}
	return true
}

// Integer returns true for the integer kinds.
func (t *Type) Integer() bool {
	switch t.Kind {
	case U8Kind, I8Kind, U16Kind, I16Kind, U32Kind, I32Kind, U64Kind, I64Kind:
		return true
	}
	return false
}

// Signed returns true for signed integer kinds.
func (t *Type) Signed() bool {
	switch t.Kind {
	case I8Kind, I16Kind, I32Kind, I64Kind:
		return true
	}
	return false
}

// VarLen returns true if values of this type
// have a variable-length encoding (strings,
// byte blobs, and arrays).
func (t *Type) VarLen() bool {
	switch t.Kind {
	case StringKind, BytesKind, ArrayKind:
		return true
	}
	return false
}

// Equal reports structural equality of two types.
// Field and variant names participate; two products
// with the same shapes but different field names
// are distinct types.
func (t *Type) Equal(other *Type) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil || t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case ArrayKind:
		return t.Elem.Equal(other.Elem)
	case ProductKind:
		if len(t.Fields) != len(other.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != other.Fields[i].Name ||
				!t.Fields[i].Type.Equal(other.Fields[i].Type) {
				return false
			}
		}
		return true
	case SumKind:
		if len(t.Variants) != len(other.Variants) {
			return false
		}
		for i := range t.Variants {
			if t.Variants[i].Name != other.Variants[i].Name {
				return false
			}
			a, b := t.Variants[i].Type, other.Variants[i].Type
			if (a == nil) != (b == nil) {
				return false
			}
			if a != nil && !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return true
}

func (t *Type) String() string {
	switch t.Kind {
	case ArrayKind:
		return "[" + t.Elem.String() + "]"
	case ProductKind:
		s := "("
		for i := range t.Fields {
			if i > 0 {
				s += ", "
			}
			s += t.Fields[i].Name + ": " + t.Fields[i].Type.String()
		}
		return s + ")"
	case SumKind:
		s := "<"
		for i := range t.Variants {
			if i > 0 {
				s += " | "
			}
			s += t.Variants[i].Name
			if t.Variants[i].Type != nil {
				s += ": " + t.Variants[i].Type.String()
			}
		}
		return s + ">"
	}
	return t.Kind.String()
}
