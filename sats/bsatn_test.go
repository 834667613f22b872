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
	"bytes"
	"math"
	"strings"
	"testing"
)

func testType() *Type {
	return ProductOf(
		Field{"id", U32},
		Field{"name", String},
		Field{"score", F64},
		Field{"tags", ArrayOf(U16)},
		Field{"note", OptionOf(String)},
	)
}

func testValue(id uint32, name string) Value {
	return ProductValue(
		U32Value(id),
		StringValue(name),
		F64Value(float64(id)*1.5),
		ArrayValue(U16Value(1), U16Value(2)),
		Some(StringValue("n")),
	)
}

func TestRoundTrip(t *testing.T) {
	rt := testType()
	vals := []Value{
		testValue(0, ""),
		testValue(1, "hello"),
		testValue(math.MaxUint32, strings.Repeat("x", 4096)),
		ProductValue(
			U32Value(7),
			StringValue("none case"),
			F64Value(math.Inf(-1)),
			ArrayValue(),
			None(),
		),
	}
	for i := range vals {
		buf := Encode(rt, vals[i])
		if got := EncodedSize(rt, vals[i]); got != len(buf) {
			t.Errorf("value %d: EncodedSize %d, encoded %d bytes", i, got, len(buf))
		}
		back, err := DecodeAll(rt, buf)
		if err != nil {
			t.Fatalf("value %d: decode: %v", i, err)
		}
		if !back.Equal(vals[i]) {
			t.Errorf("value %d: round trip mismatch: %s != %s", i, back, vals[i])
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	rt := testType()
	buf := Encode(rt, testValue(9, "abcdef"))
	for cut := 0; cut < len(buf); cut++ {
		if _, err := DecodeAll(rt, buf[:cut]); err == nil {
			t.Fatalf("decode of %d/%d bytes succeeded", cut, len(buf))
		}
	}
	if _, err := DecodeAll(rt, append(buf, 0)); err != ErrTrailing {
		t.Errorf("trailing byte: got %v", err)
	}
	// out-of-range sum tag
	opt := OptionOf(U8)
	if _, err := DecodeAll(opt, []byte{2}); err == nil {
		t.Error("sum tag 2 of 2 accepted")
	}
	if _, err := DecodeAll(Bool, []byte{2}); err == nil {
		t.Error("bool byte 2 accepted")
	}
}

func TestKeyOrderAgrees(t *testing.T) {
	cases := []struct {
		typ  *Type
		vals []Value
	}{
		{I64, []Value{I64Value(math.MinInt64), I64Value(-1), I64Value(0), I64Value(1), I64Value(math.MaxInt64)}},
		{I8, []Value{I8Value(-128), I8Value(-2), I8Value(0), I8Value(3), I8Value(127)}},
		{U32, []Value{U32Value(0), U32Value(1), U32Value(1 << 20), U32Value(math.MaxUint32)}},
		{F64, []Value{
			F64Value(math.Inf(-1)), F64Value(-1.5), F64Value(math.Copysign(0, -1)),
			F64Value(0), F64Value(2.25), F64Value(math.Inf(1)),
		}},
		{String, []Value{
			StringValue(""), StringValue("a"), StringValue("a\x00"),
			StringValue("a\x00b"), StringValue("aa"), StringValue("b"),
		}},
		{OptionOf(U8), []Value{Some(U8Value(0)), Some(U8Value(9)), None()}},
		{ProductOf(Field{"a", U32}, Field{"b", String}), []Value{
			ProductValue(U32Value(1), StringValue("b")),
			ProductValue(U32Value(1), StringValue("bb")),
			ProductValue(U32Value(2), StringValue("a")),
		}},
		{ArrayOf(U8), []Value{
			ArrayValue(),
			ArrayValue(U8Value(1)),
			ArrayValue(U8Value(1), U8Value(0)),
			ArrayValue(U8Value(2)),
		}},
	}
	for _, tc := range cases {
		for i := range tc.vals {
			for j := range tc.vals {
				want := Compare(tc.typ, tc.vals[i], tc.vals[j])
				ki := AppendKey(nil, tc.typ, tc.vals[i])
				kj := AppendKey(nil, tc.typ, tc.vals[j])
				if got := bytes.Compare(ki, kj); got != want {
					t.Errorf("%s: key order %s vs %s: got %d, want %d",
						tc.typ, tc.vals[i], tc.vals[j], got, want)
				}
			}
		}
	}
}

func TestHashAgreesWithEqual(t *testing.T) {
	rt := testType()
	a := testValue(11, "same")
	b := testValue(11, "same")
	c := testValue(11, "diff")
	if Hash(1, 2, rt, a) != Hash(1, 2, rt, b) {
		t.Error("equal values hash unequally")
	}
	if Hash(1, 2, rt, a) == Hash(1, 2, rt, c) {
		t.Error("suspicious collision between distinct values")
	}
}

func TestConforms(t *testing.T) {
	rt := testType()
	if !testValue(1, "x").Conforms(rt) {
		t.Fatal("valid value rejected")
	}
	bad := ProductValue(U64Value(1)) // wrong arity and kind
	if bad.Conforms(rt) {
		t.Fatal("invalid value accepted")
	}
	if Some(U8Value(1)).Conforms(OptionOf(U16)) {
		t.Fatal("payload kind mismatch accepted")
	}
}
