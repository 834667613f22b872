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

package plan

import (
	"bytes"
	"errors"
	"testing"

	"github.com/SnellerInc/spindle/index"
	"github.com/SnellerInc/spindle/sats"
	"github.com/SnellerInc/spindle/sql"
	"github.com/SnellerInc/spindle/store"
)

type fakeCatalog map[string]*store.TableSchema

func (c fakeCatalog) TableByName(name string) (*store.TableSchema, bool) {
	s, ok := c[name]
	return s, ok
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		"T": {
			ID: 1, Name: "T",
			Columns: []store.ColumnSchema{
				{Name: "id", Type: sats.U32},
				{Name: "v", Type: sats.String},
			},
			Indexes: []store.IndexSchema{
				{ID: 1, Name: "T_id", Kind: index.Unique, Cols: []int{0}},
			},
		},
		"P": {
			ID: 2, Name: "P",
			Columns: []store.ColumnSchema{
				{Name: "a", Type: sats.U32},
				{Name: "b", Type: sats.U32},
				{Name: "c", Type: sats.I64},
			},
			Indexes: []store.IndexSchema{
				{ID: 2, Name: "P_ab", Kind: index.BTree, Cols: []int{0, 1}},
			},
		},
	}
}

func compile(t *testing.T, query string) *Plan {
	t.Helper()
	sel, err := sql.Parse(query)
	if err != nil {
		t.Fatal(err)
	}
	p, err := Compile(sel, testCatalog())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestIndexSelection(t *testing.T) {
	// full equality on a unique index becomes a point
	// lookup with no residual filter
	p := compile(t, "SELECT * FROM T WHERE id = 7")
	ix, ok := p.Root.(*IxScan)
	if !ok {
		t.Fatalf("root is %s", p.Root)
	}
	want := sats.AppendKey(nil, sats.U32, sats.U32Value(7))
	if !bytes.Equal(ix.Range.Lo, want) || !bytes.Equal(ix.Range.Hi, want) ||
		!ix.Range.LoInc || !ix.Range.HiInc {
		t.Fatalf("range: %+v", ix.Range)
	}

	// equality prefix plus trailing range
	p = compile(t, "SELECT * FROM P WHERE a = 1 AND b >= 5")
	ix, ok = p.Root.(*IxScan)
	if !ok {
		t.Fatalf("root is %s", p.Root)
	}
	wantLo := sats.AppendKey(sats.AppendKey(nil, sats.U32, sats.U32Value(1)), sats.U32, sats.U32Value(5))
	if !bytes.Equal(ix.Range.Lo, wantLo) || !ix.Range.LoInc {
		t.Fatalf("range lo: %x", ix.Range.Lo)
	}

	// a conjunct the index cannot absorb stays as a
	// residual filter
	p = compile(t, "SELECT * FROM P WHERE a = 1 AND c = 9")
	f, ok := p.Root.(*Filter)
	if !ok {
		t.Fatalf("root is %s", p.Root)
	}
	if _, ok := f.From.(*IxScan); !ok {
		t.Fatalf("filter input is %s", f.From)
	}

	// no usable index
	p = compile(t, "SELECT * FROM P WHERE c = 9")
	if _, ok := p.Root.(*Filter); !ok {
		t.Fatalf("root is %s", p.Root)
	}
}

func TestCompileErrors(t *testing.T) {
	bad := []string{
		"SELECT * FROM Missing",
		"SELECT zzz FROM T",
		"SELECT * FROM T WHERE id = 'str'",
		"SELECT * FROM T WHERE id = 4294967296", // out of u32 range
		"SELECT * FROM T WHERE v > id",          // type mismatch between columns
		"SELECT * FROM T JOIN P ON T.id = P.a",  // star across join
		"SELECT * FROM T WHERE 1 = 2",           // no column involved
	}
	for _, q := range bad {
		sel, err := sql.Parse(q)
		if err != nil {
			t.Fatalf("%q failed to parse: %v", q, err)
		}
		_, err = Compile(sel, testCatalog())
		if err == nil {
			t.Errorf("%q: compiled", q)
			continue
		}
		if !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("%q: error %v does not match ErrInvalidQuery", q, err)
		}
	}
	// type errors are distinguishable
	sel, _ := sql.Parse("SELECT * FROM T WHERE id = 'str'")
	_, err := Compile(sel, testCatalog())
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("literal mismatch: %v", err)
	}
}

func TestOutputType(t *testing.T) {
	p := compile(t, "SELECT * FROM T")
	if len(p.OutType.Fields) != 2 || p.OutType.Fields[1].Name != "v" {
		t.Fatalf("star type: %s", p.OutType)
	}
	p = compile(t, "SELECT v FROM T")
	if len(p.OutType.Fields) != 1 || p.OutType.Fields[0].Type.Kind != sats.StringKind {
		t.Fatalf("projected type: %s", p.OutType)
	}
	if _, ok := p.Root.(*Project); !ok {
		t.Fatalf("root: %s", p.Root)
	}
}

func TestJoinLowering(t *testing.T) {
	p := compile(t, "SELECT T.v, P.c FROM T JOIN P ON T.id = P.a")
	// P has no single-column index on a, so the join
	// hashes... P_ab's first column is a, but the
	// lowering requires an exact single-column index
	if _, ok := p.Root.(*Project); !ok {
		t.Fatalf("root: %s", p.Root)
	}
	join := p.Root.(*Project).From
	if _, ok := join.(*HashJoin); !ok {
		t.Fatalf("join: %s", join)
	}

	p = compile(t, "SELECT P.c, T.v FROM P JOIN T ON P.a = T.id")
	join = p.Root.(*Project).From
	ixj, ok := join.(*IndexJoin)
	if !ok {
		t.Fatalf("join: %s", join)
	}
	if ixj.R.Name != "T" || ixj.LVar != 0 || ixj.LCol != 0 {
		t.Fatalf("index join shape: %+v", ixj)
	}
}

func TestPrefixSuccessor(t *testing.T) {
	cases := []struct {
		in, want []byte
	}{
		{[]byte{1, 2, 3}, []byte{1, 2, 4}},
		{[]byte{1, 0xff}, []byte{2}},
		{[]byte{0xff, 0xff}, nil},
		{nil, nil},
	}
	for _, tc := range cases {
		got := prefixSuccessor(tc.in)
		if !bytes.Equal(got, tc.want) {
			t.Errorf("prefixSuccessor(%x) = %x, want %x", tc.in, got, tc.want)
		}
	}
}
