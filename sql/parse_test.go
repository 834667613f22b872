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

package sql

import (
	"strings"
	"testing"
)

func TestParseBasics(t *testing.T) {
	sel, err := Parse("SELECT * FROM P WHERE x > 2")
	if err != nil {
		t.Fatal(err)
	}
	if sel.Columns != nil || sel.From.Name != "P" || sel.Where == nil {
		t.Fatalf("parsed: %+v", sel)
	}
	cmp, ok := sel.Where.(*Cmp)
	if !ok || cmp.Op != Gt {
		t.Fatalf("where: %s", sel.Where)
	}

	sel, err = Parse("select a.x, b.y from t1 as a join t2 b on a.id = b.id where a.x = 'it''s' and not b.done")
	if err != nil {
		t.Fatal(err)
	}
	if len(sel.Columns) != 2 || sel.Columns[0].Table != "a" {
		t.Fatalf("columns: %v", sel.Columns)
	}
	if sel.From.Binding() != "a" || len(sel.Joins) != 1 || sel.Joins[0].Table.Binding() != "b" {
		t.Fatalf("from/joins: %+v", sel)
	}
	land, ok := sel.Where.(*Logical)
	if !ok || !land.And {
		t.Fatalf("where: %s", sel.Where)
	}
	if c, ok := land.Lhs.(*Cmp); !ok || c.Rhs.(*Lit).Str != "it's" {
		t.Fatalf("string literal: %s", land.Lhs)
	}
}

func TestParsePrecedence(t *testing.T) {
	sel, err := Parse("SELECT * FROM t WHERE a = 1 OR b = 2 AND c = 3")
	if err != nil {
		t.Fatal(err)
	}
	or, ok := sel.Where.(*Logical)
	if !ok || or.And {
		t.Fatalf("top is not OR: %s", sel.Where)
	}
	if and, ok := or.Rhs.(*Logical); !ok || !and.And {
		t.Fatalf("AND does not bind tighter: %s", sel.Where)
	}
	// parens override
	sel, err = Parse("SELECT * FROM t WHERE (a = 1 OR b = 2) AND c = 3")
	if err != nil {
		t.Fatal(err)
	}
	if and, ok := sel.Where.(*Logical); !ok || !and.And {
		t.Fatalf("parenthesized: %s", sel.Where)
	}
}

func TestParseRejectsUnsupported(t *testing.T) {
	bad := []struct {
		query, want string
	}{
		{"SELECT * FROM t ORDER BY x", "ORDER"},
		{"SELECT * FROM t LIMIT 5", "LIMIT"},
		{"SELECT * FROM t GROUP BY x", "GROUP"},
		{"SELECT DISTINCT x FROM t", "DISTINCT"},
		{"SELECT count(x) FROM t", "aggregates"},
		{"SELECT * FROM t WHERE x = (SELECT y FROM u)", "subqueries"},
		{"SELECT * FROM t WHERE", "unexpected"},
		{"SELECT * FROM t WHERE x = 'unterminated", "unterminated"},
		{"FROM t", "expected SELECT"},
		{"SELECT * FROM t trailing garbage", "unexpected"},
	}
	for _, tc := range bad {
		_, err := Parse(tc.query)
		if err == nil {
			t.Errorf("%q: accepted", tc.query)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%q: error %q does not mention %q", tc.query, err, tc.want)
		}
	}
}

func TestParseNegativeNumbers(t *testing.T) {
	sel, err := Parse("SELECT * FROM t WHERE x >= -12 AND y < -1.5")
	if err != nil {
		t.Fatal(err)
	}
	and := sel.Where.(*Logical)
	if lit := and.Lhs.(*Cmp).Rhs.(*Lit); lit.Kind != IntLit || lit.Int != -12 {
		t.Fatalf("int literal: %+v", lit)
	}
	if lit := and.Rhs.(*Cmp).Rhs.(*Lit); lit.Kind != FloatLit || lit.Float != -1.5 {
		t.Fatalf("float literal: %+v", lit)
	}
}
