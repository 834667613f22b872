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
	"errors"
	"fmt"
	"math"

	"github.com/SnellerInc/spindle/sats"
	"github.com/SnellerInc/spindle/sql"
	"github.com/SnellerInc/spindle/store"
)

var (
	// ErrInvalidQuery wraps every compilation
	// failure: unknown tables or columns, shape
	// restrictions, and malformed predicates.
	ErrInvalidQuery = errors.New("plan: invalid query")
	// ErrTypeMismatch wraps literal/column typing
	// failures; it also matches ErrInvalidQuery.
	ErrTypeMismatch = fmt.Errorf("%w: type mismatch", ErrInvalidQuery)
)

func errInvalid(f string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(f, args...))
}

func errType(f string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTypeMismatch, fmt.Sprintf(f, args...))
}

type varBinding struct {
	name   string
	schema *store.TableSchema
}

type compiler struct {
	cat  Catalog
	vars []varBinding
}

// Compile parses nothing: it takes a parsed Select,
// resolves it against the catalog, type-checks the
// predicate, and lowers it to a physical plan,
// rewriting filters into index scans where an index
// matches an equality prefix plus at most one
// trailing range.
func Compile(sel *sql.Select, cat Catalog) (*Plan, error) {
	c := &compiler{cat: cat}
	if err := c.bind(sel.From); err != nil {
		return nil, err
	}
	for i := range sel.Joins {
		if err := c.bind(sel.Joins[i].Table); err != nil {
			return nil, err
		}
	}
	var conjuncts []Pred
	if sel.Where != nil {
		pred, err := c.compilePred(sel.Where)
		if err != nil {
			return nil, err
		}
		conjuncts = flattenAnd(pred)
	}

	var root Op
	if len(sel.Joins) == 0 {
		root, conjuncts = c.accessPath(0, conjuncts)
	} else {
		root = &Scan{Table: c.vars[0].schema}
		for i := range sel.Joins {
			j, err := c.compileJoin(root, i+1, &sel.Joins[i])
			if err != nil {
				return nil, err
			}
			root = j
		}
	}
	if len(conjuncts) > 0 {
		var pred Pred
		if len(conjuncts) == 1 {
			pred = conjuncts[0]
		} else {
			pred = &And{Kids: conjuncts}
		}
		root = &Filter{From: root, Pred: pred}
	}

	var outType *sats.Type
	if sel.Columns == nil {
		if len(sel.Joins) > 0 {
			return nil, errInvalid("SELECT * is not allowed across a join")
		}
		outType = c.vars[0].schema.RowType()
	} else {
		cols := make([]ColRef, len(sel.Columns))
		fields := make([]sats.Field, len(sel.Columns))
		for i, ref := range sel.Columns {
			col, err := c.resolveField(ref)
			if err != nil {
				return nil, err
			}
			cols[i] = ColRef{Var: col.Var, Col: col.Col}
			fields[i] = sats.Field{Name: ref.Name, Type: col.Type}
		}
		outType = sats.ProductOf(fields...)
		root = &Project{From: root, Cols: cols, Out: outType}
	}
	return &Plan{Root: root, OutType: outType}, nil
}

func (c *compiler) bind(ref sql.TableRef) error {
	schema, ok := c.cat.TableByName(ref.Name)
	if !ok {
		return errInvalid("unknown table %q", ref.Name)
	}
	binding := ref.Binding()
	for i := range c.vars {
		if c.vars[i].name == binding {
			return errInvalid("duplicate table binding %q", binding)
		}
	}
	c.vars = append(c.vars, varBinding{name: binding, schema: schema})
	return nil
}

// resolveField maps a (possibly unqualified) field
// reference to a tuple column.
func (c *compiler) resolveField(ref sql.FieldRef) (*Col, error) {
	if ref.Table != "" {
		for v := range c.vars {
			if c.vars[v].name != ref.Table {
				continue
			}
			ci := c.vars[v].schema.ColIndex(ref.Name)
			if ci < 0 {
				return nil, errInvalid("table %q has no column %q", ref.Table, ref.Name)
			}
			return &Col{Var: v, Col: ci, Type: c.vars[v].schema.Columns[ci].Type}, nil
		}
		return nil, errInvalid("unknown table %q in field %s", ref.Table, ref)
	}
	found := (*Col)(nil)
	for v := range c.vars {
		ci := c.vars[v].schema.ColIndex(ref.Name)
		if ci < 0 {
			continue
		}
		if found != nil {
			return nil, errInvalid("ambiguous column %q", ref.Name)
		}
		found = &Col{Var: v, Col: ci, Type: c.vars[v].schema.Columns[ci].Type}
	}
	if found == nil {
		return nil, errInvalid("unknown column %q", ref.Name)
	}
	return found, nil
}

func (c *compiler) compilePred(e sql.Expr) (Pred, error) {
	switch e := e.(type) {
	case *sql.Logical:
		lhs, err := c.compilePred(e.Lhs)
		if err != nil {
			return nil, err
		}
		rhs, err := c.compilePred(e.Rhs)
		if err != nil {
			return nil, err
		}
		if e.And {
			return &And{Kids: []Pred{lhs, rhs}}, nil
		}
		return &Or{Kids: []Pred{lhs, rhs}}, nil
	case *sql.Not:
		kid, err := c.compilePred(e.Expr)
		if err != nil {
			return nil, err
		}
		return &Not{Kid: kid}, nil
	case *sql.Cmp:
		return c.compileCmp(e)
	case *sql.Field:
		col, err := c.resolveField(e.Ref)
		if err != nil {
			return nil, err
		}
		if col.Type.Kind != sats.BoolKind {
			return nil, errType("column %s used as a predicate is %s, not bool", e.Ref, col.Type)
		}
		return &BoolCol{Ref: col}, nil
	case *sql.Lit:
		if e.Kind == sql.BoolLit {
			if e.Bool {
				return truePred{}, nil
			}
			return &Not{Kid: truePred{}}, nil
		}
	}
	return nil, errInvalid("expression %s is not a predicate", e)
}

func (c *compiler) compileCmp(e *sql.Cmp) (Pred, error) {
	lf, lok := e.Lhs.(*sql.Field)
	rf, rok := e.Rhs.(*sql.Field)
	switch {
	case lok && rok:
		lhs, err := c.resolveField(lf.Ref)
		if err != nil {
			return nil, err
		}
		rhs, err := c.resolveField(rf.Ref)
		if err != nil {
			return nil, err
		}
		if !lhs.Type.Equal(rhs.Type) {
			return nil, errType("cannot compare %s (%s) with %s (%s)",
				lf.Ref, lhs.Type, rf.Ref, rhs.Type)
		}
		return &Cmp{Op: e.Op, Lhs: lhs, Rhs: rhs, Type: lhs.Type}, nil
	case lok:
		lhs, err := c.resolveField(lf.Ref)
		if err != nil {
			return nil, err
		}
		lit, ok := e.Rhs.(*sql.Lit)
		if !ok {
			return nil, errInvalid("unsupported comparison operand %s", e.Rhs)
		}
		val, err := coerceLit(lit, lhs.Type)
		if err != nil {
			return nil, err
		}
		return &Cmp{Op: e.Op, Lhs: lhs, Rhs: &Const{Val: val, Type: lhs.Type}, Type: lhs.Type}, nil
	case rok:
		// normalize literal-first comparisons
		return c.compileCmp(&sql.Cmp{Op: e.Op.Reverse(), Lhs: e.Rhs, Rhs: e.Lhs})
	}
	return nil, errInvalid("comparison %s references no column", e)
}

// coerceLit types a literal against a column type.
func coerceLit(lit *sql.Lit, t *sats.Type) (sats.Value, error) {
	switch lit.Kind {
	case sql.IntLit:
		if t.Integer() {
			if err := intFits(lit.Int, t); err != nil {
				return sats.Value{}, err
			}
			return sats.MakeInteger(t, lit.Int), nil
		}
		switch t.Kind {
		case sats.F32Kind:
			return sats.F32Value(float32(lit.Int)), nil
		case sats.F64Kind:
			return sats.F64Value(float64(lit.Int)), nil
		}
	case sql.FloatLit:
		switch t.Kind {
		case sats.F32Kind:
			return sats.F32Value(float32(lit.Float)), nil
		case sats.F64Kind:
			return sats.F64Value(lit.Float), nil
		}
	case sql.StringLit:
		if t.Kind == sats.StringKind {
			return sats.StringValue(lit.Str), nil
		}
	case sql.BoolLit:
		if t.Kind == sats.BoolKind {
			return sats.BoolValue(lit.Bool), nil
		}
	}
	return sats.Value{}, errType("literal %s is not assignable to %s", lit, t)
}

func intFits(n int64, t *sats.Type) error {
	var lo, hi int64
	switch t.Kind {
	case sats.U8Kind:
		lo, hi = 0, math.MaxUint8
	case sats.I8Kind:
		lo, hi = math.MinInt8, math.MaxInt8
	case sats.U16Kind:
		lo, hi = 0, math.MaxUint16
	case sats.I16Kind:
		lo, hi = math.MinInt16, math.MaxInt16
	case sats.U32Kind:
		lo, hi = 0, math.MaxUint32
	case sats.I32Kind:
		lo, hi = math.MinInt32, math.MaxInt32
	case sats.U64Kind:
		if n < 0 {
			return errType("literal %d is negative for %s", n, t)
		}
		return nil
	default:
		return nil
	}
	if n < lo || n > hi {
		return errType("literal %d out of range for %s", n, t)
	}
	return nil
}

func flattenAnd(p Pred) []Pred {
	if and, ok := p.(*And); ok {
		var out []Pred
		for _, k := range and.Kids {
			out = append(out, flattenAnd(k)...)
		}
		return out
	}
	return []Pred{p}
}

// compileJoin lowers one equi-join clause. The join
// becomes an IndexJoin when the inner table has a
// single-column index on its join key, and a
// HashJoin otherwise.
func (c *compiler) compileJoin(lhs Op, rvar int, j *sql.Join) (Op, error) {
	a, err := c.resolveField(j.Lhs)
	if err != nil {
		return nil, err
	}
	b, err := c.resolveField(j.Rhs)
	if err != nil {
		return nil, err
	}
	// one side must be the newly joined table
	var outer, inner *Col
	switch {
	case a.Var == rvar && b.Var < rvar:
		outer, inner = b, a
	case b.Var == rvar && a.Var < rvar:
		outer, inner = a, b
	default:
		return nil, errInvalid("join condition %s = %s does not relate %q to a prior table",
			j.Lhs, j.Rhs, c.vars[rvar].name)
	}
	if !outer.Type.Equal(inner.Type) {
		return nil, errType("join keys %s and %s have different types", j.Lhs, j.Rhs)
	}
	schema := c.vars[rvar].schema
	for i := range schema.Indexes {
		ix := &schema.Indexes[i]
		if len(ix.Cols) == 1 && ix.Cols[0] == inner.Col {
			return &IndexJoin{
				L: lhs, R: schema, Index: ix.ID, RCol: inner.Col,
				LVar: outer.Var, LCol: outer.Col,
			}, nil
		}
	}
	return &HashJoin{
		L: lhs, R: schema, LVar: outer.Var, LCol: outer.Col, RCol: inner.Col,
	}, nil
}
