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
	"fmt"
	"strings"

	"github.com/SnellerInc/spindle/sats"
	"github.com/SnellerInc/spindle/sql"
)

// Pred is a compiled boolean predicate over tuples.
type Pred interface {
	fmt.Stringer
	eval(t tuple) bool
}

// Scalar is a compiled value expression.
type Scalar interface {
	fmt.Stringer
	value(t tuple) sats.Value
	typ() *sats.Type
}

// Col projects a column out of a tuple variable.
type Col struct {
	Var, Col int
	Type     *sats.Type
}

func (c *Col) value(t tuple) sats.Value { return t[c.Var].Kid(c.Col) }
func (c *Col) typ() *sats.Type          { return c.Type }
func (c *Col) String() string           { return fmt.Sprintf("$%d.%d", c.Var, c.Col) }

// Const is a typed literal.
type Const struct {
	Val  sats.Value
	Type *sats.Type
}

func (c *Const) value(tuple) sats.Value { return c.Val }
func (c *Const) typ() *sats.Type        { return c.Type }
func (c *Const) String() string         { return c.Val.String() }

// Cmp compares two scalars of the same type.
type Cmp struct {
	Op   sql.CmpOp
	Lhs  Scalar
	Rhs  Scalar
	Type *sats.Type
}

func (c *Cmp) eval(t tuple) bool {
	r := sats.Compare(c.Type, c.Lhs.value(t), c.Rhs.value(t))
	switch c.Op {
	case sql.Eq:
		return r == 0
	case sql.Ne:
		return r != 0
	case sql.Lt:
		return r < 0
	case sql.Le:
		return r <= 0
	case sql.Gt:
		return r > 0
	case sql.Ge:
		return r >= 0
	}
	return false
}

func (c *Cmp) String() string {
	return fmt.Sprintf("%s %s %s", c.Lhs, c.Op, c.Rhs)
}

// BoolCol treats a bare boolean column as a
// predicate.
type BoolCol struct {
	Ref *Col
}

func (b *BoolCol) eval(t tuple) bool { return b.Ref.value(t).Bool() }
func (b *BoolCol) String() string    { return b.Ref.String() }

// And is an n-ary conjunction.
type And struct {
	Kids []Pred
}

func (a *And) eval(t tuple) bool {
	for _, k := range a.Kids {
		if !k.eval(t) {
			return false
		}
	}
	return true
}

func (a *And) String() string { return joinPreds(a.Kids, " AND ") }

// Or is an n-ary disjunction.
type Or struct {
	Kids []Pred
}

func (o *Or) eval(t tuple) bool {
	for _, k := range o.Kids {
		if k.eval(t) {
			return true
		}
	}
	return false
}

func (o *Or) String() string { return joinPreds(o.Kids, " OR ") }

// Not negates its operand.
type Not struct {
	Kid Pred
}

func (n *Not) eval(t tuple) bool { return !n.Kid.eval(t) }
func (n *Not) String() string    { return "NOT (" + n.Kid.String() + ")" }

func joinPreds(kids []Pred, sep string) string {
	parts := make([]string, len(kids))
	for i := range kids {
		parts[i] = "(" + kids[i].String() + ")"
	}
	return strings.Join(parts, sep)
}

// truePred matches everything; the TRUE literal
// compiles to it (FALSE to its negation), and it is
// the Pred of an IxScan that absorbed no conjunct.
type truePred struct{}

func (truePred) eval(tuple) bool { return true }
func (truePred) String() string  { return "TRUE" }
