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

// Package sql parses the restricted subscription
// dialect:
//
//	SELECT <columns|*> FROM <table> [JOIN <table> ON <t1>.<c> = <t2>.<c>]...
//	       [WHERE <predicate>]
//
// Predicates support =, <>, <, <=, >, >=, AND, OR,
// NOT, qualified and bare field access, and typed
// literals. ORDER BY, LIMIT, GROUP BY, aggregates,
// and subqueries are rejected at parse time; semantic
// checks (table and column resolution, literal
// typing) happen when the plan is compiled.
package sql

import "fmt"

// Select is a parsed query.
type Select struct {
	// Columns is nil for SELECT *.
	Columns []FieldRef
	From    TableRef
	Joins   []Join
	// Where is nil when absent.
	Where Expr
}

// TableRef names a table with an optional alias.
type TableRef struct {
	Name  string
	Alias string // "" if none
}

// Binding returns the name the table is referred to
// by in field qualifiers.
func (t *TableRef) Binding() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// Join is one equi-join clause.
type Join struct {
	Table TableRef
	Lhs   FieldRef
	Rhs   FieldRef
}

// FieldRef is a possibly-qualified column reference.
type FieldRef struct {
	Table string // "" if unqualified
	Name  string
}

func (f FieldRef) String() string {
	if f.Table != "" {
		return f.Table + "." + f.Name
	}
	return f.Name
}

// CmpOp is a comparison operator.
type CmpOp uint8

const (
	Eq CmpOp = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

func (op CmpOp) String() string {
	switch op {
	case Eq:
		return "="
	case Ne:
		return "<>"
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	}
	return "?"
}

// Reverse returns the operator with its operands
// swapped.
func (op CmpOp) Reverse() CmpOp {
	switch op {
	case Lt:
		return Gt
	case Le:
		return Ge
	case Gt:
		return Lt
	case Ge:
		return Le
	}
	return op
}

// Expr is a predicate or scalar expression node.
type Expr interface {
	fmt.Stringer
	expr()
}

// Cmp is a binary comparison.
type Cmp struct {
	Op  CmpOp
	Lhs Expr
	Rhs Expr
}

// Logical is AND or OR over two operands.
type Logical struct {
	And      bool
	Lhs, Rhs Expr
}

// Not negates a predicate.
type Not struct {
	Expr Expr
}

// Field is a column reference.
type Field struct {
	Ref FieldRef
}

// LitKind discriminates literal forms; the concrete
// SATS type is assigned during plan compilation.
type LitKind uint8

const (
	IntLit LitKind = iota
	FloatLit
	StringLit
	BoolLit
)

// Lit is a literal constant.
type Lit struct {
	Kind  LitKind
	Int   int64
	Float float64
	Str   string
	Bool  bool
}

func (*Cmp) expr()     {}
func (*Logical) expr() {}
func (*Not) expr()     {}
func (*Field) expr()   {}
func (*Lit) expr()     {}

func (c *Cmp) String() string {
	return fmt.Sprintf("%s %s %s", c.Lhs, c.Op, c.Rhs)
}

func (l *Logical) String() string {
	op := "OR"
	if l.And {
		op = "AND"
	}
	return fmt.Sprintf("(%s %s %s)", l.Lhs, op, l.Rhs)
}

func (n *Not) String() string { return "NOT (" + n.Expr.String() + ")" }

func (f *Field) String() string { return f.Ref.String() }

func (l *Lit) String() string {
	switch l.Kind {
	case IntLit:
		return fmt.Sprintf("%d", l.Int)
	case FloatLit:
		return fmt.Sprintf("%g", l.Float)
	case StringLit:
		return fmt.Sprintf("%q", l.Str)
	case BoolLit:
		if l.Bool {
			return "TRUE"
		}
		return "FALSE"
	}
	return "?"
}
