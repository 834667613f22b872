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

// Package plan compiles parsed subscription queries
// into physical operator trees and evaluates them,
// both in full (initial subscribe) and incrementally
// against committed deltas.
package plan

import (
	"fmt"
	"strings"

	"github.com/SnellerInc/spindle/index"
	"github.com/SnellerInc/spindle/sats"
	"github.com/SnellerInc/spindle/store"
	"github.com/SnellerInc/spindle/table"
)

// Env is the evaluation environment: read access to
// the canonical state. The subscription engine backs
// it with a read transaction (initial subscribe) or
// the post-commit state (incremental evaluation).
type Env interface {
	ScanTable(id table.ID, fn func(row sats.Value) bool) error
	SeekIndex(id table.ID, ix index.ID, r index.Range, fn func(row sats.Value) bool) error
}

// Catalog resolves table names during compilation.
type Catalog interface {
	TableByName(name string) (*store.TableSchema, bool)
}

// tuple is one row of an intermediate relation: one
// element per relation variable, in FROM/JOIN order.
type tuple []sats.Value

// Op is a node in the physical plan tree.
type Op interface {
	fmt.Stringer

	// arity is the tuple width the op produces.
	arity() int
	// tables accumulates the base tables referenced.
	tables(set map[table.ID]bool)
	// full streams the op's entire result.
	full(env Env, emit func(t tuple) bool) error
	// delta streams the signed change to the op's
	// result implied by d (+1 insert, -1 delete),
	// evaluated against the post-commit state.
	delta(env Env, d *store.Delta, emit func(t tuple, sign int) bool) error
}

// Scan is a full table scan.
type Scan struct {
	Table *store.TableSchema
}

// IxScan fetches rows from an index: a point lookup
// or a bounded range. Pred re-states the index
// predicate over a bare row so delta rows can be
// tested without touching the index.
type IxScan struct {
	Table *store.TableSchema
	Index index.ID
	Hash  bool // hash index: point lookups only
	Range index.Range
	Pred  Pred
}

// Filter drops tuples failing its predicate.
type Filter struct {
	From Op
	Pred Pred
}

// HashJoin joins its input with a base table on
// column equality; the right side is always a base
// relation in the left-deep lowering. Unique marks a
// join against a unique index's key column.
type HashJoin struct {
	L      Op
	R      *store.TableSchema
	LVar   int
	LCol   int
	RCol   int
	Unique bool
}

// IndexJoin probes an index of the inner table with a
// key derived from each outer tuple.
type IndexJoin struct {
	L     Op
	R     *store.TableSchema
	Index index.ID
	RCol  int // the index key column
	LVar  int
	LCol  int
}

// Project narrows the result to selected columns; it
// is always the root when the query names columns.
type Project struct {
	From Op
	Cols []ColRef
	Out  *sats.Type
}

// ColRef addresses one output column.
type ColRef struct {
	Var, Col int
}

func (s *Scan) arity() int      { return 1 }
func (s *IxScan) arity() int    { return 1 }
func (f *Filter) arity() int    { return f.From.arity() }
func (j *HashJoin) arity() int  { return j.L.arity() + 1 }
func (j *IndexJoin) arity() int { return j.L.arity() + 1 }
func (p *Project) arity() int   { return 1 }

func (s *Scan) tables(set map[table.ID]bool)   { set[s.Table.ID] = true }
func (s *IxScan) tables(set map[table.ID]bool) { set[s.Table.ID] = true }
func (f *Filter) tables(set map[table.ID]bool) { f.From.tables(set) }
func (j *HashJoin) tables(set map[table.ID]bool) {
	j.L.tables(set)
	set[j.R.ID] = true
}
func (j *IndexJoin) tables(set map[table.ID]bool) {
	j.L.tables(set)
	set[j.R.ID] = true
}
func (p *Project) tables(set map[table.ID]bool) { p.From.tables(set) }

func (s *Scan) String() string { return "scan " + s.Table.Name }
func (s *IxScan) String() string {
	return fmt.Sprintf("ixscan %s.%d", s.Table.Name, s.Index)
}
func (f *Filter) String() string {
	return fmt.Sprintf("filter (%s) <- %s", f.Pred, f.From)
}
func (j *HashJoin) String() string {
	u := ""
	if j.Unique {
		u = " unique"
	}
	return fmt.Sprintf("hashjoin%s %s <- %s", u, j.R.Name, j.L)
}
func (j *IndexJoin) String() string {
	return fmt.Sprintf("ixjoin %s.%d <- %s", j.R.Name, j.Index, j.L)
}
func (p *Project) String() string {
	cols := make([]string, len(p.Cols))
	for i, c := range p.Cols {
		cols[i] = fmt.Sprintf("$%d.%d", c.Var, c.Col)
	}
	return fmt.Sprintf("project [%s] <- %s", strings.Join(cols, ", "), p.From)
}

// Plan is a compiled query.
type Plan struct {
	Root Op
	// OutType is the row type delivered to clients.
	OutType *sats.Type
	// SQL is the original query text.
	SQL string
}

// Tables returns the base tables the plan reads; a
// committed delta touching none of them cannot change
// the result.
func (p *Plan) Tables() map[table.ID]bool {
	set := make(map[table.ID]bool)
	p.Root.tables(set)
	return set
}

// Execute runs the plan to completion, emitting
// output rows.
func (p *Plan) Execute(env Env, emit func(row sats.Value) bool) error {
	return p.Root.full(env, func(t tuple) bool {
		return emit(t[0])
	})
}

// ExecuteDelta evaluates the signed change to the
// plan's result implied by d. Rows are emitted with
// +1 (entering the result) or -1 (leaving) signs;
// duplicate emissions with opposite signs cancel at
// the caller.
func (p *Plan) ExecuteDelta(env Env, d *store.Delta, emit func(row sats.Value, sign int) bool) error {
	touched := p.Tables()
	relevant := false
	for i := range d.Tables {
		if touched[d.Tables[i].Table] {
			relevant = true
			break
		}
	}
	if !relevant {
		return nil
	}
	return p.Root.delta(env, d, func(t tuple, sign int) bool {
		return emit(t[0], sign)
	})
}
