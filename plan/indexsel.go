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
	"github.com/SnellerInc/spindle/index"
	"github.com/SnellerInc/spindle/sats"
	"github.com/SnellerInc/spindle/sql"
	"github.com/SnellerInc/spindle/store"
)

// accessPath chooses the leaf operator for variable
// v: an index scan when an index matches an equality
// prefix of the predicate's conjuncts (optionally
// with one trailing range), or a plain table scan.
// Conjuncts consumed by the index are removed from
// the returned remainder.
func (c *compiler) accessPath(v int, conjuncts []Pred) (Op, []Pred) {
	schema := c.vars[v].schema
	eqs := make(map[int]*Cmp)      // col -> equality conjunct
	ranges := make(map[int][]*Cmp) // col -> range conjuncts
	for _, p := range conjuncts {
		cmp, ok := p.(*Cmp)
		if !ok {
			continue
		}
		col, okc := cmp.Lhs.(*Col)
		_, okv := cmp.Rhs.(*Const)
		if !okc || !okv || col.Var != v {
			continue
		}
		switch cmp.Op {
		case sql.Eq:
			if eqs[col.Col] == nil {
				eqs[col.Col] = cmp
			}
		case sql.Lt, sql.Le, sql.Gt, sql.Ge:
			ranges[col.Col] = append(ranges[col.Col], cmp)
		}
	}

	best := -1
	bestScore := 0
	for i := range schema.Indexes {
		score := indexScore(&schema.Indexes[i], eqs, ranges)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return &Scan{Table: schema}, conjuncts
	}
	ix := &schema.Indexes[best]

	var used []Pred
	var prefix []byte
	k := 0
	for ; k < len(ix.Cols); k++ {
		eq := eqs[ix.Cols[k]]
		if eq == nil {
			break
		}
		prefix = sats.AppendKey(prefix, eq.Type, eq.Rhs.(*Const).Val)
		used = append(used, eq)
	}
	r := index.Range{Lo: prefix, Hi: prefixSuccessor(prefix), LoInc: true}
	if k == len(ix.Cols) {
		// fully-determined key: a point lookup
		r = index.PointRange(prefix)
	} else if ix.Kind.Ordered() && k < len(ix.Cols) {
		if rs := ranges[ix.Cols[k]]; len(rs) > 0 {
			r = boundRange(prefix, rs, k+1 < len(ix.Cols))
			used = append(used, predsOf(rs)...)
		}
	}
	remaining := remove(conjuncts, used)
	return &IxScan{
		Table: schema,
		Index: ix.ID,
		Hash:  ix.Kind == index.Hash,
		Range: r,
		Pred:  predOf(used),
	}, remaining
}

// indexScore rates how much of the predicate an
// index can absorb: two per equality-matched prefix
// column, one more for a trailing range. A hash index
// only qualifies when every key column has an
// equality.
func indexScore(ix *store.IndexSchema, eqs map[int]*Cmp, ranges map[int][]*Cmp) int {
	k := 0
	for ; k < len(ix.Cols); k++ {
		if eqs[ix.Cols[k]] == nil {
			break
		}
	}
	if ix.Kind == index.Hash {
		if k == len(ix.Cols) {
			return 2 * k
		}
		return 0
	}
	score := 2 * k
	if k < len(ix.Cols) && len(ranges[ix.Cols[k]]) > 0 {
		score++
	}
	return score
}

// boundRange builds the scan range for an equality
// prefix plus range conjuncts on the next key column.
// When the index has further key columns past the
// range column, bounds are widened to whole-prefix
// boundaries so exclusive/inclusive semantics stay
// exact on the encoded keys.
func boundRange(prefix []byte, rs []*Cmp, moreCols bool) index.Range {
	r := index.Range{Lo: prefix, Hi: prefixSuccessor(prefix), LoInc: true}
	for _, cmp := range rs {
		enc := sats.AppendKey(nil, cmp.Type, cmp.Rhs.(*Const).Val)
		key := append(append([]byte(nil), prefix...), enc...)
		switch cmp.Op {
		case sql.Gt:
			if moreCols {
				r.Lo, r.LoInc = prefixSuccessor(key), true
			} else {
				r.Lo, r.LoInc = key, false
			}
		case sql.Ge:
			r.Lo, r.LoInc = key, true
		case sql.Lt:
			r.Hi, r.HiInc = key, false
		case sql.Le:
			if moreCols {
				r.Hi, r.HiInc = prefixSuccessor(key), false
			} else {
				r.Hi, r.HiInc = key, true
			}
		}
	}
	return r
}

// prefixSuccessor returns the smallest byte string
// greater than every string with the given prefix,
// or nil (unbounded) if there is none.
func prefixSuccessor(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

func predsOf(rs []*Cmp) []Pred {
	out := make([]Pred, len(rs))
	for i := range rs {
		out[i] = rs[i]
	}
	return out
}

func predOf(used []Pred) Pred {
	switch len(used) {
	case 0:
		return truePred{}
	case 1:
		return used[0]
	}
	return &And{Kids: used}
}

func remove(all, used []Pred) []Pred {
	var out []Pred
	for _, p := range all {
		drop := false
		for _, u := range used {
			if p == u {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, p)
		}
	}
	return out
}
