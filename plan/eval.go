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
)

// Full evaluation: each op streams its result tuples
// bottom-up. Emit callbacks return false to stop
// early; evaluation then unwinds without error.

func (s *Scan) full(env Env, emit func(tuple) bool) error {
	return env.ScanTable(s.Table.ID, func(row sats.Value) bool {
		return emit(tuple{row})
	})
}

func (s *IxScan) full(env Env, emit func(tuple) bool) error {
	return env.SeekIndex(s.Table.ID, s.Index, s.Range, func(row sats.Value) bool {
		return emit(tuple{row})
	})
}

func (f *Filter) full(env Env, emit func(tuple) bool) error {
	return f.From.full(env, func(t tuple) bool {
		if !f.Pred.eval(t) {
			return true
		}
		return emit(t)
	})
}

func (p *Project) full(env Env, emit func(tuple) bool) error {
	return p.From.full(env, func(t tuple) bool {
		return emit(tuple{p.project(t)})
	})
}

func (p *Project) project(t tuple) sats.Value {
	kids := make([]sats.Value, len(p.Cols))
	for i, c := range p.Cols {
		kids[i] = t[c.Var].Kid(c.Col)
	}
	return sats.ProductValue(kids...)
}

// rowKey encodes a join key for hashing.
func rowKey(t *sats.Type, v sats.Value) string {
	return string(sats.AppendKey(nil, t, v))
}

func (j *HashJoin) keyType() *sats.Type {
	return j.R.Columns[j.RCol].Type
}

func (j *HashJoin) full(env Env, emit func(tuple) bool) error {
	// build on the inner base table, probe with the
	// outer input
	build := make(map[string][]sats.Value)
	err := env.ScanTable(j.R.ID, func(row sats.Value) bool {
		k := rowKey(j.keyType(), row.Kid(j.RCol))
		build[k] = append(build[k], row)
		return true
	})
	if err != nil {
		return err
	}
	return j.L.full(env, func(t tuple) bool {
		k := rowKey(j.keyType(), t[j.LVar].Kid(j.LCol))
		for _, row := range build[k] {
			if !emit(extend(t, row)) {
				return false
			}
		}
		return true
	})
}

func (j *IndexJoin) keyType() *sats.Type {
	return j.R.Columns[j.RCol].Type
}

func (j *IndexJoin) full(env Env, emit func(tuple) bool) error {
	var seekErr error
	err := j.L.full(env, func(t tuple) bool {
		key := sats.AppendKey(nil, j.keyType(), t[j.LVar].Kid(j.LCol))
		ok := true
		seekErr = env.SeekIndex(j.R.ID, j.Index, index.PointRange(key), func(row sats.Value) bool {
			ok = emit(extend(t, row))
			return ok
		})
		return seekErr == nil && ok
	})
	if err != nil {
		return err
	}
	return seekErr
}

// extend appends a relation variable to a tuple
// without aliasing the input.
func extend(t tuple, row sats.Value) tuple {
	out := make(tuple, len(t)+1)
	copy(out, t)
	out[len(t)] = row
	return out
}
