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
	"github.com/SnellerInc/spindle/store"
)

// Incremental evaluation. Each op computes the signed
// change to its result implied by a committed delta,
// evaluated against the post-commit state:
//
//	Δ(scan T)      = Δ_T
//	Δ(σ_p X)       = σ_p(ΔX)
//	Δ(π X)         = π(ΔX)
//	Δ(ixscan)      = σ_indexpred(Δ_T)
//	Δ(X ⋈ T)       = ΔX ⋈ T_new  ∪  X_new ⋈ Δ_T  −  ΔX ⋈ Δ_T
//
// The subtraction term compensates for rows counted
// twice when both sides changed in the same commit;
// signs multiply through the join and negate on the
// compensation term.

func (s *Scan) delta(_ Env, d *store.Delta, emit func(tuple, int) bool) error {
	td := findDelta(d, uint32(s.Table.ID))
	if td == nil {
		return nil
	}
	for i := range td.Inserts {
		if !emit(tuple{td.Inserts[i]}, 1) {
			return nil
		}
	}
	for i := range td.Deletes {
		if !emit(tuple{td.Deletes[i]}, -1) {
			return nil
		}
	}
	return nil
}

func (s *IxScan) delta(_ Env, d *store.Delta, emit func(tuple, int) bool) error {
	td := findDelta(d, uint32(s.Table.ID))
	if td == nil {
		return nil
	}
	// probing the index is equivalent to testing the
	// index predicate against each delta row
	for i := range td.Inserts {
		t := tuple{td.Inserts[i]}
		if s.Pred.eval(t) && !emit(t, 1) {
			return nil
		}
	}
	for i := range td.Deletes {
		t := tuple{td.Deletes[i]}
		if s.Pred.eval(t) && !emit(t, -1) {
			return nil
		}
	}
	return nil
}

func (f *Filter) delta(env Env, d *store.Delta, emit func(tuple, int) bool) error {
	return f.From.delta(env, d, func(t tuple, sign int) bool {
		if !f.Pred.eval(t) {
			return true
		}
		return emit(t, sign)
	})
}

func (p *Project) delta(env Env, d *store.Delta, emit func(tuple, int) bool) error {
	return p.From.delta(env, d, func(t tuple, sign int) bool {
		return emit(tuple{p.project(t)}, sign)
	})
}

// signed is a materialized signed tuple.
type signed struct {
	t    tuple
	sign int
}

func collectDelta(op Op, env Env, d *store.Delta) ([]signed, error) {
	var out []signed
	err := op.delta(env, d, func(t tuple, sign int) bool {
		out = append(out, signed{t, sign})
		return true
	})
	return out, err
}

func (j *HashJoin) delta(env Env, d *store.Delta, emit func(tuple, int) bool) error {
	dl, err := collectDelta(j.L, env, d)
	if err != nil {
		return err
	}
	dr := baseDelta(d, j.R, j.RCol)
	if len(dl) == 0 && len(dr) == 0 {
		return nil
	}
	kt := j.keyType()

	// ΔL ⋈ R_new
	if len(dl) > 0 {
		build := make(map[string][]sats.Value)
		err := env.ScanTable(j.R.ID, func(row sats.Value) bool {
			k := rowKey(kt, row.Kid(j.RCol))
			build[k] = append(build[k], row)
			return true
		})
		if err != nil {
			return err
		}
		for i := range dl {
			k := rowKey(kt, dl[i].t[j.LVar].Kid(j.LCol))
			for _, row := range build[k] {
				if !emit(extend(dl[i].t, row), dl[i].sign) {
					return nil
				}
			}
		}
	}

	// L_new ⋈ ΔR
	if len(dr) > 0 {
		stop := false
		err := j.L.full(env, func(t tuple) bool {
			k := rowKey(kt, t[j.LVar].Kid(j.LCol))
			for _, sr := range dr[k] {
				if !emit(extend(t, sr.t[0]), sr.sign) {
					stop = true
					return false
				}
			}
			return true
		})
		if err != nil || stop {
			return err
		}
	}

	// − ΔL ⋈ ΔR
	if len(dl) > 0 && len(dr) > 0 {
		for i := range dl {
			k := rowKey(kt, dl[i].t[j.LVar].Kid(j.LCol))
			for _, sr := range dr[k] {
				if !emit(extend(dl[i].t, sr.t[0]), -dl[i].sign*sr.sign) {
					return nil
				}
			}
		}
	}
	return nil
}

// baseDelta collects the signed delta rows of a base
// table keyed by their join key.
func baseDelta(d *store.Delta, schema *store.TableSchema, keyCol int) map[string][]signed {
	td := findDelta(d, uint32(schema.ID))
	if td == nil {
		return nil
	}
	kt := schema.Columns[keyCol].Type
	out := make(map[string][]signed)
	for i := range td.Inserts {
		k := rowKey(kt, td.Inserts[i].Kid(keyCol))
		out[k] = append(out[k], signed{tuple{td.Inserts[i]}, 1})
	}
	for i := range td.Deletes {
		k := rowKey(kt, td.Deletes[i].Kid(keyCol))
		out[k] = append(out[k], signed{tuple{td.Deletes[i]}, -1})
	}
	return out
}

func (j *IndexJoin) delta(env Env, d *store.Delta, emit func(tuple, int) bool) error {
	dl, err := collectDelta(j.L, env, d)
	if err != nil {
		return err
	}
	dr := baseDelta(d, j.R, j.RCol)
	if len(dl) == 0 && len(dr) == 0 {
		return nil
	}
	kt := j.keyType()

	// ΔL probes the index (R_new)
	for i := range dl {
		key := sats.AppendKey(nil, kt, dl[i].t[j.LVar].Kid(j.LCol))
		stop := false
		err := env.SeekIndex(j.R.ID, j.Index, index.PointRange(key), func(row sats.Value) bool {
			if !emit(extend(dl[i].t, row), dl[i].sign) {
				stop = true
				return false
			}
			return true
		})
		if err != nil || stop {
			return err
		}
	}

	// Δ on the indexed side re-probes by scanning the
	// probe side (L_new ⋈ ΔR)
	if len(dr) > 0 {
		stop := false
		err := j.L.full(env, func(t tuple) bool {
			k := rowKey(kt, t[j.LVar].Kid(j.LCol))
			for _, sr := range dr[k] {
				if !emit(extend(t, sr.t[0]), sr.sign) {
					stop = true
					return false
				}
			}
			return true
		})
		if err != nil || stop {
			return err
		}
	}

	// − ΔL ⋈ ΔR
	if len(dl) > 0 && len(dr) > 0 {
		for i := range dl {
			k := rowKey(kt, dl[i].t[j.LVar].Kid(j.LCol))
			for _, sr := range dr[k] {
				if !emit(extend(dl[i].t, sr.t[0]), -dl[i].sign*sr.sign) {
					return nil
				}
			}
		}
	}
	return nil
}

func findDelta(d *store.Delta, id uint32) *store.TableDelta {
	for i := range d.Tables {
		if uint32(d.Tables[i].Table) == id {
			return &d.Tables[i]
		}
	}
	return nil
}
