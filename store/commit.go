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

package store

import (
	"errors"
	"fmt"

	"github.com/SnellerInc/spindle/sats"
	"github.com/SnellerInc/spindle/table"
)

// Commit runs the commit protocol:
//
//  1. re-verify unique constraints touched by the
//     tx's inserts
//  2. assign the next commit offset
//  3. serialize the delta into a commit record
//  4. append to the commitlog and wait for the
//     durability barrier
//  5. apply the delta to the canonical tables and
//     indexes
//  6. advance sequence ceilings consumed past their
//     prior durable mark
//  7. publish the delta to the subscription sink
//  8. release the write lock
//
// A constraint failure aborts with rollback
// semantics. A commitlog failure (other than
// backpressure) degrades the datastore to read-only.
func (tx *Tx) Commit() (uint64, error) {
	if tx.done {
		return 0, ErrTxDone
	}
	if tx.mode == ReadTx {
		tx.finish()
		return 0, nil
	}
	ds := tx.ds

	// (1) the write lock has been held since Begin,
	// so the committed state cannot have moved; this
	// pass re-checks every overlay insert against the
	// committed unique indexes (a guard against index
	// mutation bugs) and validates the delete set is
	// still live.
	if err := tx.reverify(); err != nil {
		tx.rollbackLocked()
		return 0, err
	}

	// (2)
	offset := ds.nextOffset

	// (3) deterministic order: ascending table id,
	// deletes before inserts, both in recorded order
	rec, deltas, err := tx.buildRecord()
	if err != nil {
		tx.rollbackLocked()
		return 0, err
	}

	// (4)
	if ds.dur != nil {
		payload := appendRecord(nil, rec)
		logOffset, err := ds.dur.Append(payload)
		if err != nil {
			if errors.Is(err, ErrBackpressure) {
				tx.rollbackLocked()
				return 0, err
			}
			defer tx.finish()
			return 0, ds.degrade(fmt.Errorf("commit %d: append: %w", offset, err))
		}
		if logOffset != offset {
			defer tx.finish()
			return 0, ds.degrade(fmt.Errorf("commit %d: log assigned offset %d", offset, logOffset))
		}
		if err := ds.dur.Barrier(offset); err != nil {
			defer tx.finish()
			return 0, ds.degrade(fmt.Errorf("commit %d: sync: %w", offset, err))
		}
	}

	// (5) single critical section: the write lock is
	// already exclusive
	delta := &Delta{Offset: offset, Tables: deltas}
	for _, id := range sortedTableIDs(tx.overlay) {
		ov := tx.overlay[id]
		for _, ptr := range ov.delOrder {
			if _, err := ds.applyDelete(ov.ts, ptr); err != nil {
				// the delete set was validated live;
				// failure here is unrecoverable state
				// divergence from the just-logged record
				defer tx.finish()
				return 0, ds.degrade(fmt.Errorf("commit %d: apply delete: %w", offset, err))
			}
		}
		rows := ov.collectInserts()
		for i := range rows {
			if _, err := ds.applyInsert(ov.ts, rows[i]); err != nil {
				defer tx.finish()
				return 0, ds.degrade(fmt.Errorf("commit %d: apply insert: %w", offset, err))
			}
		}
		ov.ins.Clear()
	}

	// (6)
	for _, st := range tx.seqs {
		st.seq.current = st.cur
		st.seq.allocated = st.ceil
	}

	ds.nextOffset = offset + 1
	commitCounter.Inc()

	// (7) in-order delivery: the sink runs before the
	// write lock is released so no later commit can
	// overtake this delta
	if ds.sink != nil && !delta.Empty() {
		ds.sink.Publish(delta)
	}

	// (8)
	tx.finish()
	return offset, nil
}

// Rollback abandons the transaction, releasing its
// overlay pages. Rolling back a finished transaction
// is a no-op.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	if tx.mode == WriteTx {
		tx.rollbackLocked()
		return
	}
	tx.finish()
}

func (tx *Tx) rollbackLocked() {
	for _, ov := range tx.overlay {
		ov.ins.Clear()
	}
	abortCounter.Inc()
	tx.finish()
}

// finish releases the database lock exactly once.
func (tx *Tx) finish() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.mode == WriteTx {
		tx.ds.mu.Unlock()
	} else {
		tx.ds.mu.RUnlock()
	}
}

// reverify re-checks unique constraints for every
// overlay insert and liveness for every pending
// delete.
func (tx *Tx) reverify() error {
	for _, id := range sortedTableIDs(tx.overlay) {
		ov := tx.overlay[id]
		for _, ptr := range ov.delOrder {
			if _, err := ov.ts.tbl.Row(ptr); err != nil {
				return err
			}
		}
		var failed error
		ov.ins.Iter(func(ptr table.RowPointer) bool {
			v, err := ov.ins.Row(ptr)
			if err != nil {
				failed = err
				return false
			}
			var key []byte
			for _, ix := range ov.ts.indexes {
				if !ix.IsUnique() {
					continue
				}
				key = keyOf(key[:0], v, ov.ts.schema, ix.Cols())
				it := ix.SeekPoint(key)
				if existing, ok := it.Next(); ok {
					if _, deleted := ov.dels[existing]; !deleted {
						failed = &UniqueViolation{Table: id, Index: ix.ID(), Existing: existing}
						return false
					}
				}
			}
			return true
		})
		if failed != nil {
			return failed
		}
	}
	return nil
}

// buildRecord serializes the overlay into a TxRecord
// and the materialized per-table deltas.
func (tx *Tx) buildRecord() (*TxRecord, []TableDelta, error) {
	rec := &TxRecord{
		Timestamp: tx.opts.Timestamp,
		Caller:    tx.opts.Caller,
		ReducerID: tx.opts.ReducerID,
		Args:      tx.opts.Args,
	}
	var deltas []TableDelta
	for _, id := range sortedTableIDs(tx.overlay) {
		ov := tx.overlay[id]
		ins := ov.collectInserts()
		if len(ins) == 0 && len(ov.delOrder) == 0 {
			continue
		}
		tr := TableRecord{Table: id, Deletes: ov.delOrder}
		td := TableDelta{Table: id}
		for i := range ins {
			tr.Inserts = append(tr.Inserts, sats.Encode(ov.ts.rowType, ins[i]))
			td.Inserts = append(td.Inserts, ins[i])
		}
		for _, ptr := range ov.delOrder {
			v, err := ov.ts.tbl.Row(ptr)
			if err != nil {
				return nil, nil, err
			}
			td.Deletes = append(td.Deletes, v)
		}
		rec.Tables = append(rec.Tables, tr)
		deltas = append(deltas, td)
	}
	for _, st := range tx.seqs {
		if st.advanced {
			rec.Seqs = append(rec.Seqs, SeqAdvance{Sequence: st.seq.schema.ID, Ceiling: st.ceil})
		}
	}
	sortSeqAdvances(rec.Seqs)
	return rec, deltas, nil
}

// collectInserts materializes the overlay's inserted
// rows in insertion order.
func (ov *txTable) collectInserts() []sats.Value {
	var rows []sats.Value
	ov.ins.Iter(func(ptr table.RowPointer) bool {
		v, err := ov.ins.Row(ptr)
		if err == nil {
			rows = append(rows, v)
		}
		return true
	})
	return rows
}

func sortSeqAdvances(seqs []SeqAdvance) {
	for i := 1; i < len(seqs); i++ {
		for j := i; j > 0 && seqs[j].Sequence < seqs[j-1].Sequence; j-- {
			seqs[j], seqs[j-1] = seqs[j-1], seqs[j]
		}
	}
}
