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

	"github.com/SnellerInc/spindle/index"
	"github.com/SnellerInc/spindle/sats"
	"github.com/SnellerInc/spindle/table"
	"github.com/google/uuid"
)

// TxMode selects read-only or read-write.
type TxMode uint8

const (
	ReadTx TxMode = iota
	WriteTx
)

// TxOptions carries the reducer context the host
// threads into each transaction.
type TxOptions struct {
	Caller    uuid.UUID
	ReducerID uint32
	Args      []byte
	// Timestamp is microseconds since the Unix epoch.
	Timestamp int64
}

// Tx is one transaction. A write transaction holds
// the exclusive database lock from Begin until Commit
// or Rollback; read transactions share the lock and
// observe the committed state at a single offset for
// their whole lifetime.
type Tx struct {
	ds   *Datastore
	mode TxMode
	opts TxOptions
	done bool

	// write-tx overlay, lazily populated per table
	overlay map[table.ID]*txTable
	seqs    map[SequenceID]*txSeq
}

type txTable struct {
	ts    *tableState
	ins   *table.Table   // tx-space rows
	insIx []*index.Index // overlay mirrors of the schema indexes
	dels  map[table.RowPointer]struct{}
	// delOrder keeps deterministic record order
	delOrder []table.RowPointer
}

type txSeq struct {
	seq      *sequence
	cur      int64
	ceil     int64
	advanced bool
}

// Begin opens a transaction. Write transactions block
// until all readers and any other writer finish; they
// fail immediately if the datastore is degraded.
func (ds *Datastore) Begin(mode TxMode, opts TxOptions) (*Tx, error) {
	if mode == WriteTx {
		ds.mu.Lock()
		if ds.degraded != nil {
			ds.mu.Unlock()
			return nil, &DegradedError{Cause: ds.degraded}
		}
	} else {
		ds.mu.RLock()
	}
	return &Tx{ds: ds, mode: mode, opts: opts}, nil
}

// Mode returns the transaction mode.
func (tx *Tx) Mode() TxMode { return tx.mode }

// Timestamp returns the reducer timestamp in
// microseconds since the Unix epoch.
func (tx *Tx) Timestamp() int64 { return tx.opts.Timestamp }

// Caller returns the invoking identity.
func (tx *Tx) Caller() uuid.UUID { return tx.opts.Caller }

// Offset returns the commit offset this transaction
// observes (the most recent commit), and false if
// nothing has committed yet.
func (tx *Tx) Offset() (uint64, bool) {
	if tx.ds.nextOffset == 0 {
		return 0, false
	}
	return tx.ds.nextOffset - 1, true
}

func (tx *Tx) writable() error {
	if tx.done {
		return ErrTxDone
	}
	if tx.mode != WriteTx {
		return ErrReadOnlyTx
	}
	return nil
}

func (tx *Tx) table(id table.ID) (*txTable, error) {
	if ov, ok := tx.overlay[id]; ok {
		return ov, nil
	}
	ts, err := tx.ds.state(id)
	if err != nil {
		return nil, err
	}
	ov := &txTable{
		ts:   ts,
		ins:  table.New(id, table.TxState, ts.rowType, tx.ds.pool),
		dels: make(map[table.RowPointer]struct{}),
	}
	for _, ix := range ts.indexes {
		ov.insIx = append(ov.insIx, index.New(ix.ID(), ix.Kind(), ix.Cols()))
	}
	if tx.overlay == nil {
		tx.overlay = make(map[table.ID]*txTable)
	}
	tx.overlay[id] = ov
	return ov, nil
}

// Insert decodes rowBytes against the table schema
// and inserts the row; see InsertValue.
func (tx *Tx) Insert(id table.ID, rowBytes []byte) (table.RowPointer, error) {
	if err := tx.writable(); err != nil {
		return table.Null, err
	}
	ov, err := tx.table(id)
	if err != nil {
		return table.Null, err
	}
	v, err := sats.DecodeAll(ov.ts.rowType, rowBytes)
	if err != nil {
		return table.Null, &SchemaMismatch{Table: id, Cause: err}
	}
	return tx.insert(ov, v)
}

// InsertValue inserts a decoded row: strict type
// check, sequence assignment for zero-valued
// auto-inc columns, unique validation against
// committed state merged with the transaction's own
// writes, then recording in the tx delta. The
// returned pointer lives in the tx-state address
// space until commit.
func (tx *Tx) InsertValue(id table.ID, v sats.Value) (table.RowPointer, error) {
	if err := tx.writable(); err != nil {
		return table.Null, err
	}
	ov, err := tx.table(id)
	if err != nil {
		return table.Null, err
	}
	if !v.Conforms(ov.ts.rowType) {
		return table.Null, &SchemaMismatch{Table: id, Cause: errValueShape}
	}
	return tx.insert(ov, v)
}

var errValueShape = errors.New("row value does not conform to the table row type")

func (tx *Tx) insert(ov *txTable, v sats.Value) (table.RowPointer, error) {
	// draw sequence values for zero-valued auto-inc
	// columns before key derivation
	s := ov.ts.schema
	for i := range s.Sequences {
		sq := &s.Sequences[i]
		col := v.Kid(sq.Col)
		if col.Uint() != 0 {
			continue
		}
		n, err := tx.nextSeqValue(ov.ts.seqs[i])
		if err != nil {
			return table.Null, err
		}
		v = v.WithKid(sq.Col, sats.MakeInteger(s.Columns[sq.Col].Type, n))
	}
	if err := tx.checkUnique(ov, v); err != nil {
		return table.Null, err
	}
	ptr, err := ov.ins.Insert(v)
	if err != nil {
		return table.Null, err
	}
	var key []byte
	for _, ix := range ov.insIx {
		key = keyOf(key[:0], v, s, ix.Cols())
		ix.Insert(key, ptr)
	}
	return ptr, nil
}

// checkUnique validates v against every unique index,
// over committed state minus tx deletes plus tx
// inserts.
func (tx *Tx) checkUnique(ov *txTable, v sats.Value) error {
	var key []byte
	for n, ix := range ov.ts.indexes {
		if !ix.IsUnique() {
			continue
		}
		key = keyOf(key[:0], v, ov.ts.schema, ix.Cols())
		it := ix.SeekPoint(key)
		if ptr, ok := it.Next(); ok {
			if _, deleted := ov.dels[ptr]; !deleted {
				return &UniqueViolation{Table: ov.ts.schema.ID, Index: ix.ID(), Existing: ptr}
			}
		}
		ovIt := ov.insIx[n].SeekPoint(key)
		if ptr, ok := ovIt.Next(); ok {
			return &UniqueViolation{Table: ov.ts.schema.ID, Index: ix.ID(), Existing: ptr}
		}
	}
	return nil
}

// Delete removes the row at ptr. A tx-state pointer
// removes the pending insert; a committed pointer is
// recorded in the delete set.
func (tx *Tx) Delete(id table.ID, ptr table.RowPointer) error {
	if err := tx.writable(); err != nil {
		return err
	}
	ov, err := tx.table(id)
	if err != nil {
		return err
	}
	if ptr.Space() == table.TxState {
		v, err := ov.ins.Row(ptr)
		if err != nil {
			return err
		}
		var key []byte
		for _, ix := range ov.insIx {
			key = keyOf(key[:0], v, ov.ts.schema, ix.Cols())
			ix.Delete(key, ptr)
		}
		return ov.ins.Delete(ptr)
	}
	if _, dup := ov.dels[ptr]; dup {
		return table.ErrDeadPointer
	}
	// validate liveness now so commit cannot fail on
	// a stale pointer
	if _, err := ov.ts.tbl.Row(ptr); err != nil {
		return err
	}
	ov.dels[ptr] = struct{}{}
	ov.delOrder = append(ov.delOrder, ptr)
	return nil
}

// DeleteByIndex resolves r against the index and
// deletes every matching row, returning the count.
func (tx *Tx) DeleteByIndex(id table.ID, ixID index.ID, r index.Range) (int, error) {
	if err := tx.writable(); err != nil {
		return 0, err
	}
	ptrs, err := tx.Seek(id, ixID, r)
	if err != nil {
		return 0, err
	}
	for _, ptr := range ptrs {
		if err := tx.Delete(id, ptr); err != nil {
			return 0, err
		}
	}
	return len(ptrs), nil
}

// Seek resolves r against the index, merging the
// committed view (minus tx deletes) with the tx
// overlay. Results are in index order per side;
// committed hits precede tx inserts.
func (tx *Tx) Seek(id table.ID, ixID index.ID, r index.Range) ([]table.RowPointer, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	ts, err := tx.ds.state(id)
	if err != nil {
		return nil, err
	}
	ix, err := ts.indexByID(ixID)
	if err != nil {
		return nil, err
	}
	var ov *txTable
	if tx.mode == WriteTx {
		ov = tx.overlay[id] // nil if untouched
	}
	out := seekIndex(ix, r, func(ptr table.RowPointer) bool {
		if ov == nil {
			return true
		}
		_, deleted := ov.dels[ptr]
		return !deleted
	})
	if ov != nil {
		for _, ovIx := range ov.insIx {
			if ovIx.ID() == ixID {
				out = append(out, seekIndex(ovIx, r, nil)...)
				break
			}
		}
	}
	return out, nil
}

func seekIndex(ix *index.Index, r index.Range, keep func(table.RowPointer) bool) []table.RowPointer {
	var it index.Iter
	if ix.Kind().Ordered() {
		it = ix.SeekRange(r)
	} else {
		// hash indexes support point lookups only
		it = ix.SeekPoint(r.Lo)
	}
	var out []table.RowPointer
	for {
		ptr, ok := it.Next()
		if !ok {
			return out
		}
		if keep == nil || keep(ptr) {
			out = append(out, ptr)
		}
	}
}

// Row materializes the row at ptr, resolving
// tx-state pointers through the overlay.
func (tx *Tx) Row(id table.ID, ptr table.RowPointer) (sats.Value, error) {
	if tx.done {
		return sats.Value{}, ErrTxDone
	}
	if ptr.Space() == table.TxState {
		ov, ok := tx.overlay[id]
		if !ok {
			return sats.Value{}, table.ErrDeadPointer
		}
		return ov.ins.Row(ptr)
	}
	ts, err := tx.ds.state(id)
	if err != nil {
		return sats.Value{}, err
	}
	if tx.mode == WriteTx {
		if ov, ok := tx.overlay[id]; ok {
			if _, deleted := ov.dels[ptr]; deleted {
				return sats.Value{}, table.ErrDeadPointer
			}
		}
	}
	return ts.tbl.Row(ptr)
}

// Scan iterates every visible row of the table:
// committed rows minus tx deletes, then tx inserts.
func (tx *Tx) Scan(id table.ID, fn func(ptr table.RowPointer, v sats.Value) bool) error {
	if tx.done {
		return ErrTxDone
	}
	ts, err := tx.ds.state(id)
	if err != nil {
		return err
	}
	var ov *txTable
	if tx.mode == WriteTx {
		ov = tx.overlay[id]
	}
	stop := false
	var iterErr error
	ts.tbl.Iter(func(ptr table.RowPointer) bool {
		if ov != nil {
			if _, deleted := ov.dels[ptr]; deleted {
				return true
			}
		}
		v, err := ts.tbl.Row(ptr)
		if err != nil {
			iterErr = err
			return false
		}
		if !fn(ptr, v) {
			stop = true
			return false
		}
		return true
	})
	if iterErr != nil || stop || ov == nil {
		return iterErr
	}
	ov.ins.Iter(func(ptr table.RowPointer) bool {
		v, err := ov.ins.Row(ptr)
		if err != nil {
			iterErr = err
			return false
		}
		return fn(ptr, v)
	})
	return iterErr
}

// nextSeqValue draws the next value from a sequence,
// extending the tx-local allocation ceiling when the
// pre-reserved window is used up.
func (tx *Tx) nextSeqValue(seq *sequence) (int64, error) {
	if tx.seqs == nil {
		tx.seqs = make(map[SequenceID]*txSeq)
	}
	st, ok := tx.seqs[seq.schema.ID]
	if !ok {
		st = &txSeq{seq: seq, cur: seq.current, ceil: seq.allocated}
		tx.seqs[seq.schema.ID] = st
	}
	if seq.exhausted(st.cur) {
		return 0, &SequenceExhausted{Sequence: seq.schema.ID}
	}
	if st.cur == st.ceil {
		st.ceil = seq.advanceCeiling(st.cur)
		st.advanced = true
	}
	v := st.cur
	st.cur = seq.next(st.cur)
	return v, nil
}

// ConnectClient records a client connection in the
// system table.
func (tx *Tx) ConnectClient(id uuid.UUID) error {
	_, err := tx.InsertValue(ClientTableID, sats.ProductValue(sats.BytesValue(id[:])))
	return err
}

// DisconnectClient removes a client connection.
func (tx *Tx) DisconnectClient(id uuid.UUID) error {
	key := sats.AppendKey(nil, sats.Bytes, sats.BytesValue(id[:]))
	_, err := tx.DeleteByIndex(ClientTableID, clientIndexID, index.PointRange(key))
	return err
}
