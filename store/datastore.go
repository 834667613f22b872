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

// Package store implements the transactional
// datastore: table and index bookkeeping, the
// single-writer/multi-reader transaction lifecycle,
// sequences, constraint checks, and the commit
// protocol that couples the in-memory state to the
// commitlog and the subscription engine.
package store

import (
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/SnellerInc/spindle/index"
	"github.com/SnellerInc/spindle/page"
	"github.com/SnellerInc/spindle/sats"
	"github.com/SnellerInc/spindle/table"
	"github.com/google/uuid"
)

// Durability is the commitlog coupling. Append
// serializes a commit record and assigns its offset;
// Barrier blocks until the record at offset satisfies
// the configured durability policy. A failed Barrier
// (or a non-backpressure Append failure) degrades the
// datastore to read-only.
type Durability interface {
	Append(payload []byte) (uint64, error)
	Barrier(offset uint64) error
}

// DeltaSink receives the delta of every committed
// write transaction, in commit-offset order. Publish
// is called from within the commit critical section,
// so implementations must not reenter the datastore
// with a write transaction.
type DeltaSink interface {
	Publish(delta *Delta)
}

// Delta is the row-level effect of one committed
// transaction.
type Delta struct {
	Offset uint64
	Tables []TableDelta // ascending table id
}

// TableDelta carries materialized rows so consumers
// can evaluate predicates against deleted rows after
// the rows themselves are gone.
type TableDelta struct {
	Table   table.ID
	Inserts []sats.Value
	Deletes []sats.Value
}

// Empty reports whether the delta changed no rows.
func (d *Delta) Empty() bool {
	for i := range d.Tables {
		if len(d.Tables[i].Inserts) != 0 || len(d.Tables[i].Deletes) != 0 {
			return false
		}
	}
	return true
}

// Config configures a Datastore.
type Config struct {
	// MaxPages bounds the shared page pool
	// (0 is unlimited).
	MaxPages int
	// Durability is the commitlog hookup; nil keeps
	// the datastore memory-only.
	Durability Durability
	// Sink receives committed deltas; nil discards
	// them.
	Sink DeltaSink
	// Log receives durability-failure diagnostics;
	// nil uses the standard logger.
	Log *log.Logger
}

// Datastore is the entry point for transactions.
type Datastore struct {
	mu   sync.RWMutex
	pool *page.Pool
	dur  Durability
	sink DeltaSink
	logf *log.Logger

	tables map[table.ID]*tableState
	byName map[string]table.ID
	seqs   map[SequenceID]*sequence

	nextOffset uint64
	degraded   error
}

type tableState struct {
	schema  *TableSchema
	rowType *sats.Type
	tbl     *table.Table
	indexes []*index.Index
	seqs    []*sequence // parallel to schema.Sequences
}

// New creates an empty datastore.
func New(cfg Config) *Datastore {
	logf := cfg.Log
	if logf == nil {
		logf = log.Default()
	}
	return &Datastore{
		pool:   page.NewPool(cfg.MaxPages),
		dur:    cfg.Durability,
		sink:   cfg.Sink,
		logf:   logf,
		tables: make(map[table.ID]*tableState),
		byName: make(map[string]table.ID),
		seqs:   make(map[SequenceID]*sequence),
	}
}

// SetSink installs the delta sink after construction;
// the subscription engine needs the datastore first.
func (ds *Datastore) SetSink(sink DeltaSink) {
	ds.mu.Lock()
	ds.sink = sink
	ds.mu.Unlock()
}

// SetDurability installs the commitlog coupling after
// construction; recovery replays the log into the
// datastore before appends may flow the other way.
func (ds *Datastore) SetDurability(dur Durability) {
	ds.mu.Lock()
	ds.dur = dur
	ds.mu.Unlock()
}

// CreateTable registers a table. Schemas are fixed at
// creation; there is no online migration.
func (ds *Datastore) CreateTable(s *TableSchema) error {
	if err := s.validate(); err != nil {
		return err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if _, ok := ds.tables[s.ID]; ok {
		return &SchemaMismatch{Table: s.ID, Cause: errDuplicateTable}
	}
	rowType := s.RowType()
	ts := &tableState{
		schema:  s,
		rowType: rowType,
		tbl:     table.New(s.ID, table.Committed, rowType, ds.pool),
	}
	for i := range s.Indexes {
		ix := &s.Indexes[i]
		ts.indexes = append(ts.indexes, index.New(ix.ID, ix.Kind, ix.Cols))
	}
	for i := range s.Sequences {
		sq := newSequence(s.Sequences[i])
		ts.seqs = append(ts.seqs, sq)
		ds.seqs[s.Sequences[i].ID] = sq
	}
	ds.tables[s.ID] = ts
	ds.byName[s.Name] = s.ID
	return nil
}

var errDuplicateTable = errors.New("table id already in use")

// Schema returns the schema for a table id.
func (ds *Datastore) Schema(id table.ID) (*TableSchema, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	ts, ok := ds.tables[id]
	if !ok {
		return nil, false
	}
	return ts.schema, true
}

// TableByName resolves a table name to its id.
func (ds *Datastore) TableByName(name string) (table.ID, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	id, ok := ds.byName[name]
	return id, ok
}

// Offset returns the offset of the most recent
// commit, and false if nothing has committed yet.
func (ds *Datastore) Offset() (uint64, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if ds.nextOffset == 0 {
		return 0, false
	}
	return ds.nextOffset - 1, true
}

// Degraded returns the durability failure that moved
// the datastore to read-only mode, or nil.
func (ds *Datastore) Degraded() error {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.degraded
}

func (ds *Datastore) state(id table.ID) (*tableState, error) {
	ts, ok := ds.tables[id]
	if !ok {
		return nil, ErrUnknownTable
	}
	return ts, nil
}

func (ts *tableState) indexByID(id index.ID) (*index.Index, error) {
	for _, ix := range ts.indexes {
		if ix.ID() == id {
			return ix, nil
		}
	}
	return nil, ErrUnknownIndex
}

// applyInsert writes v into the canonical table and
// all indexes. It must only be called with rows whose
// unique constraints were already validated.
func (ds *Datastore) applyInsert(ts *tableState, v sats.Value) (table.RowPointer, error) {
	ptr, err := ts.tbl.Insert(v)
	if err != nil {
		return table.Null, err
	}
	var key []byte
	for _, ix := range ts.indexes {
		key = keyOf(key[:0], v, ts.schema, ix.Cols())
		if _, ok := ix.Insert(key, ptr); !ok {
			// constraint checking let a duplicate
			// through; this is a datastore bug, not
			// a user error
			panic("store: index insert failed after constraint check")
		}
	}
	return ptr, nil
}

// applyDelete removes the row at ptr from the
// canonical table and all indexes, returning the
// materialized row.
func (ds *Datastore) applyDelete(ts *tableState, ptr table.RowPointer) (sats.Value, error) {
	v, err := ts.tbl.Row(ptr)
	if err != nil {
		return sats.Value{}, err
	}
	var key []byte
	for _, ix := range ts.indexes {
		key = keyOf(key[:0], v, ts.schema, ix.Cols())
		ix.Delete(key, ptr)
	}
	if err := ts.tbl.Delete(ptr); err != nil {
		return sats.Value{}, err
	}
	return v, nil
}

// ApplyRecord replays one serialized commit record
// during recovery, restoring rows, indexes, and
// sequence ceilings. Records must be applied in
// offset order into a datastore whose schema has
// been recreated.
func (ds *Datastore) ApplyRecord(payload []byte) error {
	rec, err := decodeRecord(payload)
	if err != nil {
		return err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for i := range rec.Tables {
		tr := &rec.Tables[i]
		ts, err := ds.state(tr.Table)
		if err != nil {
			return err
		}
		for _, ptr := range tr.Deletes {
			if _, err := ds.applyDelete(ts, ptr); err != nil {
				return err
			}
		}
		for _, row := range tr.Inserts {
			v, err := sats.DecodeAll(ts.rowType, row)
			if err != nil {
				return err
			}
			if _, err := ds.applyInsert(ts, v); err != nil {
				return err
			}
		}
	}
	for i := range rec.Seqs {
		sq, ok := ds.seqs[rec.Seqs[i].Sequence]
		if !ok {
			continue
		}
		// restart from the ceiling: every value below
		// it may already have been observed
		sq.current = rec.Seqs[i].Ceiling
		sq.allocated = rec.Seqs[i].Ceiling
	}
	ds.nextOffset++
	return nil
}

// degrade records a durability failure; all
// subsequent write transactions fail until restart.
func (ds *Datastore) degrade(err error) error {
	if ds.degraded == nil {
		ds.degraded = err
		ds.logf.Printf("store: degrading to read-only: %v", err)
		degradedGauge.Set(1)
	}
	return &DegradedError{Cause: ds.degraded}
}

// sortedTableIDs returns the keys of m ascending.
func sortedTableIDs[V any](m map[table.ID]V) []table.ID {
	ids := make([]table.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// View is a read view over the committed state that
// takes no locks. It exists for DeltaSink.Publish
// implementations, which run inside the commit
// critical section where the write lock is already
// held; using a View outside that context races with
// writers.
type View struct {
	ds *Datastore
}

// UnlockedView returns the sink-side read view.
func (ds *Datastore) UnlockedView() *View { return &View{ds: ds} }

// ScanTable streams every committed row of a table.
func (v *View) ScanTable(id table.ID, fn func(row sats.Value) bool) error {
	ts, err := v.ds.state(id)
	if err != nil {
		return err
	}
	var iterErr error
	ts.tbl.Iter(func(ptr table.RowPointer) bool {
		row, err := ts.tbl.Row(ptr)
		if err != nil {
			iterErr = err
			return false
		}
		return fn(row)
	})
	return iterErr
}

// SeekIndex streams the committed rows matching r.
func (v *View) SeekIndex(id table.ID, ixID index.ID, r index.Range, fn func(row sats.Value) bool) error {
	ts, err := v.ds.state(id)
	if err != nil {
		return err
	}
	ix, err := ts.indexByID(ixID)
	if err != nil {
		return err
	}
	var it index.Iter
	if ix.Kind().Ordered() {
		it = ix.SeekRange(r)
	} else {
		it = ix.SeekPoint(r.Lo)
	}
	for {
		ptr, ok := it.Next()
		if !ok {
			return nil
		}
		row, err := ts.tbl.Row(ptr)
		if err != nil {
			return err
		}
		if !fn(row) {
			return nil
		}
	}
}

// CapturePages copies the raw page images of every
// table under a read lock, along with the commit
// offset they reflect; the snapshot writer archives
// them into the object store.
func (ds *Datastore) CapturePages() (offset uint64, pages map[table.ID][][]byte) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	pages = make(map[table.ID][][]byte, len(ds.tables))
	for id, ts := range ds.tables {
		var imgs [][]byte
		ts.tbl.Pages(func(img []byte) bool {
			imgs = append(imgs, append([]byte(nil), img...))
			return true
		})
		pages[id] = imgs
	}
	if ds.nextOffset == 0 {
		return 0, pages
	}
	return ds.nextOffset - 1, pages
}

// reserved id space for system tables
const (
	// ClientTableID is the system table of connected
	// clients; recovery surfaces its rows so the host
	// can run disconnect handling for each.
	ClientTableID table.ID = 0xff000000
	// clientIndexID is its unique identity index.
	clientIndexID index.ID = 0xff000000
)

// CreateSystemTables registers the reserved tables.
// Call once before the first transaction (and before
// replay).
func (ds *Datastore) CreateSystemTables() error {
	return ds.CreateTable(&TableSchema{
		ID:   ClientTableID,
		Name: "st_client",
		Columns: []ColumnSchema{
			{Name: "identity", Type: sats.Bytes},
		},
		Indexes: []IndexSchema{
			{ID: clientIndexID, Name: "st_client_identity", Kind: index.Unique, Cols: []int{0}},
		},
	})
}

// ConnectedClients lists the client identities
// recorded in the system table; after recovery these
// are the connections that were live at the last
// recorded offset.
func (ds *Datastore) ConnectedClients() ([]uuid.UUID, error) {
	tx, err := ds.Begin(ReadTx, TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	var out []uuid.UUID
	err = tx.Scan(ClientTableID, func(ptr table.RowPointer, v sats.Value) bool {
		id, uerr := uuid.FromBytes(v.Kid(0).Blob())
		if uerr == nil {
			out = append(out, id)
		}
		return true
	})
	return out, err
}
