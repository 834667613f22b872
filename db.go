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

// Package spindle assembles the transactional row
// store: the datastore, the commitlog, the object
// store, and the subscription engine. The host (the
// module runtime and its websocket layer) talks to a
// DB; the component packages stay independent.
package spindle

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/SnellerInc/spindle/commitlog"
	"github.com/SnellerInc/spindle/compr"
	"github.com/SnellerInc/spindle/objstore"
	"github.com/SnellerInc/spindle/snapshot"
	"github.com/SnellerInc/spindle/store"
	"github.com/SnellerInc/spindle/sub"
	"github.com/google/uuid"
)

// DB is one open database.
type DB struct {
	Store   *store.Datastore
	Log     *commitlog.Log
	Objects *objstore.Store
	Subs    *sub.Engine

	cfg  Config
	logf *log.Logger
}

// Open creates or reopens the database at
// cfg.DataDir: tables are created from schemas, the
// commitlog is replayed into them, and appends resume
// at the recovered offset. transport receives
// subscription traffic; logf (nil for the default)
// receives durability diagnostics.
func Open(cfg Config, schemas []*store.TableSchema, transport sub.Transport, logf *log.Logger) (*DB, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("spindle: config has no dataDir")
	}
	logOpts, err := cfg.logOptions()
	if err != nil {
		return nil, err
	}
	if logf == nil {
		logf = log.Default()
	}
	logOpts.Log = logf

	ds := store.New(store.Config{MaxPages: cfg.MaxPages, Log: logf})
	if err := ds.CreateSystemTables(); err != nil {
		return nil, err
	}
	for _, s := range schemas {
		if err := ds.CreateTable(s); err != nil {
			return nil, err
		}
	}

	clog, err := commitlog.Open(filepath.Join(cfg.DataDir, "clog"), logOpts,
		func(offset uint64, payload []byte) error {
			if err := ds.ApplyRecord(payload); err != nil {
				return fmt.Errorf("replay offset %d: %w", offset, err)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	ds.SetDurability(durability{clog})

	objects, err := objstore.Open(filepath.Join(cfg.DataDir, "objects"))
	if err != nil {
		clog.Close()
		return nil, err
	}

	engine := sub.NewEngine(ds, transport)
	ds.SetSink(engine)

	return &DB{
		Store:   ds,
		Log:     clog,
		Objects: objects,
		Subs:    engine,
		cfg:     cfg,
		logf:    logf,
	}, nil
}

// durability adapts the commitlog to the datastore's
// coupling, translating backpressure into the error
// the datastore treats as abort-not-degrade.
type durability struct {
	l *commitlog.Log
}

func (d durability) Append(payload []byte) (uint64, error) {
	off, err := d.l.Append(payload)
	if errors.Is(err, commitlog.ErrBackpressure) {
		return 0, fmt.Errorf("%w: %v", store.ErrBackpressure, err)
	}
	return off, err
}

func (d durability) Barrier(offset uint64) error {
	return d.l.Barrier(offset)
}

// Exec runs one reducer invocation: a write
// transaction handed to fn, committed if fn returns
// nil and rolled back otherwise. It returns the
// commit offset.
func (db *DB) Exec(opts store.TxOptions, fn func(tx *store.Tx) error) (uint64, error) {
	tx, err := db.Store.Begin(store.WriteTx, opts)
	if err != nil {
		return 0, err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return 0, err
	}
	return tx.Commit()
}

// Read runs fn inside a read transaction.
func (db *DB) Read(fn func(tx *store.Tx) error) error {
	tx, err := db.Store.Begin(store.ReadTx, store.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

// ConnectedClients lists the client identities that
// were connected at the last recorded offset; after a
// restart the host runs disconnect handling for each.
func (db *DB) ConnectedClients() ([]uuid.UUID, error) {
	return db.Store.ConnectedClients()
}

// Snapshot archives the current table pages into the
// object store and returns the manifest hash.
func (db *DB) Snapshot() (objstore.Hash, error) {
	comp := compr.Compression(db.cfg.compression())
	if comp == nil {
		return objstore.Hash{}, fmt.Errorf("spindle: unknown compression %q", db.cfg.compression())
	}
	offset, captured := db.Store.CapturePages()
	pages := make(map[uint32][][]byte, len(captured))
	for id, imgs := range captured {
		pages[uint32(id)] = imgs
	}
	return snapshot.Write(db.Objects, comp, offset, pages)
}

// Close syncs and closes the commitlog.
func (db *DB) Close() error {
	return db.Log.Close()
}
