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

package spindle

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/SnellerInc/spindle/index"
	"github.com/SnellerInc/spindle/sats"
	"github.com/SnellerInc/spindle/store"
	"github.com/SnellerInc/spindle/sub"
	"github.com/SnellerInc/spindle/table"
	"github.com/google/uuid"
)

type nullTransport struct{}

func (nullTransport) SendUpdate(uuid.UUID, *sub.Update)        {}
func (nullTransport) SendError(uuid.UUID, *sub.SubscribeError) {}

func testSchemas() []*store.TableSchema {
	return []*store.TableSchema{{
		ID: 1, Name: "T",
		Columns: []store.ColumnSchema{
			{Name: "id", Type: sats.U32},
			{Name: "v", Type: sats.String},
		},
		Indexes: []store.IndexSchema{
			{ID: 1, Name: "T_id", Kind: index.Unique, Cols: []int{0}},
		},
	}}
}

func open(t *testing.T, dir string) *DB {
	t.Helper()
	db, err := Open(Config{DataDir: dir}, testSchemas(), nullTransport{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return db
}

// S4: commit-and-sync n transactions, reopen, and the
// state is reproduced with working index probes.
func TestRecoveryEndToEnd(t *testing.T) {
	dir := t.TempDir()
	db := open(t, dir)
	const n = 1000
	for i := 0; i < n; i++ {
		off, err := db.Exec(store.TxOptions{Timestamp: int64(i)}, func(tx *store.Tx) error {
			_, err := tx.InsertValue(1, sats.ProductValue(
				sats.U32Value(uint32(i+1)), sats.StringValue(fmt.Sprintf("row %d", i)),
			))
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
		if off != uint64(i) {
			t.Fatalf("commit %d: offset %d", i, off)
		}
	}
	// no Close: simulate a crash after synced commits
	db.Store = nil

	db2 := open(t, dir)
	defer db2.Close()
	count := 0
	err := db2.Read(func(tx *store.Tx) error {
		return tx.Scan(1, func(_ table.RowPointer, v sats.Value) bool {
			count++
			return true
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != n {
		t.Fatalf("recovered %d rows, want %d", count, n)
	}
	// every index probe resolves
	err = db2.Read(func(tx *store.Tx) error {
		for i := 1; i <= n; i++ {
			key := sats.AppendKey(nil, sats.U32, sats.U32Value(uint32(i)))
			ptrs, err := tx.Seek(1, 1, index.PointRange(key))
			if err != nil {
				return err
			}
			if len(ptrs) != 1 {
				return fmt.Errorf("id %d: %d results", i, len(ptrs))
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	// appends continue after the recovered offset
	off, err := db2.Exec(store.TxOptions{}, func(tx *store.Tx) error {
		_, err := tx.InsertValue(1, sats.ProductValue(sats.U32Value(n+1), sats.StringValue("post")))
		return err
	})
	if err != nil || off != n {
		t.Fatalf("post-recovery commit: %d, %v", off, err)
	}
}

func TestSnapshotArchive(t *testing.T) {
	dir := t.TempDir()
	db := open(t, dir)
	defer db.Close()
	_, err := db.Exec(store.TxOptions{}, func(tx *store.Tx) error {
		_, err := tx.InsertValue(1, sats.ProductValue(sats.U32Value(1), sats.StringValue("snap me")))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	h, err := db.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if !db.Objects.Contains(h) {
		t.Fatal("manifest not stored")
	}
}

func TestConnectedClientsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	db := open(t, dir)
	id := uuid.New()
	_, err := db.Exec(store.TxOptions{}, func(tx *store.Tx) error {
		return tx.ConnectClient(id)
	})
	if err != nil {
		t.Fatal(err)
	}
	db2 := open(t, dir)
	defer db2.Close()
	clients, err := db2.ConnectedClients()
	if err != nil {
		t.Fatal(err)
	}
	if len(clients) != 1 || clients[0] != id {
		t.Fatalf("connected after restart: %v", clients)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spindle.yaml")
	body := "dataDir: /tmp/db\ndurability: interval\nsyncInterval: 250ms\nmaxPages: 128\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/tmp/db" || cfg.MaxPages != 128 || cfg.Durability != "interval" {
		t.Fatalf("config: %+v", cfg)
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("durability: sometimes\n"), 0644)
	if _, err := LoadConfig(bad); err == nil {
		t.Fatal("bad durability accepted")
	}
}
