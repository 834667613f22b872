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

package sub

import (
	"fmt"
	"sort"
	"testing"

	"github.com/SnellerInc/spindle/index"
	"github.com/SnellerInc/spindle/sats"
	"github.com/SnellerInc/spindle/store"
	"github.com/SnellerInc/spindle/table"
	"github.com/google/uuid"
)

const (
	tblP table.ID = 1
	tblQ table.ID = 2

	ixPX  index.ID = 1
	ixQID index.ID = 2
)

type fakeTransport struct {
	updates []*Update
	errs    []*SubscribeError
}

func (f *fakeTransport) SendUpdate(_ uuid.UUID, u *Update) {
	f.updates = append(f.updates, u)
}

func (f *fakeTransport) SendError(_ uuid.UUID, e *SubscribeError) {
	f.errs = append(f.errs, e)
}

func (f *fakeTransport) last() *Update { return f.updates[len(f.updates)-1] }

func testWorld(t *testing.T) (*store.Datastore, *Engine, *fakeTransport) {
	t.Helper()
	ds := store.New(store.Config{})
	err := ds.CreateTable(&store.TableSchema{
		ID: tblP, Name: "P",
		Columns: []store.ColumnSchema{
			{Name: "x", Type: sats.I64},
			{Name: "y", Type: sats.I64},
		},
		Indexes: []store.IndexSchema{
			{ID: ixPX, Name: "P_x", Kind: index.BTree, Cols: []int{0}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = ds.CreateTable(&store.TableSchema{
		ID: tblQ, Name: "Q",
		Columns: []store.ColumnSchema{
			{Name: "id", Type: sats.I64},
			{Name: "name", Type: sats.String},
		},
		Indexes: []store.IndexSchema{
			{ID: ixQID, Name: "Q_id", Kind: index.Unique, Cols: []int{0}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := &fakeTransport{}
	eng := NewEngine(ds, out)
	ds.SetSink(eng)
	return ds, eng, out
}

func commitP(t *testing.T, ds *store.Datastore, ins [][2]int64, del []int64) {
	t.Helper()
	tx, err := ds.Begin(store.WriteTx, store.TxOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, x := range del {
		key := sats.AppendKey(nil, sats.I64, sats.I64Value(x))
		if _, err := tx.DeleteByIndex(tblP, ixPX, index.PointRange(key)); err != nil {
			t.Fatal(err)
		}
	}
	for _, r := range ins {
		_, err := tx.InsertValue(tblP, sats.ProductValue(sats.I64Value(r[0]), sats.I64Value(r[1])))
		if err != nil {
			t.Fatal(err)
		}
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

// rowsOf decodes an update's rows as "(x,y)" strings.
func rowsOf(t *testing.T, typ *sats.Type, rows [][]byte) []string {
	t.Helper()
	var out []string
	for _, enc := range rows {
		v, err := sats.DecodeAll(typ, enc)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, v.String())
	}
	sort.Strings(out)
	return out
}

func pType() *sats.Type {
	return sats.ProductOf(
		sats.Field{Name: "x", Type: sats.I64},
		sats.Field{Name: "y", Type: sats.I64},
	)
}

// S5: initial result, then per-commit incremental
// updates.
func TestIncrementalSubscription(t *testing.T) {
	ds, eng, out := testWorld(t)
	commitP(t, ds, [][2]int64{{1, 10}, {2, 20}, {3, 30}, {4, 40}, {5, 50}}, nil)

	client := uuid.New()
	if _, err := eng.Subscribe(client, "SELECT * FROM P WHERE x > 2"); err != nil {
		t.Fatal(err)
	}
	initial := out.last()
	got := rowsOf(t, pType(), initial.Inserts)
	want := []string{"(3, 30)", "(4, 40)", "(5, 50)"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("initial result: %v", got)
	}
	if len(initial.Deletes) != 0 {
		t.Fatal("initial update has deletes")
	}

	// insert (6,60) and (0,0): only (6,60) matches
	commitP(t, ds, [][2]int64{{6, 60}, {0, 0}}, nil)
	u := out.last()
	if got := rowsOf(t, pType(), u.Inserts); fmt.Sprint(got) != "[(6, 60)]" {
		t.Fatalf("inserts: %v", got)
	}
	if len(u.Deletes) != 0 {
		t.Fatalf("deletes: %v", u.Deletes)
	}
	if u.Offset != 1 {
		t.Fatalf("update offset %d", u.Offset)
	}

	// delete (4,40)
	commitP(t, ds, nil, []int64{4})
	u = out.last()
	if len(u.Inserts) != 0 {
		t.Fatalf("inserts: %v", u.Inserts)
	}
	if got := rowsOf(t, pType(), u.Deletes); fmt.Sprint(got) != "[(4, 40)]" {
		t.Fatalf("deletes: %v", got)
	}

	// a commit affecting only non-matching rows sends
	// nothing
	n := len(out.updates)
	commitP(t, ds, [][2]int64{{-1, 0}}, nil)
	if len(out.updates) != n {
		t.Fatal("irrelevant commit produced an update")
	}
}

// the initial full result equals executing the query
// in a read transaction at the same offset.
func TestInitialMatchesExecute(t *testing.T) {
	ds, eng, out := testWorld(t)
	commitP(t, ds, [][2]int64{{1, 1}, {5, 5}, {9, 9}}, nil)
	if _, err := eng.Subscribe(uuid.New(), "SELECT * FROM P WHERE x >= 5"); err != nil {
		t.Fatal(err)
	}
	got := rowsOf(t, pType(), out.last().Inserts)
	if fmt.Sprint(got) != "[(5, 5) (9, 9)]" {
		t.Fatalf("initial: %v", got)
	}
	if out.last().Offset != 0 {
		t.Fatalf("offset: %d", out.last().Offset)
	}
}

func TestProjectionMultiplicity(t *testing.T) {
	ds, eng, out := testWorld(t)
	// two rows project to the same output value
	commitP(t, ds, [][2]int64{{1, 7}, {2, 7}}, nil)
	if _, err := eng.Subscribe(uuid.New(), "SELECT y FROM P"); err != nil {
		t.Fatal(err)
	}
	yType := sats.ProductOf(sats.Field{Name: "y", Type: sats.I64})
	if got := rowsOf(t, yType, out.last().Inserts); fmt.Sprint(got) != "[(7)]" {
		t.Fatalf("initial: %v", got)
	}
	// deleting one copy must not retract the output row
	n := len(out.updates)
	commitP(t, ds, nil, []int64{1})
	if len(out.updates) != n {
		t.Fatal("delete of one duplicate sent an update")
	}
	// deleting the last copy retracts it
	commitP(t, ds, nil, []int64{2})
	u := out.last()
	if got := rowsOf(t, yType, u.Deletes); fmt.Sprint(got) != "[(7)]" {
		t.Fatalf("deletes: %v", got)
	}
}

func TestJoinSubscription(t *testing.T) {
	ds, eng, out := testWorld(t)
	// Q(id, name); P(x, y) with y as a foreign key
	// into Q via the unique index
	tx, _ := ds.Begin(store.WriteTx, store.TxOptions{})
	tx.InsertValue(tblQ, sats.ProductValue(sats.I64Value(10), sats.StringValue("ten")))
	tx.InsertValue(tblQ, sats.ProductValue(sats.I64Value(20), sats.StringValue("twenty")))
	if _, err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	commitP(t, ds, [][2]int64{{1, 10}}, nil)

	query := "SELECT P.x, Q.name FROM P JOIN Q ON P.y = Q.id"
	if _, err := eng.Subscribe(uuid.New(), query); err != nil {
		t.Fatal(err)
	}
	outType := sats.ProductOf(
		sats.Field{Name: "x", Type: sats.I64},
		sats.Field{Name: "name", Type: sats.String},
	)
	if got := rowsOf(t, outType, out.last().Inserts); fmt.Sprint(got) != `[(1, "ten")]` {
		t.Fatalf("initial join: %v", got)
	}

	// insert a P row matching Q 20
	commitP(t, ds, [][2]int64{{2, 20}}, nil)
	if got := rowsOf(t, outType, out.last().Inserts); fmt.Sprint(got) != `[(2, "twenty")]` {
		t.Fatalf("probe-side insert: %v", got)
	}

	// insert a Q row matching an existing P row: the
	// indexed side changed, so the probe side re-scans
	commitP(t, ds, [][2]int64{{3, 30}}, nil) // no match yet
	tx, _ = ds.Begin(store.WriteTx, store.TxOptions{})
	tx.InsertValue(tblQ, sats.ProductValue(sats.I64Value(30), sats.StringValue("thirty")))
	if _, err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if got := rowsOf(t, outType, out.last().Inserts); fmt.Sprint(got) != `[(3, "thirty")]` {
		t.Fatalf("indexed-side insert: %v", got)
	}

	// deleting the P row retracts the joined row
	commitP(t, ds, nil, []int64{2})
	if got := rowsOf(t, outType, out.last().Deletes); fmt.Sprint(got) != `[(2, "twenty")]` {
		t.Fatalf("join retraction: %v", got)
	}
}

func TestBothSidesChangeAtomically(t *testing.T) {
	ds, eng, out := testWorld(t)
	query := "SELECT P.x, Q.name FROM P JOIN Q ON P.y = Q.id"
	if _, err := eng.Subscribe(uuid.New(), query); err != nil {
		t.Fatal(err)
	}
	// one commit inserts both sides of a match: the
	// subscription must see exactly one new row
	tx, _ := ds.Begin(store.WriteTx, store.TxOptions{})
	tx.InsertValue(tblQ, sats.ProductValue(sats.I64Value(1), sats.StringValue("one")))
	tx.InsertValue(tblP, sats.ProductValue(sats.I64Value(100), sats.I64Value(1)))
	if _, err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	u := out.last()
	outType := sats.ProductOf(
		sats.Field{Name: "x", Type: sats.I64},
		sats.Field{Name: "name", Type: sats.String},
	)
	if got := rowsOf(t, outType, u.Inserts); fmt.Sprint(got) != `[(100, "one")]` {
		t.Fatalf("atomic both-sides insert: %v", got)
	}
	if len(u.Deletes) != 0 {
		t.Fatalf("deletes: %v", u.Deletes)
	}
}

func TestSubscribeErrors(t *testing.T) {
	_, eng, _ := testWorld(t)
	cases := []string{
		"SELECT * FROM NoSuchTable",
		"SELECT nope FROM P",
		"SELECT * FROM P WHERE x = 'text'",
		"SELECT * FROM P ORDER BY x",
		"SELECT * FROM P JOIN Q ON P.y = Q.id", // star across join
	}
	for _, q := range cases {
		if _, err := eng.Subscribe(uuid.New(), q); err == nil {
			t.Errorf("%q: accepted", q)
		}
	}
	if eng.NumSubscriptions() != 0 {
		t.Fatal("failed subscribes were registered")
	}
}

func TestUnsubscribe(t *testing.T) {
	ds, eng, out := testWorld(t)
	client := uuid.New()
	id, err := eng.Subscribe(client, "SELECT * FROM P")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Subscribe(client, "SELECT * FROM P WHERE x > 0"); err != nil {
		t.Fatal(err)
	}
	eng.Unsubscribe(id)
	if eng.NumSubscriptions() != 1 {
		t.Fatalf("subscriptions: %d", eng.NumSubscriptions())
	}
	eng.DropClient(client)
	if eng.NumSubscriptions() != 0 {
		t.Fatalf("subscriptions after drop: %d", eng.NumSubscriptions())
	}
	n := len(out.updates)
	commitP(t, ds, [][2]int64{{1, 1}}, nil)
	if len(out.updates) != n {
		t.Fatal("dropped subscription still receives updates")
	}
}
