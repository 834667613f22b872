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

// Package sub implements the subscription engine:
// clients register compiled queries, receive the full
// result once, and from then on one atomic
// (inserts, deletes) update per committed transaction
// that affects their result, in commit-offset order.
package sub

import (
	"fmt"
	"sort"
	"sync"

	"github.com/SnellerInc/spindle/index"
	"github.com/SnellerInc/spindle/plan"
	"github.com/SnellerInc/spindle/sats"
	"github.com/SnellerInc/spindle/sql"
	"github.com/SnellerInc/spindle/store"
	"github.com/SnellerInc/spindle/table"
	"github.com/google/uuid"
)

// ID identifies a subscription.
type ID uint64

// Update is one atomic change to a subscription's
// result set. Rows are canonical BSATN encodings of
// the query's output row type.
type Update struct {
	Subscription ID
	Client       uuid.UUID
	// Offset is the commit offset the update reflects;
	// for the initial update it is the offset the full
	// result was computed at (and MaxUint64 when
	// nothing has ever committed).
	Offset  uint64
	Inserts [][]byte
	Deletes [][]byte
}

// SubscribeError ends a single subscription; other
// subscriptions are unaffected.
type SubscribeError struct {
	Subscription ID
	Reason       error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("sub: subscription %d failed: %v", e.Subscription, e.Reason)
}

func (e *SubscribeError) Unwrap() error { return e.Reason }

// Transport delivers updates and errors to a client's
// connection; the websocket layer implements it.
// Calls for one subscription arrive in commit-offset
// order and never concurrently; they run on the
// subscribing or committing goroutine.
type Transport interface {
	SendUpdate(client uuid.UUID, u *Update)
	SendError(client uuid.UUID, err *SubscribeError)
}

// Engine maintains the registered subscriptions and
// turns committed deltas into per-client updates. It
// implements store.DeltaSink.
type Engine struct {
	mu   sync.Mutex
	ds   *store.Datastore
	out  Transport
	subs map[ID]*subscription
	next ID
}

type subscription struct {
	id     ID
	client uuid.UUID
	plan   *plan.Plan
	// rows is the client-side result multiset:
	// serialized row -> multiplicity. Projections can
	// legitimately produce duplicates; a row is sent
	// as an insert when its count rises from zero and
	// as a delete when it returns to zero.
	rows   map[string]int
	offset uint64
	failed bool
}

// NewEngine creates a subscription engine over ds,
// delivering through out.
func NewEngine(ds *store.Datastore, out Transport) *Engine {
	return &Engine{
		ds:   ds,
		out:  out,
		subs: make(map[ID]*subscription),
	}
}

// catalog adapts the datastore to plan.Catalog.
type catalog struct {
	ds *store.Datastore
}

func (c catalog) TableByName(name string) (*store.TableSchema, bool) {
	id, ok := c.ds.TableByName(name)
	if !ok {
		return nil, false
	}
	return c.ds.Schema(id)
}

// txEnv adapts a read transaction to plan.Env.
type txEnv struct {
	tx *store.Tx
}

func (e txEnv) ScanTable(id table.ID, fn func(row sats.Value) bool) error {
	return e.tx.Scan(id, func(_ table.RowPointer, v sats.Value) bool {
		return fn(v)
	})
}

func (e txEnv) SeekIndex(id table.ID, ix index.ID, r index.Range, fn func(row sats.Value) bool) error {
	ptrs, err := e.tx.Seek(id, ix, r)
	if err != nil {
		return err
	}
	for _, ptr := range ptrs {
		v, err := e.tx.Row(id, ptr)
		if err != nil {
			return err
		}
		if !fn(v) {
			return nil
		}
	}
	return nil
}

// Subscribe compiles query for client, runs it to
// completion in a read transaction, delivers the full
// result as an insert-only update, and registers the
// subscription for incremental maintenance.
func (e *Engine) Subscribe(client uuid.UUID, query string) (ID, error) {
	sel, err := sql.Parse(query)
	if err != nil {
		return 0, err
	}
	p, err := plan.Compile(sel, catalog{ds: e.ds})
	if err != nil {
		return 0, err
	}
	p.SQL = query

	// hold the read snapshot across execution AND
	// registration: a writer cannot commit (and so
	// cannot publish a delta this subscription would
	// miss) until the transaction ends
	tx, err := e.ds.Begin(store.ReadTx, store.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	sub := &subscription{
		client: client,
		plan:   p,
		rows:   make(map[string]int),
	}
	var inserts [][]byte
	execErr := p.Execute(txEnv{tx: tx}, func(row sats.Value) bool {
		enc := sats.Encode(p.OutType, row)
		if sub.rows[string(enc)] == 0 {
			inserts = append(inserts, enc)
		}
		sub.rows[string(enc)]++
		return true
	})
	if execErr != nil {
		return 0, execErr
	}
	offset, ok := tx.Offset()
	if !ok {
		offset = ^uint64(0)
	}
	sub.offset = offset

	e.mu.Lock()
	e.next++
	sub.id = e.next
	e.subs[sub.id] = sub
	activeGauge.Inc()
	e.mu.Unlock()

	e.out.SendUpdate(client, &Update{
		Subscription: sub.id,
		Client:       client,
		Offset:       offset,
		Inserts:      inserts,
	})
	return sub.id, nil
}

// Unsubscribe removes a subscription.
func (e *Engine) Unsubscribe(id ID) {
	e.mu.Lock()
	if _, ok := e.subs[id]; ok {
		delete(e.subs, id)
		activeGauge.Dec()
	}
	e.mu.Unlock()
}

// DropClient removes every subscription owned by a
// client (its connection closed).
func (e *Engine) DropClient(client uuid.UUID) {
	e.mu.Lock()
	for id, sub := range e.subs {
		if sub.client == client {
			delete(e.subs, id)
			activeGauge.Dec()
		}
	}
	e.mu.Unlock()
}

// Publish implements store.DeltaSink. It runs inside
// the commit critical section, so every subscription
// sees each committed transaction exactly once and in
// offset order.
func (e *Engine) Publish(d *store.Delta) {
	env := e.ds.UnlockedView()
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]ID, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		sub := e.subs[id]
		if sub.failed {
			continue
		}
		e.evaluate(env, sub, d)
	}
}

func (e *Engine) evaluate(env plan.Env, sub *subscription, d *store.Delta) {
	acc := make(map[string]int)
	err := sub.plan.ExecuteDelta(env, d, func(row sats.Value, sign int) bool {
		acc[string(sats.Encode(sub.plan.OutType, row))] += sign
		return true
	})
	if err != nil {
		sub.failed = true
		failedCounter.Inc()
		e.out.SendError(sub.client, &SubscribeError{Subscription: sub.id, Reason: err})
		return
	}
	if len(acc) == 0 {
		return
	}
	var inserts, deletes [][]byte
	for key, net := range acc {
		if net == 0 {
			continue
		}
		old := sub.rows[key]
		now := old + net
		if now < 0 {
			// the client cannot have fewer than zero
			// copies; clamp and carry on
			now = 0
		}
		if old == 0 && now > 0 {
			inserts = append(inserts, []byte(key))
		} else if old > 0 && now == 0 {
			deletes = append(deletes, []byte(key))
		}
		if now == 0 {
			delete(sub.rows, key)
		} else {
			sub.rows[key] = now
		}
	}
	sub.offset = d.Offset
	if len(inserts) == 0 && len(deletes) == 0 {
		return
	}
	sortRows(inserts)
	sortRows(deletes)
	updateCounter.Inc()
	rowCounter.Add(float64(len(inserts) + len(deletes)))
	e.out.SendUpdate(sub.client, &Update{
		Subscription: sub.id,
		Client:       sub.client,
		Offset:       d.Offset,
		Inserts:      inserts,
		Deletes:      deletes,
	})
}

// sortRows orders serialized rows for deterministic
// delivery.
func sortRows(rows [][]byte) {
	sort.Slice(rows, func(i, j int) bool {
		return string(rows[i]) < string(rows[j])
	})
}

// NumSubscriptions returns the count of live
// subscriptions.
func (e *Engine) NumSubscriptions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}
