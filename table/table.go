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

// Package table implements typed row storage over the
// page allocator: row pointers, the fixed-part layout,
// the var-len visitor program, and insertion, deletion
// and iteration over live rows. Index maintenance is
// not the table's job; the datastore keeps indexes in
// lockstep with row mutations.
package table

import (
	"errors"
	"fmt"

	"github.com/SnellerInc/spindle/page"
	"github.com/SnellerInc/spindle/sats"
)

// ID identifies a table within a database.
type ID uint32

// ErrDeadPointer is returned when a pointer addresses
// a slot that is no longer (or never was) live.
var ErrDeadPointer = errors.New("table: pointer to dead row")

// Table owns an ordered set of pages holding rows of
// one product type.
type Table struct {
	id      ID
	space   Space
	rowType *sats.Type
	size    SizeAlign
	visitor Visitor

	pool  *page.Pool
	pages []uint32 // pool indices, allocation order
	hint  int      // round-robin insert start position
	rows  int
}

// New creates an empty table over pool for rows of
// rowType (which must be a product). space tags the
// pointers the table hands out.
func New(id ID, space Space, rowType *sats.Type, pool *page.Pool) *Table {
	if rowType.Kind != sats.ProductKind {
		panic("table: row type must be a product")
	}
	return &Table{
		id:      id,
		space:   space,
		rowType: rowType,
		size:    FixedSize(rowType),
		visitor: CompileVisitor(rowType),
		pool:    pool,
	}
}

// ID returns the table's identifier.
func (t *Table) ID() ID { return t.id }

// RowType returns the table's row type.
func (t *Table) RowType() *sats.Type { return t.rowType }

// NumRows returns the count of live rows.
func (t *Table) NumRows() int { return t.rows }

// NumPages returns the number of pages owned.
func (t *Table) NumPages() int { return len(t.pages) }

// Insert writes one row and returns its pointer.
// The value must conform to the row type; the caller
// (the datastore) is responsible for type checking.
func (t *Table) Insert(v sats.Value) (RowPointer, error) {
	varBytes := 0
	countVarLen(t.rowType, v, &varBytes)
	// round-robin over existing pages, starting at
	// the hint, before allocating a new one
	for n := 0; n < len(t.pages); n++ {
		i := (t.hint + n) % len(t.pages)
		pg := t.pool.Get(t.pages[i])
		if !pg.HasRoomFor(varBytes) {
			continue
		}
		ptr, err := t.insertInto(pg, uint32(i), v)
		if err == nil {
			t.hint = i
			return ptr, nil
		}
		if err != page.ErrNoRoom {
			return Null, err
		}
	}
	idx, pg, err := t.pool.Alloc(t.size.Size)
	if err != nil {
		return Null, err
	}
	t.pages = append(t.pages, idx)
	t.hint = len(t.pages) - 1
	ptr, err := t.insertInto(pg, uint32(len(t.pages)-1), v)
	if err != nil {
		// a fresh 64K page cannot lack room for one
		// row unless the row itself is oversized
		return Null, fmt.Errorf("table %d: row exceeds page capacity: %w", t.id, err)
	}
	return ptr, nil
}

func (t *Table) insertInto(pg *page.Page, pageIdx uint32, v sats.Value) (RowPointer, error) {
	w := writer{pg: pg}
	fixed := make([]byte, t.size.Size)
	if err := w.writeFixed(fixed, 0, t.rowType, v); err != nil {
		w.unwind()
		return Null, err
	}
	off, err := pg.InsertFixed(fixed)
	if err != nil {
		w.unwind()
		return Null, err
	}
	t.rows++
	return MakePointer(t.space, pageIdx, off), nil
}

func countVarLen(t *sats.Type, v sats.Value, n *int) {
	switch t.Kind {
	case sats.StringKind:
		*n += len(v.Str())
	case sats.BytesKind:
		*n += len(v.Blob())
	case sats.ArrayKind:
		*n += sats.EncodedSize(t, v)
	case sats.ProductKind:
		for i := range t.Fields {
			countVarLen(t.Fields[i].Type, v.Kid(i), n)
		}
	case sats.SumKind:
		if vt := t.Variants[v.Tag()].Type; vt != nil {
			countVarLen(vt, v.Payload(), n)
		}
	}
}

// pageFor resolves a pointer to its page, validating
// space and liveness.
func (t *Table) pageFor(ptr RowPointer) (*page.Page, error) {
	if ptr.IsNull() || ptr.Space() != t.space {
		return nil, ErrDeadPointer
	}
	i := ptr.PageIndex()
	if int(i) >= len(t.pages) {
		return nil, ErrDeadPointer
	}
	pg := t.pool.Get(t.pages[i])
	if !pg.Live(ptr.Offset()) {
		return nil, ErrDeadPointer
	}
	return pg, nil
}

// Delete removes the row at ptr, freeing its var-len
// chains through the visitor.
func (t *Table) Delete(ptr RowPointer) error {
	pg, err := t.pageFor(ptr)
	if err != nil {
		return err
	}
	pg.DeleteFixed(ptr.Offset(), func(row []byte, emit func(int)) {
		t.visitor.Visit(row, emit)
	})
	t.rows--
	return nil
}

// Row materializes the row at ptr.
func (t *Table) Row(ptr RowPointer) (sats.Value, error) {
	pg, err := t.pageFor(ptr)
	if err != nil {
		return sats.Value{}, err
	}
	return readFixed(pg, pg.RowBytes(ptr.Offset()), 0, t.rowType)
}

// Project materializes a single top-level column of
// the row at ptr.
func (t *Table) Project(ptr RowPointer, col int) (sats.Value, error) {
	pg, err := t.pageFor(ptr)
	if err != nil {
		return sats.Value{}, err
	}
	ft := t.rowType.Fields[col].Type
	return readFixed(pg, pg.RowBytes(ptr.Offset()), fieldOffset(t.rowType, col), ft)
}

// AppendRowBSATN appends the canonical BSATN encoding
// of the row at ptr to dst.
func (t *Table) AppendRowBSATN(dst []byte, ptr RowPointer) ([]byte, error) {
	v, err := t.Row(ptr)
	if err != nil {
		return dst, err
	}
	return sats.Append(dst, t.rowType, v), nil
}

// Iter yields the pointer of every live row, pages in
// allocation order and slots in offset order, until fn
// returns false.
func (t *Table) Iter(fn func(ptr RowPointer) bool) {
	for i := range t.pages {
		pg := t.pool.Get(t.pages[i])
		done := false
		pg.Slots(func(off uint16) bool {
			if !fn(MakePointer(t.space, uint32(i), off)) {
				done = true
				return false
			}
			return true
		})
		if done {
			return
		}
	}
}

// Pages iterates the raw images of the table's pages
// in allocation order; snapshots archive these
// directly, since a page image plus the row type's
// visitor is enough to recover every live row.
func (t *Table) Pages(fn func(img []byte) bool) {
	for i := range t.pages {
		if !fn(t.pool.Get(t.pages[i]).Data()) {
			return
		}
	}
}

// Clear deletes every row and returns the table's
// pages to the pool.
func (t *Table) Clear() {
	for i := range t.pages {
		t.pool.Free(t.pages[i])
	}
	t.pages = t.pages[:0]
	t.hint = 0
	t.rows = 0
}
