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
	"fmt"

	"github.com/SnellerInc/spindle/index"
	"github.com/SnellerInc/spindle/sats"
	"github.com/SnellerInc/spindle/table"
)

// SequenceID identifies a sequence within a database.
type SequenceID uint32

// ColumnSchema declares one column of a table.
type ColumnSchema struct {
	Name string
	Type *sats.Type
}

// IndexSchema declares an index over a table's
// columns. Uniqueness is a property of the kind:
// index.Unique enforces at most one row per key.
type IndexSchema struct {
	ID   index.ID
	Name string
	Kind index.Kind
	Cols []int // key column positions, in key order
}

// SequenceSchema declares an auto-increment sequence
// bound to a single integer column. An insert whose
// bound column is zero draws the next value.
type SequenceSchema struct {
	ID        SequenceID
	Name      string
	Col       int
	Start     int64
	Min       int64
	Max       int64
	Increment int64
	Cycle     bool
	// AllocBatch is how far the durable ceiling is
	// advanced past the last issued value; 0 uses
	// DefaultSeqAllocBatch.
	AllocBatch int64
}

// DefaultSeqAllocBatch is the default pre-reservation
// window for sequences.
const DefaultSeqAllocBatch = 4096

// TableSchema declares a table.
type TableSchema struct {
	ID        table.ID
	Name      string
	Columns   []ColumnSchema
	Indexes   []IndexSchema
	Sequences []SequenceSchema
}

// RowType returns the product type of a row.
func (s *TableSchema) RowType() *sats.Type {
	fields := make([]sats.Field, len(s.Columns))
	for i := range s.Columns {
		fields[i] = sats.Field{Name: s.Columns[i].Name, Type: s.Columns[i].Type}
	}
	return sats.ProductOf(fields...)
}

// ColIndex returns the position of the named column,
// or -1.
func (s *TableSchema) ColIndex(name string) int {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

func (s *TableSchema) validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("store: table %q has no columns", s.Name)
	}
	seenIx := make(map[index.ID]bool)
	for i := range s.Indexes {
		ix := &s.Indexes[i]
		if seenIx[ix.ID] {
			return fmt.Errorf("store: table %q: duplicate index id %d", s.Name, ix.ID)
		}
		seenIx[ix.ID] = true
		if len(ix.Cols) == 0 {
			return fmt.Errorf("store: table %q: index %q has no key columns", s.Name, ix.Name)
		}
		for _, c := range ix.Cols {
			if c < 0 || c >= len(s.Columns) {
				return fmt.Errorf("store: table %q: index %q keys column %d of %d",
					s.Name, ix.Name, c, len(s.Columns))
			}
		}
	}
	for i := range s.Sequences {
		sq := &s.Sequences[i]
		if sq.Col < 0 || sq.Col >= len(s.Columns) {
			return fmt.Errorf("store: table %q: sequence %q on column %d of %d",
				s.Name, sq.Name, sq.Col, len(s.Columns))
		}
		if !s.Columns[sq.Col].Type.Integer() {
			return fmt.Errorf("store: table %q: sequence %q on non-integer column %q",
				s.Name, sq.Name, s.Columns[sq.Col].Name)
		}
		if sq.Increment == 0 {
			return fmt.Errorf("store: table %q: sequence %q has increment 0", s.Name, sq.Name)
		}
		if sq.Min > sq.Max {
			return fmt.Errorf("store: table %q: sequence %q has min %d > max %d",
				s.Name, sq.Name, sq.Min, sq.Max)
		}
		if sq.Start < sq.Min || sq.Start > sq.Max {
			return fmt.Errorf("store: table %q: sequence %q start %d outside [%d, %d]",
				s.Name, sq.Name, sq.Start, sq.Min, sq.Max)
		}
	}
	return nil
}

// keyOf encodes the index key of row for cols.
func keyOf(dst []byte, row sats.Value, s *TableSchema, cols []int) []byte {
	for _, c := range cols {
		dst = sats.AppendKey(dst, s.Columns[c].Type, row.Kid(c))
	}
	return dst
}
