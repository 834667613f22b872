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

	"github.com/SnellerInc/spindle/index"
	"github.com/SnellerInc/spindle/table"
)

// Errors are classified by recoverability. User
// errors leave the transaction usable; transaction
// errors abort it; durability errors degrade the
// datastore to read-only.

var (
	// ErrUnknownTable is returned for an operation
	// against a table id that does not exist.
	ErrUnknownTable = errors.New("store: unknown table")
	// ErrUnknownIndex is returned for an operation
	// against an index id that does not exist.
	ErrUnknownIndex = errors.New("store: unknown index")
	// ErrReadOnlyTx is returned when a mutation is
	// attempted on a read transaction.
	ErrReadOnlyTx = errors.New("store: mutation in read-only transaction")
	// ErrTxDone is returned when a transaction is
	// used after commit or rollback.
	ErrTxDone = errors.New("store: transaction already finished")
	// ErrBackpressure is returned when the commitlog
	// cannot accept an append after retrying.
	ErrBackpressure = errors.New("store: commitlog backpressure")
)

// SchemaMismatch is a user error: the supplied row
// does not conform to the table's row type.
type SchemaMismatch struct {
	Table table.ID
	Cause error
}

func (e *SchemaMismatch) Error() string {
	return fmt.Sprintf("store: table %d: schema mismatch: %v", e.Table, e.Cause)
}

func (e *SchemaMismatch) Unwrap() error { return e.Cause }

// UniqueViolation is a user error: an insert would
// duplicate a key in a unique index. Existing is the
// pointer already stored under the key.
type UniqueViolation struct {
	Table    table.ID
	Index    index.ID
	Existing table.RowPointer
}

func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("store: table %d: unique violation on index %d (existing %s)",
		e.Table, e.Index, e.Existing)
}

// SequenceExhausted is a user error: a non-cycling
// sequence has no values left.
type SequenceExhausted struct {
	Sequence SequenceID
}

func (e *SequenceExhausted) Error() string {
	return fmt.Sprintf("store: sequence %d exhausted", e.Sequence)
}

// DegradedError wraps the durability failure that
// moved the datastore into read-only mode. It is
// returned from every subsequent write attempt.
type DegradedError struct {
	Cause error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("store: degraded to read-only: %v", e.Cause)
}

func (e *DegradedError) Unwrap() error { return e.Cause }
