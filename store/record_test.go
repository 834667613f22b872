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
	"reflect"
	"testing"

	"github.com/SnellerInc/spindle/table"
	"github.com/google/uuid"
)

func TestRecordRoundTrip(t *testing.T) {
	rec := &TxRecord{
		Timestamp: 1699999999_000000,
		Caller:    uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		ReducerID: 7,
		Args:      []byte{1, 2, 3},
		Tables: []TableRecord{
			{
				Table:   1,
				Deletes: []table.RowPointer{table.MakePointer(table.Committed, 0, 16)},
				Inserts: [][]byte{{9, 9, 9}, {}},
			},
			{Table: 5, Inserts: [][]byte{{1}}},
		},
		Seqs: []SeqAdvance{{Sequence: 2, Ceiling: -10}, {Sequence: 9, Ceiling: 4096}},
	}
	buf := appendRecord(nil, rec)
	back, err := decodeRecord(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rec, back) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", rec, back)
	}
	// every strict prefix must fail to decode
	for cut := 0; cut < len(buf); cut++ {
		if _, err := decodeRecord(buf[:cut]); err == nil {
			t.Fatalf("prefix of %d/%d bytes decoded", cut, len(buf))
		}
	}
	if _, err := decodeRecord(append(buf, 0)); err == nil {
		t.Fatal("trailing byte accepted")
	}
}

func TestSequenceWrapAround(t *testing.T) {
	// (min 1, max 10, increment 3, cycle): the draw
	// order wraps through the range
	sq := newSequence(SequenceSchema{
		ID: 1, Name: "cyc", Start: 5, Min: 1, Max: 10, Increment: 3,
		Cycle: true, AllocBatch: 4,
	})
	want := []int64{5, 8, 1, 4}
	v := sq.current
	for i, w := range want {
		if v != w {
			t.Fatalf("step %d: value %d, want %d", i, v, w)
		}
		v = sq.next(v)
	}
	// negative increments wrap the other way
	sq = newSequence(SequenceSchema{
		ID: 2, Name: "neg", Start: 4, Min: 1, Max: 10, Increment: -3,
		Cycle: true, AllocBatch: 4,
	})
	if got := sq.next(4); got != 1 {
		t.Fatalf("next(4) = %d", got)
	}
	if got := sq.next(1); got != 8 {
		t.Fatalf("next(1) = %d", got)
	}
	// non-cycling sequences report exhaustion past max
	sq = newSequence(SequenceSchema{
		ID: 3, Name: "lin", Start: 1, Min: 1, Max: 3, Increment: 1, AllocBatch: 4,
	})
	if sq.exhausted(3) {
		t.Fatal("max value reported exhausted")
	}
	if !sq.exhausted(4) {
		t.Fatal("value past max not exhausted")
	}
}
