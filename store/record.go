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
	"encoding/binary"
	"fmt"

	"github.com/SnellerInc/spindle/table"
	"github.com/google/uuid"
)

// TxRecord is the durable form of one committed
// transaction: reducer metadata plus the per-table
// delta and any sequence ceiling advances. Inserted
// rows are stored as canonical BSATN; deletes are
// stored as row pointers, which replay resolves
// deterministically because row insertion order is
// itself deterministic.
type TxRecord struct {
	Timestamp int64 // microseconds since the Unix epoch
	Caller    uuid.UUID
	ReducerID uint32
	Args      []byte

	Tables []TableRecord
	Seqs   []SeqAdvance
}

// TableRecord is the recorded delta for one table;
// deletes apply before inserts.
type TableRecord struct {
	Table   table.ID
	Deletes []table.RowPointer
	Inserts [][]byte // BSATN row encodings, insertion order
}

// SeqAdvance records a raised allocation ceiling.
type SeqAdvance struct {
	Sequence SequenceID
	Ceiling  int64
}

// appendRecord serializes r.
func appendRecord(dst []byte, r *TxRecord) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(r.Timestamp))
	dst = append(dst, r.Caller[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, r.ReducerID)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(r.Args)))
	dst = append(dst, r.Args...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(r.Tables)))
	for i := range r.Tables {
		t := &r.Tables[i]
		dst = binary.LittleEndian.AppendUint32(dst, uint32(t.Table))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(t.Deletes)))
		for _, ptr := range t.Deletes {
			dst = binary.LittleEndian.AppendUint64(dst, uint64(ptr))
		}
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(t.Inserts)))
		for _, row := range t.Inserts {
			dst = binary.LittleEndian.AppendUint32(dst, uint32(len(row)))
			dst = append(dst, row...)
		}
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(r.Seqs)))
	for i := range r.Seqs {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(r.Seqs[i].Sequence))
		dst = binary.LittleEndian.AppendUint64(dst, uint64(r.Seqs[i].Ceiling))
	}
	return dst
}

// decodeRecord parses a serialized TxRecord.
func decodeRecord(buf []byte) (*TxRecord, error) {
	r := &TxRecord{}
	var ok bool
	if buf, ok = need(buf, 8+16+4); !ok {
		return nil, errShortRecord
	}
	r.Timestamp = int64(binary.LittleEndian.Uint64(buf))
	copy(r.Caller[:], buf[8:24])
	r.ReducerID = binary.LittleEndian.Uint32(buf[24:])
	buf = buf[28:]

	args, buf, err := readBytes(buf)
	if err != nil {
		return nil, err
	}
	r.Args = args

	var ntables uint32
	if ntables, buf, err = readU32(buf); err != nil {
		return nil, err
	}
	for i := uint32(0); i < ntables; i++ {
		var tr TableRecord
		var tid uint32
		if tid, buf, err = readU32(buf); err != nil {
			return nil, err
		}
		tr.Table = table.ID(tid)
		var ndel uint32
		if ndel, buf, err = readU32(buf); err != nil {
			return nil, err
		}
		for j := uint32(0); j < ndel; j++ {
			if len(buf) < 8 {
				return nil, errShortRecord
			}
			tr.Deletes = append(tr.Deletes, table.RowPointer(binary.LittleEndian.Uint64(buf)))
			buf = buf[8:]
		}
		var nins uint32
		if nins, buf, err = readU32(buf); err != nil {
			return nil, err
		}
		for j := uint32(0); j < nins; j++ {
			var row []byte
			if row, buf, err = readBytes(buf); err != nil {
				return nil, err
			}
			tr.Inserts = append(tr.Inserts, row)
		}
		r.Tables = append(r.Tables, tr)
	}

	var nseqs uint32
	if nseqs, buf, err = readU32(buf); err != nil {
		return nil, err
	}
	for i := uint32(0); i < nseqs; i++ {
		if len(buf) < 12 {
			return nil, errShortRecord
		}
		r.Seqs = append(r.Seqs, SeqAdvance{
			Sequence: SequenceID(binary.LittleEndian.Uint32(buf)),
			Ceiling:  int64(binary.LittleEndian.Uint64(buf[4:])),
		})
		buf = buf[12:]
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("store: %d trailing bytes in tx record", len(buf))
	}
	return r, nil
}

var errShortRecord = fmt.Errorf("store: truncated tx record")

func need(buf []byte, n int) ([]byte, bool) {
	if len(buf) < n {
		return buf, false
	}
	return buf, true
}

func readU32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, buf, errShortRecord
	}
	return binary.LittleEndian.Uint32(buf), buf[4:], nil
}

func readBytes(buf []byte) ([]byte, []byte, error) {
	n, rest, err := readU32(buf)
	if err != nil {
		return nil, buf, err
	}
	if uint64(n) > uint64(len(rest)) {
		return nil, buf, errShortRecord
	}
	out := make([]byte, n)
	copy(out, rest)
	return out, rest[n:], nil
}
