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

package commitlog

import (
	"encoding/binary"
	"os"
	"sort"
)

// The offset index is an optional sidecar of sparse
// (offset, byte position) pairs, 16 bytes each,
// little-endian. It is advisory: a missing or stale
// index only costs a longer forward scan.

// IndexEntry maps a commit offset to the byte
// position of its record within the segment.
type IndexEntry struct {
	Offset uint64
	Pos    int64
}

type indexWriter struct {
	f     *os.File
	every uint64
}

func newIndexWriter(path string, every int) *indexWriter {
	if every <= 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		// best effort: appends proceed without the
		// sidecar
		return nil
	}
	return &indexWriter{f: f, every: uint64(every)}
}

// maybeAdd records (offset, pos) when offset falls on
// the sparse stride.
func (ix *indexWriter) maybeAdd(offset uint64, pos int64) {
	if ix == nil || offset%ix.every != 0 {
		return
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:], offset)
	binary.LittleEndian.PutUint64(buf[8:], uint64(pos))
	ix.f.Write(buf[:]) //nolint:errcheck // advisory
}

func (ix *indexWriter) close() {
	if ix != nil {
		ix.f.Close()
	}
}

// ReadIndex loads a sidecar offset index.
func ReadIndex(path string) ([]IndexEntry, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]IndexEntry, 0, len(buf)/16)
	for len(buf) >= 16 {
		out = append(out, IndexEntry{
			Offset: binary.LittleEndian.Uint64(buf),
			Pos:    int64(binary.LittleEndian.Uint64(buf[8:])),
		})
		buf = buf[16:]
	}
	return out, nil
}

// Locate returns the largest indexed position at or
// below offset, for seeding a forward scan.
func Locate(entries []IndexEntry, offset uint64) (IndexEntry, bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Offset > offset
	})
	if i == 0 {
		return IndexEntry{}, false
	}
	return entries[i-1], true
}
