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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func payload(i int) []byte {
	return []byte(fmt.Sprintf("record-%04d-%s", i, bytes.Repeat([]byte{'x'}, i%97)))
}

func openEmpty(t *testing.T, dir string, opts Options) *Log {
	t.Helper()
	l, err := Open(dir, opts, func(uint64, []byte) error {
		t.Fatal("unexpected replay in empty dir")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestAppendReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := openEmpty(t, dir, Options{})
	const n = 500
	for i := 0; i < n; i++ {
		off, err := l.Append(payload(i))
		if err != nil {
			t.Fatal(err)
		}
		if off != uint64(i) {
			t.Fatalf("append %d assigned offset %d", i, off)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	var got []uint64
	l2, err := Open(dir, Options{}, func(off uint64, p []byte) error {
		if !bytes.Equal(p, payload(int(off))) {
			t.Fatalf("offset %d: payload mismatch", off)
		}
		got = append(got, off)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Close()
	if len(got) != n {
		t.Fatalf("replayed %d records, want %d", len(got), n)
	}
	if l2.NextOffset() != n {
		t.Fatalf("NextOffset = %d", l2.NextOffset())
	}
	// appends continue where the log left off
	off, err := l2.Append(payload(n))
	if err != nil || off != n {
		t.Fatalf("resumed append: %d, %v", off, err)
	}
}

func TestPaddingOverwrite(t *testing.T) {
	// flush after every record; the padding of each
	// flush must be overwritten by the next record,
	// not treated as data
	dir := t.TempDir()
	l := openEmpty(t, dir, Options{Policy: SyncEveryCommit})
	for i := 0; i < 10; i++ {
		off, err := l.Append(payload(i))
		if err != nil {
			t.Fatal(err)
		}
		if err := l.Barrier(off); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	n := 0
	err := Scan(dir, func(off uint64, p []byte) error {
		if !bytes.Equal(p, payload(int(off))) {
			t.Fatalf("offset %d corrupted", off)
		}
		n++
		return nil
	})
	if err != nil || n != 10 {
		t.Fatalf("scanned %d records, err %v", n, err)
	}
}

func TestSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	l := openEmpty(t, dir, Options{MaxSegmentSize: 4096})
	const n = 300
	for i := 0; i < n; i++ {
		if _, err := l.Append(payload(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	bases, err := listSegments(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(bases) < 2 {
		t.Fatalf("expected rotation, got %d segments", len(bases))
	}
	// segment names are the offset of their first record
	count := uint64(0)
	for _, base := range bases {
		if base != count {
			t.Fatalf("segment base %d, want %d", base, count)
		}
		_, m, torn, err := scanSegment(segmentPath(dir, base), base, nil)
		if err != nil || torn {
			t.Fatalf("segment %d: torn=%v err=%v", base, torn, err)
		}
		count += m
	}
	if count != n {
		t.Fatalf("segments hold %d records, want %d", count, n)
	}
}

// recordPos returns the byte position of record i in
// a segment whose records are payload(0..i).
func recordPos(i int) int64 {
	pos := int64(headerSize)
	for j := 0; j < i; j++ {
		pos += frameSize(payload(j))
	}
	return pos
}

// corruptLast damages record `last` in the tail
// segment: either truncating mid-record or flipping a
// payload byte so the CRC no longer matches.
func corruptLast(t *testing.T, dir string, last int, flip bool) {
	t.Helper()
	bases, err := listSegments(dir)
	if err != nil {
		t.Fatal(err)
	}
	path := segmentPath(dir, bases[len(bases)-1])
	pos := recordPos(last)
	if flip {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		var b [1]byte
		if _, err := f.ReadAt(b[:], pos+8); err != nil {
			t.Fatal(err)
		}
		b[0] ^= 0xff
		if _, err := f.WriteAt(b[:], pos+8); err != nil {
			t.Fatal(err)
		}
		return
	}
	// keep the length prefix but cut the payload short
	if err := os.Truncate(path, pos+8+frameSize(payload(last))/2); err != nil {
		t.Fatal(err)
	}
}

func TestRecoveryTruncatesTornTail(t *testing.T) {
	for _, mode := range []string{"crc", "chop"} {
		t.Run(mode, func(t *testing.T) {
			dir := t.TempDir()
			l := openEmpty(t, dir, Options{})
			for i := 0; i < 50; i++ {
				if _, err := l.Append(payload(i)); err != nil {
					t.Fatal(err)
				}
			}
			if err := l.Close(); err != nil {
				t.Fatal(err)
			}
			corruptLast(t, dir, 49, mode == "crc")
			var replayed int
			l2, err := Open(dir, Options{}, func(off uint64, p []byte) error {
				replayed++
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if replayed != 49 {
				t.Fatalf("replayed %d records, want 49", replayed)
			}
			// the torn bytes are overwritten by the
			// next append
			off, err := l2.Append([]byte("replacement"))
			if err != nil || off != 49 {
				t.Fatalf("append after truncation: %d, %v", off, err)
			}
			if err := l2.Close(); err != nil {
				t.Fatal(err)
			}
			n := 0
			err = Scan(dir, func(off uint64, p []byte) error {
				if off == 49 && string(p) != "replacement" {
					t.Fatalf("offset 49 = %q", p)
				}
				n++
				return nil
			})
			if err != nil || n != 50 {
				t.Fatalf("post-repair scan: %d records, %v", n, err)
			}
		})
	}
}

func TestOffsetIndexSidecar(t *testing.T) {
	dir := t.TempDir()
	l := openEmpty(t, dir, Options{IndexEvery: 16})
	for i := 0; i < 100; i++ {
		if _, err := l.Append(payload(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	entries, err := ReadIndex(filepath.Join(dir, IndexName(0)))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("no index entries written")
	}
	e, ok := Locate(entries, 50)
	if !ok || e.Offset > 50 {
		t.Fatalf("Locate(50) = %+v, %v", e, ok)
	}
	// the indexed position really is that record:
	// scan forward from it
	buf, err := os.ReadFile(segmentPath(dir, 0))
	if err != nil {
		t.Fatal(err)
	}
	if e.Pos >= int64(len(buf)) {
		t.Fatalf("index position %d beyond segment", e.Pos)
	}
}

func TestBarrierPolicies(t *testing.T) {
	dir := t.TempDir()
	l := openEmpty(t, dir, Options{Policy: SyncNever})
	off, err := l.Append(payload(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Barrier(off); err != nil {
		t.Fatal(err)
	}
	if err := l.Barrier(off + 1); err == nil {
		t.Fatal("barrier at unwritten offset succeeded")
	}
	if err := l.FlushAndSync(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
}
