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
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// On-disk format. Segment files are named by the
// first commit offset they contain, zero-padded to 20
// digits. Each begins with an 8-byte header:
//
//	MAGIC(4) | VERSION(2, le) | FLAGS(2, le)
//
// followed by length-prefixed records:
//
//	LENGTH(4, le) | CRC32(4, le, IEEE) | PAYLOAD
//
// Flushed writes end on 4096-byte boundaries with
// zero padding; a LENGTH of zero therefore marks the
// end of the valid data.

const (
	segmentExt = ".stdb.log"
	indexExt   = ".stdb.ofs"

	headerSize = 8
	version    = 1
)

var magic = [4]byte{'s', 'd', 'b', 'l'}

// SegmentName returns the filename of the segment
// whose first record has the given offset.
func SegmentName(offset uint64) string {
	return fmt.Sprintf("%020d%s", offset, segmentExt)
}

// IndexName returns the sidecar offset-index filename
// for a segment base offset.
func IndexName(offset uint64) string {
	return fmt.Sprintf("%020d%s", offset, indexExt)
}

func appendHeader(dst []byte) []byte {
	dst = append(dst, magic[:]...)
	dst = binary.LittleEndian.AppendUint16(dst, version)
	dst = binary.LittleEndian.AppendUint16(dst, 0) // flags
	return dst
}

func checkHeader(buf []byte) error {
	if len(buf) < headerSize {
		return fmt.Errorf("commitlog: segment shorter than its header")
	}
	if [4]byte(buf[:4]) != magic {
		return fmt.Errorf("commitlog: bad segment magic %x", buf[:4])
	}
	if v := binary.LittleEndian.Uint16(buf[4:]); v != version {
		return fmt.Errorf("commitlog: unsupported segment version %d", v)
	}
	return nil
}

// appendFrame appends the record framing plus payload.
func appendFrame(dst, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	dst = binary.LittleEndian.AppendUint32(dst, crc32.ChecksumIEEE(payload))
	return append(dst, payload...)
}

// frameSize is the on-disk size of a payload.
func frameSize(payload []byte) int64 { return int64(8 + len(payload)) }

// listSegments returns the base offsets of the
// segments in dir, ascending.
func listSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var bases []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, segmentExt) {
			continue
		}
		base, err := strconv.ParseUint(strings.TrimSuffix(name, segmentExt), 10, 64)
		if err != nil {
			continue // not ours
		}
		bases = append(bases, base)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	return bases, nil
}

// scanSegment reads records from the segment file at
// path, calling fn for each valid payload. It returns
// the byte position just past the last valid record
// and the number of records read. A zero length, a
// CRC mismatch, or a length overrun terminates the
// scan; torn is true in the latter two cases.
func scanSegment(path string, base uint64, fn func(offset uint64, payload []byte) error) (pos int64, n uint64, torn bool, err error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, false, err
	}
	if len(buf) == 0 {
		// crashed before the header reached disk;
		// treat as an empty segment
		return 0, 0, false, nil
	}
	if err := checkHeader(buf); err != nil {
		return 0, 0, false, err
	}
	pos = headerSize
	for {
		if int64(len(buf))-pos < 8 {
			return pos, n, false, nil
		}
		length := binary.LittleEndian.Uint32(buf[pos:])
		if length == 0 {
			// zero padding: end of valid data
			return pos, n, false, nil
		}
		sum := binary.LittleEndian.Uint32(buf[pos+4:])
		end := pos + 8 + int64(length)
		if end > int64(len(buf)) {
			return pos, n, true, nil
		}
		payload := buf[pos+8 : end]
		if crc32.ChecksumIEEE(payload) != sum {
			return pos, n, true, nil
		}
		if fn != nil {
			if err := fn(base+n, payload); err != nil {
				return pos, n, false, err
			}
		}
		pos = end
		n++
	}
}

func segmentPath(dir string, base uint64) string {
	return filepath.Join(dir, SegmentName(base))
}
