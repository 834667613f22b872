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
	"os"

	"github.com/SnellerInc/spindle/ints"
)

// Block is the I/O alignment unit. Flushed writes
// always end on a Block boundary; the gap between
// the last real byte and the boundary is zero padding
// that the next flush overwrites.
const Block = 4096

// alignedWriter buffers appends and issues
// block-aligned positional writes. After flush, the
// logical position rewinds to the last real byte, so
// a subsequent append overwrites the padding.
type alignedWriter struct {
	f *os.File
	// buf holds bytes not yet written through, starting
	// at file offset filePos; filePos is always
	// block-aligned
	buf     []byte
	filePos int64
}

func newAlignedWriter(f *os.File, filePos int64, tail []byte) *alignedWriter {
	w := &alignedWriter{f: f, filePos: filePos}
	w.buf = append(make([]byte, 0, 1<<20), tail...)
	return w
}

// pos returns the logical end of the written data.
func (w *alignedWriter) pos() int64 { return w.filePos + int64(len(w.buf)) }

// write buffers p, flushing completed blocks when the
// buffer fills.
func (w *alignedWriter) write(p []byte) error {
	for len(p) > 0 {
		n := cap(w.buf) - len(w.buf)
		if n == 0 {
			if err := w.flush(); err != nil {
				return err
			}
			continue
		}
		if n > len(p) {
			n = len(p)
		}
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
	}
	return nil
}

// flush pads the buffered bytes to the next block
// boundary with zeroes, writes them at filePos, and
// rewinds the buffer to the trailing partial block.
func (w *alignedWriter) flush() error {
	n := len(w.buf)
	if n == 0 {
		return nil
	}
	padded := int(ints.AlignUp(uint64(n), Block))
	if padded > cap(w.buf) {
		// the buffer capacity is a multiple of Block,
		// so this cannot happen unless cap < Block
		padded = n
	}
	buf := w.buf[:padded]
	for i := n; i < padded; i++ {
		buf[i] = 0
	}
	if _, err := w.f.WriteAt(buf, w.filePos); err != nil {
		return err
	}
	full := int(ints.AlignDown(uint64(n), Block))
	tail := copy(w.buf, w.buf[full:n])
	w.buf = w.buf[:tail]
	w.filePos += int64(full)
	return nil
}

// sync flushes and forces the data to stable storage.
func (w *alignedWriter) sync() error {
	if err := w.flush(); err != nil {
		return err
	}
	return datasync(w.f)
}
