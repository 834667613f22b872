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

// Package page implements the fixed-capacity row page:
// a densely packed fixed-slot region growing from the
// low end, and a variable-length region of linked
// 64-byte granules growing from the high end. Freed
// fixed slots and freed granule chains are recycled
// through free lists.
package page

import (
	"errors"

	"github.com/SnellerInc/spindle/ints"
)

const (
	// Size is the page capacity in bytes.
	Size = 64 << 10

	// GranuleSize is the allocation unit of the
	// var-len region, including the 2-byte next
	// pointer at its tail.
	GranuleSize = 64

	// GranulePayload is the payload capacity of
	// one granule.
	GranulePayload = GranuleSize - 2

	// VarLenRefSize is the inline footprint of a
	// VarLenRef within a fixed slot.
	VarLenRefSize = 8

	// number of chain-length size classes
	// (floor(log2(granules)); a page can hold at
	// most 1024 granules, so 11 classes suffice)
	numClasses = 11
)

// ErrNoRoom is returned when the fixed and var-len
// regions would overlap.
var ErrNoRoom = errors.New("page: no room")

// VarLenRef is an inline handle to a var-len payload
// stored in the same page.
type VarLenRef struct {
	First  uint16 // granule index + 1; 0 means an empty chain
	Length uint32 // total payload length in bytes
}

// Zero reports whether the ref addresses no bytes.
func (v VarLenRef) Zero() bool { return v.Length == 0 }

type freeChain struct {
	head uint16 // granule index
	n    uint16 // chain length in granules
}

// Page is a fixed-capacity row page. The zero value
// is not usable; see Reset.
type Page struct {
	data    []byte
	rowSize uint16

	fixedTop    uint32 // next bump offset for fixed slots
	numGranules uint16 // high-water granule count

	present   ints.Bitset // live fixed slots, by slot index
	fixedFree []uint16    // reclaimed fixed slot offsets

	// freed granule chains bucketed by
	// floor(log2(length))
	chains    [numClasses][]freeChain
	freeCount uint16 // granules on the free lists
}

// New returns a page for rows of the given fixed size.
func New(rowSize int) *Page {
	p := &Page{data: make([]byte, Size)}
	p.Reset(rowSize)
	return p
}

// Reset returns the page to the empty state,
// re-keyed for a (possibly different) fixed row size.
func (p *Page) Reset(rowSize int) {
	if rowSize <= 0 || rowSize > Size/2 {
		panic("page: bad row size")
	}
	p.rowSize = uint16(rowSize)
	p.fixedTop = 0
	p.numGranules = 0
	p.present.Reset()
	p.fixedFree = p.fixedFree[:0]
	for i := range p.chains {
		p.chains[i] = p.chains[i][:0]
	}
	p.freeCount = 0
}

// RowSize returns the fixed slot size.
func (p *Page) RowSize() int { return int(p.rowSize) }

// NumRows returns the number of live fixed slots.
func (p *Page) NumRows() int { return p.present.Count() }

// varBase returns the byte offset of the lowest
// allocated granule.
func (p *Page) varBase() int {
	return Size - int(p.numGranules)*GranuleSize
}

// granule returns the byte slice of granule i.
func (p *Page) granule(i uint16) []byte {
	off := Size - int(i+1)*GranuleSize
	return p.data[off : off+GranuleSize]
}

func (p *Page) granNext(i uint16) uint16 {
	g := p.granule(i)
	return uint16(g[GranulePayload]) | uint16(g[GranulePayload+1])<<8
}

func (p *Page) setGranNext(i, next uint16) {
	g := p.granule(i)
	g[GranulePayload] = byte(next)
	g[GranulePayload+1] = byte(next >> 8)
}

// HasRoomFor reports whether an insert of the fixed
// part plus varBytes of var-len payload is likely to
// succeed. The check is optimistic about freed granule
// chains (free bytes may be fragmented across chains),
// so an insert may still report ErrNoRoom; callers
// unwind and move to another page in that case.
func (p *Page) HasRoomFor(varBytes int) bool {
	top := int(p.fixedTop)
	if len(p.fixedFree) == 0 {
		top += int(p.rowSize)
	}
	need := granulesFor(varBytes) - int(p.freeCount)
	if need < 0 {
		need = 0
	}
	return top <= Size-(int(p.numGranules)+need)*GranuleSize
}

func granulesFor(n int) int {
	return (n + GranulePayload - 1) / GranulePayload
}

// InsertFixed reserves a fixed slot and copies fixed
// into it. The slot contents may include placeholder
// bytes later overwritten via RowBytes.
func (p *Page) InsertFixed(fixed []byte) (uint16, error) {
	if len(fixed) != int(p.rowSize) {
		panic("page: fixed slot size mismatch")
	}
	var off uint16
	if n := len(p.fixedFree); n > 0 {
		off = p.fixedFree[n-1]
		p.fixedFree = p.fixedFree[:n-1]
	} else {
		if int(p.fixedTop)+int(p.rowSize) > p.varBase() {
			return 0, ErrNoRoom
		}
		off = uint16(p.fixedTop)
		p.fixedTop += uint32(p.rowSize)
	}
	copy(p.data[off:], fixed)
	p.present.Set(int(off / p.rowSize))
	return off, nil
}

// RowBytes returns the fixed slot at offset off.
// The slice aliases page memory.
func (p *Page) RowBytes(off uint16) []byte {
	return p.data[off : off+p.rowSize : off+p.rowSize]
}

// Live reports whether the fixed slot at off holds a row.
func (p *Page) Live(off uint16) bool {
	if off%p.rowSize != 0 || uint32(off) >= p.fixedTop {
		return false
	}
	return p.present.Test(int(off / p.rowSize))
}

// InsertVarLen writes v into a granule chain and
// returns its ref. A zero-length payload allocates
// nothing.
func (p *Page) InsertVarLen(v []byte) (VarLenRef, error) {
	if len(v) == 0 {
		return VarLenRef{}, nil
	}
	total := len(v)
	head, ok := p.allocChain(granulesFor(total))
	if !ok {
		return VarLenRef{}, ErrNoRoom
	}
	g := head
	for len(v) > 0 {
		n := copy(p.granule(g)[:GranulePayload], v)
		v = v[n:]
		if len(v) > 0 {
			g = p.granNext(g) - 1
		}
	}
	return VarLenRef{First: head + 1, Length: uint32(total)}, nil
}

// allocChain produces a chain of exactly n granules,
// preferring freed chains and splitting surplus back
// onto the free lists. The returned head is a granule
// index; the chain is terminated.
func (p *Page) allocChain(n int) (uint16, bool) {
	// take a fitting freed chain from the smallest
	// size class that has one
	for c := class(n); c < numClasses; c++ {
		bucket := p.chains[c]
		for i := len(bucket) - 1; i >= 0; i-- {
			if int(bucket[i].n) < n {
				continue
			}
			ch := bucket[i]
			p.chains[c] = append(bucket[:i], bucket[i+1:]...)
			p.freeCount -= ch.n
			if int(ch.n) > n {
				p.splitChain(ch, n)
			}
			return ch.head, true
		}
	}
	// bump-allocate fresh granules
	if int(p.fixedTop) > p.varBase()-n*GranuleSize {
		return 0, false
	}
	head := p.numGranules
	for i := 0; i < n; i++ {
		idx := p.numGranules
		p.numGranules++
		if i+1 < n {
			p.setGranNext(idx, idx+2) // next granule, 1-based
		} else {
			p.setGranNext(idx, 0)
		}
	}
	return head, true
}

// splitChain cuts ch after n granules and returns the
// remainder to the free lists.
func (p *Page) splitChain(ch freeChain, n int) {
	g := ch.head
	for i := 1; i < n; i++ {
		g = p.granNext(g) - 1
	}
	rest := p.granNext(g)
	p.setGranNext(g, 0)
	if rest != 0 {
		p.pushChain(freeChain{head: rest - 1, n: ch.n - uint16(n)})
	}
}

func (p *Page) pushChain(ch freeChain) {
	c := class(int(ch.n))
	p.chains[c] = append(p.chains[c], ch)
	p.freeCount += ch.n
}

func class(n int) int {
	c := 0
	for n > 1 {
		n >>= 1
		c++
	}
	if c >= numClasses {
		c = numClasses - 1
	}
	return c
}

// FreeVarLen returns the chain referenced by ref to
// the free lists.
func (p *Page) FreeVarLen(ref VarLenRef) {
	if ref.First == 0 {
		return
	}
	n := uint16(granulesFor(int(ref.Length)))
	p.pushChain(freeChain{head: ref.First - 1, n: n})
}

// DeleteFixed releases the fixed slot at off. The
// visitor receives the slot bytes and must report the
// byte offset of every VarLenRef embedded in the row;
// each referenced chain is freed.
func (p *Page) DeleteFixed(off uint16, visit func(row []byte, emit func(vlOff int))) {
	row := p.RowBytes(off)
	if visit != nil {
		visit(row, func(vlOff int) {
			p.FreeVarLen(GetVarLenRef(row[vlOff:]))
		})
	}
	for i := range row {
		row[i] = 0
	}
	p.present.Clear(int(off / p.rowSize))
	p.fixedFree = append(p.fixedFree, off)
}

// AppendVarLen appends the payload referenced by ref
// to dst and returns the extended slice.
func (p *Page) AppendVarLen(dst []byte, ref VarLenRef) []byte {
	remaining := int(ref.Length)
	g := ref.First
	for remaining > 0 {
		chunk := p.granule(g - 1)[:GranulePayload]
		if remaining < GranulePayload {
			chunk = chunk[:remaining]
		}
		dst = append(dst, chunk...)
		remaining -= len(chunk)
		g = p.granNext(g - 1)
	}
	return dst
}

// Granules iterates the granule chain of ref,
// calling fn with each borrowed payload slice until
// the chain ends or fn returns false.
func (p *Page) Granules(ref VarLenRef, fn func(chunk []byte) bool) {
	remaining := int(ref.Length)
	g := ref.First
	for remaining > 0 {
		chunk := p.granule(g - 1)[:GranulePayload]
		if remaining < GranulePayload {
			chunk = chunk[:remaining]
		}
		if !fn(chunk) {
			return
		}
		remaining -= len(chunk)
		g = p.granNext(g - 1)
	}
}

// Slots iterates live fixed slot offsets in
// insertion (offset) order.
func (p *Page) Slots(fn func(off uint16) bool) {
	for i := p.present.Next(0); i >= 0; i = p.present.Next(i + 1) {
		if !fn(uint16(i) * p.rowSize) {
			return
		}
	}
}

// FreeGranules returns the number of granules on the
// var-len free lists.
func (p *Page) FreeGranules() int { return int(p.freeCount) }

// UsedGranules returns the high-water granule count.
func (p *Page) UsedGranules() int { return int(p.numGranules) }

// Data returns the raw page bytes. Snapshots
// serialize pages through this view.
func (p *Page) Data() []byte { return p.data }

// PutVarLenRef stores ref inline at the start of dst.
func PutVarLenRef(dst []byte, ref VarLenRef) {
	dst[0] = byte(ref.Length)
	dst[1] = byte(ref.Length >> 8)
	dst[2] = byte(ref.Length >> 16)
	dst[3] = byte(ref.Length >> 24)
	dst[4] = byte(ref.First)
	dst[5] = byte(ref.First >> 8)
	dst[6] = 0
	dst[7] = 0
}

// GetVarLenRef loads a ref stored at the start of src.
func GetVarLenRef(src []byte) VarLenRef {
	return VarLenRef{
		Length: uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16 | uint32(src[3])<<24,
		First:  uint16(src[4]) | uint16(src[5])<<8,
	}
}
