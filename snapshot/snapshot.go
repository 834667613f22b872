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

// Package snapshot archives compressed table-page
// images into the object store. A snapshot is a
// manifest object referencing one page object per
// page; everything is content-addressed, so repeated
// snapshots of unchanged pages store nothing new.
//
// Snapshots are archival: recovery replays the
// commitlog. Pairing a snapshot with the commitlog
// suffix past its offset is the caller's concern.
package snapshot

import (
	"encoding/binary"
	"fmt"

	"github.com/SnellerInc/spindle/compr"
	"github.com/SnellerInc/spindle/objstore"
)

// Manifest lists the page objects of one snapshot.
type Manifest struct {
	// Offset is the commit offset the snapshot
	// reflects.
	Offset uint64
	// Algo names the page compression algorithm.
	Algo string
	// Tables holds the archived tables in ascending
	// id order.
	Tables []TableImage
}

// TableImage is the page list of one table.
type TableImage struct {
	Table uint32
	Pages []objstore.Hash
}

// pageObject frames a compressed page:
// u32le raw length | compressed bytes.
func pageObject(comp compr.Compressor, img []byte) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(img)))
	return comp.Compress(img, out)
}

// Write archives pages (table id -> page images in
// allocation order) and returns the manifest hash.
func Write(store *objstore.Store, comp compr.Compressor, offset uint64, pages map[uint32][][]byte) (objstore.Hash, error) {
	m := Manifest{Offset: offset, Algo: comp.Name()}
	for _, id := range sortedKeys(pages) {
		ti := TableImage{Table: id}
		for _, img := range pages[id] {
			h, err := store.Put(pageObject(comp, img))
			if err != nil {
				return objstore.Hash{}, fmt.Errorf("snapshot: table %d: %w", id, err)
			}
			ti.Pages = append(ti.Pages, h)
		}
		m.Tables = append(m.Tables, ti)
	}
	return store.Put(appendManifest(nil, &m))
}

// Load reads a manifest by hash.
func Load(store *objstore.Store, h objstore.Hash) (*Manifest, error) {
	buf, err := store.Get(h)
	if err != nil {
		return nil, err
	}
	return decodeManifest(buf)
}

// LoadPage fetches and decompresses one page image.
func LoadPage(store *objstore.Store, m *Manifest, h objstore.Hash) ([]byte, error) {
	buf, err := store.Get(h)
	if err != nil {
		return nil, err
	}
	if len(buf) < 4 {
		return nil, fmt.Errorf("snapshot: page object shorter than its length prefix")
	}
	raw := make([]byte, binary.LittleEndian.Uint32(buf))
	dec := compr.Decompression(m.Algo)
	if dec == nil {
		return nil, fmt.Errorf("snapshot: unknown compression %q", m.Algo)
	}
	if err := dec.Decompress(buf[4:], raw); err != nil {
		return nil, err
	}
	return raw, nil
}

const manifestMagic = uint32(0x73_6e_61_70) // "snap"

func appendManifest(dst []byte, m *Manifest) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, manifestMagic)
	dst = binary.LittleEndian.AppendUint64(dst, m.Offset)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(m.Algo)))
	dst = append(dst, m.Algo...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(m.Tables)))
	for i := range m.Tables {
		dst = binary.LittleEndian.AppendUint32(dst, m.Tables[i].Table)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(m.Tables[i].Pages)))
		for _, h := range m.Tables[i].Pages {
			dst = append(dst, h[:]...)
		}
	}
	return dst
}

func decodeManifest(buf []byte) (*Manifest, error) {
	bad := fmt.Errorf("snapshot: malformed manifest")
	if len(buf) < 16 || binary.LittleEndian.Uint32(buf) != manifestMagic {
		return nil, bad
	}
	m := &Manifest{Offset: binary.LittleEndian.Uint64(buf[4:])}
	algoLen := binary.LittleEndian.Uint32(buf[12:])
	buf = buf[16:]
	if uint64(algoLen) > uint64(len(buf)) {
		return nil, bad
	}
	m.Algo = string(buf[:algoLen])
	buf = buf[algoLen:]
	if len(buf) < 4 {
		return nil, bad
	}
	ntables := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	for i := uint32(0); i < ntables; i++ {
		if len(buf) < 8 {
			return nil, bad
		}
		ti := TableImage{Table: binary.LittleEndian.Uint32(buf)}
		npages := binary.LittleEndian.Uint32(buf[4:])
		buf = buf[8:]
		if uint64(npages)*32 > uint64(len(buf)) {
			return nil, bad
		}
		for j := uint32(0); j < npages; j++ {
			var h objstore.Hash
			copy(h[:], buf[:32])
			buf = buf[32:]
			ti.Pages = append(ti.Pages, h)
		}
		m.Tables = append(m.Tables, ti)
	}
	if len(buf) != 0 {
		return nil, bad
	}
	return m, nil
}

func sortedKeys(m map[uint32][][]byte) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
