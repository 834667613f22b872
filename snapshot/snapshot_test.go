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

package snapshot

import (
	"bytes"
	"testing"

	"github.com/SnellerInc/spindle/compr"
	"github.com/SnellerInc/spindle/objstore"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	store, err := objstore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	pageA := bytes.Repeat([]byte{0xaa, 0x00}, 32768)
	pageB := bytes.Repeat([]byte{0xbb}, 65536)
	pages := map[uint32][][]byte{
		1: {pageA, pageB},
		7: {pageA}, // shared page image dedups
	}
	for _, algo := range []string{"zstd", "s2"} {
		comp := compr.Compression(algo)
		h, err := Write(store, comp, 42, pages)
		if err != nil {
			t.Fatal(err)
		}
		m, err := Load(store, h)
		if err != nil {
			t.Fatal(err)
		}
		if m.Offset != 42 || m.Algo != algo || len(m.Tables) != 2 {
			t.Fatalf("%s: manifest %+v", algo, m)
		}
		if m.Tables[0].Table != 1 || m.Tables[1].Table != 7 {
			t.Fatalf("%s: table order %v", algo, m.Tables)
		}
		// shared page image has a single object
		if m.Tables[0].Pages[0] != m.Tables[1].Pages[0] {
			t.Errorf("%s: identical pages stored under distinct hashes", algo)
		}
		got, err := LoadPage(store, m, m.Tables[0].Pages[1])
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, pageB) {
			t.Fatalf("%s: page image mismatch", algo)
		}
	}
}

func TestManifestRejectsGarbage(t *testing.T) {
	if _, err := decodeManifest([]byte("not a manifest")); err == nil {
		t.Fatal("garbage manifest decoded")
	}
	if _, err := decodeManifest(nil); err == nil {
		t.Fatal("empty manifest decoded")
	}
}
