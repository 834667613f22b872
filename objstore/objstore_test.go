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

package objstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	blob := []byte("the contents of an object")
	h, err := s.Put(blob)
	if err != nil {
		t.Fatal(err)
	}
	if h != HashOf(blob) {
		t.Fatal("Put returned the wrong hash")
	}
	// idempotent
	h2, err := s.Put(blob)
	if err != nil || h2 != h {
		t.Fatalf("second Put: %s, %v", h2, err)
	}
	got, err := s.Get(h)
	if err != nil || !bytes.Equal(got, blob) {
		t.Fatalf("Get: %q, %v", got, err)
	}
	if !s.Contains(h) {
		t.Fatal("Contains = false for stored object")
	}
	if _, err := s.Get(HashOf([]byte("absent"))); err != ErrNotFound {
		t.Fatalf("absent Get: %v", err)
	}
}

func TestDirectoryTrie(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(dir)
	h, err := s.Put([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	hx := h.String()
	// <root>/<hex[0:2]>/<hex[2:]>
	if _, err := os.Stat(filepath.Join(dir, hx[:2], hx[2:])); err != nil {
		t.Fatalf("object not at trie path: %v", err)
	}
}

func TestIter(t *testing.T) {
	s, _ := Open(t.TempDir())
	want := make(map[Hash]bool)
	for i := 0; i < 20; i++ {
		h, err := s.Put([]byte{byte(i)})
		if err != nil {
			t.Fatal(err)
		}
		want[h] = true
	}
	got := make(map[Hash]bool)
	err := s.Iter(func(h Hash) bool {
		got[h] = true
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("iterated %d objects, want %d", len(got), len(want))
	}
	for h := range want {
		if !got[h] {
			t.Fatalf("missing %s", h)
		}
	}
}

func TestParseHash(t *testing.T) {
	h := HashOf([]byte("abc"))
	back, err := ParseHash(h.String())
	if err != nil || back != h {
		t.Fatalf("ParseHash: %v, %v", back, err)
	}
	if _, err := ParseHash("zz"); err == nil {
		t.Fatal("short hash accepted")
	}
}
