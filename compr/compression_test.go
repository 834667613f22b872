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

package compr

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	ctl := bytes.Repeat([]byte("foo"), 1000)
	for _, name := range []string{"zstd", "s2"} {
		comp := Compression(name)
		if comp == nil || comp.Name() != name {
			t.Fatalf("bad compressor for %q: %v", name, comp)
		}
		dec := Decompression(name)
		if dec == nil || dec.Name() != name {
			t.Fatalf("bad decompressor for %q: %v", name, dec)
		}
		cmp := comp.Compress(ctl, nil)
		if len(cmp) >= len(ctl) {
			t.Errorf("%s: %d bytes did not compress (%d out)", name, len(ctl), len(cmp))
		}
		dst := make([]byte, len(ctl))
		if err := dec.Decompress(cmp, dst); err != nil {
			t.Fatal(err)
		} else if !bytes.Equal(ctl, dst) {
			t.Errorf("%s: mismatch", name)
		}
		// the destination size must be exact
		short := make([]byte, len(ctl)-1)
		if err := dec.Decompress(cmp, short); err == nil {
			t.Errorf("%s: undersized destination accepted", name)
		}
	}
}

func TestUnknownAlgorithm(t *testing.T) {
	if Compression("lzma") != nil || Decompression("lzma") != nil {
		t.Fatal("unknown algorithm resolved")
	}
}
