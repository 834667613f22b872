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

// Package objstore implements the content-addressed
// object store: opaque blobs keyed by the blake3-256
// hash of their contents, laid out on disk as
// <root>/<hex[0:2]>/<hex[2:]> to bound the size of
// any single directory.
package objstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"
)

// Hash is a blake3-256 content address.
type Hash [32]byte

// HashOf returns the content address of b.
func HashOf(b []byte) Hash {
	return blake3.Sum256(b)
}

// String returns the lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a 64-digit hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 64 {
		return h, fmt.Errorf("objstore: hash %q is not 64 hex digits", s)
	}
	_, err := hex.Decode(h[:], []byte(s))
	return h, err
}

// Store is an object store rooted at a directory.
type Store struct {
	root string
}

// Open returns a store rooted at dir, creating it if
// necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(h Hash) string {
	hx := h.String()
	return filepath.Join(s.root, hx[:2], hx[2:])
}

// Put stores b and returns its content address. Put
// is idempotent: storing the same bytes twice is a
// no-op. The object is written through a temporary
// file and renamed, so a crash cannot leave a partial
// object under its final name.
func (s *Store) Put(b []byte) (Hash, error) {
	h := HashOf(b)
	dst := s.path(h)
	if _, err := os.Stat(dst); err == nil {
		return h, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return Hash{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return Hash{}, err
	}
	name := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(name)
		return Hash{}, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return Hash{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return Hash{}, err
	}
	if err := os.Rename(name, dst); err != nil {
		os.Remove(name)
		return Hash{}, err
	}
	return h, nil
}

// ErrNotFound is returned by Get for an absent hash.
var ErrNotFound = errors.New("objstore: object not found")

// Get returns the object stored under h.
func (s *Store) Get(h Hash) ([]byte, error) {
	b, err := os.ReadFile(s.path(h))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

// Contains reports whether h is present.
func (s *Store) Contains(h Hash) bool {
	_, err := os.Stat(s.path(h))
	return err == nil
}

// Iter calls fn for every stored object hash.
func (s *Store) Iter(fn func(h Hash) bool) error {
	tops, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}
	for _, top := range tops {
		if !top.IsDir() || len(top.Name()) != 2 {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, top.Name()))
		if err != nil {
			return err
		}
		for _, e := range entries {
			h, err := ParseHash(top.Name() + e.Name())
			if err != nil {
				continue // temp file or stray entry
			}
			if !fn(h) {
				return nil
			}
		}
	}
	return nil
}
