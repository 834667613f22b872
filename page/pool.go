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

package page

import (
	"errors"
	"sync"
)

// ErrPoolExhausted is returned when the pool has
// reached its configured page limit.
var ErrPoolExhausted = errors.New("page: pool exhausted")

// Pool is a slab of pages shared by all tables.
// Pages are addressed by a stable index; tables hold
// page indices rather than pointers, so there are no
// ownership cycles between tables and the allocator.
type Pool struct {
	mu    sync.Mutex
	pages []*Page
	free  []uint32
	limit int // 0 means unlimited
}

// NewPool returns a pool bounded to limit pages
// (0 for unlimited).
func NewPool(limit int) *Pool {
	return &Pool{limit: limit}
}

// Alloc returns a fresh page keyed for rowSize,
// along with its pool index.
func (p *Pool) Alloc(rowSize int) (uint32, *Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		idx := p.free[n-1]
		p.free = p.free[:n-1]
		pg := p.pages[idx]
		pg.Reset(rowSize)
		return idx, pg, nil
	}
	if p.limit > 0 && len(p.pages) >= p.limit {
		return 0, nil, ErrPoolExhausted
	}
	idx := uint32(len(p.pages))
	pg := New(rowSize)
	p.pages = append(p.pages, pg)
	return idx, pg, nil
}

// Get returns the page at idx. The index must have
// been returned by Alloc and not freed since.
func (p *Pool) Get(idx uint32) *Page {
	p.mu.Lock()
	pg := p.pages[idx]
	p.mu.Unlock()
	return pg
}

// Free returns the page at idx to the pool.
func (p *Pool) Free(idx uint32) {
	p.mu.Lock()
	p.free = append(p.free, idx)
	p.mu.Unlock()
}

// InUse returns the number of live pages.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pages) - len(p.free)
}
