// Copyright 2025 The EdgeHub Authors
// This file is part of EdgeHub.
//
// EdgeHub is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// EdgeHub is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with EdgeHub. If not, see <http://www.gnu.org/licenses/>.

// Package keylock provides per-key mutual exclusion over a fixed stripe of
// locks. Memory stays bounded no matter how many distinct keys pass through;
// keys hashing to the same stripe serialize against each other, which is rare
// and never deadlocks because an operation holds at most one stripe.
package keylock

import (
	"context"
	"hash/fnv"

	"golang.org/x/sync/semaphore"
)

const DefaultStripes = 10

type Table struct {
	stripes []*semaphore.Weighted
}

// New creates a lock table with the given stripe count. Non-positive counts
// fall back to DefaultStripes.
func New(stripes int) *Table {
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	t := &Table{stripes: make([]*semaphore.Weighted, stripes)}
	for i := range t.stripes {
		t.stripes[i] = semaphore.NewWeighted(1)
	}
	return t
}

// Lock acquires the stripe owning key, waiting until it is free or ctx is
// done. On success the caller must release the returned guard on every
// termination path.
func (t *Table) Lock(ctx context.Context, key string) (Guard, error) {
	s := t.stripes[t.stripe(key)]
	if err := s.Acquire(ctx, 1); err != nil {
		return Guard{}, err
	}
	return Guard{s: s}, nil
}

func (t *Table) stripe(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(t.stripes)))
}

// Guard represents a held stripe. The zero Guard is inert.
type Guard struct {
	s *semaphore.Weighted
}

func (g Guard) Unlock() {
	if g.s != nil {
		g.s.Release(1)
	}
}
