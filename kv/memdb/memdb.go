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

// Package memdb provides a map-backed kv.Store. It backs tests and offline
// bring-up; durability is whatever the process lifetime gives you.
package memdb

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/richma-ms/iotedge/kv"
)

type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string][]byte
	closed bool
}

func New() *Store {
	tables := make(map[string]map[string][]byte, len(kv.Tables))
	for _, name := range kv.Tables {
		tables[name] = make(map[string][]byte)
	}
	return &Store{tables: tables}
}

// read-only lookup; all known tables are created in New
func (s *Store) table(name string) map[string][]byte {
	return s.tables[name]
}

func (s *Store) Get(ctx context.Context, table string, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, kv.ErrClosed
	}
	t := s.table(table)
	if t == nil {
		return nil, false, errors.Errorf("memdb: unknown table %s", table)
	}
	v, ok := t[string(key)]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (s *Store) Put(ctx context.Context, table string, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	t := s.table(table)
	if t == nil {
		return errors.Errorf("memdb: unknown table %s", table)
	}
	t[string(key)] = bytes.Clone(value)
	return nil
}

func (s *Store) Delete(ctx context.Context, table string, key []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	t := s.table(table)
	if t == nil {
		return errors.Errorf("memdb: unknown table %s", table)
	}
	delete(t, string(key))
	return nil
}

func (s *Store) ForPrefix(ctx context.Context, table string, prefix []byte, fn func(k, v []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return kv.ErrClosed
	}
	t := s.table(table)
	if t == nil {
		s.mu.RUnlock()
		return errors.Errorf("memdb: unknown table %s", table)
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	// copy out so fn may call back into the store
	pairs := make([][2][]byte, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2][]byte{[]byte(k), bytes.Clone(t[k])})
	}
	s.mu.RUnlock()

	for _, p := range pairs {
		if err := fn(p[0], p[1]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
