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

package kv

import (
	"context"
	"errors"
)

// ErrClosed is returned by Get, Put, Delete and ForPrefix after Close.
var ErrClosed = errors.New("kv: store is closed")

// Store is the persistence seam of the gateway core. Values written through a
// Store are durable once the call returns without error.
//
// Implementations must be safe for concurrent use. Callers that need
// read-modify-write atomicity serialize per key above this interface (see the
// keylock package) - Store itself only guarantees that individual operations
// are atomic.
type Store interface {
	// Get returns the value stored under key in table. The second return is
	// false when the key is absent.
	Get(ctx context.Context, table string, key []byte) ([]byte, bool, error)
	// Put stores value under key in table, replacing any previous value.
	Put(ctx context.Context, table string, key, value []byte) error
	// Delete removes key from table. Deleting an absent key is not an error.
	Delete(ctx context.Context, table string, key []byte) error
	// ForPrefix calls fn for every pair in table whose key starts with
	// prefix, in ascending key order. Returning an error from fn stops the
	// iteration and is returned as-is.
	ForPrefix(ctx context.Context, table string, prefix []byte, fn func(k, v []byte) error) error
	Close() error
}
