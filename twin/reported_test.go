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

package twin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/richma-ms/iotedge/keylock"
	"github.com/richma-ms/iotedge/kv"
	"github.com/richma-ms/iotedge/kv/memdb"
)

func newTestQueue(t *testing.T, cloud CloudSync) (*ReportedQueue, *memdb.Store) {
	t.Helper()
	db := memdb.New()
	t.Cleanup(func() { db.Close() })
	q, err := NewReportedQueue(context.Background(), db, cloud, keylock.New(0), QueueConfig{
		RetryInterval: time.Millisecond,
		MaxRetries:    2,
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Close(ctx)
	})
	return q, db
}

func TestEnqueueMerges(t *testing.T) {
	ctx := context.Background()
	q, db := newTestQueue(t, newFakeCloud())

	require.NoError(t, q.Enqueue(ctx, "d1", Collection{"a": 1}))
	require.NoError(t, q.Enqueue(ctx, "d1", Collection{"b": 2, "a": nil}))

	pending, ok := q.Pending("d1")
	require.True(t, ok)
	require.Equal(t, map[string]any{"b": 2}, map[string]any(pending))

	// persisted alongside
	raw, found, err := db.Get(ctx, kv.ReportedPending, []byte("d1"))
	require.NoError(t, err)
	require.True(t, found)
	stored, err := decodeCollection(raw)
	require.NoError(t, err)
	require.EqualValues(t, 2, stored["b"])
}

func TestDrainSuccessClearsPending(t *testing.T) {
	ctx := context.Background()
	cloud := newFakeCloud()
	q, db := newTestQueue(t, cloud)

	require.NoError(t, q.Enqueue(ctx, "d1", Collection{"a": 1}))
	require.NoError(t, q.drain(ctx, "d1"))

	calls := cloud.reportedCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "d1", calls[0].id)
	require.Equal(t, map[string]any{"a": 1}, map[string]any(calls[0].patch))

	_, ok := q.Pending("d1")
	require.False(t, ok)
	_, found, err := db.Get(ctx, kv.ReportedPending, []byte("d1"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestDrainTransientRetriesWithRemerge(t *testing.T) {
	ctx := context.Background()
	cloud := newFakeCloud()
	cloud.results = []UpdateResult{UpdateTransient}
	q, _ := newTestQueue(t, cloud)

	require.NoError(t, q.Enqueue(ctx, "d1", Collection{"a": 1}))
	require.NoError(t, q.drain(ctx, "d1"))

	calls := cloud.reportedCalls()
	require.Len(t, calls, 2, "transient then retry")
	require.Equal(t, map[string]any{"a": 1}, map[string]any(calls[1].patch))
	_, ok := q.Pending("d1")
	require.False(t, ok)
}

func TestDrainPermanentDropsPatch(t *testing.T) {
	ctx := context.Background()
	cloud := newFakeCloud()
	cloud.results = []UpdateResult{UpdatePermanent}
	q, db := newTestQueue(t, cloud)

	require.NoError(t, q.Enqueue(ctx, "d1", Collection{"a": 1}))
	require.NoError(t, q.drain(ctx, "d1"))

	require.Len(t, cloud.reportedCalls(), 1, "no retry after a permanent rejection")
	_, ok := q.Pending("d1")
	require.False(t, ok)
	_, found, err := db.Get(ctx, kv.ReportedPending, []byte("d1"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestDrainKeepsPatchesArrivedDuringFailure(t *testing.T) {
	ctx := context.Background()
	cloud := newFakeCloud()
	// exhaust every attempt of one drain
	cloud.fallback = UpdateTransient
	q, _ := newTestQueue(t, cloud)

	require.NoError(t, q.Enqueue(ctx, "d1", Collection{"a": 1}))
	err := q.drain(ctx, "d1")
	require.ErrorIs(t, err, errTransient)

	// snapshot re-merged: next drain sends it again
	pending, ok := q.Pending("d1")
	require.True(t, ok)
	require.Equal(t, map[string]any{"a": 1}, map[string]any(pending))

	// newer values arriving after the failed drain win over the snapshot
	require.NoError(t, q.Enqueue(ctx, "d1", Collection{"a": 2}))
	cloud.mu.Lock()
	cloud.fallback = UpdateOK
	cloud.mu.Unlock()
	require.NoError(t, q.drain(ctx, "d1"))
	calls := cloud.reportedCalls()
	last := calls[len(calls)-1]
	require.Equal(t, map[string]any{"a": 2}, map[string]any(last.patch))
}

func TestInitiateSyncCoalesces(t *testing.T) {
	ctx := context.Background()
	cloud := newFakeCloud()
	cloud.block = make(chan struct{})
	q, _ := newTestQueue(t, cloud)

	require.NoError(t, q.Enqueue(ctx, "d1", Collection{"a": 1}))
	q.InitiateSync("d1")
	q.InitiateSync("d1")
	time.Sleep(20 * time.Millisecond)
	close(cloud.block)

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Close(closeCtx))
	require.Len(t, cloud.reportedCalls(), 1)
}

func TestQueueReloadsPersistedPending(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	t.Cleanup(func() { db.Close() })

	q1, err := NewReportedQueue(ctx, db, newFakeCloud(), keylock.New(0), QueueConfig{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, q1.Enqueue(ctx, "d1", Collection{"a": 1}))

	q2, err := NewReportedQueue(ctx, db, newFakeCloud(), keylock.New(0), QueueConfig{}, nil, nil)
	require.NoError(t, err)
	pending, ok := q2.Pending("d1")
	require.True(t, ok)
	require.EqualValues(t, 1, pending["a"])
}
