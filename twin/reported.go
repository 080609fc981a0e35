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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/richma-ms/iotedge/keylock"
	"github.com/richma-ms/iotedge/kv"
	"github.com/richma-ms/iotedge/metrics"
)

// errTransient marks a drain attempt that should back off and retry.
var errTransient = errors.New("twin: transient upstream failure")

// QueueConfig tunes the reported-properties queue.
type QueueConfig struct {
	// SyncInterval is the minimum time between successive drains per id.
	SyncInterval time.Duration
	// RetryInterval is the fixed backoff between attempts after a transient
	// upstream failure.
	RetryInterval time.Duration
	// MaxRetries bounds attempts within one drain; the pending entry
	// survives exhaustion and is picked up by the next trigger.
	MaxRetries uint64
	// Parallelism bounds concurrent drains during SyncAll.
	Parallelism int
}

func (c *QueueConfig) withDefaults() QueueConfig {
	out := *c
	if out.SyncInterval < 0 {
		out.SyncInterval = 0
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = 5 * time.Second
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = 3
	}
	if out.Parallelism <= 0 {
		out.Parallelism = 4
	}
	return out
}

// ReportedQueue is the semantic merge buffer between local reported-property
// updates and the cloud: at most one pending patch per twin, later updates
// merged into it in arrival order. Pending state is persisted under
// kv.ReportedPending and survives restarts.
type ReportedQueue struct {
	db    kv.Store
	cloud CloudSync
	locks *keylock.Table
	clock clockwork.Clock
	log   *zap.Logger
	cfg   QueueConfig

	mu          sync.Mutex
	pending     map[string]Collection
	lastAttempt map[string]time.Time

	flights singleflight.Group
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewReportedQueue loads any pending patches persisted by a previous run and
// returns a ready queue. The locks table must be distinct from the twin
// store's: the two are never held together.
func NewReportedQueue(ctx context.Context, db kv.Store, cloud CloudSync, locks *keylock.Table, cfg QueueConfig, clock clockwork.Clock, log *zap.Logger) (*ReportedQueue, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &ReportedQueue{
		db:          db,
		cloud:       cloud,
		locks:       locks,
		clock:       clock,
		log:         log,
		cfg:         cfg.withDefaults(),
		pending:     make(map[string]Collection),
		lastAttempt: make(map[string]time.Time),
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())

	err := db.ForPrefix(ctx, kv.ReportedPending, nil, func(k, v []byte) error {
		c, err := decodeCollection(v)
		if err != nil {
			return errors.Wrapf(err, "pending entry %s", k)
		}
		q.pending[string(k)] = c
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "twin: load reported queue")
	}
	return q, nil
}

// Enqueue merges patch into the id's pending entry and persists it. The
// patch is not acknowledged (an error is returned) when persistence fails.
func (q *ReportedQueue) Enqueue(ctx context.Context, id string, patch Collection) error {
	guard, err := q.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer guard.Unlock()

	q.mu.Lock()
	prev, had := q.pending[id]
	var merged Collection
	if had {
		merged = Merge(prev, patch)
	} else {
		merged = patch.Clone()
	}
	q.pending[id] = merged
	q.mu.Unlock()

	raw, err := encodeCollection(merged)
	if err == nil {
		err = q.db.Put(ctx, kv.ReportedPending, []byte(id), raw)
	}
	if err != nil {
		// roll back so unacknowledged data is not sent upstream later
		q.mu.Lock()
		if had {
			q.pending[id] = prev
		} else {
			delete(q.pending, id)
		}
		q.mu.Unlock()
		return errors.Wrapf(err, "twin: enqueue reported for %s", id)
	}
	return nil
}

// Pending returns a copy of the pending patch for id, if any.
func (q *ReportedQueue) Pending(id string) (Collection, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.pending[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// InitiateSync schedules an asynchronous drain for id. Calls made while a
// drain for the same id is in flight coalesce into it.
func (q *ReportedQueue) InitiateSync(id string) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.syncOne(q.ctx, id)
	}()
}

// SyncAll drains every id with a pending patch, a bounded number at a time.
func (q *ReportedQueue) SyncAll(ctx context.Context) {
	q.mu.Lock()
	ids := make([]string, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	q.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(q.cfg.Parallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			q.syncOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// Close stops accepting drain work and waits for in-flight drains until ctx
// expires.
func (q *ReportedQueue) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
	q.cancel()
	return nil
}

func (q *ReportedQueue) syncOne(ctx context.Context, id string) {
	_, err, _ := q.flights.Do(id, func() (any, error) {
		return nil, q.drain(ctx, id)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		q.log.Warn("reported sync failed", zap.String("id", id), zap.Error(err))
	}
}

func (q *ReportedQueue) drain(ctx context.Context, id string) error {
	// honor the per-id floor between drains
	q.mu.Lock()
	last, seen := q.lastAttempt[id]
	q.mu.Unlock()
	if seen {
		if wait := q.cfg.SyncInterval - q.clock.Since(last); wait > 0 {
			select {
			case <-q.clock.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	op := func() error {
		guard, err := q.locks.Lock(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		q.mu.Lock()
		snapshot := q.pending[id]
		delete(q.pending, id)
		q.lastAttempt[id] = q.clock.Now()
		q.mu.Unlock()
		guard.Unlock()

		if snapshot == nil {
			return nil
		}

		res := q.cloud.UpdateReported(ctx, id, snapshot)
		metrics.ReportedSyncs.WithLabelValues(res.String()).Inc()
		switch res {
		case UpdateOK:
			return q.settle(ctx, id)
		case UpdatePermanent:
			q.log.Error("cloud rejected reported properties, dropping patch",
				zap.String("id", id), zap.Int64("version", snapshot.Version()))
			return q.settle(ctx, id)
		default:
			// put the snapshot back underneath whatever arrived meanwhile
			guard, err := q.locks.Lock(ctx, id)
			if err != nil {
				return backoff.Permanent(err)
			}
			defer guard.Unlock()
			q.mu.Lock()
			arrived, had := q.pending[id]
			var merged Collection
			if had {
				merged = Merge(snapshot, arrived)
			} else {
				merged = snapshot
			}
			q.pending[id] = merged
			q.mu.Unlock()
			if raw, err := encodeCollection(merged); err == nil {
				if err := q.db.Put(ctx, kv.ReportedPending, []byte(id), raw); err != nil {
					q.log.Error("persisting re-merged pending failed", zap.String("id", id), zap.Error(err))
				}
			}
			return errors.Wrapf(errTransient, "id %s", id)
		}
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(q.cfg.RetryInterval), q.cfg.MaxRetries),
		ctx)
	return backoff.Retry(op, bo)
}

// settle persists the post-drain pending state: newly arrived patches were
// already persisted by Enqueue, so only the empty case needs a write.
func (q *ReportedQueue) settle(ctx context.Context, id string) error {
	guard, err := q.locks.Lock(ctx, id)
	if err != nil {
		return backoff.Permanent(err)
	}
	defer guard.Unlock()
	q.mu.Lock()
	_, stillPending := q.pending[id]
	q.mu.Unlock()
	if stillPending {
		return nil
	}
	if err := q.db.Delete(ctx, kv.ReportedPending, []byte(id)); err != nil {
		return backoff.Permanent(errors.Wrapf(err, "twin: clear pending for %s", id))
	}
	return nil
}
