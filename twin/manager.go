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
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/richma-ms/iotedge/metrics"
)

// ManagerConfig tunes the twin manager.
type ManagerConfig struct {
	// MinSyncPeriod throttles cloud resyncs per id: a resync only runs when
	// the last successful fetch is older than this.
	MinSyncPeriod time.Duration
	// LastSyncEntries bounds the per-id fetch-timestamp cache.
	LastSyncEntries int
}

func (c *ManagerConfig) withDefaults() ManagerConfig {
	out := *c
	if out.MinSyncPeriod <= 0 {
		out.MinSyncPeriod = 2 * time.Minute
	}
	if out.LastSyncEntries <= 0 {
		out.LastSyncEntries = 8192
	}
	return out
}

// Manager orchestrates twin reads and writes between local clients, the
// durable store and the cloud. Per-id ordering comes from the store's key
// locks; operations across ids run concurrently.
type Manager struct {
	store *Store
	queue *ReportedQueue
	cloud CloudSync
	conns ConnectionManager
	clock clockwork.Clock
	log   *zap.Logger
	cfg   ManagerConfig

	// id -> time of last successful cloud fetch
	lastSync *expirable.LRU[string, time.Time]
}

func NewManager(store *Store, queue *ReportedQueue, cloud CloudSync, conns ConnectionManager, cfg ManagerConfig, clock clockwork.Clock, log *zap.Logger) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := cfg.withDefaults()
	return &Manager{
		store:    store,
		queue:    queue,
		cloud:    cloud,
		conns:    conns,
		clock:    clock,
		log:      log,
		cfg:      c,
		lastSync: expirable.NewLRU[string, time.Time](c.LastSyncEntries, nil, 24*time.Hour),
	}
}

// GetTwin returns the authoritative twin when the cloud answers, falling
// back to the stored twin - or a synthesized empty one - when it does not.
// Only the cloud-success path moves the id's lastSync forward.
func (m *Manager) GetTwin(ctx context.Context, id string) (Twin, error) {
	if ct, ok := m.cloud.GetTwin(ctx, id); ok {
		metrics.TwinCloudFetches.WithLabelValues("ok").Inc()
		if err := m.store.Put(ctx, id, ct); err != nil {
			return Twin{}, err
		}
		m.lastSync.Add(id, m.clock.Now())
		return ct, nil
	}
	metrics.TwinCloudFetches.WithLabelValues("unreachable").Inc()
	stored, found, err := m.store.Get(ctx, id)
	if err != nil {
		return Twin{}, err
	}
	if found {
		return stored, nil
	}
	return Empty(), nil
}

// GetCachedTwin reads the stored twin without touching the cloud.
func (m *Manager) GetCachedTwin(ctx context.Context, id string) (Twin, error) {
	stored, found, err := m.store.Get(ctx, id)
	if err != nil {
		return Twin{}, err
	}
	if !found {
		return Empty(), nil
	}
	return stored, nil
}

type desiredAction int

const (
	desiredApplied desiredAction = iota
	desiredIgnored
	desiredResync
)

// UpdateDesired handles a desired-property patch from the cloud. Patches at
// exactly stored+1 merge and fan out; stale patches are dropped; any larger
// gap means updates were missed and triggers a resync.
func (m *Manager) UpdateDesired(ctx context.Context, id string, patch Collection) error {
	action := desiredApplied
	err := m.store.Update(ctx, id, func(tw Twin, found bool) (Twin, bool, error) {
		if found {
			stored := tw.Desired.Version()
			v := patch.Version()
			if v <= stored {
				action = desiredIgnored
				return tw, false, nil
			}
			if v != stored+1 {
				action = desiredResync
				return tw, false, nil
			}
		} else {
			tw = Empty()
		}
		tw.Desired = Merge(tw.Desired, patch)
		return tw, true, nil
	})
	if err != nil {
		return err
	}
	switch action {
	case desiredIgnored:
		m.log.Debug("stale desired patch ignored",
			zap.String("id", id), zap.Int64("version", patch.Version()))
		return nil
	case desiredResync:
		m.log.Info("desired version gap, resyncing",
			zap.String("id", id), zap.Int64("version", patch.Version()))
		return m.Resync(ctx, id)
	default:
		m.fanout(ctx, id, patch)
		return nil
	}
}

// UpdateReported handles a reported-property patch from a local client:
// validate, apply to the durable twin, buffer for upstream, kick a drain.
// The patch is observable through GetCachedTwin before this returns.
func (m *Manager) UpdateReported(ctx context.Context, id string, patch Collection) error {
	if err := ValidateReportedPatch(patch); err != nil {
		return err
	}
	if err := m.store.ApplyReported(ctx, id, patch); err != nil {
		return err
	}
	if err := m.queue.Enqueue(ctx, id, patch); err != nil {
		return err
	}
	m.queue.InitiateSync(id)
	return nil
}

// OnDeviceConnected runs the reconnection protocol for every currently
// connected client: push out buffered reported properties and, throttled,
// pull the authoritative twin so the client learns what it missed.
func (m *Manager) OnDeviceConnected(ctx context.Context) {
	for _, id := range m.conns.ConnectedClients() {
		m.queue.InitiateSync(id)
		if err := m.Resync(ctx, id); err != nil {
			m.log.Warn("resync on connect failed", zap.String("id", id), zap.Error(err))
		}
	}
}

// Resync pulls the cloud twin, stores it, and sends the desired-side delta
// to the client if it subscribes - at most once per MinSyncPeriod per id.
// An unreachable cloud aborts silently.
func (m *Manager) Resync(ctx context.Context, id string) error {
	if last, ok := m.lastSync.Get(id); ok && m.clock.Since(last) <= m.cfg.MinSyncPeriod {
		return nil
	}
	var (
		delta   Collection
		fetched bool
	)
	err := m.store.Update(ctx, id, func(tw Twin, found bool) (Twin, bool, error) {
		prev := tw.Desired
		if !found {
			prev = NewCollection()
		}
		ct, ok := m.cloud.GetTwin(ctx, id)
		if !ok {
			metrics.TwinCloudFetches.WithLabelValues("unreachable").Inc()
			return tw, false, nil
		}
		metrics.TwinCloudFetches.WithLabelValues("ok").Inc()
		fetched = true
		delta = Diff(prev, ct.Desired)
		if delta != nil {
			delta.SetVersion(ct.Desired.Version())
		}
		return ct, true, nil
	})
	if err != nil {
		return err
	}
	if !fetched {
		return nil
	}
	m.lastSync.Add(id, m.clock.Now())
	if delta != nil {
		m.fanout(ctx, id, delta)
	}
	return nil
}

// fanout delivers a desired-property patch to the client's proxy when it is
// subscribed. Fired once; a failed delivery is the transport's problem.
func (m *Manager) fanout(ctx context.Context, id string, patch Collection) {
	if !m.conns.IsSubscribed(id, TopicDesiredUpdates) {
		return
	}
	proxy, ok := m.conns.Proxy(id)
	if !ok {
		return
	}
	if err := proxy.OnDesiredPropertyUpdates(ctx, patch); err != nil {
		m.log.Warn("desired fanout failed", zap.String("id", id), zap.Error(err))
		return
	}
	metrics.DesiredFanouts.Inc()
}
