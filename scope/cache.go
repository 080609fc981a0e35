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

package scope

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/richma-ms/iotedge/kv"
	"github.com/richma-ms/iotedge/metrics"
)

// ChangeKind discriminates identity change events.
type ChangeKind int

const (
	// ChangeUpdated - the identity is structurally new or different.
	ChangeUpdated ChangeKind = iota
	// ChangeRemoved - a previously enabled identity left the scope.
	ChangeRemoved
)

func (k ChangeKind) String() string {
	if k == ChangeRemoved {
		return "removed"
	}
	return "updated"
}

// IdentityChange is one observable scope transition. Identity is zero for
// removals.
type IdentityChange struct {
	Kind     ChangeKind
	ID       string
	Identity ServiceIdentity
}

// CacheConfig tunes the identity scope cache.
type CacheConfig struct {
	// RefreshInterval is the period of the background full refresh.
	RefreshInterval time.Duration
	// RefreshDelay debounces externally triggered refreshes, full and
	// targeted alike.
	RefreshDelay time.Duration
}

func (c *CacheConfig) withDefaults() CacheConfig {
	out := *c
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = time.Hour
	}
	if out.RefreshDelay <= 0 {
		out.RefreshDelay = 5 * time.Minute
	}
	return out
}

// Cache is the locally persisted identity scope. A single background task
// alternates full refresh cycles with waiting on a trigger or the periodic
// interval; targeted refreshes run concurrently with the cycle under the
// cache's one coarse mutex. Change events fire synchronously inside the
// write critical section, so a subscriber observes the event no later than
// any reader observes the new value.
type Cache struct {
	db    kv.Store
	hier  *Hierarchy
	proxy Proxy
	clock clockwork.Clock
	log   *zap.Logger
	cfg   CacheConfig

	// mu guards hierarchy+db writes, the timestamps and the signals
	mu                 sync.Mutex
	perID              map[string]time.Time
	lastCycleStarted   time.Time
	lastCycleCompleted time.Time
	complete           chan struct{}
	subs               []func(IdentityChange)

	refreshCh chan struct{} // single-slot; spurious sets collapse
	done      chan struct{}
}

func NewCache(db kv.Store, hier *Hierarchy, proxy Proxy, cfg CacheConfig, clock clockwork.Clock, log *zap.Logger) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		db:        db,
		hier:      hier,
		proxy:     proxy,
		clock:     clock,
		log:       log,
		cfg:       cfg.withDefaults(),
		perID:     make(map[string]time.Time),
		complete:  make(chan struct{}),
		refreshCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Subscribe registers fn for change events. fn runs inside the cache's
// write critical section: keep it short and never call back into the cache.
func (c *Cache) Subscribe(fn func(IdentityChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, fn)
}

// Start loads the persisted scope into the hierarchy and launches the
// background refresher. The refresher stops when ctx is cancelled; Done
// closes once it has.
func (c *Cache) Start(ctx context.Context) error {
	err := c.db.ForPrefix(ctx, kv.Identities, nil, func(k, v []byte) error {
		var stored StoredIdentity
		if err := json.Unmarshal(v, &stored); err != nil {
			return errors.Wrapf(err, "identity entry %s", k)
		}
		if stored.Identity != nil {
			c.hier.InsertOrUpdate(*stored.Identity)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "scope: load cache")
	}
	go c.run(ctx)
	return nil
}

// Done closes when the background refresher has exited.
func (c *Cache) Done() <-chan struct{} { return c.done }

func (c *Cache) run(ctx context.Context) {
	defer close(c.done)
	for {
		c.runCycle(ctx)
		timer := c.clock.After(c.cfg.RefreshInterval)
		select {
		case <-ctx.Done():
			return
		case <-c.refreshCh:
		case <-timer:
		}
	}
}

// runCycle performs one full refresh against the identity service.
func (c *Cache) runCycle(ctx context.Context) {
	c.mu.Lock()
	c.lastCycleStarted = c.clock.Now()
	c.mu.Unlock()

	seen := make(map[string]struct{})
	it := c.proxy.Iterator()
	for it.HasNext() {
		if ctx.Err() != nil {
			return
		}
		for _, si := range it.Next(ctx) {
			seen[si.ID] = struct{}{}
			c.mu.Lock()
			if err := c.upsertLocked(ctx, si); err != nil {
				c.log.Error("scope upsert failed", zap.String("id", si.ID), zap.Error(err))
			}
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(seen) == 0 && len(c.hier.AllIds()) > 0 {
		// an empty page set with a non-empty cache reads as an unreachable
		// service, not an emptied scope; keep what we have
		c.log.Warn("identity service returned no identities, skipping removal sweep")
	} else {
		for _, id := range c.hier.AllIds() {
			if _, ok := seen[id]; ok {
				continue
			}
			if err := c.removeLocked(ctx, id); err != nil {
				c.log.Error("scope removal failed", zap.String("id", id), zap.Error(err))
			}
		}
	}
	c.lastCycleCompleted = c.clock.Now()
	c.signalCompleteLocked()
	metrics.RefreshCycles.Inc()
}

// InitiateRefresh asks the refresher for a full cycle. Requests inside the
// debounce window complete immediately without a cycle.
func (c *Cache) InitiateRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if !c.lastCycleStarted.IsZero() && now.Sub(c.lastCycleStarted) < c.cfg.RefreshDelay {
		c.signalCompleteLocked()
		return
	}
	// arm a fresh completion signal, then wake the refresher
	select {
	case <-c.complete:
		c.complete = make(chan struct{})
	default:
	}
	c.lastCycleStarted = now
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// WaitForCycle blocks until the pending refresh cycle completes.
func (c *Cache) WaitForCycle(ctx context.Context) error {
	c.mu.Lock()
	ch := c.complete
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastCycleCompleted returns when the last full refresh cycle finished, zero
// before the first one has.
func (c *Cache) LastCycleCompleted() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCycleCompleted
}

// RefreshIdentity refreshes one id against the service, gated by the per-id
// debounce. Identities still carrying AuthType none refresh eagerly: they
// may have been created without credentials and upgraded since.
func (c *Cache) RefreshIdentity(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.shouldRefreshLocked(id) {
		return nil
	}
	deviceID, moduleID := SplitID(id)
	si, ok := c.proxy.Identity(ctx, deviceID, moduleID)
	var err error
	if ok {
		err = c.upsertLocked(ctx, si)
	} else {
		err = c.removeLocked(ctx, id)
	}
	c.perID[id] = c.clock.Now()
	return err
}

func (c *Cache) shouldRefreshLocked(id string) bool {
	ts, ok := c.perID[id]
	if !ok {
		return true
	}
	if c.clock.Now().Sub(ts) > c.cfg.RefreshDelay {
		return true
	}
	if cur, ok := c.hier.Get(id); ok && cur.AuthType == AuthNone {
		return true
	}
	return false
}

// RefreshAuthChain refreshes every hop of the chain in order, target first.
func (c *Cache) RefreshAuthChain(ctx context.Context, chain string) error {
	for _, id := range ParseAuthChain(chain) {
		if err := c.RefreshIdentity(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Queries serialize on the cache mutex, not just the hierarchy's own lock:
// a write becomes observable only after its change event has been dispatched
// from inside the same critical section.

// ServiceIdentity returns the cached identity for id. An absent result is
// an authoritative negative: the id is not in this gateway's scope.
func (c *Cache) ServiceIdentity(id string) (ServiceIdentity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hier.Get(id)
}

// AuthChain resolves the cached auth chain for id.
func (c *Cache) AuthChain(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hier.AuthChain(id)
}

// ImmediateChildren lists the cached identities parented to deviceID.
func (c *Cache) ImmediateChildren(deviceID string) []ServiceIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hier.ImmediateChildren(deviceID)
}

func (c *Cache) upsertLocked(ctx context.Context, si ServiceIdentity) error {
	prev, had := c.hier.Get(si.ID)
	changed := !had || !prev.Equal(si)
	c.hier.InsertOrUpdate(si)
	if err := c.persistLocked(ctx, StoredIdentity{ID: si.ID, Identity: &si, Timestamp: c.clock.Now()}); err != nil {
		return err
	}
	if changed {
		c.emitLocked(IdentityChange{Kind: ChangeUpdated, ID: si.ID, Identity: si})
	}
	return nil
}

func (c *Cache) removeLocked(ctx context.Context, id string) error {
	prev, had := c.hier.Get(id)
	c.hier.Remove(id)
	if err := c.persistLocked(ctx, StoredIdentity{ID: id, Timestamp: c.clock.Now()}); err != nil {
		return err
	}
	if had && prev.Enabled() {
		c.emitLocked(IdentityChange{Kind: ChangeRemoved, ID: id})
	}
	return nil
}

func (c *Cache) persistLocked(ctx context.Context, stored StoredIdentity) error {
	raw, err := json.Marshal(stored)
	if err != nil {
		return errors.Wrapf(err, "scope: encode identity %s", stored.ID)
	}
	if err := c.db.Put(ctx, kv.Identities, []byte(stored.ID), raw); err != nil {
		return errors.Wrapf(err, "scope: persist identity %s", stored.ID)
	}
	return nil
}

func (c *Cache) emitLocked(ev IdentityChange) {
	metrics.IdentityEvents.WithLabelValues(ev.Kind.String()).Inc()
	for _, fn := range c.subs {
		fn(ev)
	}
}

func (c *Cache) signalCompleteLocked() {
	select {
	case <-c.complete:
	default:
		close(c.complete)
	}
}
