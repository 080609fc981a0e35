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
)

type reportedCall struct {
	id    string
	patch Collection
}

// fakeCloud scripts upstream behavior per test.
type fakeCloud struct {
	mu        sync.Mutex
	twins     map[string]Twin
	reachable bool
	// results are consumed per UpdateReported call; when exhausted the
	// fallback result applies.
	results  []UpdateResult
	fallback UpdateResult
	calls    []reportedCall
	block    chan struct{} // when set, UpdateReported waits on it
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{twins: make(map[string]Twin), reachable: true, fallback: UpdateOK}
}

func (f *fakeCloud) setTwin(id string, tw Twin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.twins[id] = tw
}

func (f *fakeCloud) GetTwin(_ context.Context, id string) (Twin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.reachable {
		return Twin{}, false
	}
	tw, ok := f.twins[id]
	if !ok {
		return Twin{}, false
	}
	return tw.Clone(), true
}

func (f *fakeCloud) UpdateReported(_ context.Context, id string, patch Collection) UpdateResult {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reportedCall{id: id, patch: patch.Clone()})
	if len(f.results) > 0 {
		res := f.results[0]
		f.results = f.results[1:]
		return res
	}
	return f.fallback
}

func (f *fakeCloud) SendDesiredPatch(context.Context, string, Collection) {}

func (f *fakeCloud) reportedCalls() []reportedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]reportedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// recordingProxy captures desired-property fanouts.
type recordingProxy struct {
	mu      sync.Mutex
	patches []Collection
	fail    error
}

func (p *recordingProxy) OnDesiredPropertyUpdates(_ context.Context, patch Collection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.patches = append(p.patches, patch.Clone())
	return nil
}

func (p *recordingProxy) received() []Collection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Collection, len(p.patches))
	copy(out, p.patches)
	return out
}

// fakeConns wires ids to proxies and subscriptions.
type fakeConns struct {
	mu         sync.Mutex
	subscribed map[string]bool
	proxies    map[string]*recordingProxy
	connected  []string
}

func newFakeConns() *fakeConns {
	return &fakeConns{subscribed: make(map[string]bool), proxies: make(map[string]*recordingProxy)}
}

func (c *fakeConns) connect(id string, subscribe bool) *recordingProxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &recordingProxy{}
	c.proxies[id] = p
	c.subscribed[id] = subscribe
	c.connected = append(c.connected, id)
	return p
}

func (c *fakeConns) IsSubscribed(id, topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return topic == TopicDesiredUpdates && c.subscribed[id]
}

func (c *fakeConns) Proxy(id string) (DeviceProxy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.proxies[id]
	return p, ok
}

func (c *fakeConns) ConnectedClients() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.connected))
	copy(out, c.connected)
	return out
}
