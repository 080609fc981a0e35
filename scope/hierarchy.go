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
	"sort"
	"sync"

	"github.com/tidwall/btree"
)

// Hierarchy is the in-memory forest of scoped identities, keyed and ordered
// by id. Traversal is by index lookup only - nodes hold no pointers, so a
// replaced or removed node can never leave a dangling edge.
type Hierarchy struct {
	mu     sync.RWMutex
	rootID string
	nodes  *btree.Map[string, ServiceIdentity]
	// parent id -> set of child ids; entries survive the parent's removal so
	// detached children re-attach when the parent reappears
	children map[string]map[string]struct{}
}

// NewHierarchy creates an empty hierarchy rooted at the gateway's own
// identity id. Auth chains must terminate at rootID to be valid.
func NewHierarchy(rootID string) *Hierarchy {
	return &Hierarchy{
		rootID:   rootID,
		nodes:    btree.NewMap[string, ServiceIdentity](32),
		children: make(map[string]map[string]struct{}),
	}
}

// RootID returns the gateway's self identity id.
func (h *Hierarchy) RootID() string { return h.rootID }

// InsertOrUpdate replaces the node for the identity's id, preserving its
// children.
func (h *Hierarchy) InsertOrUpdate(si ServiceIdentity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.nodes.Get(si.ID); ok {
		if p := prev.Parent(); p != si.Parent() {
			h.unlink(p, si.ID)
		}
	}
	h.nodes.Set(si.ID, si)
	if p := si.Parent(); p != "" {
		set, ok := h.children[p]
		if !ok {
			set = make(map[string]struct{})
			h.children[p] = set
		}
		set[si.ID] = struct{}{}
	}
}

// Remove deletes the subtree root only. Its children stay in the forest,
// detached: their auth chains resolve empty until the parent reappears.
func (h *Hierarchy) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, ok := h.nodes.Delete(id)
	if !ok {
		return
	}
	h.unlink(prev.Parent(), id)
}

func (h *Hierarchy) unlink(parent, id string) {
	if parent == "" {
		return
	}
	if set, ok := h.children[parent]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(h.children, parent)
		}
	}
}

func (h *Hierarchy) Get(id string) (ServiceIdentity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.nodes.Get(id)
}

// AllIds returns every id in the forest in ascending order.
func (h *Hierarchy) AllIds() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, h.nodes.Len())
	h.nodes.Scan(func(id string, _ ServiceIdentity) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// ImmediateChildren returns the identities directly parented to id, sorted
// by id.
func (h *Hierarchy) ImmediateChildren(id string) []ServiceIdentity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.children[id]
	out := make([]ServiceIdentity, 0, len(set))
	for cid := range set {
		if si, ok := h.nodes.Get(cid); ok {
			out = append(out, si)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AuthChain resolves the chain from id up to the gateway root. It returns
// false when any hop is missing or disabled, or when the walk does not
// terminate at the root.
func (h *Hierarchy) AuthChain(id string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var hops []string
	visited := make(map[string]struct{})
	cur := id
	for {
		si, ok := h.nodes.Get(cur)
		if !ok || !si.Enabled() {
			return "", false
		}
		hops = append(hops, cur)
		if cur == h.rootID {
			return JoinAuthChain(hops), true
		}
		parent := si.Parent()
		if parent == "" {
			return "", false
		}
		if _, seen := visited[cur]; seen {
			return "", false
		}
		visited[cur] = struct{}{}
		cur = parent
	}
}
