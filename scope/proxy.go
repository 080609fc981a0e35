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

import "context"

// IdentityIterator pages through the identities in this gateway's scope.
// Page size is the implementation's choice; transport errors surface as an
// empty page with HasNext turning false, never as a Go error.
type IdentityIterator interface {
	HasNext() bool
	Next(ctx context.Context) []ServiceIdentity
}

// Proxy is the seam to the remote identity service.
type Proxy interface {
	Iterator() IdentityIterator
	// Identity looks up one device or module. moduleID is empty for
	// devices. The bool is false when the id is out of scope or the service
	// is unreachable.
	Identity(ctx context.Context, deviceID, moduleID string) (ServiceIdentity, bool)
}

// OfflineProxy is the Proxy of a gateway with no upstream: the scope is
// whatever the persisted cache says, nothing refreshes.
type OfflineProxy struct{}

func (OfflineProxy) Iterator() IdentityIterator { return exhaustedIterator{} }

func (OfflineProxy) Identity(context.Context, string, string) (ServiceIdentity, bool) {
	return ServiceIdentity{}, false
}

type exhaustedIterator struct{}

func (exhaustedIterator) HasNext() bool                          { return false }
func (exhaustedIterator) Next(context.Context) []ServiceIdentity { return nil }
