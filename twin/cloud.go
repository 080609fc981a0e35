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

import "context"

// UpdateResult classifies the outcome of pushing reported properties
// upstream.
type UpdateResult int

const (
	// UpdateOK - the cloud accepted the patch.
	UpdateOK UpdateResult = iota
	// UpdateTransient - temporary failure; the queue backs off and retries.
	UpdateTransient
	// UpdatePermanent - the cloud rejected the patch; retrying is pointless
	// and the pending entry is dropped.
	UpdatePermanent
)

func (r UpdateResult) String() string {
	switch r {
	case UpdateOK:
		return "ok"
	case UpdateTransient:
		return "transient"
	case UpdatePermanent:
		return "permanent"
	}
	return "unknown"
}

// CloudSync is the upstream seam. Implementations own their transport,
// timeouts and authentication; from the core's point of view a timed-out
// call is indistinguishable from an unreachable cloud.
type CloudSync interface {
	// GetTwin pulls the authoritative twin. The bool is false when the cloud
	// is unreachable or does not know the id; it never errors.
	GetTwin(ctx context.Context, id string) (Twin, bool)
	// UpdateReported pushes a reported-property patch upstream.
	UpdateReported(ctx context.Context, id string, patch Collection) UpdateResult
	// SendDesiredPatch delivers a desired-property patch to the local proxy
	// for deviceID if one is subscribed; otherwise it is a no-op.
	SendDesiredPatch(ctx context.Context, deviceID string, patch Collection)
}

// OfflineCloudSync is the CloudSync of a gateway with no upstream: every
// read misses and every push is a transient failure, so state accumulates
// locally until a real bridge takes over.
type OfflineCloudSync struct{}

func (OfflineCloudSync) GetTwin(context.Context, string) (Twin, bool) { return Twin{}, false }

func (OfflineCloudSync) UpdateReported(context.Context, string, Collection) UpdateResult {
	return UpdateTransient
}

func (OfflineCloudSync) SendDesiredPatch(context.Context, string, Collection) {}
