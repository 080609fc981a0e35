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

// TopicDesiredUpdates is the subscription topic a client registers to
// receive desired-property patches.
const TopicDesiredUpdates = "twin/desired"

// DeviceProxy delivers messages to one locally connected client. Delivery
// may fail transiently; the core fires once and never retries synchronously,
// QoS belongs to the transport.
type DeviceProxy interface {
	OnDesiredPropertyUpdates(ctx context.Context, patch Collection) error
}

// ConnectionManager is the transport-side registry of locally connected
// clients and their subscriptions.
type ConnectionManager interface {
	IsSubscribed(id, topic string) bool
	Proxy(id string) (DeviceProxy, bool)
	ConnectedClients() []string
}

// NoClients is a ConnectionManager with nobody connected.
type NoClients struct{}

func (NoClients) IsSubscribed(string, string) bool { return false }
func (NoClients) Proxy(string) (DeviceProxy, bool) { return nil, false }
func (NoClients) ConnectedClients() []string       { return nil }
