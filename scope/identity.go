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

// Package scope caches the set of service identities authorized to connect
// through this gateway and its descendants: a persisted hierarchical cache
// refreshed against the remote identity service, with auth-chain resolution
// for nested gateways and change events on every scope transition.
package scope

import (
	"strings"
	"time"
)

// Kind of a service identity.
type Kind string

const (
	KindDevice Kind = "device"
	KindModule Kind = "module"
)

// AuthType of a service identity's credentials.
type AuthType string

const (
	AuthSAS            AuthType = "sas"
	AuthX509CaSigned   AuthType = "x509CaSigned"
	AuthX509Thumbprint AuthType = "x509Thumbprint"
	// AuthNone marks identities created before credentials were assigned;
	// they refresh eagerly until an auth type shows up.
	AuthNone AuthType = "none"
)

// Status of a service identity.
type Status string

const (
	Enabled  Status = "enabled"
	Disabled Status = "disabled"
)

// AuthSecrets carries the opaque credential material of an identity.
// Parsing and verification belong to the credential layer, not the cache.
type AuthSecrets struct {
	PrimaryKey          string `json:"primaryKey,omitempty"`
	SecondaryKey        string `json:"secondaryKey,omitempty"`
	PrimaryThumbprint   string `json:"primaryThumbprint,omitempty"`
	SecondaryThumbprint string `json:"secondaryThumbprint,omitempty"`
}

// ServiceIdentity is one authorization record from the identity service.
// Module ids compose as "<deviceId>/<moduleId>" with the device as parent.
type ServiceIdentity struct {
	ID          string      `json:"id"`
	Kind        Kind        `json:"kind"`
	ParentID    string      `json:"parentId,omitempty"`
	AuthType    AuthType    `json:"authType"`
	Status      Status      `json:"status"`
	DeviceScope string      `json:"deviceScope,omitempty"`
	AuthSecrets AuthSecrets `json:"authSecrets"`
}

func (si ServiceIdentity) Enabled() bool { return si.Status == Enabled }

// Equal is structural equality; refresh uses it to decide whether an
// update event is due.
func (si ServiceIdentity) Equal(other ServiceIdentity) bool { return si == other }

// Parent returns the effective parent id: the explicit one when set, the
// device part for modules otherwise.
func (si ServiceIdentity) Parent() string {
	if si.ParentID != "" {
		return si.ParentID
	}
	if si.Kind == KindModule {
		device, _ := SplitID(si.ID)
		return device
	}
	return ""
}

// ModuleID composes the id of a module on a device.
func ModuleID(deviceID, moduleID string) string {
	return deviceID + "/" + moduleID
}

// SplitID splits an id into device and module parts; the module part is
// empty for device ids.
func SplitID(id string) (deviceID, moduleID string) {
	deviceID, moduleID, _ = strings.Cut(id, "/")
	return deviceID, moduleID
}

// StoredIdentity is the persisted form of a cache entry. A nil Identity is a
// tombstone: the id was seen once but the last refresh put it out of scope.
type StoredIdentity struct {
	ID        string           `json:"id"`
	Identity  *ServiceIdentity `json:"identity"`
	Timestamp time.Time        `json:"timestamp"`
}

// ChainSep separates the hops of an auth chain, target first, gateway root
// last.
const ChainSep = ";"

// JoinAuthChain renders a hop list as a chain string.
func JoinAuthChain(hops []string) string {
	return strings.Join(hops, ChainSep)
}

// ParseAuthChain splits a chain string into its hop ids, dropping empty
// segments.
func ParseAuthChain(chain string) []string {
	parts := strings.Split(chain, ChainSep)
	hops := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			hops = append(hops, p)
		}
	}
	return hops
}
