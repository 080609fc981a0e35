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

package kv

// DBSchemaVersion versions list
// 1.0 - initial layout: Twin, ReportedPending, Identity, DbInfo
// 1.1 - Identity rows keep tombstones (value with null identity) instead of
//
//	being deleted, so out-of-scope ids survive a restart
var DBSchemaVersion = Version{Major: 1, Minor: 1, Patch: 0}

// Version of the database schema.
type Version struct {
	Major, Minor, Patch uint32
}

const (
	// Twins
	// key - device id, or "<deviceId>/<moduleId>" for modules
	// value - twin JSON: {"properties":{"desired":{...},"reported":{...}}}
	Twins = "Twin"

	// ReportedPending holds reported-property patches that were applied
	// locally but not yet pushed upstream.
	// key - device/module id
	// value - pending collection JSON (row absent when nothing is pending)
	ReportedPending = "ReportedPending"

	// Identities
	// key - device/module id
	// value - stored identity JSON; a row with "identity": null is a
	// tombstone for an id the last refresh no longer observed
	Identities = "Identity"

	// DatabaseInfo is used to store information about data layout.
	DatabaseInfo = "DbInfo"
)

// Tables is the complete list of named tables a Store must provide.
var Tables = []string{
	Twins,
	ReportedPending,
	Identities,
	DatabaseInfo,
}
