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

// Package twin maintains per-client shadow documents: a desired side written
// by the cloud and consumed by the device, and a reported side written by the
// device and forwarded to the cloud. It covers the document model and its
// merge/diff algebra, durable storage, the pending reported-property queue,
// and the manager that arbitrates the two under intermittent connectivity.
package twin

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Well-known keys inside a collection.
const (
	VersionKey            = "$version"
	MetadataKey           = "$metadata"
	LastUpdatedKey        = "$lastUpdated"
	LastUpdatedVersionKey = "$lastUpdatedVersion"
)

// Collection is one side of a twin: a JSON object carrying an integer
// $version and a $metadata subtree at its root. Values are the usual JSON
// scalar/map/slice shapes; a nil value inside a patch means "remove".
type Collection map[string]any

// NewCollection returns an empty collection at version 0.
func NewCollection() Collection {
	return Collection{VersionKey: int64(0)}
}

// Version returns the collection's $version, tolerating the numeric types
// the JSON decoder may produce. Absent or malformed versions read as 0.
func (c Collection) Version() int64 {
	switch v := c[VersionKey].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

func (c Collection) SetVersion(v int64) {
	c[VersionKey] = v
}

// Metadata returns the $metadata subtree, or nil when absent.
func (c Collection) Metadata() map[string]any {
	m, _ := asMap(c[MetadataKey])
	return m
}

// Clone returns a deep copy.
func (c Collection) Clone() Collection {
	if c == nil {
		return nil
	}
	return Collection(deepCopyMap(c))
}

// Twin is the durable shadow document of a single device or module.
type Twin struct {
	Desired  Collection
	Reported Collection
}

// Empty synthesizes a twin with zero-version sides, used when neither the
// store nor the cloud has anything for an id.
func Empty() Twin {
	return Twin{Desired: NewCollection(), Reported: NewCollection()}
}

func (t Twin) Clone() Twin {
	return Twin{Desired: t.Desired.Clone(), Reported: t.Reported.Clone()}
}

// wire/storage form per the upstream schema
type twinWire struct {
	Properties struct {
		Desired  Collection `json:"desired"`
		Reported Collection `json:"reported"`
	} `json:"properties"`
}

func (t Twin) MarshalJSON() ([]byte, error) {
	var w twinWire
	w.Properties.Desired = t.Desired
	w.Properties.Reported = t.Reported
	return json.Marshal(w)
}

func (t *Twin) UnmarshalJSON(b []byte) error {
	var w twinWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	t.Desired = w.Properties.Desired
	t.Reported = w.Properties.Reported
	if t.Desired == nil {
		t.Desired = NewCollection()
	}
	if t.Reported == nil {
		t.Reported = NewCollection()
	}
	return nil
}

func encodeTwin(t Twin) ([]byte, error) {
	b, err := json.Marshal(t)
	return b, errors.Wrap(err, "twin: encode")
}

func decodeTwin(b []byte) (Twin, error) {
	var t Twin
	if err := json.Unmarshal(b, &t); err != nil {
		return Twin{}, errors.Wrap(err, "twin: decode")
	}
	return t, nil
}

func encodeCollection(c Collection) ([]byte, error) {
	b, err := json.Marshal(map[string]any(c))
	return b, errors.Wrap(err, "twin: encode collection")
}

func decodeCollection(b []byte) (Collection, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "twin: decode collection")
	}
	return Collection(m), nil
}

// AnnotateMetadata returns a copy of patch whose $metadata subtree mirrors the
// patch structure, every node stamped with $lastUpdated (UTC) and
// $lastUpdatedVersion. Removal leaves (nil values) are not stamped; Merge
// prunes their old metadata instead. $version is left untouched.
func AnnotateMetadata(patch Collection, now time.Time, version int64) Collection {
	out := patch.Clone()
	if out == nil {
		out = Collection{}
	}
	ts := now.UTC().Format(time.RFC3339Nano)
	md := buildMetadata(out, ts, version)
	if existing, ok := asMap(out[MetadataKey]); ok {
		md = mergeMaps(existing, md)
	}
	out[MetadataKey] = md
	return out
}

func buildMetadata(m map[string]any, ts string, version int64) map[string]any {
	md := make(map[string]any, len(m))
	for k, v := range m {
		if len(k) > 0 && k[0] == '$' {
			continue
		}
		if v == nil {
			continue
		}
		if vm, ok := asMap(v); ok {
			sub := buildMetadata(vm, ts, version)
			sub[LastUpdatedKey] = ts
			sub[LastUpdatedVersionKey] = version
			md[k] = sub
			continue
		}
		md[k] = map[string]any{
			LastUpdatedKey:        ts,
			LastUpdatedVersionKey: version,
		}
	}
	return md
}
