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
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/richma-ms/iotedge/keylock"
	"github.com/richma-ms/iotedge/kv/memdb"
)

func newTestStore(t *testing.T) (*Store, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	db := memdb.New()
	t.Cleanup(func() { db.Close() })
	return NewStore(db, keylock.New(0), clock, nil), clock
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, found, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	require.False(t, found)

	tw := Empty()
	tw.Desired["color"] = "red"
	tw.Desired.SetVersion(3)
	require.NoError(t, s.Put(ctx, "d1", tw))

	got, found, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(3), got.Desired.Version())
	require.Equal(t, "red", got.Desired["color"])
}

func TestApplyDesiredCreatesTwin(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	patch := Collection{VersionKey: int64(1), "color": "blue"}
	require.NoError(t, s.ApplyDesired(ctx, "d1", patch))

	got, found, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(1), got.Desired.Version())
	require.Equal(t, "blue", got.Desired["color"])
	require.Equal(t, int64(0), got.Reported.Version(), "default reported side")
}

func TestApplyReportedBumpsVersionAndStampsMetadata(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	require.NoError(t, s.ApplyReported(ctx, "d1", Collection{"temp": 21}))
	require.NoError(t, s.ApplyReported(ctx, "d1", Collection{"humidity": 40}))

	got, _, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Reported.Version())
	require.EqualValues(t, 21, got.Reported["temp"])
	require.EqualValues(t, 40, got.Reported["humidity"])

	md := got.Reported.Metadata()
	require.NotNil(t, md)
	tempMd, ok := md["temp"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 1, tempMd[LastUpdatedVersionKey])
	_ = clock
}

func TestApplyReportedMergedSizeLimit(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	big := Empty()
	big.Reported["blob"] = strings.Repeat("x", int(MaxTwinDocumentSize.Bytes()))
	require.NoError(t, s.Put(ctx, "d1", big))

	err := s.ApplyReported(ctx, "d1", Collection{"k": 1})
	require.True(t, errors.Is(err, ErrTooLarge), "got %v", err)

	// nothing mutated
	got, _, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Reported.Version())
	require.NotContains(t, got.Reported, "k")
}

func TestApplyReportedVersionCeiling(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	tw := Empty()
	tw.Reported.SetVersion(MaxVersion)
	require.NoError(t, s.Put(ctx, "d1", tw))

	err := s.ApplyReported(ctx, "d1", Collection{"k": 1})
	require.True(t, errors.Is(err, ErrVersionOverflow), "got %v", err)
}
