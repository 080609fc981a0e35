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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Default()
	require.Equal(t, 2*time.Minute, c.Twin.MinSyncPeriod)
	require.Equal(t, 5*time.Second, c.Twin.ReportedSyncInterval)
	require.Equal(t, time.Hour, c.Scope.RefreshInterval)
	require.Equal(t, 5*time.Minute, c.Scope.RefreshDelay)
	require.Equal(t, 10, c.LockStripes)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgehub.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
lock_stripes = 32

[twin]
min_sync_period = "90s"

[scope]
refresh_delay = "10m"
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 32, c.LockStripes)
	require.Equal(t, 90*time.Second, c.Twin.MinSyncPeriod)
	require.Equal(t, 5*time.Second, c.Twin.ReportedSyncInterval, "untouched settings keep defaults")
	require.Equal(t, 10*time.Minute, c.Scope.RefreshDelay)
	require.Equal(t, time.Hour, c.Scope.RefreshInterval)
}

func TestLoadRejectsBadDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgehub.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[twin]
min_sync_period = "soon"
`), 0o644))
	_, err := Load(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
[scope]
refresh_delay = "-5m"
`), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}
