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

// Package config loads the gateway core's settings from TOML. Durations are
// written as strings ("2m", "1h") and parsed by Validate, which every load
// path runs.
package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

type Config struct {
	Twin        Twin  `toml:"twin"`
	Scope       Scope `toml:"scope"`
	LockStripes int   `toml:"lock_stripes"`
}

type Twin struct {
	MinSyncPeriodStr        string `toml:"min_sync_period"`
	ReportedSyncIntervalStr string `toml:"reported_sync_interval"`

	MinSyncPeriod        time.Duration `toml:"-"`
	ReportedSyncInterval time.Duration `toml:"-"`
}

type Scope struct {
	RefreshIntervalStr string `toml:"refresh_interval"`
	RefreshDelayStr    string `toml:"refresh_delay"`

	RefreshInterval time.Duration `toml:"-"`
	RefreshDelay    time.Duration `toml:"-"`
}

// Default returns the documented defaults, already validated.
func Default() *Config {
	c := &Config{
		Twin: Twin{
			MinSyncPeriodStr:        "2m",
			ReportedSyncIntervalStr: "5s",
		},
		Scope: Scope{
			RefreshIntervalStr: "1h",
			RefreshDelayStr:    "5m",
		},
		LockStripes: 10,
	}
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}

// Load reads path over the defaults. Settings absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}
	if err := toml.Unmarshal(raw, c); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config: %s", path)
	}
	return c, nil
}

// Validate parses the duration strings and rejects non-positive settings.
func (c *Config) Validate() error {
	var err error
	if c.Twin.MinSyncPeriod, err = parsePositive("twin.min_sync_period", c.Twin.MinSyncPeriodStr); err != nil {
		return err
	}
	if c.Twin.ReportedSyncInterval, err = parsePositive("twin.reported_sync_interval", c.Twin.ReportedSyncIntervalStr); err != nil {
		return err
	}
	if c.Scope.RefreshInterval, err = parsePositive("scope.refresh_interval", c.Scope.RefreshIntervalStr); err != nil {
		return err
	}
	if c.Scope.RefreshDelay, err = parsePositive("scope.refresh_delay", c.Scope.RefreshDelayStr); err != nil {
		return err
	}
	if c.LockStripes <= 0 {
		return errors.Errorf("config: lock_stripes must be positive, got %d", c.LockStripes)
	}
	return nil
}

func parsePositive(name, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "config: %s", name)
	}
	if d <= 0 {
		return 0, errors.Errorf("config: %s must be positive, got %s", name, d)
	}
	return d, nil
}
