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

// Package metrics registers the gateway core's counters on the default
// prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "edgehub"

var (
	// TwinCloudFetches counts GetTwin round-trips by result (ok|unreachable).
	TwinCloudFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "twin",
		Name:      "cloud_fetches_total",
		Help:      "Cloud twin fetch attempts by result.",
	}, []string{"result"})

	// ReportedSyncs counts upstream reported-property pushes by result.
	ReportedSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "twin",
		Name:      "reported_syncs_total",
		Help:      "Reported-property drain attempts by result.",
	}, []string{"result"})

	// DesiredFanouts counts desired-property patches delivered to local
	// clients.
	DesiredFanouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "twin",
		Name:      "desired_fanouts_total",
		Help:      "Desired-property patches sent to subscribed clients.",
	})

	// RefreshCycles counts completed identity scope refresh cycles.
	RefreshCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scope",
		Name:      "refresh_cycles_total",
		Help:      "Completed identity refresh cycles.",
	})

	// IdentityEvents counts emitted scope change events by kind.
	IdentityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scope",
		Name:      "identity_events_total",
		Help:      "Identity change events by kind.",
	}, []string{"kind"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
