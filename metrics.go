// Copyright 2024 The cqlsession Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cqlsession

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "cqlsession"

type sessionMetrics struct {
	dials            prometheus.Counter
	dialFailures     prometheus.Counter
	trashcanDeposits prometheus.Counter
	trashcanRecycles prometheus.Counter
	trashcanReaps    prometheus.Counter
	noHostAvailable  prometheus.Counter
	openConnections  prometheus.Gauge
}

// newSessionMetrics builds the session's metrics. A nil registerer
// yields working but unregistered collectors.
func newSessionMetrics(registerer prometheus.Registerer) *sessionMetrics {
	factory := promauto.With(registerer)
	return &sessionMetrics{
		dials: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dials_total",
			Help:      "Connection dial attempts.",
		}),
		dialFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dial_failures_total",
			Help:      "Connection dial attempts that failed.",
		}),
		trashcanDeposits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "trashcan_deposits_total",
			Help:      "Connections soft-retired to the trashcan.",
		}),
		trashcanRecycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "trashcan_recycles_total",
			Help:      "Connections recycled from the trashcan.",
		}),
		trashcanReaps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "trashcan_reaps_total",
			Help:      "Trashed connections closed after the TTL.",
		}),
		noHostAvailable: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "no_host_available_total",
			Help:      "Dispatches that exhausted their query plan.",
		}),
		openConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "open_connections",
			Help:      "Connections currently open, pooled or trashed.",
		}),
	}
}
