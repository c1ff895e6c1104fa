// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics defines the Prometheus collectors shared across the
// engine. Collectors register themselves via promauto on the default
// registry; serve them with promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsLive tracks the number of sessions currently pooled.
	SessionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "switchboard_sessions_live",
		Help: "Number of sessions currently in the pool",
	})

	// SessionsCreated counts sessions successfully connected and pooled.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "switchboard_sessions_created_total",
		Help: "Total sessions created and connected",
	})

	// SessionConnectFailures counts failed connection attempts.
	SessionConnectFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "switchboard_session_connect_failures_total",
		Help: "Total session connection failures",
	})

	// SessionsEvicted counts sessions removed from the pool by reason.
	SessionsEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_sessions_evicted_total",
			Help: "Total sessions evicted from the pool by reason",
		},
		[]string{"reason"},
	)

	// DiscoveryDuration tracks per-server capability discovery latency.
	DiscoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchboard_discovery_duration_seconds",
			Help:    "Duration of per-server capability discovery",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "status"},
	)

	// ToolCalls counts tool invocations by server, tool and status.
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_tool_calls_total",
			Help: "Total tool calls by server, tool and status",
		},
		[]string{"server", "tool", "status"},
	)

	// ToolCallDuration tracks tool invocation latency.
	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchboard_tool_call_duration_seconds",
			Help:    "Duration of tool calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "tool"},
	)

	// ModelRounds counts model conversation rounds by provider and
	// whether tools were offered.
	ModelRounds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_model_rounds_total",
			Help: "Total model conversation rounds by provider and round",
		},
		[]string{"provider", "round"},
	)

	// ModelRoundDuration tracks model round-trip latency by provider.
	ModelRoundDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchboard_model_round_duration_seconds",
			Help:    "Duration of model completion round trips",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "round"},
	)

	// ModelTokens counts tokens consumed by provider and direction.
	ModelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchboard_model_tokens_total",
			Help: "Total model tokens by provider and direction",
		},
		[]string{"provider", "direction"},
	)

	// RequestDuration tracks end-to-end execute latency by outcome.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchboard_request_duration_seconds",
			Help:    "End-to-end execute request duration",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)
)
