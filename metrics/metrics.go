// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics declares the router's Prometheus series, grounded on the
// teacher's controller/metrics.go: promauto-registered collectors under a
// single namespace, one var block, scraped through server's existing admin
// HTTP mux.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/h2amqp-router/common"
)

var (
	uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "uptime",
			Help:      "Uptime in seconds",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "git_hash", "build_time"},
	)

	connectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "connections_active",
			Help:      "Active HTTP/2 adaptor connections",
		},
		[]string{"direction"},
	)

	streamsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "streams_active",
			Help:      "Active HTTP/2 streams",
		},
		[]string{"direction"},
	)

	streamBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "stream_bytes_total",
			Help:      "Bytes transferred per stream direction",
		},
		[]string{"direction", "way"}, // way: in|out
	)

	q2Blocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "q2_blocked_total",
			Help:      "Number of times a message content entered Q2 backpressure",
		},
		[]string{"direction"},
	)

	q2Unblocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "q2_unblocked_total",
			Help:      "Number of times a message content drained out of Q2 backpressure",
		},
		[]string{"direction"},
	)

	goawaySent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "goaway_sent_total",
			Help:      "GOAWAY frames sent, by HTTP/2 error code",
		},
		[]string{"code"},
	)

	reconnectsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "egress_reconnects_scheduled_total",
			Help:      "Egress reconnect timers scheduled",
		},
	)

	cutThroughStalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "cut_through_stalls_total",
			Help:      "Cut-through ring stall events",
		},
		[]string{"direction"},
	)
)

// SetUptime records the process uptime in seconds.
func SetUptime(seconds float64) { uptime.Set(seconds) }

// SetBuildInfo publishes the one-time build-info series.
func SetBuildInfo(version, gitHash, buildTime string) {
	buildInfo.WithLabelValues(version, gitHash, buildTime).Set(1)
}

// ConnectionOpened/ConnectionClosed track active adaptor connections by
// direction ("ingress"/"egress").
func ConnectionOpened(direction string) { connectionsActive.WithLabelValues(direction).Inc() }
func ConnectionClosed(direction string) { connectionsActive.WithLabelValues(direction).Dec() }

// StreamOpened/StreamClosed track active HTTP/2 streams by direction.
func StreamOpened(direction string) { streamsActive.WithLabelValues(direction).Inc() }
func StreamClosed(direction string) { streamsActive.WithLabelValues(direction).Dec() }

// AddStreamBytes accumulates transferred bytes, way is "in" or "out".
func AddStreamBytes(direction, way string, n int) {
	streamBytes.WithLabelValues(direction, way).Add(float64(n))
}

// Q2Blocked/Q2Unblocked count backpressure transitions.
func Q2Blocked(direction string)   { q2Blocked.WithLabelValues(direction).Inc() }
func Q2Unblocked(direction string) { q2Unblocked.WithLabelValues(direction).Inc() }

// GoAwaySent counts a GOAWAY emission by HTTP/2 error code name.
func GoAwaySent(code string) { goawaySent.WithLabelValues(code).Inc() }

// ReconnectScheduled counts a debounced egress reconnect timer arming.
func ReconnectScheduled() { reconnectsScheduled.Inc() }

// CutThroughStalled counts a cut-through ring reaching capacity.
func CutThroughStalled(direction string) { cutThroughStalls.WithLabelValues(direction).Inc() }
