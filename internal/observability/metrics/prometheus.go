// Copyright 2026 The OpenTrusty Authors
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

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gristgate"

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	// Proxy metrics
	ProxyRequestTotal    *prometheus.CounterVec
	ProxyRequestDuration *prometheus.HistogramVec

	// Session token metrics
	SessionTokensIssued prometheus.Counter
	SessionTokensDenied *prometheus.CounterVec
	ActiveSessionTokens prometheus.Gauge
	SessionTokensPurged prometheus.Counter

	// Tool metrics
	ToolCallTotal *prometheus.CounterVec

	// Auth metrics
	AuthenticationTotal *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates and registers all metrics
func New(registry *prometheus.Registry) *Metrics {
	f := promauto.With(registry)

	return &Metrics{
		ProxyRequestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total number of proxy requests by method and result code",
			},
			[]string{"method", "code"},
		),

		ProxyRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "Histogram of proxy request latencies",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		SessionTokensIssued: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "tokens_issued_total",
				Help:      "Total number of session tokens issued",
			},
		),

		SessionTokensDenied: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "tokens_denied_total",
				Help:      "Session token requests refused, by reason",
			},
			[]string{"reason"},
		),

		ActiveSessionTokens: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "tokens_active",
				Help:      "Session tokens currently held in memory",
			},
		),

		SessionTokensPurged: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "tokens_purged_total",
				Help:      "Expired session tokens evicted from memory",
			},
		),

		ToolCallTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tools",
				Name:      "calls_total",
				Help:      "Total number of tool calls by tool and result",
			},
			[]string{"tool", "result"},
		),

		AuthenticationTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "attempts_total",
				Help:      "Authentication attempts by surface and result",
			},
			[]string{"surface", "result"},
		),

		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
	}
}

// NewRegistry returns a registry preloaded with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// Handler exposes the registry for scraping.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics:   true,
		MaxRequestsInFlight: 10,
		Timeout:             30 * time.Second,
		ErrorHandling:       promhttp.ContinueOnError,
	})
}

// RecordProxyRequest records a completed proxy request.
func (m *Metrics) RecordProxyRequest(method, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProxyRequestTotal.WithLabelValues(method, code).Inc()
	m.ProxyRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordToolCall records a tool call outcome.
func (m *Metrics) RecordToolCall(tool, result string) {
	if m == nil {
		return
	}
	m.ToolCallTotal.WithLabelValues(tool, result).Inc()
}

// RecordAuthentication records an authentication attempt.
func (m *Metrics) RecordAuthentication(surface string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.AuthenticationTotal.WithLabelValues(surface, result).Inc()
}
