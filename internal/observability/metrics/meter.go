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
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// NewMeter returns a meter from the global provider, or a no-op meter when disabled.
func NewMeter(cfg Config, serviceName string) *Meter {
	if !cfg.Enabled {
		return &Meter{meter: noop.NewMeterProvider().Meter(serviceName)}
	}
	return &Meter{meter: otel.Meter(serviceName)}
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// UpstreamInstruments records calls made to the Grist API.
type UpstreamInstruments struct {
	latency metric.Float64Histogram
	errors  metric.Int64Counter
}

// NewUpstreamInstruments creates the upstream latency histogram and error counter.
func (m *Meter) NewUpstreamInstruments() (*UpstreamInstruments, error) {
	latency, err := m.meter.Float64Histogram(
		"gristgate.upstream.duration",
		metric.WithDescription("Latency of Grist API calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}

	errs, err := m.meter.Int64Counter(
		"gristgate.upstream.errors",
		metric.WithDescription("Grist API calls that returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	return &UpstreamInstruments{latency: latency, errors: errs}, nil
}

// Record stores one upstream call. A nil receiver is a no-op.
func (u *UpstreamInstruments) Record(ctx context.Context, operation string, elapsed time.Duration, err error) {
	if u == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	u.latency.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		u.errors.Add(ctx, 1, attrs)
	}
}
