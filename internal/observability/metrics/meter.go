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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
	// Prometheus exposes /metrics from a dedicated registry.
	Prometheus bool
	Namespace  string
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: otel.Meter("noop"),
		}, nil
	}

	// Instruments bind to whatever provider the process installed globally.
	meter := otel.Meter(serviceName)

	return &Meter{
		meter: meter,
	}, nil
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// NewRecorder builds the recorder set enabled by cfg. The Prometheus
// registry is returned separately so the transport can serve it; it is nil
// when Prometheus is disabled.
func NewRecorder(ctx context.Context, cfg Config, serviceName string) (Recorder, *Prometheus, error) {
	meter, err := New(ctx, cfg, serviceName)
	if err != nil {
		return nil, nil, err
	}
	otelRecorder, err := NewOTelRecorder(meter)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Prometheus {
		return otelRecorder, nil, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "tenancy"
	}
	prom, err := NewPrometheus(namespace)
	if err != nil {
		return nil, nil, err
	}
	return Multi{otelRecorder, prom}, prom, nil
}
