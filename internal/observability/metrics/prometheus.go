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
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus records tenancy metrics on its own registry and serves them.
type Prometheus struct {
	registry    *prometheus.Registry
	resolutions *prometheus.CounterVec
	invitations *prometheus.CounterVec
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// NewPrometheus creates a registry with the Go and process collectors and
// the tenancy collectors registered.
func NewPrometheus(namespace string) (*Prometheus, error) {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Total number of tenant resolutions by method and outcome",
		}, []string{"method", "outcome"}),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invitations_total",
			Help:      "Total number of invitation lifecycle events",
		}, []string{"event"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs by status",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_run_duration_seconds",
			Help:      "Duration of scheduled job runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"job"}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.resolutions,
		p.invitations,
		p.jobRuns,
		p.jobDuration,
	} {
		if err := p.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return p, nil
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *Prometheus) RecordResolution(_ context.Context, method, outcome string) {
	p.resolutions.WithLabelValues(method, outcome).Inc()
}

func (p *Prometheus) RecordInvitation(_ context.Context, event string) {
	p.invitations.WithLabelValues(event).Inc()
}

func (p *Prometheus) RecordJobRun(_ context.Context, job string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.jobRuns.WithLabelValues(job, status).Inc()
	p.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}
