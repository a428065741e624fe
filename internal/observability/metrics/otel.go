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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelRecorder records tenancy metrics on an OpenTelemetry meter.
type OTelRecorder struct {
	resolutions metric.Int64Counter
	invitations metric.Int64Counter
	jobRuns     metric.Int64Counter
	jobDuration metric.Float64Histogram
}

// NewOTelRecorder creates the tenancy instruments on m.
func NewOTelRecorder(m *Meter) (*OTelRecorder, error) {
	resolutions, err := m.CreateCounter("tenancy.resolutions", "Tenant resolutions by method and outcome")
	if err != nil {
		return nil, err
	}
	invitations, err := m.CreateCounter("tenancy.invitations", "Invitation lifecycle events")
	if err != nil {
		return nil, err
	}
	jobRuns, err := m.CreateCounter("tenancy.job.runs", "Scheduled job runs by status")
	if err != nil {
		return nil, err
	}
	jobDuration, err := m.CreateHistogram("tenancy.job.duration", "Scheduled job duration", "s")
	if err != nil {
		return nil, err
	}
	return &OTelRecorder{
		resolutions: resolutions,
		invitations: invitations,
		jobRuns:     jobRuns,
		jobDuration: jobDuration,
	}, nil
}

func (r *OTelRecorder) RecordResolution(ctx context.Context, method, outcome string) {
	r.resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}

func (r *OTelRecorder) RecordInvitation(ctx context.Context, event string) {
	r.invitations.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func (r *OTelRecorder) RecordJobRun(ctx context.Context, job string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.jobRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("status", status),
	))
	r.jobDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("job", job)))
}
