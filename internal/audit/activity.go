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

package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/opentrusty/tenancy/internal/id"
)

// Activity is a persisted, tenant-scoped audit record.
type Activity struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	ActorID   string         `json:"actor_id,omitempty"`
	Action    string         `json:"action"`
	Entity    EntityRef      `json:"-"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ActivityRepository stores activity rows in the tenant-scoped table.
type ActivityRepository interface {
	Append(ctx context.Context, a *Activity) error
	List(ctx context.Context, tenantID string, limit int) ([]*Activity, error)
}

// ActivityLogger persists tenant-scoped events after forwarding them to next.
// Events without a tenant or entity are only forwarded.
type ActivityLogger struct {
	next Logger
	repo ActivityRepository
}

// NewActivityLogger creates a logger writing to repo and next.
func NewActivityLogger(next Logger, repo ActivityRepository) *ActivityLogger {
	return &ActivityLogger{next: next, repo: repo}
}

// Log records the event.
func (l *ActivityLogger) Log(ctx context.Context, event Event) {
	if l.next != nil {
		l.next.Log(ctx, event)
	}
	if event.TenantID == "" || event.Entity == nil {
		return
	}

	createdAt := event.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	metadata := make(map[string]any, len(event.Metadata))
	for k, v := range event.Metadata {
		if isSecret(k) {
			continue
		}
		metadata[k] = v
	}

	a := &Activity{
		ID:        id.NewUUIDv7(),
		TenantID:  event.TenantID,
		ActorID:   event.ActorID,
		Action:    event.Type,
		Entity:    event.Entity,
		Metadata:  metadata,
		CreatedAt: createdAt,
	}
	if err := l.repo.Append(ctx, a); err != nil {
		slog.WarnContext(ctx, "failed to persist activity",
			slog.String("audit_type", event.Type),
			slog.String("tenant_id", event.TenantID),
			slog.String("error", err.Error()),
		)
	}
}
