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
	"strings"
	"time"
)

// Event types
const (
	TypeTenantCreated       = "tenant_created"
	TypeTenantUpdated       = "tenant_updated"
	TypeTenantDeactivated   = "tenant_deactivated"
	TypeDomainAdded         = "domain_added"
	TypeDomainRemoved       = "domain_removed"
	TypeMemberAdded         = "member_added"
	TypeMemberUpdated       = "member_updated"
	TypeMemberRemoved       = "member_removed"
	TypeInvitationIssued    = "invitation_issued"
	TypeInvitationRedeemed  = "invitation_redeemed"
	TypeInvitationRevoked   = "invitation_revoked"
	TypeInvitationExpired   = "invitation_expired"
	TypeTenantAccessDenied  = "tenant_access_denied"
	TypeLoginSuccess        = "login_success"
	TypeLoginFailed         = "login_failed"
	TypeUserLocked          = "user_locked"
	TypeSuperuserBootstrap  = "superuser_bootstrap"
	TypeUserCreated         = "user_created"
	TypeElevatedAccessSync  = "elevated_access_synced"
	TypeInvitationsSwept    = "invitations_swept"
	ActorSystem             = "system"
	ResourceInvitationToken = "invitation_token"
)

// Metadata keys
const (
	AttrReason   = "reason"
	AttrAttempts = "attempts"
	AttrEmail    = "email"
	AttrRole     = "role"
	AttrUserID   = "user_id"
	AttrMethod   = "method"
)

// Event represents an auditable action
type Event struct {
	Type      string
	TenantID  string
	ActorID   string
	Resource  string
	Entity    EntityRef
	Metadata  map[string]any
	Timestamp time.Time
	IPAddress string
	UserAgent string
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using slog
type SlogLogger struct{}

// NewSlogLogger creates a new audit logger
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String("audit_type", event.Type),
		slog.String("tenant_id", event.TenantID),
		slog.String("actor_id", event.ActorID),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	}

	if event.Entity != nil {
		attrs = append(attrs,
			slog.String("entity_kind", string(event.Entity.Kind())),
			slog.String("entity_id", event.Entity.ID()),
		)
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Group("metadata", redact(event.Metadata)...))
	}

	slog.InfoContext(ctx, "AUDIT_EVENT", append(attrs, slog.String("component", "audit"))...)
}

func redact(metadata map[string]any) []any {
	group := make([]any, 0, len(metadata))
	for k, v := range metadata {
		if isSecret(k) {
			v = "[REDACTED]"
		}
		group = append(group, slog.Any(k, v))
	}
	return group
}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range []string{"password", "secret", "token", "key", "authorization", "hash", "credential"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Multi fans an event out to several loggers.
type Multi []Logger

// Log records event on every logger.
func (m Multi) Log(ctx context.Context, event Event) {
	for _, l := range m {
		l.Log(ctx, event)
	}
}
