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

// Package rolesync derives a user's elevated-access flag and tenant-role
// groups from their memberships.
//
// The engine is invoked explicitly, inside the transaction that wrote the
// membership, so every read it performs sees that write. All of its writes
// are idempotent. The superuser flag is never read or written here.
package rolesync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opentrusty/tenancy/internal/tenant"
)

// Store is the persistence the engine drives.
type Store interface {
	ListActiveByUser(ctx context.Context, userID string) ([]*tenant.Membership, error)
	SetElevatedAccess(ctx context.Context, userID string, elevated bool) error
	AddToGroup(ctx context.Context, userID, group string) error
	RemoveFromGroup(ctx context.Context, userID, group string) error
	ListGroups(ctx context.Context, userID string) ([]string, error)
}

// TenantReader resolves the slug used in group names.
type TenantReader interface {
	GetByID(ctx context.Context, id string) (*tenant.Tenant, error)
}

// Engine implements tenant.MembershipObserver.
type Engine struct {
	store   Store
	tenants TenantReader
}

// New creates an engine.
func New(store Store, tenants TenantReader) *Engine {
	return &Engine{store: store, tenants: tenants}
}

var _ tenant.MembershipObserver = (*Engine)(nil)

// OnMembershipChanged applies the consequences of one membership write.
//
// Gaining an active elevating role grants elevated access immediately.
// Losing one (delete, deactivation, or role change) rescans the user's
// other active memberships and revokes only when none elevates.
func (e *Engine) OnMembershipChanged(ctx context.Context, event tenant.MembershipEvent) error {
	userID := event.UserID()
	if userID == "" {
		return fmt.Errorf("membership event without user")
	}

	before, after := event.Before, event.After
	wasActive := before != nil && before.Active
	isActive := after != nil && after.Active

	if wasActive && (!isActive || before.Role != after.Role || before.TenantID != after.TenantID) {
		group, err := e.groupName(ctx, before.TenantID, before.Role)
		if err != nil {
			return err
		}
		if err := e.store.RemoveFromGroup(ctx, userID, group); err != nil {
			return fmt.Errorf("failed to remove group %s: %w", group, err)
		}
	}
	if isActive {
		group, err := e.groupName(ctx, after.TenantID, after.Role)
		if err != nil {
			return err
		}
		if err := e.store.AddToGroup(ctx, userID, group); err != nil {
			return fmt.Errorf("failed to add group %s: %w", group, err)
		}
	}

	switch {
	case isActive && after.Role.Elevating():
		if err := e.store.SetElevatedAccess(ctx, userID, true); err != nil {
			return fmt.Errorf("failed to grant elevated access: %w", err)
		}
	case wasActive && before.Role.Elevating():
		elevated, err := e.elevatedElsewhere(ctx, userID, before.TenantID)
		if err != nil {
			return err
		}
		if err := e.store.SetElevatedAccess(ctx, userID, elevated); err != nil {
			return fmt.Errorf("failed to update elevated access: %w", err)
		}
	}

	slog.DebugContext(ctx, "membership synchronized",
		slog.String("user_id", userID),
		slog.String("kind", string(event.Kind)),
	)
	return nil
}

// Resync recomputes the flag and tenant-role groups of userID from scratch.
// Groups whose name does not end in a role suffix are left alone.
func (e *Engine) Resync(ctx context.Context, userID string) error {
	memberships, err := e.store.ListActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list memberships: %w", err)
	}

	elevated := false
	want := make(map[string]bool, len(memberships))
	for _, m := range memberships {
		if m.Role.Elevating() {
			elevated = true
		}
		group, err := e.groupName(ctx, m.TenantID, m.Role)
		if err != nil {
			return err
		}
		want[group] = true
	}

	have, err := e.store.ListGroups(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}
	for _, group := range have {
		if want[group] || !isRoleGroup(group) {
			continue
		}
		if err := e.store.RemoveFromGroup(ctx, userID, group); err != nil {
			return fmt.Errorf("failed to remove group %s: %w", group, err)
		}
	}
	for group := range want {
		if err := e.store.AddToGroup(ctx, userID, group); err != nil {
			return fmt.Errorf("failed to add group %s: %w", group, err)
		}
	}

	if err := e.store.SetElevatedAccess(ctx, userID, elevated); err != nil {
		return fmt.Errorf("failed to update elevated access: %w", err)
	}
	return nil
}

// elevatedElsewhere reports whether userID holds an active elevating role
// in any tenant other than excluded.
func (e *Engine) elevatedElsewhere(ctx context.Context, userID, excluded string) (bool, error) {
	memberships, err := e.store.ListActiveByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to list memberships: %w", err)
	}
	for _, m := range memberships {
		if m.TenantID != excluded && m.Role.Elevating() {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) groupName(ctx context.Context, tenantID string, role tenant.Role) (string, error) {
	t, err := e.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	return tenant.GroupName(t.Slug, role), nil
}

func isRoleGroup(group string) bool {
	for _, r := range tenant.AllRoles {
		if strings.HasSuffix(group, "_"+string(r)) {
			return true
		}
	}
	return false
}
