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

// Package accessgate decides whether an actor may act in a tenant.
//
// Decisions are read from current membership state on every call and are
// never cached: a membership change must take effect on the next request.
package accessgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentrusty/tenancy/internal/tenant"
)

// MembershipReader is the membership lookup the gate depends on.
type MembershipReader interface {
	Get(ctx context.Context, tenantID, userID string) (*tenant.Membership, error)
}

// Gate authorizes actors against tenant memberships.
type Gate struct {
	members MembershipReader
}

// New creates a gate.
func New(members MembershipReader) *Gate {
	return &Gate{members: members}
}

// Authorize reports whether actor holds an active membership in tenantID
// with one of the required roles. Superusers always pass. An empty
// required set denies every non-superuser.
func (g *Gate) Authorize(ctx context.Context, actor tenant.Actor, tenantID string, required ...tenant.Role) (bool, error) {
	if actor.IsSuperuser {
		return true, nil
	}
	if actor.UserID == "" || tenantID == "" || len(required) == 0 {
		return false, nil
	}

	m, err := g.members.Get(ctx, tenantID, actor.UserID)
	if err != nil {
		if errors.Is(err, tenant.ErrMembershipNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load membership: %w", err)
	}
	return m.Active && m.Role.In(required...), nil
}

// IsMember reports whether actor holds any active membership in tenantID.
func (g *Gate) IsMember(ctx context.Context, actor tenant.Actor, tenantID string) (bool, error) {
	return g.Authorize(ctx, actor, tenantID, tenant.AllRoles...)
}
