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

package tenant

import "context"

// Membership is the edge between a user and a tenant.
// A (tenant, user) pair has at most one membership.
type Membership struct {
	ID        string  `json:"id"`
	TenantID  string  `json:"tenant_id"`
	UserID    string  `json:"user_id"`
	Role      Role    `json:"role"`
	Active    bool    `json:"active"`
	InvitedBy *string `json:"invited_by,omitempty"`
	Timestamps
}

// Clone returns a copy of m safe to mutate.
func (m *Membership) Clone() *Membership {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// MembershipEventKind names the kind of write that produced an event.
type MembershipEventKind string

const (
	MembershipCreated MembershipEventKind = "created"
	MembershipUpdated MembershipEventKind = "updated"
	MembershipDeleted MembershipEventKind = "deleted"
)

// MembershipEvent describes one membership write.
// Before is nil for creations; After is nil for deletions.
type MembershipEvent struct {
	Kind   MembershipEventKind
	Before *Membership
	After  *Membership
}

// UserID returns the user the event concerns.
func (e MembershipEvent) UserID() string {
	if e.After != nil {
		return e.After.UserID
	}
	if e.Before != nil {
		return e.Before.UserID
	}
	return ""
}

// MembershipObserver reacts synchronously to membership writes. It is
// called with the context of the transaction that performed the write and
// a returned error aborts that transaction.
type MembershipObserver interface {
	OnMembershipChanged(ctx context.Context, event MembershipEvent) error
}
