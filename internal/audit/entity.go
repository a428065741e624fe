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
	"errors"
	"fmt"
)

// EntityKind is the closed set of records an activity can point at.
type EntityKind string

const (
	KindTenant     EntityKind = "tenant"
	KindDomain     EntityKind = "domain"
	KindMembership EntityKind = "membership"
	KindInvitation EntityKind = "invitation"
)

var ErrUnknownEntityKind = errors.New("unknown entity kind")

// EntityRef is a typed reference to one tenancy record.
// Only the types in this file implement it.
type EntityRef interface {
	Kind() EntityKind
	ID() string
	entityRef()
}

// TenantRef points at a tenant.
type TenantRef struct{ TenantID string }

// DomainRef points at a tenant domain.
type DomainRef struct{ DomainID string }

// MembershipRef points at a tenant membership.
type MembershipRef struct{ MembershipID string }

// InvitationRef points at an invitation.
type InvitationRef struct{ InvitationID string }

func (r TenantRef) Kind() EntityKind     { return KindTenant }
func (r TenantRef) ID() string           { return r.TenantID }
func (TenantRef) entityRef()             {}
func (r DomainRef) Kind() EntityKind     { return KindDomain }
func (r DomainRef) ID() string           { return r.DomainID }
func (DomainRef) entityRef()             {}
func (r MembershipRef) Kind() EntityKind { return KindMembership }
func (r MembershipRef) ID() string       { return r.MembershipID }
func (MembershipRef) entityRef()         {}
func (r InvitationRef) Kind() EntityKind { return KindInvitation }
func (r InvitationRef) ID() string       { return r.InvitationID }
func (InvitationRef) entityRef()         {}

// ParseEntityRef rebuilds a reference from its stored (kind, id) pair.
func ParseEntityRef(kind, id string) (EntityRef, error) {
	if id == "" {
		return nil, fmt.Errorf("empty entity id for kind %q", kind)
	}
	switch EntityKind(kind) {
	case KindTenant:
		return TenantRef{TenantID: id}, nil
	case KindDomain:
		return DomainRef{DomainID: id}, nil
	case KindMembership:
		return MembershipRef{MembershipID: id}, nil
	case KindInvitation:
		return InvitationRef{InvitationID: id}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityKind, kind)
	}
}
