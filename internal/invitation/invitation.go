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

// Package invitation implements the tenant invitation ledger: issuance,
// validation, redemption, revocation and expiry of onboarding tokens.
package invitation

import (
	"errors"
	"fmt"
	"time"

	"github.com/opentrusty/tenancy/internal/tenant"
)

// Status is the lifecycle state of an invitation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// CanTransitionTo reports whether the ledger may move from s to next.
// Only pending invitations change state.
func (s Status) CanTransitionTo(next Status) bool {
	if s != StatusPending {
		return false
	}
	switch next {
	case StatusAccepted, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// Reasons reported for invalid invitations.
const (
	ReasonNotFound       = "not found"
	ReasonAccepted       = "accepted"
	ReasonRevoked        = "revoked"
	ReasonExpired        = "expired"
	ReasonUsageExhausted = "usage exhausted"
)

var (
	ErrInvitationInvalid          = errors.New("invitation is not valid")
	ErrDuplicatePendingInvitation = errors.New("a pending invitation already exists for this email")
	ErrCannotRevoke               = errors.New("invitation cannot be revoked")
	ErrEmailMismatch              = errors.New("email does not match the invitation")
	ErrInvalidMaxUses             = errors.New("max uses must be at least 1")
	ErrInvalidEmail               = errors.New("invalid invitation email")
	ErrForbidden                  = errors.New("not allowed to manage invitations for this tenant")
	ErrTokenCollision             = errors.New("invitation token collision")
	ErrInvitationNotFound         = errors.New("invitation not found")
)

// InvalidError carries the reason an invitation cannot be used.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invitation is not valid: %s", e.Reason)
}

// Unwrap lets errors.Is match ErrInvitationInvalid.
func (e *InvalidError) Unwrap() error {
	return ErrInvitationInvalid
}

// Invitation is an onboarding token for one tenant.
// Email is nil for reusable links.
type Invitation struct {
	ID         string      `json:"id"`
	Token      string      `json:"-"`
	TenantID   string      `json:"tenant_id"`
	Email      *string     `json:"email,omitempty"`
	Role       tenant.Role `json:"role"`
	Status     Status      `json:"status"`
	ExpiresAt  time.Time   `json:"expires_at"`
	Reusable   bool        `json:"reusable"`
	MaxUses    int         `json:"max_uses"`
	UseCount   int         `json:"use_count"`
	IssuedBy   string      `json:"issued_by"`
	RedeemedBy *string     `json:"redeemed_by,omitempty"`
	RedeemedAt *time.Time  `json:"redeemed_at,omitempty"`
	Message    string      `json:"message,omitempty"`
	tenant.Timestamps
}

// IsExpired reports whether the expiry time has passed at now.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// Exhausted reports whether a reusable invitation has no uses left.
func (i *Invitation) Exhausted() bool {
	return i.Reusable && i.UseCount >= i.MaxUses
}

// invalidReason returns why inv cannot be used at now, or "" if it can.
// A pending invitation past its expiry reports ReasonExpired; persisting
// that state is left to the caller.
func invalidReason(inv *Invitation, now time.Time) string {
	switch inv.Status {
	case StatusAccepted:
		if inv.Exhausted() {
			return ReasonUsageExhausted
		}
		return ReasonAccepted
	case StatusRevoked:
		return ReasonRevoked
	case StatusExpired:
		return ReasonExpired
	}
	if inv.IsExpired(now) {
		return ReasonExpired
	}
	if inv.Exhausted() {
		return ReasonUsageExhausted
	}
	return ""
}
