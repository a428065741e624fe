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

package invitation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/id"
	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/observability/metrics"
	"github.com/opentrusty/tenancy/internal/observability/tracing"
	"github.com/opentrusty/tenancy/internal/store"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// maxTokenAttempts bounds retries on token collisions.
const maxTokenAttempts = 3

// TenantReader loads the tenant an invitation targets.
type TenantReader interface {
	GetByID(ctx context.Context, id string) (*tenant.Tenant, error)
}

// MemberAdder creates memberships and synchronizes derived access. It must
// join the transaction carried by ctx.
type MemberAdder interface {
	AddMember(ctx context.Context, in tenant.AddMemberInput) (*tenant.Membership, error)
}

// Users finds or creates the account redeeming an invitation.
type Users interface {
	GetUser(ctx context.Context, userID string) (*identity.User, error)
	Register(ctx context.Context, email, fullName, password string) (*identity.User, error)
}

// Authorizer decides whether an actor may manage a tenant's invitations.
type Authorizer interface {
	Authorize(ctx context.Context, actor tenant.Actor, tenantID string, required ...tenant.Role) (bool, error)
}

// Config holds ledger settings.
type Config struct {
	FrontendBaseURL string
	DefaultTTL      time.Duration
}

// Ledger is the invitation state machine.
type Ledger struct {
	repo        Repository
	tenants     TenantReader
	members     MemberAdder
	users       Users
	gate        Authorizer
	tx          store.TxManager
	notifier    Notifier
	recorder    metrics.Recorder
	auditLogger audit.Logger
	cfg         Config
	now         func() time.Time
	newToken    func() (string, error)
}

// NewLedger creates a ledger.
func NewLedger(
	repo Repository,
	tenants TenantReader,
	members MemberAdder,
	users Users,
	gate Authorizer,
	tx store.TxManager,
	notifier Notifier,
	recorder metrics.Recorder,
	auditLogger audit.Logger,
	cfg Config,
) *Ledger {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 7 * 24 * time.Hour
	}
	return &Ledger{
		repo:        repo,
		tenants:     tenants,
		members:     members,
		users:       users,
		gate:        gate,
		tx:          tx,
		notifier:    notifier,
		recorder:    recorder,
		auditLogger: auditLogger,
		cfg:         cfg,
		now:         time.Now,
		newToken:    GenerateToken,
	}
}

// IssueRequest describes a new invitation. A zero ExpiresIn uses the
// configured default; a negative one issues an already expired invitation.
type IssueRequest struct {
	TenantID  string
	Issuer    tenant.Actor
	Email     *string
	Role      tenant.Role
	ExpiresIn time.Duration
	Reusable  bool
	MaxUses   int
	Message   string
}

// Issue creates a pending invitation. Validation happens before any write.
// The notification is sent after commit and its failure is only logged.
func (l *Ledger) Issue(ctx context.Context, req IssueRequest) (*Invitation, error) {
	ctx, span := tracing.StartSpan(ctx, "invitation.Issue", tracing.KeyTenantID.String(req.TenantID))
	inv, err := l.issue(ctx, req)
	tracing.EndSpan(span, err)
	return inv, err
}

func (l *Ledger) issue(ctx context.Context, req IssueRequest) (*Invitation, error) {
	if !req.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", tenant.ErrInvalidRole, req.Role)
	}

	var email *string
	maxUses := 1
	if req.Reusable {
		if req.MaxUses != 0 {
			maxUses = req.MaxUses
		}
		if maxUses < 1 {
			return nil, ErrInvalidMaxUses
		}
	} else if req.Email != nil {
		normalized, err := identity.NormalizeEmail(*req.Email)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEmail, err)
		}
		email = &normalized
	}

	allowed, err := l.gate.Authorize(ctx, req.Issuer, req.TenantID, tenant.AdminRoles...)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrForbidden
	}
	if req.Role == tenant.RoleOwner {
		// Redemption grants the role without a second check.
		allowed, err = l.gate.Authorize(ctx, req.Issuer, req.TenantID, tenant.RoleOwner)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %w", ErrForbidden, tenant.ErrOwnerRoleRequired)
		}
	}

	t, err := l.tenants.GetByID(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, tenant.ErrTenantInactive
	}

	ttl := req.ExpiresIn
	if ttl == 0 {
		ttl = l.cfg.DefaultTTL
	}
	now := l.now()
	inv := &Invitation{
		ID:        id.NewUUIDv7(),
		TenantID:  t.ID,
		Email:     email,
		Role:      req.Role,
		Status:    StatusPending,
		ExpiresAt: now.Add(ttl),
		Reusable:  req.Reusable,
		MaxUses:   maxUses,
		IssuedBy:  req.Issuer.UserID,
		Message:   strings.TrimSpace(req.Message),
	}
	inv.Touch(now)

	for attempt := 1; ; attempt++ {
		inv.Token, err = l.newToken()
		if err != nil {
			return nil, err
		}
		err = l.tx.WithinTx(ctx, func(ctx context.Context) error {
			if email != nil {
				// A lapsed pending row must not block a fresh invitation,
				// whether or not the sweep has run.
				stale, err := l.repo.ExpireStale(ctx, t.ID, *email, now)
				if err != nil {
					return fmt.Errorf("failed to expire stale invitations: %w", err)
				}
				if stale > 0 {
					slog.DebugContext(ctx, "expired stale invitations before issue", slog.Int64("count", stale))
				}
				exists, err := l.repo.ExistsPending(ctx, t.ID, *email)
				if err != nil {
					return fmt.Errorf("failed to check pending invitations: %w", err)
				}
				if exists {
					return ErrDuplicatePendingInvitation
				}
			}
			return l.repo.Create(ctx, inv)
		})
		if errors.Is(err, ErrTokenCollision) && attempt < maxTokenAttempts {
			slog.WarnContext(ctx, "invitation token collision, retrying", slog.Int("attempt", attempt))
			continue
		}
		break
	}
	if err != nil {
		if errors.Is(err, ErrDuplicatePendingInvitation) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to issue invitation: %w", err)
	}

	l.recorder.RecordInvitation(ctx, metrics.InvitationIssued)
	meta := map[string]any{
		audit.AttrRole: string(inv.Role),
		"reusable":     inv.Reusable,
		"max_uses":     inv.MaxUses,
	}
	if email != nil {
		meta[audit.AttrEmail] = *email
	}
	l.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeInvitationIssued,
		TenantID: inv.TenantID,
		ActorID:  inv.IssuedBy,
		Resource: "invitation",
		Entity:   audit.InvitationRef{InvitationID: inv.ID},
		Metadata: meta,
	})

	if email != nil {
		l.notify(ctx, t, inv)
	}
	return inv, nil
}

func (l *Ledger) notify(ctx context.Context, t *tenant.Tenant, inv *Invitation) {
	n := Notification{
		InvitationID: inv.ID,
		TenantID:     t.ID,
		TenantName:   t.Name,
		Email:        *inv.Email,
		Role:         string(inv.Role),
		SignupURL:    l.SignupURL(inv.Token),
		ExpiresAt:    inv.ExpiresAt,
		Message:      inv.Message,
	}
	if err := l.notifier.InvitationIssued(ctx, n); err != nil {
		slog.WarnContext(ctx, "failed to enqueue invitation notification",
			slog.String("invitation_id", inv.ID),
			slog.String("error", err.Error()),
		)
	}
}

// SignupURL returns the signup link for token.
func (l *Ledger) SignupURL(token string) string {
	return SignupURL(l.cfg.FrontendBaseURL, token)
}

// Validation is the outcome of Validate.
type Validation struct {
	Valid      bool
	Reason     string
	Invitation *Invitation
}

// Validate checks a token without consuming it. A pending invitation past
// its expiry is flipped to expired as a side effect. Storage failures are
// returned as errors, never as an invalid result.
func (l *Ledger) Validate(ctx context.Context, token string) (Validation, error) {
	inv, err := l.repo.GetByToken(ctx, token)
	if errors.Is(err, ErrInvitationNotFound) {
		return Validation{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return Validation{}, fmt.Errorf("failed to load invitation: %w", err)
	}

	now := l.now()
	reason := invalidReason(inv, now)
	if reason == ReasonExpired && inv.Status == StatusPending {
		if err := l.expire(ctx, inv, now); err != nil {
			return Validation{}, err
		}
	}
	if reason != "" {
		return Validation{Reason: reason, Invitation: inv}, nil
	}
	return Validation{Valid: true, Invitation: inv}, nil
}

func (l *Ledger) expire(ctx context.Context, inv *Invitation, now time.Time) error {
	changed, err := l.repo.Expire(ctx, inv.TenantID, inv.ID, now)
	if err != nil {
		return fmt.Errorf("failed to expire invitation: %w", err)
	}
	inv.Status = StatusExpired
	if changed {
		l.recorder.RecordInvitation(ctx, metrics.InvitationExpired)
		l.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeInvitationExpired,
			TenantID: inv.TenantID,
			ActorID:  audit.ActorSystem,
			Resource: "invitation",
			Entity:   audit.InvitationRef{InvitationID: inv.ID},
		})
	}
	return nil
}

// Signup identifies who redeems an invitation. ExistingUserID is set for
// an authenticated caller; otherwise a new account is registered.
type Signup struct {
	ExistingUserID string
	Email          string
	FullName       string
	Password       string
}

// Redemption is the result of a successful Redeem.
type Redemption struct {
	Invitation *Invitation
	User       *identity.User
	Membership *tenant.Membership
}

// Redeem consumes a token in one transaction: it locks the invitation,
// finds or creates the user, creates the membership and records the use.
// Invalid invitations fail with *InvalidError; a lazy expiry found on the
// way is still committed.
func (l *Ledger) Redeem(ctx context.Context, token string, signup Signup) (*Redemption, error) {
	ctx, span := tracing.StartSpan(ctx, "invitation.Redeem")
	r, err := l.redeem(ctx, token, signup)
	if err == nil {
		span.SetAttributes(
			tracing.KeyInvitationID.String(r.Invitation.ID),
			tracing.KeyTenantID.String(r.Invitation.TenantID),
		)
	}
	tracing.EndSpan(span, err)
	return r, err
}

func (l *Ledger) redeem(ctx context.Context, token string, signup Signup) (*Redemption, error) {
	var (
		result     *Redemption
		invalid    *InvalidError
		expiredNow *Invitation
	)

	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := l.repo.GetByTokenForUpdate(ctx, token)
		if errors.Is(err, ErrInvitationNotFound) {
			invalid = &InvalidError{Reason: ReasonNotFound}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load invitation: %w", err)
		}

		now := l.now()
		if reason := invalidReason(inv, now); reason != "" {
			if reason == ReasonExpired && inv.Status == StatusPending {
				if _, err := l.repo.Expire(ctx, inv.TenantID, inv.ID, now); err != nil {
					return fmt.Errorf("failed to expire invitation: %w", err)
				}
				inv.Status = StatusExpired
				expiredNow = inv
			}
			invalid = &InvalidError{Reason: reason}
			return nil
		}

		user, err := l.redeemer(ctx, signup)
		if err != nil {
			return err
		}
		if inv.Email != nil && !strings.EqualFold(*inv.Email, user.Email) {
			return ErrEmailMismatch
		}

		m, err := l.members.AddMember(ctx, tenant.AddMemberInput{
			TenantID:  inv.TenantID,
			UserID:    user.ID,
			Role:      inv.Role,
			InvitedBy: inv.IssuedBy,
		})
		if err != nil {
			return err
		}

		inv.UseCount++
		if !inv.Reusable || inv.UseCount >= inv.MaxUses {
			inv.Status = StatusAccepted
		}
		inv.RedeemedBy = &user.ID
		inv.RedeemedAt = &now
		inv.Touch(now)
		if err := l.repo.Update(ctx, inv); err != nil {
			return fmt.Errorf("failed to record redemption: %w", err)
		}

		result = &Redemption{Invitation: inv, User: user, Membership: m}
		return nil
	})
	if err != nil {
		l.recorder.RecordInvitation(ctx, metrics.InvitationRejected)
		return nil, err
	}

	if expiredNow != nil {
		l.recorder.RecordInvitation(ctx, metrics.InvitationExpired)
		l.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeInvitationExpired,
			TenantID: expiredNow.TenantID,
			ActorID:  audit.ActorSystem,
			Resource: "invitation",
			Entity:   audit.InvitationRef{InvitationID: expiredNow.ID},
		})
	}
	if invalid != nil {
		l.recorder.RecordInvitation(ctx, metrics.InvitationRejected)
		return nil, invalid
	}

	l.recorder.RecordInvitation(ctx, metrics.InvitationRedeemed)
	l.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeInvitationRedeemed,
		TenantID: result.Invitation.TenantID,
		ActorID:  result.User.ID,
		Resource: "invitation",
		Entity:   audit.InvitationRef{InvitationID: result.Invitation.ID},
		Metadata: map[string]any{
			audit.AttrRole: string(result.Invitation.Role),
			"use_count":    result.Invitation.UseCount,
		},
	})
	return result, nil
}

func (l *Ledger) redeemer(ctx context.Context, signup Signup) (*identity.User, error) {
	if signup.ExistingUserID != "" {
		user, err := l.users.GetUser(ctx, signup.ExistingUserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load redeeming user: %w", err)
		}
		if !user.Active {
			return nil, identity.ErrUserInactive
		}
		return user, nil
	}
	return l.users.Register(ctx, signup.Email, signup.FullName, signup.Password)
}

// Revoke cancels a pending invitation of tenantID. An invitation of another
// tenant is reported as not found.
func (l *Ledger) Revoke(ctx context.Context, tenantID, token string, actor tenant.Actor) error {
	allowed, err := l.gate.Authorize(ctx, actor, tenantID, tenant.AdminRoles...)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}

	var revoked *Invitation
	err = l.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := l.repo.GetByTokenForUpdate(ctx, token)
		if err != nil {
			return err
		}
		if inv.TenantID != tenantID {
			return ErrInvitationNotFound
		}
		if !inv.Status.CanTransitionTo(StatusRevoked) {
			return fmt.Errorf("%w: cannot revoke an %s invitation", ErrCannotRevoke, inv.Status)
		}
		inv.Status = StatusRevoked
		inv.Touch(l.now())
		if err := l.repo.Update(ctx, inv); err != nil {
			return fmt.Errorf("failed to revoke invitation: %w", err)
		}
		revoked = inv
		return nil
	})
	if err != nil {
		return err
	}

	l.recorder.RecordInvitation(ctx, metrics.InvitationRevoked)
	l.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeInvitationRevoked,
		TenantID: revoked.TenantID,
		ActorID:  actor.UserID,
		Resource: "invitation",
		Entity:   audit.InvitationRef{InvitationID: revoked.ID},
	})
	return nil
}

// List returns the invitations of a tenant, optionally filtered by status.
func (l *Ledger) List(ctx context.Context, tenantID string, status Status) ([]*Invitation, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown invitation status %q", status)
	}
	return l.repo.ListByTenant(ctx, tenantID, status)
}

// Sweep expires every pending invitation past its expiry.
func (l *Ledger) Sweep(ctx context.Context) (int64, error) {
	n, err := l.repo.Sweep(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep invitations: %w", err)
	}
	if n > 0 {
		l.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeInvitationsSwept,
			ActorID:  audit.ActorSystem,
			Resource: "invitation",
			Metadata: map[string]any{"expired": n},
		})
	}
	slog.InfoContext(ctx, "invitation sweep finished", slog.Int64("expired", n))
	return n, nil
}
