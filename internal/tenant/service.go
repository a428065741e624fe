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

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/id"
	"github.com/opentrusty/tenancy/internal/store"
)

// Service provides tenant management business logic
type Service struct {
	repo        Repository
	domains     DomainRepository
	members     MembershipRepository
	tx          store.TxManager
	observer    MembershipObserver
	cache       DomainCache
	auditLogger audit.Logger
	now         func() time.Time
}

// NewService creates a new tenant service.
// observer is invoked inside every membership write transaction.
func NewService(
	repo Repository,
	domains DomainRepository,
	members MembershipRepository,
	tx store.TxManager,
	observer MembershipObserver,
	auditLogger audit.Logger,
) *Service {
	return &Service{
		repo:        repo,
		domains:     domains,
		members:     members,
		tx:          tx,
		observer:    observer,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// WithDomainCache sets the cache invalidated when domains are removed.
func (s *Service) WithDomainCache(cache DomainCache) *Service {
	s.cache = cache
	return s
}

// CreateTenantInput describes a new tenant.
type CreateTenantInput struct {
	Name           string
	Slug           string
	Trial          bool
	TrialExpiresAt *time.Time
	Settings       map[string]any
	// OwnerID, when set, becomes the first owner member.
	OwnerID string
}

// CreateTenant creates a new tenant and, if requested, its first owner.
func (s *Service) CreateTenant(ctx context.Context, in CreateTenantInput, createdBy string) (*Tenant, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	rawSlug := in.Slug
	if rawSlug == "" {
		rawSlug = name
	}
	slug, err := NormalizeSlug(rawSlug)
	if err != nil {
		return nil, err
	}

	now := s.now()
	t := &Tenant{
		ID:             id.NewUUIDv7(),
		Name:           name,
		Slug:           slug,
		Active:         true,
		Trial:          in.Trial,
		TrialExpiresAt: in.TrialExpiresAt,
		Settings:       in.Settings,
		Ownership: Ownership{
			OwnerID:     in.OwnerID,
			CreatedByID: createdBy,
			UpdatedByID: createdBy,
		},
	}
	t.Touch(now)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, t); err != nil {
			return err
		}
		if in.OwnerID == "" {
			return nil
		}
		_, err := s.addMember(ctx, t, in.OwnerID, RoleOwner, createdBy)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantCreated,
		TenantID: t.ID,
		ActorID:  createdBy,
		Resource: "tenant",
		Entity:   audit.TenantRef{TenantID: t.ID},
		Metadata: map[string]any{"slug": t.Slug},
	})

	return t, nil
}

// GetTenant retrieves a tenant by ID
func (s *Service) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	return s.repo.GetByID(ctx, id)
}

// GetTenantBySlug retrieves a tenant by slug
func (s *Service) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	normalized, err := NormalizeSlug(slug)
	if err != nil {
		return nil, ErrTenantNotFound
	}
	return s.repo.GetBySlug(ctx, normalized)
}

// ListTenants lists tenants with pagination
func (s *Service) ListTenants(ctx context.Context, limit, offset int) ([]*Tenant, error) {
	return s.repo.List(ctx, limit, offset)
}

// UpdateTenantInput holds mutable tenant attributes. Nil fields are unchanged.
// The slug is immutable.
type UpdateTenantInput struct {
	Name           *string
	Trial          *bool
	TrialExpiresAt *time.Time
	Settings       map[string]any
}

// UpdateTenant changes mutable tenant attributes.
func (s *Service) UpdateTenant(ctx context.Context, tenantID string, in UpdateTenantInput, updatedBy string) (*Tenant, error) {
	t, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, ErrInvalidName
		}
		t.Name = name
	}
	if in.Trial != nil {
		t.Trial = *in.Trial
	}
	if in.TrialExpiresAt != nil {
		t.TrialExpiresAt = in.TrialExpiresAt
	}
	if in.Settings != nil {
		t.Settings = in.Settings
	}
	t.UpdatedByID = updatedBy
	t.Touch(s.now())

	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantUpdated,
		TenantID: t.ID,
		ActorID:  updatedBy,
		Resource: "tenant",
		Entity:   audit.TenantRef{TenantID: t.ID},
	})
	return t, nil
}

// DeactivateTenant flips the tenant inactive. Tenants are never hard-deleted.
func (s *Service) DeactivateTenant(ctx context.Context, tenantID, actorID string) error {
	t, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if !t.Active {
		return nil
	}
	t.Active = false
	t.UpdatedByID = actorID
	t.Touch(s.now())
	if err := s.repo.Update(ctx, t); err != nil {
		return fmt.Errorf("failed to deactivate tenant: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantDeactivated,
		TenantID: t.ID,
		ActorID:  actorID,
		Resource: "tenant",
		Entity:   audit.TenantRef{TenantID: t.ID},
	})
	return nil
}

// AddDomain registers a domain for a tenant. Marking it primary clears any
// previous primary domain of that tenant.
func (s *Service) AddDomain(ctx context.Context, tenantID, domain string, primary bool, actorID string) (*Domain, error) {
	normalized, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}

	d := &Domain{
		ID:        id.NewUUIDv7(),
		TenantID:  tenantID,
		Domain:    normalized,
		IsPrimary: primary,
	}
	d.Touch(s.now())

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetByID(ctx, tenantID); err != nil {
			return err
		}
		if primary {
			if err := s.domains.ClearPrimary(ctx, tenantID); err != nil {
				return err
			}
		}
		return s.domains.Create(ctx, d)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add domain: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDomainAdded,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: "domain",
		Entity:   audit.DomainRef{DomainID: d.ID},
		Metadata: map[string]any{"domain": d.Domain, "primary": primary},
	})
	return d, nil
}

// ListDomains lists the domains registered to a tenant.
func (s *Service) ListDomains(ctx context.Context, tenantID string) ([]*Domain, error) {
	return s.domains.ListByTenant(ctx, tenantID)
}

// RemoveDomain unregisters a domain of a tenant.
func (s *Service) RemoveDomain(ctx context.Context, tenantID, domain, actorID string) error {
	normalized, err := NormalizeDomain(domain)
	if err != nil {
		return ErrDomainNotFound
	}
	if err := s.domains.Delete(ctx, tenantID, normalized); err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, normalized); err != nil {
			slog.WarnContext(ctx, "failed to invalidate domain cache",
				slog.String("domain", normalized),
				slog.String("error", err.Error()),
			)
		}
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDomainRemoved,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: "domain",
		Entity:   audit.TenantRef{TenantID: tenantID},
		Metadata: map[string]any{"domain": normalized},
	})
	return nil
}

// AddMemberInput describes a new membership. Actor is the principal making a
// direct grant; it is nil when the grant was authorized earlier, as with a
// redeemed invitation.
type AddMemberInput struct {
	TenantID  string
	UserID    string
	Role      Role
	InvitedBy string
	Actor     *Actor
}

// AddMember creates an active membership and synchronizes the user's
// derived access in the same transaction. A second membership for the same
// (tenant, user) pair fails with ErrMembershipConflict. Granting RoleOwner
// directly requires an owner or a superuser.
func (s *Service) AddMember(ctx context.Context, in AddMemberInput) (*Membership, error) {
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, in.Role)
	}

	var m *Membership
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.GetByID(ctx, in.TenantID)
		if err != nil {
			return err
		}
		if !t.Active {
			return ErrTenantInactive
		}
		if in.Role == RoleOwner && in.Actor != nil {
			if err := s.requireOwner(ctx, t.ID, *in.Actor); err != nil {
				return err
			}
		}
		m, err = s.addMember(ctx, t, in.UserID, in.Role, in.InvitedBy)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMemberAdded,
		TenantID: in.TenantID,
		ActorID:  in.InvitedBy,
		Resource: "membership",
		Entity:   audit.MembershipRef{MembershipID: m.ID},
		Metadata: map[string]any{"user_id": in.UserID, "role": string(in.Role)},
	})
	return m, nil
}

func (s *Service) addMember(ctx context.Context, t *Tenant, userID string, role Role, invitedBy string) (*Membership, error) {
	existing, err := s.members.Get(ctx, t.ID, userID)
	if err == nil && existing != nil {
		return nil, ErrMembershipConflict
	}
	if err != nil && !errors.Is(err, ErrMembershipNotFound) {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}

	m := &Membership{
		ID:       id.NewUUIDv7(),
		TenantID: t.ID,
		UserID:   userID,
		Role:     role,
		Active:   true,
	}
	if invitedBy != "" {
		m.InvitedBy = &invitedBy
	}
	m.Touch(s.now())

	if err := s.members.Create(ctx, m); err != nil {
		return nil, err
	}
	if err := s.observer.OnMembershipChanged(ctx, MembershipEvent{Kind: MembershipCreated, After: m.Clone()}); err != nil {
		return nil, fmt.Errorf("failed to sync membership: %w", err)
	}
	return m, nil
}

// UpdateMemberInput changes role and/or active state. Nil fields are unchanged.
type UpdateMemberInput struct {
	Role   *Role
	Active *bool
}

// UpdateMember changes a membership and resynchronizes derived access.
// Promoting to or changing an owner requires an owner or a superuser.
func (s *Service) UpdateMember(ctx context.Context, tenantID, userID string, in UpdateMemberInput, actor Actor) (*Membership, error) {
	if in.Role != nil && !in.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, *in.Role)
	}

	var updated *Membership
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		before, err := s.members.Get(ctx, tenantID, userID)
		if err != nil {
			return err
		}
		after := before.Clone()
		if in.Role != nil {
			after.Role = *in.Role
		}
		if in.Active != nil {
			after.Active = *in.Active
		}
		if after.Role == before.Role && after.Active == before.Active {
			updated = after
			return nil
		}
		if before.Role == RoleOwner || after.Role == RoleOwner {
			if err := s.requireOwner(ctx, tenantID, actor); err != nil {
				return err
			}
		}
		if before.Active && before.Role == RoleOwner && (after.Role != RoleOwner || !after.Active) {
			if err := s.ensureAnotherOwner(ctx, tenantID); err != nil {
				return err
			}
		}
		after.Touch(s.now())
		if err := s.members.Update(ctx, after); err != nil {
			return err
		}
		updated = after
		return s.observer.OnMembershipChanged(ctx, MembershipEvent{Kind: MembershipUpdated, Before: before, After: after.Clone()})
	})
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMemberUpdated,
		TenantID: tenantID,
		ActorID:  actor.UserID,
		Resource: "membership",
		Entity:   audit.MembershipRef{MembershipID: updated.ID},
		Metadata: map[string]any{"user_id": userID, "role": string(updated.Role), "active": updated.Active},
	})
	return updated, nil
}

// RemoveMember deletes a membership and resynchronizes derived access.
// Removing an owner requires an owner or a superuser.
func (s *Service) RemoveMember(ctx context.Context, tenantID, userID string, actor Actor) error {
	var removed *Membership
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		before, err := s.members.Get(ctx, tenantID, userID)
		if err != nil {
			return err
		}
		if before.Role == RoleOwner {
			if err := s.requireOwner(ctx, tenantID, actor); err != nil {
				return err
			}
		}
		if before.Active && before.Role == RoleOwner {
			if err := s.ensureAnotherOwner(ctx, tenantID); err != nil {
				return err
			}
		}
		if err := s.members.Delete(ctx, tenantID, userID); err != nil {
			return err
		}
		removed = before
		return s.observer.OnMembershipChanged(ctx, MembershipEvent{Kind: MembershipDeleted, Before: before})
	})
	if err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMemberRemoved,
		TenantID: tenantID,
		ActorID:  actor.UserID,
		Resource: "membership",
		Entity:   audit.MembershipRef{MembershipID: removed.ID},
		Metadata: map[string]any{"user_id": userID, "role": string(removed.Role)},
	})
	return nil
}

// requireOwner fails with ErrOwnerRoleRequired unless actor is a superuser
// or an active owner of the tenant.
func (s *Service) requireOwner(ctx context.Context, tenantID string, actor Actor) error {
	if actor.IsSuperuser {
		return nil
	}
	if actor.UserID == "" {
		return ErrOwnerRoleRequired
	}
	m, err := s.members.Get(ctx, tenantID, actor.UserID)
	if errors.Is(err, ErrMembershipNotFound) {
		return ErrOwnerRoleRequired
	}
	if err != nil {
		return fmt.Errorf("failed to check actor membership: %w", err)
	}
	if !m.Active || m.Role != RoleOwner {
		return ErrOwnerRoleRequired
	}
	return nil
}

func (s *Service) ensureAnotherOwner(ctx context.Context, tenantID string) error {
	owners, err := s.members.CountActiveByRole(ctx, tenantID, RoleOwner)
	if err != nil {
		return fmt.Errorf("failed to count owners: %w", err)
	}
	if owners <= 1 {
		return ErrLastOwner
	}
	return nil
}

// GetMembership returns the membership of a user in a tenant.
func (s *Service) GetMembership(ctx context.Context, tenantID, userID string) (*Membership, error) {
	return s.members.Get(ctx, tenantID, userID)
}

// ListMembers lists the memberships of a tenant.
func (s *Service) ListMembers(ctx context.Context, tenantID string) ([]*Membership, error) {
	return s.members.ListByTenant(ctx, tenantID)
}
