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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/tenancy/internal/invitation"
	"github.com/opentrusty/tenancy/internal/tenant"
)

const invitationColumns = `id, token, tenant_id, email, role, status, expires_at, reusable,
	max_uses, use_count, issued_by, redeemed_by, redeemed_at, message, created_at, updated_at`

// InvitationRepository implements invitation.Repository
type InvitationRepository struct {
	db *DB
}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository(db *DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

func scanInvitation(row pgx.Row) (*invitation.Invitation, error) {
	var (
		inv          invitation.Invitation
		role, status string
		issuedBy     *string
	)
	err := row.Scan(&inv.ID, &inv.Token, &inv.TenantID, &inv.Email, &role, &status, &inv.ExpiresAt,
		&inv.Reusable, &inv.MaxUses, &inv.UseCount, &issuedBy, &inv.RedeemedBy, &inv.RedeemedAt,
		&inv.Message, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.Role = tenant.Role(role)
	inv.Status = invitation.Status(status)
	inv.IssuedBy = derefString(issuedBy)
	return &inv, nil
}

// Create inserts an invitation
func (r *InvitationRepository) Create(ctx context.Context, inv *invitation.Invitation) error {
	if inv.CreatedAt.IsZero() {
		inv.Touch(time.Now())
	}

	return r.db.withTenant(ctx, inv.TenantID, func(q querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO tenant_invitations (id, token, tenant_id, email, role, status, expires_at, reusable,
				max_uses, use_count, issued_by, message, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, inv.ID, inv.Token, inv.TenantID, inv.Email, string(inv.Role), string(inv.Status), inv.ExpiresAt,
			inv.Reusable, inv.MaxUses, inv.UseCount, nullString(inv.IssuedBy), inv.Message,
			inv.CreatedAt, inv.UpdatedAt)
		if err != nil {
			switch {
			case isUniqueViolation(err, "tenant_invitations_token_key"):
				return invitation.ErrTokenCollision
			case isUniqueViolation(err, "tenant_invitations_pending_email"):
				return invitation.ErrDuplicatePendingInvitation
			case isForeignKeyViolation(err):
				return tenant.ErrTenantNotFound
			}
			return fmt.Errorf("failed to insert invitation: %w", classify(err))
		}
		return nil
	})
}

// getByToken looks a token up across tenants through the security definer
// function, since the caller does not know the tenant yet.
func (r *InvitationRepository) getByToken(ctx context.Context, token string, lock bool) (*invitation.Invitation, error) {
	inv, err := scanInvitation(r.db.conn(ctx).QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM tenancy_invitation_by_token($1, $2)`, token, lock))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invitation.ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", classify(err))
	}
	return inv, nil
}

// GetByToken retrieves an invitation by token
func (r *InvitationRepository) GetByToken(ctx context.Context, token string) (*invitation.Invitation, error) {
	return r.getByToken(ctx, token, false)
}

// GetByTokenForUpdate retrieves an invitation and locks its row until the
// surrounding transaction ends
func (r *InvitationRepository) GetByTokenForUpdate(ctx context.Context, token string) (*invitation.Invitation, error) {
	return r.getByToken(ctx, token, true)
}

// Update writes the mutable state of an invitation
func (r *InvitationRepository) Update(ctx context.Context, inv *invitation.Invitation) error {
	inv.UpdatedAt = time.Now()
	return r.db.withTenant(ctx, inv.TenantID, func(q querier) error {
		result, err := q.Exec(ctx, `
			UPDATE tenant_invitations
			SET status = $2, use_count = $3, redeemed_by = $4, redeemed_at = $5, updated_at = $6
			WHERE id = $1
		`, inv.ID, string(inv.Status), inv.UseCount, inv.RedeemedBy, inv.RedeemedAt, inv.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update invitation: %w", classify(err))
		}
		if result.RowsAffected() == 0 {
			return invitation.ErrInvitationNotFound
		}
		return nil
	})
}

// Expire flips a pending invitation to expired
func (r *InvitationRepository) Expire(ctx context.Context, tenantID, id string, now time.Time) (bool, error) {
	var changed bool
	err := r.db.withTenant(ctx, tenantID, func(q querier) error {
		result, err := q.Exec(ctx, `
			UPDATE tenant_invitations SET status = 'expired', updated_at = $3
			WHERE id = $1 AND tenant_id = $2 AND status = 'pending'
		`, id, tenantID, now)
		if err != nil {
			return fmt.Errorf("failed to expire invitation: %w", classify(err))
		}
		changed = result.RowsAffected() > 0
		return nil
	})
	return changed, err
}

// ExpireStale flips the lapsed pending invitations of (tenantID, email) to expired
func (r *InvitationRepository) ExpireStale(ctx context.Context, tenantID, email string, now time.Time) (int64, error) {
	var n int64
	err := r.db.withTenant(ctx, tenantID, func(q querier) error {
		result, err := q.Exec(ctx, `
			UPDATE tenant_invitations SET status = 'expired', updated_at = $3
			WHERE tenant_id = $1 AND lower(email) = lower($2) AND status = 'pending' AND expires_at < $3
		`, tenantID, email, now)
		if err != nil {
			return fmt.Errorf("failed to expire stale invitations: %w", classify(err))
		}
		n = result.RowsAffected()
		return nil
	})
	return n, err
}

// ExistsPending reports whether email already has a pending invitation to tenantID
func (r *InvitationRepository) ExistsPending(ctx context.Context, tenantID, email string) (bool, error) {
	var exists bool
	err := r.db.withTenant(ctx, tenantID, func(q querier) error {
		err := q.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM tenant_invitations
				WHERE tenant_id = $1 AND lower(email) = lower($2) AND status = 'pending'
			)
		`, tenantID, email).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check pending invitations: %w", classify(err))
		}
		return nil
	})
	return exists, err
}

// ListByTenant lists a tenant's invitations, newest first. An empty status
// lists all of them.
func (r *InvitationRepository) ListByTenant(ctx context.Context, tenantID string, status invitation.Status) ([]*invitation.Invitation, error) {
	var invitations []*invitation.Invitation
	err := r.db.withTenant(ctx, tenantID, func(q querier) error {
		rows, err := q.Query(ctx, `
			SELECT `+invitationColumns+` FROM tenant_invitations
			WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
			ORDER BY created_at DESC, id
		`, tenantID, string(status))
		if err != nil {
			return fmt.Errorf("failed to list invitations: %w", classify(err))
		}
		defer rows.Close()

		for rows.Next() {
			inv, err := scanInvitation(rows)
			if err != nil {
				return fmt.Errorf("failed to scan invitation: %w", err)
			}
			invitations = append(invitations, inv)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to list invitations: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invitations, nil
}

// Sweep expires every pending invitation whose expiry is before now. It
// spans all tenants and so runs through the security definer function.
func (r *InvitationRepository) Sweep(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	if err := r.db.conn(ctx).QueryRow(ctx, `SELECT tenancy_expire_invitations($1)`, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to sweep invitations: %w", classify(err))
	}
	return n, nil
}
