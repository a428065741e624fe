package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/tenancy/internal/tenant"
)

const membershipColumns = `id, tenant_id, user_id, role, active, invited_by, created_at, updated_at`

// MembershipRepository implements tenant.MembershipRepository and the
// group store used by role synchronization.
type MembershipRepository struct {
	db *DB
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func scanMembership(row pgx.Row) (*tenant.Membership, error) {
	var (
		m    tenant.Membership
		role string
	)
	if err := row.Scan(&m.ID, &m.TenantID, &m.UserID, &role, &m.Active, &m.InvitedBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Role = tenant.Role(role)
	return &m, nil
}

// Create inserts a membership
func (r *MembershipRepository) Create(ctx context.Context, m *tenant.Membership) error {
	if m.CreatedAt.IsZero() {
		m.Touch(time.Now())
	}

	return r.db.withTenant(ctx, m.TenantID, func(q querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO tenant_users (id, tenant_id, user_id, role, active, invited_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, m.ID, m.TenantID, m.UserID, string(m.Role), m.Active, m.InvitedBy, m.CreatedAt, m.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err, "tenant_users_tenant_user_key") {
				return tenant.ErrMembershipConflict
			}
			return fmt.Errorf("failed to insert membership: %w", classify(err))
		}
		return nil
	})
}

// Get retrieves the membership of userID in tenantID
func (r *MembershipRepository) Get(ctx context.Context, tenantID, userID string) (*tenant.Membership, error) {
	var m *tenant.Membership
	err := r.db.withTenant(ctx, tenantID, func(q querier) error {
		var err error
		m, err = scanMembership(q.QueryRow(ctx, `
			SELECT `+membershipColumns+` FROM tenant_users
			WHERE tenant_id = $1 AND user_id = $2
		`, tenantID, userID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return tenant.ErrMembershipNotFound
			}
			return fmt.Errorf("failed to get membership: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Update writes role and active state
func (r *MembershipRepository) Update(ctx context.Context, m *tenant.Membership) error {
	m.UpdatedAt = time.Now()
	return r.db.withTenant(ctx, m.TenantID, func(q querier) error {
		result, err := q.Exec(ctx, `
			UPDATE tenant_users SET role = $3, active = $4, updated_at = $5
			WHERE tenant_id = $1 AND user_id = $2
		`, m.TenantID, m.UserID, string(m.Role), m.Active, m.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update membership: %w", classify(err))
		}
		if result.RowsAffected() == 0 {
			return tenant.ErrMembershipNotFound
		}
		return nil
	})
}

// Delete removes the membership of userID in tenantID
func (r *MembershipRepository) Delete(ctx context.Context, tenantID, userID string) error {
	return r.db.withTenant(ctx, tenantID, func(q querier) error {
		result, err := q.Exec(ctx, `
			DELETE FROM tenant_users WHERE tenant_id = $1 AND user_id = $2
		`, tenantID, userID)
		if err != nil {
			return fmt.Errorf("failed to delete membership: %w", classify(err))
		}
		if result.RowsAffected() == 0 {
			return tenant.ErrMembershipNotFound
		}
		return nil
	})
}

func listMemberships(ctx context.Context, q querier, query string, arg any) ([]*tenant.Membership, error) {
	rows, err := q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", classify(err))
	}
	defer rows.Close()

	var memberships []*tenant.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", classify(err))
	}
	return memberships, nil
}

// ListByTenant lists every membership of a tenant
func (r *MembershipRepository) ListByTenant(ctx context.Context, tenantID string) ([]*tenant.Membership, error) {
	var memberships []*tenant.Membership
	err := r.db.withTenant(ctx, tenantID, func(q querier) error {
		var err error
		memberships, err = listMemberships(ctx, q, `
			SELECT `+membershipColumns+` FROM tenant_users
			WHERE tenant_id = $1
			ORDER BY created_at, id
		`, tenantID)
		return err
	})
	return memberships, err
}

// ListActiveByUser lists the active memberships of a user ordered by ID.
// Memberships span tenants, so the read goes through the security definer
// function rather than the row-secured table.
func (r *MembershipRepository) ListActiveByUser(ctx context.Context, userID string) ([]*tenant.Membership, error) {
	return listMemberships(ctx, r.db.conn(ctx), `
		SELECT `+membershipColumns+` FROM tenancy_user_memberships($1)
	`, userID)
}

// CountActiveByRole counts active members of tenantID holding role
func (r *MembershipRepository) CountActiveByRole(ctx context.Context, tenantID string, role tenant.Role) (int, error) {
	var n int
	err := r.db.withTenant(ctx, tenantID, func(q querier) error {
		err := q.QueryRow(ctx, `
			SELECT count(*) FROM tenant_users
			WHERE tenant_id = $1 AND role = $2 AND active
		`, tenantID, string(role)).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to count members: %w", classify(err))
		}
		return nil
	})
	return n, err
}

// SetElevatedAccess writes the derived elevated-access flag of a user
func (r *MembershipRepository) SetElevatedAccess(ctx context.Context, userID string, elevated bool) error {
	_, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE users SET elevated_access = $2, updated_at = NOW()
		WHERE id = $1 AND elevated_access IS DISTINCT FROM $2
	`, userID, elevated)
	if err != nil {
		return fmt.Errorf("failed to set elevated access: %w", classify(err))
	}
	return nil
}

// AddToGroup adds a user to a group, creating the group on first use
func (r *MembershipRepository) AddToGroup(ctx context.Context, userID, group string) error {
	q := r.db.conn(ctx)
	if _, err := q.Exec(ctx, `INSERT INTO groups (name) VALUES ($1) ON CONFLICT DO NOTHING`, group); err != nil {
		return fmt.Errorf("failed to create group: %w", classify(err))
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO user_groups (user_id, group_name) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userID, group); err != nil {
		return fmt.Errorf("failed to add group member: %w", classify(err))
	}
	return nil
}

// RemoveFromGroup removes a user from a group; removing an absent member is a no-op
func (r *MembershipRepository) RemoveFromGroup(ctx context.Context, userID, group string) error {
	_, err := r.db.conn(ctx).Exec(ctx, `
		DELETE FROM user_groups WHERE user_id = $1 AND group_name = $2
	`, userID, group)
	if err != nil {
		return fmt.Errorf("failed to remove group member: %w", classify(err))
	}
	return nil
}

// ListGroups lists the groups a user belongs to
func (r *MembershipRepository) ListGroups(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT group_name FROM user_groups WHERE user_id = $1 ORDER BY group_name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", classify(err))
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", classify(err))
	}
	return groups, nil
}
