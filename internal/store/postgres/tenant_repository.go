package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/tenancy/internal/tenant"
)

const tenantColumns = `id, name, slug, active, trial, trial_expires_at, settings,
	owner_id, created_by, updated_by, created_at, updated_at`

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Create creates a new tenant
func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	if t.CreatedAt.IsZero() {
		t.Touch(time.Now())
	}
	settings := t.Settings
	if settings == nil {
		settings = map[string]any{}
	}

	_, err := r.db.conn(ctx).Exec(ctx, `
		INSERT INTO tenants (id, name, slug, active, trial, trial_expires_at, settings,
			owner_id, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, t.ID, t.Name, t.Slug, t.Active, t.Trial, t.TrialExpiresAt, settings,
		nullString(t.OwnerID), nullString(t.CreatedByID), nullString(t.UpdatedByID),
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "tenants_slug_key") {
			return tenant.ErrSlugTaken
		}
		return fmt.Errorf("failed to insert tenant: %w", classify(err))
	}
	return nil
}

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var (
		t                           tenant.Tenant
		ownerID, createdBy, updated *string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Active, &t.Trial, &t.TrialExpiresAt, &t.Settings,
		&ownerID, &createdBy, &updated, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.OwnerID = derefString(ownerID)
	t.CreatedByID = derefString(createdBy)
	t.UpdatedByID = derefString(updated)
	return &t, nil
}

func (r *TenantRepository) getOne(ctx context.Context, where string, arg any) (*tenant.Tenant, error) {
	t, err := scanTenant(r.db.conn(ctx).QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", classify(err))
	}
	return t, nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	return r.getOne(ctx, "id = $1", id)
}

// GetBySlug retrieves a tenant by slug
func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	return r.getOne(ctx, "slug = $1", slug)
}

// Update updates a tenant
func (r *TenantRepository) Update(ctx context.Context, t *tenant.Tenant) error {
	t.UpdatedAt = time.Now()
	settings := t.Settings
	if settings == nil {
		settings = map[string]any{}
	}

	result, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE tenants
		SET name = $2, slug = $3, active = $4, trial = $5, trial_expires_at = $6,
			settings = $7, owner_id = $8, updated_by = $9, updated_at = $10
		WHERE id = $1
	`, t.ID, t.Name, t.Slug, t.Active, t.Trial, t.TrialExpiresAt, settings,
		nullString(t.OwnerID), nullString(t.UpdatedByID), t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "tenants_slug_key") {
			return tenant.ErrSlugTaken
		}
		return fmt.Errorf("failed to update tenant: %w", classify(err))
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}

// List lists tenants ordered by creation
func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", classify(err))
	}
	defer rows.Close()

	var tenants []*tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", classify(err))
	}
	return tenants, nil
}

// DomainRepository implements tenant.DomainRepository
type DomainRepository struct {
	db *DB
}

// NewDomainRepository creates a new domain repository
func NewDomainRepository(db *DB) *DomainRepository {
	return &DomainRepository{db: db}
}

// Create registers a domain for a tenant
func (r *DomainRepository) Create(ctx context.Context, d *tenant.Domain) error {
	if d.CreatedAt.IsZero() {
		d.Touch(time.Now())
	}
	return r.db.withTenant(ctx, d.TenantID, func(q querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO tenant_domains (id, tenant_id, domain, is_primary, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, d.ID, d.TenantID, d.Domain, d.IsPrimary, d.CreatedAt, d.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err, "tenant_domains_domain_key") {
				return tenant.ErrDomainTaken
			}
			if isForeignKeyViolation(err) {
				return tenant.ErrTenantNotFound
			}
			return fmt.Errorf("failed to insert domain: %w", classify(err))
		}
		return nil
	})
}

// GetByDomain looks up the mapping for a normalized host name. The tenant
// is what is being resolved, so the lookup goes through the security
// definer function.
func (r *DomainRepository) GetByDomain(ctx context.Context, domain string) (*tenant.Domain, error) {
	var d tenant.Domain
	err := r.db.conn(ctx).QueryRow(ctx, `
		SELECT id, tenant_id, domain, is_primary, created_at, updated_at
		FROM tenancy_domain_lookup($1)
	`, domain).Scan(&d.ID, &d.TenantID, &d.Domain, &d.IsPrimary, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrDomainNotFound
		}
		return nil, fmt.Errorf("failed to get domain: %w", classify(err))
	}
	return &d, nil
}

// ListByTenant lists a tenant's domains, primary first
func (r *DomainRepository) ListByTenant(ctx context.Context, tenantID string) ([]*tenant.Domain, error) {
	var domains []*tenant.Domain
	err := r.db.withTenant(ctx, tenantID, func(q querier) error {
		rows, err := q.Query(ctx, `
			SELECT id, tenant_id, domain, is_primary, created_at, updated_at
			FROM tenant_domains WHERE tenant_id = $1
			ORDER BY is_primary DESC, domain
		`, tenantID)
		if err != nil {
			return fmt.Errorf("failed to list domains: %w", classify(err))
		}
		defer rows.Close()

		for rows.Next() {
			var d tenant.Domain
			if err := rows.Scan(&d.ID, &d.TenantID, &d.Domain, &d.IsPrimary, &d.CreatedAt, &d.UpdatedAt); err != nil {
				return fmt.Errorf("failed to scan domain: %w", err)
			}
			domains = append(domains, &d)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to list domains: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return domains, nil
}

// Delete removes a domain mapping owned by tenantID
func (r *DomainRepository) Delete(ctx context.Context, tenantID, domain string) error {
	return r.db.withTenant(ctx, tenantID, func(q querier) error {
		result, err := q.Exec(ctx, `
			DELETE FROM tenant_domains WHERE tenant_id = $1 AND domain = $2
		`, tenantID, domain)
		if err != nil {
			return fmt.Errorf("failed to delete domain: %w", classify(err))
		}
		if result.RowsAffected() == 0 {
			return tenant.ErrDomainNotFound
		}
		return nil
	})
}

// ClearPrimary unsets the primary flag on every domain of tenantID
func (r *DomainRepository) ClearPrimary(ctx context.Context, tenantID string) error {
	return r.db.withTenant(ctx, tenantID, func(q querier) error {
		_, err := q.Exec(ctx, `
			UPDATE tenant_domains SET is_primary = FALSE, updated_at = NOW()
			WHERE tenant_id = $1 AND is_primary
		`, tenantID)
		if err != nil {
			return fmt.Errorf("failed to clear primary domain: %w", classify(err))
		}
		return nil
	})
}
