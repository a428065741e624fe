package tenant

import (
	"context"
	"errors"
)

var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrTenantInactive     = errors.New("tenant is inactive")
	ErrSlugTaken          = errors.New("tenant slug already exists")
	ErrInvalidSlug        = errors.New("invalid tenant slug")
	ErrInvalidName        = errors.New("tenant name is required")
	ErrDomainNotFound     = errors.New("domain not found")
	ErrDomainTaken        = errors.New("domain already registered")
	ErrInvalidDomain      = errors.New("invalid domain")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrMembershipConflict = errors.New("user is already a member of this tenant")
	ErrInvalidRole        = errors.New("invalid role")
	ErrLastOwner          = errors.New("tenant must keep at least one active owner")
	ErrOwnerRoleRequired  = errors.New("only an owner can grant, change or remove the owner role")
)

// Repository defines the interface for tenant storage
type Repository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	Update(ctx context.Context, tenant *Tenant) error
	List(ctx context.Context, limit, offset int) ([]*Tenant, error)
}

// DomainRepository defines the interface for tenant domain storage
type DomainRepository interface {
	Create(ctx context.Context, domain *Domain) error
	GetByDomain(ctx context.Context, domain string) (*Domain, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Domain, error)
	Delete(ctx context.Context, tenantID, domain string) error
	ClearPrimary(ctx context.Context, tenantID string) error
}

// MembershipRepository defines the interface for tenant membership storage.
// ListActiveByUser returns memberships ordered by ID.
type MembershipRepository interface {
	Create(ctx context.Context, m *Membership) error
	Get(ctx context.Context, tenantID, userID string) (*Membership, error)
	Update(ctx context.Context, m *Membership) error
	Delete(ctx context.Context, tenantID, userID string) error
	ListByTenant(ctx context.Context, tenantID string) ([]*Membership, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*Membership, error)
	CountActiveByRole(ctx context.Context, tenantID string, role Role) (int, error)
}

// DomainCache is notified when a domain mapping disappears.
type DomainCache interface {
	Invalidate(ctx context.Context, domain string) error
}
