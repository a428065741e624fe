package tenant

import (
	"time"
)

// Timestamps is embedded by every persisted tenancy record.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch sets UpdatedAt, and CreatedAt when it is still zero.
func (t *Timestamps) Touch(now time.Time) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

// Ownership records who owns and who last changed a record.
type Ownership struct {
	OwnerID     string `json:"owner_id,omitempty"`
	CreatedByID string `json:"created_by_id,omitempty"`
	UpdatedByID string `json:"updated_by_id,omitempty"`
}

// Tenant represents an isolated organization sharing the database with
// every other tenant.
type Tenant struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Slug           string         `json:"slug"`
	Active         bool           `json:"active"`
	Trial          bool           `json:"trial"`
	TrialExpiresAt *time.Time     `json:"trial_expires_at,omitempty"`
	Settings       map[string]any `json:"settings,omitempty"`
	Timestamps
	Ownership
}

// IsTrialExpired reports whether a trial tenant is past its trial window.
func (t *Tenant) IsTrialExpired(now time.Time) bool {
	return t.Trial && t.TrialExpiresAt != nil && now.After(*t.TrialExpiresAt)
}

// Domain maps a fully-qualified host name to exactly one tenant.
type Domain struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Domain    string `json:"domain"`
	IsPrimary bool   `json:"is_primary"`
	Timestamps
}

// Actor is the authenticated principal of a request.
// IsSuperuser is orthogonal to tenant roles and bypasses membership checks.
type Actor struct {
	UserID      string
	IsSuperuser bool
}
