package invitation

import (
	"context"
	"time"
)

// Repository defines the interface for invitation storage.
//
// Create returns ErrTokenCollision when the token is taken and
// ErrDuplicatePendingInvitation when a pending invitation for the same
// (tenant, email) exists. Lookups return ErrInvitationNotFound.
type Repository interface {
	Create(ctx context.Context, inv *Invitation) error
	GetByToken(ctx context.Context, token string) (*Invitation, error)
	// GetByTokenForUpdate locks the row for the surrounding transaction.
	GetByTokenForUpdate(ctx context.Context, token string) (*Invitation, error)
	Update(ctx context.Context, inv *Invitation) error
	// Expire flips a pending invitation to expired. It reports whether a
	// row changed.
	Expire(ctx context.Context, tenantID, id string, now time.Time) (bool, error)
	// ExpireStale flips the pending invitations of (tenantID, email) whose
	// expiry is before now to expired.
	ExpireStale(ctx context.Context, tenantID, email string, now time.Time) (int64, error)
	ExistsPending(ctx context.Context, tenantID, email string) (bool, error)
	ListByTenant(ctx context.Context, tenantID string, status Status) ([]*Invitation, error)
	// Sweep expires every pending invitation whose expiry is before now.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// Notification is handed to the Notifier after an email-bound
// invitation is issued.
type Notification struct {
	InvitationID string    `json:"invitation_id"`
	TenantID     string    `json:"tenant_id"`
	TenantName   string    `json:"tenant_name"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	SignupURL    string    `json:"signup_url"`
	ExpiresAt    time.Time `json:"expires_at"`
	Message      string    `json:"message,omitempty"`
}

// Notifier delivers invitation notifications. Failures never affect the
// invitation itself.
type Notifier interface {
	InvitationIssued(ctx context.Context, n Notification) error
}

// NopNotifier drops notifications.
type NopNotifier struct{}

func (NopNotifier) InvitationIssued(context.Context, Notification) error { return nil }
