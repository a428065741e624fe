package jobs

import "context"

// Sweeper expires overdue invitations.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// InvitationSweep flips pending invitations past their expiry to expired.
type InvitationSweep struct {
	ledger Sweeper
}

// NewInvitationSweep creates the sweep job.
func NewInvitationSweep(ledger Sweeper) *InvitationSweep {
	return &InvitationSweep{ledger: ledger}
}

func (j *InvitationSweep) Name() string { return "invitation_sweep" }

func (j *InvitationSweep) Run(ctx context.Context) error {
	_, err := j.ledger.Sweep(ctx)
	return err
}
