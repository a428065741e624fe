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

package metrics

import (
	"context"
	"time"
)

// Resolution outcomes.
const (
	OutcomeResolved = "resolved"
	OutcomeRejected = "rejected"
	OutcomeNone     = "none"
	OutcomeError    = "error"
)

// Invitation events.
const (
	InvitationIssued   = "issued"
	InvitationRedeemed = "redeemed"
	InvitationRevoked  = "revoked"
	InvitationExpired  = "expired"
	InvitationRejected = "rejected"
)

// Recorder records tenancy metrics.
type Recorder interface {
	RecordResolution(ctx context.Context, method, outcome string)
	RecordInvitation(ctx context.Context, event string)
	RecordJobRun(ctx context.Context, job string, d time.Duration, err error)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordResolution(context.Context, string, string)           {}
func (Nop) RecordInvitation(context.Context, string)                   {}
func (Nop) RecordJobRun(context.Context, string, time.Duration, error) {}

// Multi fans measurements out to several recorders.
type Multi []Recorder

func (m Multi) RecordResolution(ctx context.Context, method, outcome string) {
	for _, r := range m {
		r.RecordResolution(ctx, method, outcome)
	}
}

func (m Multi) RecordInvitation(ctx context.Context, event string) {
	for _, r := range m {
		r.RecordInvitation(ctx, event)
	}
}

func (m Multi) RecordJobRun(ctx context.Context, job string, d time.Duration, err error) {
	for _, r := range m {
		r.RecordJobRun(ctx, job, d, err)
	}
}
