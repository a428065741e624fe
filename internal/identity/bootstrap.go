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

package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opentrusty/tenancy/internal/audit"
)

// BootstrapService promotes the first superuser of a fresh installation.
type BootstrapService struct {
	repo        UserRepository
	auditLogger audit.Logger
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(repo UserRepository, auditLogger audit.Logger) *BootstrapService {
	return &BootstrapService{repo: repo, auditLogger: auditLogger}
}

// Bootstrap marks the user with the given email as superuser when no
// superuser exists yet. An empty email disables bootstrapping.
func (s *BootstrapService) Bootstrap(ctx context.Context, email string) error {
	if email == "" {
		return nil
	}

	count, err := s.repo.CountSuperusers(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for existing superuser: %w", err)
	}
	if count > 0 {
		return nil
	}

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return fmt.Errorf("invalid bootstrap email: %w", err)
	}
	user, err := s.repo.GetByEmail(ctx, normalized)
	if err != nil {
		return fmt.Errorf("bootstrap user not found (email: %s): %w", normalized, err)
	}

	if err := s.repo.SetSuperuser(ctx, user.ID, true); err != nil {
		return fmt.Errorf("failed to grant superuser during bootstrap: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSuperuserBootstrap,
		ActorID:  audit.ActorSystem,
		Resource: "user",
		Metadata: map[string]any{
			audit.AttrUserID: user.ID,
			audit.AttrEmail:  normalized,
		},
	})
	slog.InfoContext(ctx, "bootstrapped initial superuser", slog.String("user_id", user.ID))
	return nil
}
