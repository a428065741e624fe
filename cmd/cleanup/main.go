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

// Command cleanup expires overdue pending invitations once and exits.
// It is meant for cron or a Kubernetes CronJob where the worker is not run.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/config"
	"github.com/opentrusty/tenancy/internal/invitation"
	"github.com/opentrusty/tenancy/internal/jobs"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/observability/metrics"
	"github.com/opentrusty/tenancy/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName + "-cleanup",
	})

	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: 2,
		MaxIdleConns: 1,
		RuntimeRole:  cfg.Database.RuntimeRole,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	if err := db.VerifyRuntimeRole(ctx); err != nil {
		slog.Error("refusing to run: tenant isolation would not be enforced", logger.Error(err))
		os.Exit(1)
	}

	ledger := invitation.NewLedger(
		postgres.NewInvitationRepository(db),
		nil, nil, nil, nil,
		db,
		nil,
		metrics.Nop{},
		audit.NewSlogLogger(),
		invitation.Config{DefaultTTL: cfg.Invitation.DefaultTTL},
	)

	scheduler := jobs.NewScheduler(metrics.Nop{}, 5*time.Minute)
	if err := scheduler.RunNow(ctx, jobs.NewInvitationSweep(ledger)); err != nil {
		os.Exit(1)
	}
}
