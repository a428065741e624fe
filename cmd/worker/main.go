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

// Command worker delivers queued invitation notifications and runs the
// periodic invitation sweep.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/cache"
	"github.com/opentrusty/tenancy/internal/config"
	"github.com/opentrusty/tenancy/internal/invitation"
	"github.com/opentrusty/tenancy/internal/jobs"
	"github.com/opentrusty/tenancy/internal/notify"
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
		ServiceName: cfg.Observability.ServiceName + "-worker",
	})

	if err := run(cfg); err != nil {
		slog.Error("worker failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	recorder, _, err := metrics.NewRecorder(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName+"-worker")
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	db, err := postgres.New(ctx, postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		RuntimeRole:     cfg.Database.RuntimeRole,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.VerifyRuntimeRole(ctx); err != nil {
		return err
	}

	redisClient, err := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// The sweep only touches the invitation table.
	ledger := invitation.NewLedger(
		postgres.NewInvitationRepository(db),
		nil, nil, nil, nil,
		db,
		nil,
		recorder,
		audit.NewSlogLogger(),
		invitation.Config{DefaultTTL: cfg.Invitation.DefaultTTL},
	)

	scheduler := jobs.NewScheduler(recorder, 5*time.Minute)
	if err := scheduler.Add(cfg.Invitation.SweepSchedule, jobs.NewInvitationSweep(ledger)); err != nil {
		return err
	}

	mux := asynq.NewServeMux()
	notify.NewHandler(notify.LogMailer{}).Register(mux)
	srv := notify.NewServer(notify.RedisConnOpt{Client: redisClient}, notify.ServerConfig{
		Concurrency: cfg.Worker.Concurrency,
		Queue:       cfg.Worker.Queue,
		LogLevel:    cfg.Observability.LogLevel,
	})
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}
	scheduler.Start()
	slog.Info("worker started",
		logger.Component("worker"),
		slog.String("queue", cfg.Worker.Queue),
		slog.String("sweep_schedule", cfg.Invitation.SweepSchedule),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		slog.Error("scheduler shutdown error", logger.Error(err))
	}
	srv.Shutdown()

	slog.Info("worker stopped")
	return nil
}
