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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/opentrusty/tenancy/internal/accessgate"
	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/cache"
	"github.com/opentrusty/tenancy/internal/config"
	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/invitation"
	"github.com/opentrusty/tenancy/internal/notify"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/observability/metrics"
	"github.com/opentrusty/tenancy/internal/observability/tracing"
	"github.com/opentrusty/tenancy/internal/resolver"
	"github.com/opentrusty/tenancy/internal/rls"
	"github.com/opentrusty/tenancy/internal/rolesync"
	"github.com/opentrusty/tenancy/internal/session"
	"github.com/opentrusty/tenancy/internal/store/postgres"
	"github.com/opentrusty/tenancy/internal/tenant"
	transportHTTP "github.com/opentrusty/tenancy/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting tenancy service")

	// Phase: CLI Commands
	if len(os.Args) > 1 && os.Args[1] == "bootstrap" {
		if err := runBootstrap(cfg); err != nil {
			fmt.Printf("Bootstrap failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
		os.Exit(1)
	}
	defer tracer.Shutdown(ctx)

	// Initialize metrics
	recorder, prom, err := metrics.NewRecorder(ctx, metrics.Config{
		Enabled:    cfg.Observability.OTELEnabled,
		Prometheus: cfg.Observability.PrometheusEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize metrics", logger.Error(err))
		os.Exit(1)
	}

	// Initialize database
	db, err := postgres.New(ctx, dbConfig(cfg))
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	if err := db.VerifyRuntimeRole(ctx); err != nil {
		slog.Error("refusing to start: tenant isolation would not be enforced", logger.Error(err))
		os.Exit(1)
	}
	slog.Info("connected to database", slog.String("role", cfg.Database.RuntimeRole))

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	tenantRepo := postgres.NewTenantRepository(db)
	domainRepo := postgres.NewDomainRepository(db)
	memberRepo := postgres.NewMembershipRepository(db)
	invitationRepo := postgres.NewInvitationRepository(db)
	activityRepo := postgres.NewActivityRepository(db)

	auditLogger := audit.NewActivityLogger(audit.NewSlogLogger(), activityRepo)
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	// Redis backs the domain cache and the notification queue. Both are
	// optional: without redis the resolver reads postgres and
	// notifications are dropped.
	var (
		domainCache *cache.DomainCache
		notifier    invitation.Notifier = invitation.NopNotifier{}
	)
	redisClient, err := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		slog.Warn("redis unavailable, domain cache and notifications disabled", logger.Error(err))
	} else {
		defer redisClient.Close()
		if cfg.Redis.CacheEnabled {
			domainCache = cache.NewDomainCache(redisClient, cfg.Redis.DomainTTL)
		}
		queue := asynq.NewClient(notify.RedisConnOpt{Client: redisClient})
		notifier = notify.NewAsynqNotifier(queue, notify.Config{
			Queue:    cfg.Worker.Queue,
			MaxRetry: cfg.Worker.MaxRetry,
		})
	}

	// Initialize services
	identityService := identity.NewService(
		userRepo,
		passwordHasher,
		db,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		cfg.Security.LockoutDuration,
	)
	roleSync := rolesync.New(memberRepo, tenantRepo)
	tenantService := tenant.NewService(tenantRepo, domainRepo, memberRepo, db, roleSync, auditLogger)
	tenantResolver := resolver.New(tenantRepo, domainRepo, memberRepo).WithRecorder(recorder)
	if domainCache != nil {
		tenantService.WithDomainCache(domainCache)
		tenantResolver.WithCache(domainCache)
	}
	gate := accessgate.New(memberRepo)
	ledger := invitation.NewLedger(
		invitationRepo,
		tenantRepo,
		tenantService,
		identityService,
		gate,
		db,
		notifier,
		recorder,
		auditLogger,
		invitation.Config{
			FrontendBaseURL: cfg.Invitation.FrontendBaseURL,
			DefaultTTL:      cfg.Invitation.DefaultTTL,
		},
	)

	// Run Bootstrap (ENV driven)
	if err := identity.NewBootstrapService(userRepo, auditLogger).Bootstrap(ctx, cfg.Security.BootstrapSuperuserEmail); err != nil {
		slog.Error("bootstrap failed", logger.Error(err))
	}

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	deps := transportHTTP.Dependencies{
		Users:          identityService,
		Tokens:         session.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		Tenants:        tenantService,
		Invitations:    ledger,
		Resolver:       tenantResolver,
		Gate:           gate,
		Activity:       activityRepo,
		RoleSync:       roleSync,
		Binder:         rls.PoolBinder{Pool: db.Pool()},
		Health:         db,
		RequestTimeout: cfg.Server.RequestTimeout,
	}
	if prom != nil {
		deps.Metrics = prom.Handler()
	}
	router := transportHTTP.NewRouter(transportHTTP.NewHandler(deps), rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"), slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func dbConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
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
	}
}

func runBootstrap(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, dbConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	return identity.NewBootstrapService(postgres.NewUserRepository(db), audit.NewSlogLogger()).
		Bootstrap(ctx, cfg.Security.BootstrapSuperuserEmail)
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	// Migrations run as the schema owner.
	ownerCfg := dbConfig(cfg)
	ownerCfg.RuntimeRole = ""
	db, err := postgres.New(ctx, ownerCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying schema...")
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
