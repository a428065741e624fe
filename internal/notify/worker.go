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

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/opentrusty/tenancy/internal/invitation"
	"github.com/opentrusty/tenancy/internal/observability/logger"
)

// Mailer sends invitation messages. Delivery mechanics live outside this
// service; the default implementation only logs.
type Mailer interface {
	SendInvitation(ctx context.Context, n invitation.Notification) error
}

// LogMailer writes the invitation to the log instead of sending it.
type LogMailer struct{}

func (LogMailer) SendInvitation(ctx context.Context, n invitation.Notification) error {
	slog.InfoContext(ctx, "invitation ready for delivery",
		logger.InvitationID(n.InvitationID),
		logger.TenantID(n.TenantID),
		logger.Role(n.Role),
		slog.Time("expires_at", n.ExpiresAt),
	)
	return nil
}

// Handler processes notification tasks.
type Handler struct {
	mailer Mailer
	now    func() time.Time
}

// NewHandler creates a handler.
func NewHandler(mailer Mailer) *Handler {
	return &Handler{mailer: mailer, now: time.Now}
}

// Register mounts the handler's task types on mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeInvitationIssued, h.HandleInvitationIssued)
}

// HandleInvitationIssued delivers one invitation. Malformed payloads and
// invitations already past expiry are not retried.
func (h *Handler) HandleInvitationIssued(ctx context.Context, t *asynq.Task) error {
	var n invitation.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return fmt.Errorf("failed to decode notification: %v: %w", err, asynq.SkipRetry)
	}
	if n.InvitationID == "" || n.Email == "" {
		return fmt.Errorf("incomplete notification payload: %w", asynq.SkipRetry)
	}
	if !n.ExpiresAt.IsZero() && h.now().After(n.ExpiresAt) {
		slog.InfoContext(ctx, "skipping notification for expired invitation",
			logger.InvitationID(n.InvitationID),
		)
		return nil
	}
	if err := h.mailer.SendInvitation(ctx, n); err != nil {
		return fmt.Errorf("failed to send invitation %s: %w", n.InvitationID, err)
	}
	return nil
}

// ServerConfig holds worker settings.
type ServerConfig struct {
	Concurrency int
	Queue       string
	LogLevel    string
}

// NewServer creates the asynq worker server.
func NewServer(opt asynq.RedisConnOpt, cfg ServerConfig) *asynq.Server {
	var level asynq.LogLevel
	if err := level.Set(cfg.LogLevel); err != nil {
		level = asynq.InfoLevel
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "notifications"
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency:    cfg.Concurrency,
		Queues:         map[string]int{queue: 1},
		Logger:         SlogLogger{Logger: slog.Default().With(logger.Component("asynq"))},
		LogLevel:       level,
		RetryDelayFunc: asynq.DefaultRetryDelayFunc,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			slog.ErrorContext(ctx, "task failed",
				logger.Task(task.Type()),
				logger.Error(err),
			)
		}),
	})
}

// SlogLogger adapts slog to asynq.Logger.
type SlogLogger struct {
	Logger *slog.Logger
}

func (l SlogLogger) Debug(args ...interface{}) { l.Logger.Debug(fmt.Sprint(args...)) }
func (l SlogLogger) Info(args ...interface{})  { l.Logger.Info(fmt.Sprint(args...)) }
func (l SlogLogger) Warn(args ...interface{})  { l.Logger.Warn(fmt.Sprint(args...)) }
func (l SlogLogger) Error(args ...interface{}) { l.Logger.Error(fmt.Sprint(args...)) }

// Fatal logs and exits, as asynq expects.
func (l SlogLogger) Fatal(args ...interface{}) {
	l.Logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
