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

// Package notify delivers invitation notifications through an asynq queue.
// Enqueueing happens after the invitation commits and a failure is never
// propagated into the invitation flow.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/opentrusty/tenancy/internal/invitation"
)

// TypeInvitationIssued is the task type of invitation notifications.
const TypeInvitationIssued = "invitation:issued"

// Enqueuer is the part of asynq.Client the notifier uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Config holds queue settings.
type Config struct {
	Queue    string
	MaxRetry int
}

// AsynqNotifier implements invitation.Notifier on top of asynq.
type AsynqNotifier struct {
	client Enqueuer
	cfg    Config
}

var _ invitation.Notifier = (*AsynqNotifier)(nil)

// NewAsynqNotifier creates a notifier.
func NewAsynqNotifier(client Enqueuer, cfg Config) *AsynqNotifier {
	if cfg.Queue == "" {
		cfg.Queue = "notifications"
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 5
	}
	return &AsynqNotifier{client: client, cfg: cfg}
}

// InvitationIssued enqueues one notification task. The invitation id is the
// task id, so a retried enqueue of the same invitation is dropped.
func (n *AsynqNotifier) InvitationIssued(ctx context.Context, msg invitation.Notification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	task := asynq.NewTask(TypeInvitationIssued, payload)
	info, err := n.client.EnqueueContext(ctx, task,
		asynq.TaskID(msg.InvitationID),
		asynq.Queue(n.cfg.Queue),
		asynq.MaxRetry(n.cfg.MaxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	slog.DebugContext(ctx, "invitation notification enqueued",
		slog.String("invitation_id", msg.InvitationID),
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue),
	)
	return nil
}

// RedisConnOpt lets asynq share an existing go-redis client.
type RedisConnOpt struct {
	Client redis.UniversalClient
}

// MakeRedisClient implements asynq.RedisConnOpt.
func (o RedisConnOpt) MakeRedisClient() interface{} {
	return o.Client
}
