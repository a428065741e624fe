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

package http

import (
	"context"

	"github.com/opentrusty/tenancy/internal/resolver"
	"github.com/opentrusty/tenancy/internal/tenant"
)

type contextKey string

const (
	actorKey      contextKey = "actor"
	resolutionKey contextKey = "resolution"
	sessionIDKey  contextKey = "session_id"
)

// GetActor retrieves the authenticated actor from context.
func GetActor(ctx context.Context) (tenant.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(tenant.Actor)
	return actor, ok
}

// GetUserID retrieves the authenticated User ID from context.
func GetUserID(ctx context.Context) string {
	if actor, ok := GetActor(ctx); ok {
		return actor.UserID
	}
	return ""
}

// CurrentTenant retrieves the tenant resolved for the request.
func CurrentTenant(ctx context.Context) *tenant.Tenant {
	if res, ok := ctx.Value(resolutionKey).(*resolver.Resolution); ok && res != nil {
		return res.Tenant
	}
	return nil
}

// GetTenantID retrieves the resolved Tenant ID from context.
func GetTenantID(ctx context.Context) string {
	if t := CurrentTenant(ctx); t != nil {
		return t.ID
	}
	return ""
}

// GetResolutionMethod reports how the current tenant was resolved.
func GetResolutionMethod(ctx context.Context) resolver.Method {
	if res, ok := ctx.Value(resolutionKey).(*resolver.Resolution); ok && res != nil {
		return res.Method
	}
	return resolver.MethodNone
}

// GetSessionID retrieves the Session ID from context.
func GetSessionID(ctx context.Context) string {
	if val, ok := ctx.Value(sessionIDKey).(string); ok {
		return val
	}
	return ""
}

func withActor(ctx context.Context, actor tenant.Actor, sessionID string) context.Context {
	ctx = context.WithValue(ctx, actorKey, actor)
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func withResolution(ctx context.Context, res *resolver.Resolution) context.Context {
	return context.WithValue(ctx, resolutionKey, res)
}
