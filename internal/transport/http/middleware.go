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
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/resolver"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// Tenant Context Principles:
// 1. The tenant of a request comes only from the resolver
// 2. A malformed X-Tenant-ID is ignored; an unauthorized one is rejected
// 3. Tenant-scoped handlers run on a connection bound to that tenant

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.Host(r.Host),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Authenticate verifies an optional bearer token. Requests without one
// continue anonymously; an invalid token is rejected. The user is reloaded
// on every request so revoked privileges take effect immediately.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := h.tokens.Parse(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		user, err := h.users.GetUser(r.Context(), sess.UserID)
		if err != nil {
			if errors.Is(err, identity.ErrUserNotFound) {
				respondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			h.respondServiceError(w, r, err)
			return
		}
		if !user.Active {
			respondError(w, http.StatusUnauthorized, "user is inactive")
			return
		}

		actor := tenant.Actor{UserID: user.ID, IsSuperuser: user.IsSuperuser}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor, sess.ID)))
	})
}

// RequireAuth rejects anonymous requests.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetActor(r.Context()); !ok {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSuperuser rejects every actor that is not a superuser.
func RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !actor.IsSuperuser {
			respondError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ResolveTenant resolves the tenant of the request and, when one is found
// and a binder is configured, pins a connection carrying the tenant
// variable to the request context for the rest of the chain.
func (h *Handler) ResolveTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req := resolver.Request{
			TenantHeader: r.Header.Get(resolver.HeaderTenantID),
			Host:         r.Host,
		}
		if actor, ok := GetActor(ctx); ok {
			req.Actor = &actor
		}

		res, err := h.resolver.Resolve(ctx, req)
		if err != nil {
			if errors.Is(err, resolver.ErrResolutionRejected) {
				respondError(w, http.StatusForbidden, "forbidden")
				return
			}
			h.respondServiceError(w, r, err)
			return
		}
		ctx = withResolution(ctx, res)
		if res.Tenant != nil {
			slog.DebugContext(ctx, "tenant resolved",
				logger.TenantSlug(res.Tenant.Slug),
				logger.ResolutionMethod(string(res.Method)),
			)
		}

		if res.Tenant != nil && h.binder != nil {
			bound, release, err := h.binder.Bind(ctx, res.Tenant.ID)
			if err != nil {
				slog.ErrorContext(ctx, "failed to bind tenant connection",
					logger.TenantID(res.Tenant.ID),
					logger.Error(err),
				)
				respondError(w, http.StatusServiceUnavailable, "service unavailable")
				return
			}
			defer release()
			ctx = bound
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireTenant rejects requests for which no tenant was resolved.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CurrentTenant(r.Context()) == nil {
			respondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits actors holding one of roles in the current tenant.
// Superusers always pass.
func (h *Handler) RequireRole(roles ...tenant.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor, ok := GetActor(ctx)
			if !ok {
				respondError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			tenantID := GetTenantID(ctx)

			allowed, err := h.gate.Authorize(ctx, actor, tenantID, roles...)
			if err != nil {
				h.respondServiceError(w, r, err)
				return
			}
			if !allowed {
				slog.WarnContext(ctx, "tenant access denied",
					logger.UserID(actor.UserID),
					logger.TenantID(tenantID),
					logger.Path(r.URL.Path),
				)
				respondError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
