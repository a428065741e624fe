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

// Package resolver binds a request to exactly one tenant.
//
// Sources are consulted in strict precedence: the X-Tenant-ID header, an
// exact domain match, a subdomain slug match, then the actor's default
// tenant. The first source that yields an active tenant wins. A header
// naming a tenant the actor cannot access rejects the request outright;
// it never falls through to a lower source.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/opentrusty/tenancy/internal/observability/metrics"
	"github.com/opentrusty/tenancy/internal/observability/tracing"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// HeaderTenantID is the explicit tenant selection header.
const HeaderTenantID = "X-Tenant-ID"

// Method records which source produced a resolution.
type Method string

const (
	MethodHeader    Method = "header"
	MethodDomain    Method = "domain"
	MethodSubdomain Method = "subdomain"
	MethodDefault   Method = "default"
	MethodNone      Method = "none"
)

// ErrResolutionRejected means the header named a tenant the actor may not
// access. The request must fail closed.
var ErrResolutionRejected = errors.New("tenant access rejected")

// Request is the request metadata used for resolution.
type Request struct {
	TenantHeader string
	Host         string
	Actor        *tenant.Actor
}

// Resolution is the resolved tenant, nil when no source matched.
type Resolution struct {
	Tenant *tenant.Tenant
	Method Method
}

// TenantStore looks tenants up by id and slug.
type TenantStore interface {
	GetByID(ctx context.Context, id string) (*tenant.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
}

// DomainStore looks tenant domains up by exact name.
type DomainStore interface {
	GetByDomain(ctx context.Context, domain string) (*tenant.Domain, error)
}

// MembershipStore reads memberships. ListActiveByUser is ordered by id.
type MembershipStore interface {
	Get(ctx context.Context, tenantID, userID string) (*tenant.Membership, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*tenant.Membership, error)
}

// DomainCache caches domain to tenant id mappings.
type DomainCache interface {
	Get(ctx context.Context, domain string) (tenantID string, found bool, err error)
	Set(ctx context.Context, domain, tenantID string) error
}

// Resolver implements tenant resolution.
type Resolver struct {
	tenants  TenantStore
	domains  DomainStore
	members  MembershipStore
	cache    DomainCache
	recorder metrics.Recorder
}

// New creates a resolver.
func New(tenants TenantStore, domains DomainStore, members MembershipStore) *Resolver {
	return &Resolver{
		tenants:  tenants,
		domains:  domains,
		members:  members,
		recorder: metrics.Nop{},
	}
}

// WithCache sets the domain cache consulted before the domain store.
func (r *Resolver) WithCache(cache DomainCache) *Resolver {
	r.cache = cache
	return r
}

// WithRecorder sets the metrics recorder.
func (r *Resolver) WithRecorder(recorder metrics.Recorder) *Resolver {
	r.recorder = recorder
	return r
}

// Resolve runs the precedence chain. Only not-found answers move on to the
// next source; storage errors are returned.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "resolver.Resolve", tracing.KeyHost.String(req.Host))
	res, err := r.resolve(ctx, req)

	switch {
	case errors.Is(err, ErrResolutionRejected):
		r.recorder.RecordResolution(ctx, string(MethodHeader), metrics.OutcomeRejected)
	case err != nil:
		r.recorder.RecordResolution(ctx, string(MethodNone), metrics.OutcomeError)
		slog.ErrorContext(ctx, "tenant resolution failed",
			slog.String("host", req.Host),
			slog.String("error", err.Error()),
		)
	case res.Tenant == nil:
		r.recorder.RecordResolution(ctx, string(MethodNone), metrics.OutcomeNone)
	default:
		r.recorder.RecordResolution(ctx, string(res.Method), metrics.OutcomeResolved)
		span.SetAttributes(
			tracing.KeyTenantID.String(res.Tenant.ID),
			tracing.KeyResolutionMethod.String(string(res.Method)),
		)
	}
	tracing.EndSpan(span, err)
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, req Request) (*Resolution, error) {
	if t, err := r.fromHeader(ctx, req); err != nil || t != nil {
		return found(t, MethodHeader), err
	}

	host := tenant.NormalizeHost(req.Host)
	if host != "" {
		t, err := r.fromDomain(ctx, host)
		if err != nil || t != nil {
			return found(t, MethodDomain), err
		}
		t, err = r.fromSubdomain(ctx, host)
		if err != nil || t != nil {
			return found(t, MethodSubdomain), err
		}
	}

	if req.Actor != nil && req.Actor.UserID != "" {
		t, err := r.fromDefault(ctx, req.Actor.UserID)
		if err != nil || t != nil {
			return found(t, MethodDefault), err
		}
	}
	return &Resolution{Method: MethodNone}, nil
}

func found(t *tenant.Tenant, m Method) *Resolution {
	if t == nil {
		return nil
	}
	return &Resolution{Tenant: t, Method: m}
}

// fromHeader returns nil, nil for an absent, malformed, unknown or
// inactive tenant id.
func (r *Resolver) fromHeader(ctx context.Context, req Request) (*tenant.Tenant, error) {
	raw := strings.TrimSpace(req.TenantHeader)
	if raw == "" {
		return nil, nil
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		slog.DebugContext(ctx, "ignoring malformed tenant header", slog.String("value", raw))
		return nil, nil
	}

	t, err := activeTenant(r.tenants.GetByID(ctx, parsed.String()))
	if t == nil || err != nil {
		return nil, err
	}

	actor := req.Actor
	if actor != nil && actor.IsSuperuser {
		return t, nil
	}
	if actor == nil || actor.UserID == "" {
		return nil, ErrResolutionRejected
	}
	m, err := r.members.Get(ctx, t.ID, actor.UserID)
	if errors.Is(err, tenant.ErrMembershipNotFound) {
		return nil, ErrResolutionRejected
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check tenant membership: %w", err)
	}
	if !m.Active {
		return nil, ErrResolutionRejected
	}
	return t, nil
}

func (r *Resolver) fromDomain(ctx context.Context, host string) (*tenant.Tenant, error) {
	if r.cache != nil {
		tenantID, hit, err := r.cache.Get(ctx, host)
		if err != nil {
			slog.WarnContext(ctx, "domain cache lookup failed",
				slog.String("domain", host),
				slog.String("error", err.Error()),
			)
		}
		if hit {
			t, err := r.tenants.GetByID(ctx, tenantID)
			if !errors.Is(err, tenant.ErrTenantNotFound) {
				return activeTenant(t, err)
			}
		}
	}

	d, err := r.domains.GetByDomain(ctx, host)
	if errors.Is(err, tenant.ErrDomainNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up domain: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, host, d.TenantID); err != nil {
			slog.WarnContext(ctx, "domain cache store failed",
				slog.String("domain", host),
				slog.String("error", err.Error()),
			)
		}
	}
	return activeTenant(r.tenants.GetByID(ctx, d.TenantID))
}

func (r *Resolver) fromSubdomain(ctx context.Context, host string) (*tenant.Tenant, error) {
	label, ok := subdomain(host)
	if !ok {
		return nil, nil
	}
	return activeTenant(r.tenants.GetBySlug(ctx, label))
}

// subdomain returns the first label of host. IP literals, single-label
// hosts and a leading www yield nothing.
func subdomain(host string) (string, bool) {
	if net.ParseIP(host) != nil {
		return "", false
	}
	label, _, ok := strings.Cut(host, ".")
	if !ok || label == "" || label == "www" {
		return "", false
	}
	return label, true
}

// fromDefault picks the actor's highest-precedence active membership whose
// tenant is active. Ties keep membership id order.
func (r *Resolver) fromDefault(ctx context.Context, userID string) (*tenant.Tenant, error) {
	memberships, err := r.members.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	sort.SliceStable(memberships, func(i, j int) bool {
		return memberships[i].Role.Precedence() < memberships[j].Role.Precedence()
	})
	for _, m := range memberships {
		if !m.Active {
			continue
		}
		t, err := activeTenant(r.tenants.GetByID(ctx, m.TenantID))
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, nil
}

// activeTenant folds a tenant lookup into (tenant, nil) for an active
// tenant, (nil, nil) for a missing or inactive one, and a wrapped error
// otherwise.
func activeTenant(t *tenant.Tenant, err error) (*tenant.Tenant, error) {
	if errors.Is(err, tenant.ErrTenantNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up tenant: %w", err)
	}
	if !t.Active {
		return nil, nil
	}
	return t, nil
}
