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

// Package rls binds the row-level-security session variable to pooled
// Postgres connections.
//
// Every tenant-scoped table carries a policy comparing its tenant_id column
// with app_current_tenant_id(), which reads the app.current_tenant_id
// setting. An unset or empty setting yields NULL and therefore no rows.
// A connection must never return to the pool still carrying a tenant.
package rls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Variable is the Postgres setting read by the tenant isolation policy.
const Variable = "app.current_tenant_id"

const resetTimeout = 2 * time.Second

var (
	ErrNoPool = errors.New("rls: no connection pool")
	// ErrTenantMismatch is returned when a query names a tenant other than
	// the one bound to the request connection.
	ErrTenantMismatch = errors.New("rls: tenant does not match the bound connection")
)

type ctxKey struct{}

type binding struct {
	conn     *pgxpool.Conn
	tenantID string
}

// Binder pins a connection carrying the tenant variable to a context.
type Binder interface {
	Bind(ctx context.Context, tenantID string) (context.Context, func(), error)
}

// PoolBinder binds connections acquired from a pgx pool.
type PoolBinder struct {
	Pool *pgxpool.Pool
}

// Bind implements Binder.
func (b PoolBinder) Bind(ctx context.Context, tenantID string) (context.Context, func(), error) {
	return Bind(ctx, b.Pool, tenantID)
}

// Bind acquires a connection, sets the tenant variable on it for the whole
// session and returns a context carrying the connection. An empty tenantID
// binds a connection whose variable is explicitly cleared.
//
// release resets the variable and returns the connection to the pool. If
// the reset fails the connection is closed instead. release is safe to call
// more than once.
func Bind(ctx context.Context, pool *pgxpool.Pool, tenantID string) (context.Context, func(), error) {
	if pool == nil {
		return ctx, func() {}, ErrNoPool
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, func() {}, fmt.Errorf("failed to acquire connection: %w", err)
	}
	if err := set(ctx, conn, tenantID, false); err != nil {
		discard(conn)
		return ctx, func() {}, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			resetCtx, cancel := context.WithTimeout(context.Background(), resetTimeout)
			defer cancel()
			if err := set(resetCtx, conn, "", false); err != nil {
				slog.Error("failed to reset tenant variable, discarding connection",
					slog.String("error", err.Error()),
				)
				discard(conn)
				return
			}
			conn.Release()
		})
	}

	return context.WithValue(ctx, ctxKey{}, &binding{conn: conn, tenantID: tenantID}), release, nil
}

// Conn returns the connection bound to ctx, or nil.
func Conn(ctx context.Context) *pgxpool.Conn {
	if b, ok := ctx.Value(ctxKey{}).(*binding); ok {
		return b.conn
	}
	return nil
}

// TenantID returns the tenant bound to ctx and whether a binding exists.
func TenantID(ctx context.Context) (string, bool) {
	if b, ok := ctx.Value(ctxKey{}).(*binding); ok {
		return b.tenantID, true
	}
	return "", false
}

// Check reports whether ctx carries a binding and, if so, that it is for
// tenantID. A bound connection is never re-pointed at another tenant, so
// callers holding one must not set the variable themselves.
func Check(ctx context.Context, tenantID string) (bool, error) {
	bound, ok := TenantID(ctx)
	if !ok {
		return false, nil
	}
	if bound != tenantID {
		return true, fmt.Errorf("%w: bound %q, requested %q", ErrTenantMismatch, bound, tenantID)
	}
	return true, nil
}

// SetLocal sets the tenant variable for the remainder of tx only.
func SetLocal(ctx context.Context, tx pgx.Tx, tenantID string) error {
	if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, Variable, tenantID); err != nil {
		return fmt.Errorf("failed to set local tenant variable: %w", err)
	}
	return nil
}

// InTx runs fn in a transaction on pool with the tenant variable set
// locally. The variable reverts when the transaction ends.
func InTx(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if err := SetLocal(ctx, tx, tenantID); err != nil {
			return err
		}
		return fn(tx)
	})
}

// Current reads the tenant variable as seen by q.
func Current(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}) (string, error) {
	var v *string
	if err := q.QueryRow(ctx, `SELECT current_setting($1, true)`, Variable).Scan(&v); err != nil {
		return "", fmt.Errorf("failed to read tenant variable: %w", err)
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

// AfterRelease is a pgxpool hook that destroys any connection handed back
// to the pool while still carrying a tenant.
func AfterRelease(conn *pgx.Conn) bool {
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()

	v, err := Current(ctx, conn)
	if err != nil {
		slog.Warn("failed to verify released connection, discarding",
			slog.String("error", err.Error()),
		)
		return false
	}
	if v != "" {
		slog.Error("connection released with tenant variable set, discarding",
			slog.String("tenant_id", v),
		)
		return false
	}
	return true
}

func set(ctx context.Context, conn *pgxpool.Conn, tenantID string, local bool) error {
	if _, err := conn.Exec(ctx, `SELECT set_config($1, $2, $3)`, Variable, tenantID, local); err != nil {
		return fmt.Errorf("failed to set tenant variable: %w", err)
	}
	return nil
}

func discard(conn *pgxpool.Conn) {
	raw := conn.Hijack()
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	_ = raw.Close(ctx)
}
