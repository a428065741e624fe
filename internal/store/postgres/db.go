package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opentrusty/tenancy/internal/rls"
	"github.com/opentrusty/tenancy/internal/store"
)

// Migrations holds the schema scripts, applied in file name order.
//
//go:embed migrations/*.up.sql
var Migrations embed.FS

// DB wraps the PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// RuntimeRole, when set, is assumed with SET ROLE on every new
	// connection. Migrations connect without it.
	RuntimeRole string
}

// RowSecuredTables are the tables carrying the tenant isolation policy.
var RowSecuredTables = []string{"tenant_activity", "tenant_domains", "tenant_invitations", "tenant_users"}

// ErrRowSecurityBypassed is returned by VerifyRuntimeRole when the
// connection's role would not be subject to the tenant isolation policy.
var ErrRowSecurityBypassed = errors.New("runtime role bypasses row-level security")

// New creates a new database connection. Every connection returned to the
// pool is checked for a leftover tenant variable.
func New(ctx context.Context, cfg Config) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
		cfg.MaxOpenConns,
		cfg.MaxIdleConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolConfig.AfterRelease = rls.AfterRelease
	if cfg.RuntimeRole != "" {
		poolConfig.AfterConnect = assumeRole(cfg.RuntimeRole)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", classify(err))
	}

	return &DB{pool: pool}, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// Close closes the database connection
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Migrate applies the embedded migrations that have not run yet.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	files, err := MigrationFiles()
	if err != nil {
		return err
	}
	for _, name := range files {
		script, err := fs.ReadFile(Migrations, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		err = pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			_, err = tx.Exec(ctx, string(script))
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply %s: %w", name, err)
		}
	}
	return nil
}

// VerifyRuntimeRole refuses a connection role for which the tenant
// isolation policy would be a no-op: a superuser, a role with BYPASSRLS,
// or one holding the privileges of a row-secured table's owner. It also
// fails when a row-secured table is missing or has row security disabled.
func (db *DB) VerifyRuntimeRole(ctx context.Context) error {
	var role roleInfo
	err := db.pool.QueryRow(ctx, `
		SELECT rolname, rolsuper, rolbypassrls FROM pg_roles WHERE rolname = current_user
	`).Scan(&role.name, &role.superuser, &role.bypassRLS)
	if err != nil {
		return fmt.Errorf("failed to read runtime role: %w", classify(err))
	}

	rows, err := db.pool.Query(ctx, `
		SELECT c.relname, c.relrowsecurity, pg_has_role(current_user, c.relowner, 'USAGE')
		FROM pg_class c
		WHERE c.relkind = 'r' AND c.relname = ANY($1) AND pg_table_is_visible(c.oid)
	`, RowSecuredTables)
	if err != nil {
		return fmt.Errorf("failed to read table owners: %w", classify(err))
	}
	defer rows.Close()

	var tables []tableInfo
	for rows.Next() {
		var t tableInfo
		if err := rows.Scan(&t.name, &t.rowSecurity, &t.owned); err != nil {
			return fmt.Errorf("failed to scan table owner: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read table owners: %w", classify(err))
	}
	return checkRuntimeRole(role, tables)
}

type roleInfo struct {
	name      string
	superuser bool
	bypassRLS bool
}

type tableInfo struct {
	name        string
	rowSecurity bool
	owned       bool
}

func checkRuntimeRole(role roleInfo, tables []tableInfo) error {
	var errs []error
	if role.superuser {
		errs = append(errs, fmt.Errorf("role %q is a superuser", role.name))
	}
	if role.bypassRLS {
		errs = append(errs, fmt.Errorf("role %q has BYPASSRLS", role.name))
	}
	seen := make(map[string]bool, len(tables))
	for _, t := range tables {
		seen[t.name] = true
		if t.owned {
			errs = append(errs, fmt.Errorf("role %q owns table %s", role.name, t.name))
		}
		if !t.rowSecurity {
			errs = append(errs, fmt.Errorf("row-level security is disabled on %s", t.name))
		}
	}
	for _, name := range RowSecuredTables {
		if !seen[name] {
			errs = append(errs, fmt.Errorf("table %s not found", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrRowSecurityBypassed, errors.Join(errs...))
	}
	return nil
}

func assumeRole(role string) func(context.Context, *pgx.Conn) error {
	stmt := "SET ROLE " + pgx.Identifier{role}.Sanitize()
	return func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to assume role %s: %w", role, err)
		}
		return nil
	}
}

// MigrationFiles lists the embedded migration file names in apply order.
func MigrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(Migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// querier is the subset of pgx shared by pools, connections and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// WithinTx runs fn in a transaction carried by the context. A nested call
// joins the outer transaction. When the request holds a tenant-bound
// connection the transaction is opened on it so the tenant variable applies.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	var (
		tx  pgx.Tx
		err error
	)
	if conn := rls.Conn(ctx); conn != nil {
		tx, err = conn.Begin(ctx)
	} else {
		tx, err = db.pool.Begin(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

// conn returns the transaction in ctx, else the tenant-bound connection,
// else the pool.
func (db *DB) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	if c := rls.Conn(ctx); c != nil {
		return c
	}
	return db.pool
}

// withTenant runs fn against rows of tenantID.
//
// When ctx carries a tenant-bound connection the variable is already set
// and fn runs on it unchanged; a different tenantID fails with
// rls.ErrTenantMismatch. Unbound system paths open or join a transaction
// and set the variable locally.
func (db *DB) withTenant(ctx context.Context, tenantID string, fn func(q querier) error) error {
	bound, err := rls.Check(ctx, tenantID)
	if err != nil {
		return err
	}
	if bound {
		return fn(db.conn(ctx))
	}
	return db.WithinTx(ctx, func(ctx context.Context) error {
		tx := ctx.Value(txKey{}).(pgx.Tx)
		if err := rls.SetLocal(ctx, tx, tenantID); err != nil {
			return classify(err)
		}
		return fn(tx)
	})
}

// Postgres error codes we map onto domain sentinels.
const (
	codeUniqueViolation         = "23505"
	codeForeignKeyViolation     = "23503"
	codeReadOnlySQLTransaction  = "25006"
	codeAdminShutdown           = "57P01"
	codeCrashShutdown           = "57P02"
	codeCannotConnectNow        = "57P03"
	codeTooManyConnections      = "53300"
	codeConnectionFailurePrefix = "08"
)

// classify wraps availability failures with store.ErrUnavailable so they are
// never confused with "not found". Other errors are returned as they are.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return err
}

func isUnavailable(err error) bool {
	if errors.Is(err, store.ErrUnavailable) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeReadOnlySQLTransaction, codeAdminShutdown, codeCrashShutdown,
			codeCannotConnectNow, codeTooManyConnections:
			return true
		}
		return strings.HasPrefix(pgErr.Code, codeConnectionFailurePrefix)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// isUniqueViolation reports whether err is a unique violation, optionally on
// a specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}

// nullString maps "" to NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
