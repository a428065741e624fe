// Command migrate applies the embedded schema migrations using a superuser
// or owner connection, which the application role is not.
//
// Usage: migrate [connection-string]
//
// Without an argument the DATABASE_URL environment variable is used.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/opentrusty/tenancy/internal/store/postgres"
)

func main() {
	ctx := context.Background()

	connStr := os.Getenv("DATABASE_URL")
	if len(os.Args) > 1 {
		connStr = os.Args[1]
	}
	if connStr == "" {
		log.Fatal("usage: migrate <connection-string> (or set DATABASE_URL)")
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping: %v", err)
	}

	fmt.Println("✓ Connected to database")

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		log.Fatalf("Failed to create schema_migrations: %v", err)
	}

	files, err := postgres.MigrationFiles()
	if err != nil {
		log.Fatal(err)
	}

	applied := 0
	for _, name := range files {
		ok, err := apply(ctx, db, name)
		if err != nil {
			log.Fatalf("Failed to execute %s: %v", name, err)
		}
		if ok {
			applied++
			fmt.Printf("✓ %s completed\n", name)
		} else {
			fmt.Printf("- %s already applied\n", name)
		}
	}

	fmt.Printf("\n✓ %d migration(s) applied\n", applied)
}

// apply runs one migration in its own transaction. It reports false when
// the version was already recorded.
func apply(ctx context.Context, db *sql.DB, name string) (bool, error) {
	script, err := fs.ReadFile(postgres.Migrations, "migrations/"+name)
	if err != nil {
		return false, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
