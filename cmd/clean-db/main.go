// Command clean-db empties every tenancy table. It is for local development
// and test databases only.
//
// Usage: clean-db [connection-string]
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// tables in reverse dependency order.
var tables = []string{
	"tenant_activity",
	"tenant_invitations",
	"user_groups",
	"groups",
	"tenant_users",
	"tenant_domains",
	"tenants",
	"credentials",
	"users",
}

func main() {
	ctx := context.Background()

	connStr := os.Getenv("DATABASE_URL")
	if len(os.Args) > 1 {
		connStr = os.Args[1]
	}
	if connStr == "" {
		log.Fatal("usage: clean-db <connection-string> (or set DATABASE_URL)")
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	fmt.Println("Cleaning database...")

	failed := false
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			fmt.Printf("Warning: failed to truncate %s: %v\n", table, err)
			failed = true
			continue
		}
		fmt.Printf("✓ Cleared %s\n", table)
	}

	if failed {
		os.Exit(1)
	}
	fmt.Println("\n✓ Database cleaned")
}
