package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/migrations"
	"github.com/tablechat/tablechat/internal/tenant"
)

func main() {
	namespace := flag.String("namespace", "", "single namespace schema to migrate; all managed namespaces when empty")
	direction := flag.String("direction", "up", "migration direction: up|down")
	steps := flag.Int("steps", 0, "number of down steps; 0 means 1")
	flag.Parse()

	if *direction != "up" && *direction != "down" {
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv("tablechat-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.DSN == "" {
		fmt.Fprintln(os.Stderr, "TABLECHAT_DB_DSN is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "database ping error: %v\n", err)
		os.Exit(1)
	}

	namespaces := []string{*namespace}
	if *namespace == "" {
		namespaces, err = managedNamespaces(ctx, db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "namespace discovery failed: %v\n", err)
			os.Exit(1)
		}
		if len(namespaces) == 0 {
			fmt.Println("no managed namespaces found")
			return
		}
	}

	runner := migrations.NewRunner()
	failed := false
	for _, ns := range namespaces {
		var applied int
		var runErr error
		switch *direction {
		case "up":
			applied, runErr = runner.Up(ctx, db, ns)
		case "down":
			applied, runErr = runner.Down(ctx, db, ns, *steps)
		}
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "migration %s failed in %s: %v\n", *direction, ns, runErr)
			failed = true
			continue
		}
		fmt.Printf("%s: applied %d migration(s) in %s\n", *direction, applied, ns)
	}
	if failed {
		os.Exit(1)
	}
}

func managedNamespaces(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT schema_name FROM information_schema.schemata WHERE schema_name LIKE $1 ORDER BY schema_name`,
		tenant.NamespacePrefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("list schemata: %w", err)
	}
	defer rows.Close()

	var namespaces []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema name: %w", err)
		}
		namespaces = append(namespaces, name)
	}
	return namespaces, rows.Err()
}
