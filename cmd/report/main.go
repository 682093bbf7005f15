// Package main writes a bonus audit report for one user: a markdown summary
// and a CSV export of the ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"binary-referral/internal/config"
	"binary-referral/internal/fixtures"
	"binary-referral/internal/reporting"
	"binary-referral/internal/storage"
	"binary-referral/internal/storage/memory"
	pgstore "binary-referral/internal/storage/postgres"
)

func main() {
	userID := flag.Int64("user", fixtures.DemoRootID, "User ID to report on")
	outputDir := flag.String("output-dir", "docs", "Output directory for generated files")
	configPath := flag.String("config", "", "Path to YAML config file")
	useFixtures := flag.Bool("use-fixtures", false, "Use the in-memory demo network instead of the database")
	flag.Parse()

	ctx := context.Background()

	var (
		store   storage.Store
		cleanup = func() {}
	)
	if *useFixtures {
		mem := memory.NewStore()
		if err := fixtures.LoadDemo(ctx, mem); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading fixtures: %v\n", err)
			os.Exit(1)
		}
		store = mem
	} else {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		if cfg.Database.DSN == "" {
			fmt.Fprintln(os.Stderr, "Error: database.dsn or POSTGRES_DSN is required when not using fixtures")
			fmt.Fprintln(os.Stderr, "Use --use-fixtures to run with demo data instead")
			os.Exit(1)
		}
		pool, err := pgstore.NewPool(ctx, cfg.Database.DSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to postgres: %v\n", err)
			os.Exit(1)
		}
		cleanup = pool.Close
		store = pgstore.NewStore(pool, pgstore.StoreOptions{})
	}
	defer cleanup()

	g := reporting.NewGenerator(store)
	if *useFixtures {
		// Fixed clock for deterministic output
		fixedTime := time.Date(2025, 1, 4, 12, 0, 0, 0, time.UTC)
		g = g.WithClock(func() time.Time { return fixedTime })
	}

	report, err := g.UserReport(ctx, *userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building report: %v\n", err)
		os.Exit(1)
	}
	ledger, err := g.Ledger(ctx, *userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading ledger: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	mdPath := filepath.Join(*outputDir, fmt.Sprintf("BONUS_REPORT_%d.md", *userID))
	csvPath := filepath.Join(*outputDir, fmt.Sprintf("BONUS_EVENTS_%d.csv", *userID))
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", mdPath, err)
		os.Exit(1)
	}
	if err := os.WriteFile(csvPath, []byte(reporting.RenderLedgerCSV(ledger)), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", csvPath, err)
		os.Exit(1)
	}

	fmt.Println("Bonus report generated successfully:")
	fmt.Printf("  - %s\n", mdPath)
	fmt.Printf("  - %s\n", csvPath)
}
