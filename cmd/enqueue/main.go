// Package main queues a release_pairs_for_user task for one user.
//
// Usage: enqueue --user 42 [--config config.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"binary-referral/internal/config"
	"binary-referral/internal/storage"
	pgstore "binary-referral/internal/storage/postgres"
	"binary-referral/internal/tasks"
)

func main() {
	userID := flag.Int64("user", 0, "User ID to release pairs for (required)")
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: --user is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.DSN == "" {
		fmt.Fprintln(os.Stderr, "Error: database.dsn or POSTGRES_DSN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, cfg.Database.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pgstore.NewUserStore(pool).GetByID(ctx, *userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "User with id=%d not found.\n", *userID)
		} else {
			fmt.Fprintf(os.Stderr, "Error loading user: %v\n", err)
		}
		os.Exit(1)
	}

	t, err := tasks.EnqueueReleasePairs(ctx, pgstore.NewTaskStore(pool), *userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error enqueueing task: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Queued %s for user_id=%d (task %s).\n", t.Name, *userID, t.ID)
}
