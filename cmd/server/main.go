// Package main runs the referral service: the HTTP API, the task worker pool
// and the ledger maturation sweeper, all in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"binary-referral/internal/api"
	"binary-referral/internal/config"
	"binary-referral/internal/logging"
	"binary-referral/internal/maturation"
	"binary-referral/internal/pairing"
	"binary-referral/internal/placement"
	"binary-referral/internal/purchase"
	"binary-referral/internal/queue"
	"binary-referral/internal/reporting"
	"binary-referral/internal/storage"
	"binary-referral/internal/storage/memory"
	"binary-referral/internal/storage/migrations"
	pgstore "binary-referral/internal/storage/postgres"
	"binary-referral/internal/tasks"
)

// Server holds all components of the service.
type Server struct {
	cfg    config.Config
	logger *slog.Logger

	backend storage.Store
	queue   queue.Backend
	ping    func(ctx context.Context) error

	worker  *queue.Worker
	sweeper *maturation.Sweeper
	http    *http.Server
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.Setup(logging.Options{
		Service:    cfg.Service,
		Env:        cfg.Env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer closer.Close()

	if !*useMemory && cfg.Database.DSN == "" {
		logger.Error("database.dsn or POSTGRES_DSN is required (use --use-memory for in-memory storage)")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, cleanup, err := newServer(ctx, cfg, *useMemory, logger)
	if err != nil {
		logger.Error("failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer cleanup()

	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", slog.String("signal", sig.String()))
		cancel()

		// A second signal forces exit.
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", slog.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(cfg.HTTP.ShutdownTimeout.Duration * 2):
			logger.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = server.Run(ctx)
	close(done)
	if err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// newServer wires the storage backend, engines, task handlers and HTTP API.
func newServer(ctx context.Context, cfg config.Config, useMemory bool, logger *slog.Logger) (*Server, func(), error) {
	s := &Server{cfg: cfg, logger: logger}

	cleanup, err := s.createStores(ctx, useMemory)
	if err != nil {
		return nil, nil, err
	}

	place := placement.NewEngine(s.backend, placement.Options{
		MaxLevels:   cfg.Placement.MaxLevels,
		MaxAttempts: cfg.Placement.MaxAttempts,
		Logger:      logger,
	})
	pair := pairing.NewEngine(s.backend, pairing.Options{Logger: logger})
	processor := purchase.NewProcessor(s.backend, purchase.Options{
		MaxAncestorDepth: cfg.Bonus.MaxAncestorDepth,
		DirectStatus:     cfg.DirectStatus(),
		Placement:        place,
		Pairing:          pair,
		Logger:           logger,
	})

	s.worker = queue.NewWorker(s.queue, queue.WorkerOptions{
		Concurrency:    cfg.Queue.Concurrency,
		PollInterval:   cfg.Queue.PollInterval.Duration,
		Lease:          cfg.Queue.Lease.Duration,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		RetryBaseDelay: cfg.Queue.RetryBaseDelay.Duration,
		Logger:         logger,
	})
	handlers := &tasks.Handlers{
		Users:     s.backend.Users(),
		Purchases: processor,
		Placement: place,
		Pairing:   pair,
		Logger:    logger,
	}
	handlers.Register(s.worker)

	s.sweeper = maturation.NewSweeper(s.backend, maturation.Options{
		HoldPeriod: cfg.Bonus.HoldPeriod.Duration,
		BatchSize:  cfg.Bonus.MaturationBatch,
		Interval:   cfg.Bonus.MaturationInterval.Duration,
		Logger:     logger,
	})

	apiServer := api.New(api.Config{
		Queue:   s.queue,
		Reports: reporting.NewGenerator(s.backend),
		Ping:    s.ping,
		Logger:  logger,
	})
	s.http = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout.Duration,
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration,
	}

	return s, cleanup, nil
}

// createStores opens the relational store and the task queue on the same backend.
func (s *Server) createStores(ctx context.Context, useMemory bool) (func(), error) {
	if useMemory {
		s.logger.Warn("using in-memory storage, state is lost on exit")
		s.backend = memory.NewStore()
		s.queue = memory.NewTaskStore()
		return func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, s.cfg.Database.DSN, pgstore.PoolOptions{MaxConns: s.cfg.Database.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if s.cfg.Database.MigrateOnBoot {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		s.logger.Info("migrations applied")
	}

	s.backend = pgstore.NewStore(pool, pgstore.StoreOptions{
		MaxAttempts: s.cfg.Database.TxMaxAttempts,
		BaseDelay:   s.cfg.Database.TxBaseDelay.Duration,
		Logger:      s.logger,
	})
	s.queue = pgstore.NewTaskStore(pool)
	s.ping = pool.Ping

	return pool.Close, nil
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting server",
		slog.String("addr", s.cfg.HTTP.Addr),
		slog.Int("max_ancestor_depth", s.cfg.Bonus.MaxAncestorDepth),
		slog.String("direct_status", string(s.cfg.DirectStatus())))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.worker.Run(gctx); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.sweeper.Run(gctx); err != nil {
			return fmt.Errorf("maturation: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.reportQueueDepth(gctx)
	})

	g.Go(func() error {
		s.logger.Info("http server listening", slog.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout.Duration)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// reportQueueDepth refreshes the queue gauges until ctx is cancelled.
func (s *Server) reportQueueDepth(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Queue.DepthInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := queue.ReportDepth(ctx, s.queue); err != nil && ctx.Err() == nil {
				s.logger.Warn("queue depth report failed", slog.String("error", err.Error()))
			}
		}
	}
}
