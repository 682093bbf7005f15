package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"binary-referral/internal/domain"
	"binary-referral/internal/observability"
)

// Handler runs one task. Returning an error that wraps a domain caller error
// fails the task permanently; any other error schedules a retry.
type Handler func(ctx context.Context, t *Task) error

// Task outcomes, used as metric labels.
const (
	OutcomeDone    = "done"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
	OutcomeUnknown = "unknown_handler"
)

// WorkerOptions configures the worker pool.
type WorkerOptions struct {
	Concurrency    int           // Default: 4
	PollInterval   time.Duration // Default: 500ms, sleep when the queue is empty
	Lease          time.Duration // Default: 30s
	MaxAttempts    int           // Default: 5
	RetryBaseDelay time.Duration // Default: 1s
	Logger         *slog.Logger
}

// Worker claims tasks from a Backend and dispatches them to handlers.
type Worker struct {
	backend  Backend
	opts     WorkerOptions
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewWorker creates a worker pool over backend.
func NewWorker(backend Backend, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		backend:  backend,
		opts:     opts,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a task name. Later registrations replace earlier ones.
func (w *Worker) Register(name string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = h
}

// Run starts Concurrency loops and blocks until ctx is cancelled or a loop
// hits a backend error it cannot recover from.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker pool started",
		slog.Int("concurrency", w.opts.Concurrency),
		slog.Duration("lease", w.opts.Lease))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Concurrency; i++ {
		g.Go(func() error {
			return w.loop(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	w.logger.Info("worker pool stopped")
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ran, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Backend hiccups are logged and retried on the next poll.
			w.logger.Error("queue poll failed", slog.String("error", err.Error()))
		}
		if ran {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// RunOnce claims and handles at most one task. It reports whether a task ran.
// The handler's own error is recorded on the task, not returned.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.backend.Claim(ctx, w.opts.Lease)
	if errors.Is(err, ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}

	return true, w.handle(ctx, task)
}

func (w *Worker) handle(ctx context.Context, task *Task) error {
	log := w.logger.With(
		slog.String("task_id", task.ID),
		slog.String("task", task.Name),
		slog.Int("attempt", task.Attempts))

	w.mu.RLock()
	h, ok := w.handlers[task.Name]
	w.mu.RUnlock()
	if !ok {
		observability.RecordTask(task.Name, OutcomeUnknown, 0)
		log.Error("no handler registered for task")
		return w.backend.Fail(ctx, task.ID, "no handler registered for "+task.Name)
	}

	start := time.Now()
	herr := h(ctx, task)
	elapsed := time.Since(start).Seconds()

	switch {
	case herr == nil:
		observability.RecordTask(task.Name, OutcomeDone, elapsed)
		log.Debug("task done", slog.Float64("seconds", elapsed))
		return w.backend.Complete(ctx, task.ID)

	case domain.IsCallerError(herr):
		observability.RecordTask(task.Name, OutcomeFailed, elapsed)
		log.Warn("task rejected", slog.String("error", herr.Error()))
		return w.backend.Fail(ctx, task.ID, herr.Error())

	case task.Attempts >= w.opts.MaxAttempts:
		observability.RecordTask(task.Name, OutcomeFailed, elapsed)
		log.Error("task failed, attempts exhausted", slog.String("error", herr.Error()))
		return w.backend.Fail(ctx, task.ID, herr.Error())

	default:
		delay := RetryDelay(w.opts.RetryBaseDelay, task.Attempts)
		observability.RecordTask(task.Name, OutcomeRetry, elapsed)
		log.Warn("task failed, will retry",
			slog.String("error", herr.Error()),
			slog.Duration("delay", delay))
		return w.backend.Retry(ctx, task.ID, herr.Error(), time.Now().Add(delay))
	}
}

// RetryDelay returns the exponential delay before retry number attempt (1-based).
func RetryDelay(base time.Duration, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 64 * base
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// ReportDepth publishes per-status task counts as gauges.
func ReportDepth(ctx context.Context, backend Backend) error {
	counts, err := backend.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}
	for _, s := range Statuses {
		observability.SetQueueDepth(string(s), counts[s])
	}
	return nil
}
