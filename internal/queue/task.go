// Package queue is a durable work queue with at-least-once delivery.
// Producers enqueue named tasks; a Worker claims them under a lease and runs
// the registered handler. A task whose lease expires is handed out again.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task.
type Status string

// Task statuses.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Statuses lists every status, used for gauges.
var Statuses = []Status{StatusPending, StatusRunning, StatusDone, StatusFailed}

// ErrEmpty is returned by Claim when no task is ready.
var ErrEmpty = errors.New("queue: no task ready")

// Task is one unit of queued work. Corresponds to background_tasks.
type Task struct {
	ID          string          // uuid
	Name        string          // handler name
	RelatedID   string          // optional, e.g. the order id
	Payload     json.RawMessage // handler input
	Status      Status
	Attempts    int // incremented on every claim
	LastError   string
	AvailableAt time.Time
	LockedUntil *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewTask builds a pending task with a fresh id and a JSON encoded payload.
func NewTask(name, relatedID string, payload any) (*Task, error) {
	if name == "" {
		return nil, errors.New("queue: task name is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return &Task{
		ID:        uuid.NewString(),
		Name:      name,
		RelatedID: relatedID,
		Payload:   raw,
		Status:    StatusPending,
	}, nil
}

// Decode unmarshals the task payload into v.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Name, err)
	}
	return nil
}

// Backend stores tasks. Implementations: storage/postgres.TaskStore, storage/memory.TaskStore.
type Backend interface {
	// Enqueue stores a new pending task. A zero AvailableAt means now.
	Enqueue(ctx context.Context, t *Task) error

	// Claim hands out the oldest ready task and leases it for lease.
	// Ready means pending and available, or running with an expired lease.
	// Returns ErrEmpty if none.
	Claim(ctx context.Context, lease time.Duration) (*Task, error)

	// Complete marks a task done.
	Complete(ctx context.Context, id string) error

	// Retry puts a task back to pending, available again at availableAt.
	Retry(ctx context.Context, id, lastError string, availableAt time.Time) error

	// Fail marks a task failed. Failed tasks are never claimed again.
	Fail(ctx context.Context, id, lastError string) error

	// Get retrieves a task. Returns storage.ErrNotFound if not exists.
	Get(ctx context.Context, id string) (*Task, error)

	// CountByStatus returns the number of tasks in each status.
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}
