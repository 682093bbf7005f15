package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"binary-referral/internal/queue"
	"binary-referral/internal/storage"
)

// TaskStore implements queue.Backend on the background_tasks table.
// Claim uses FOR UPDATE SKIP LOCKED so concurrent workers never share a task.
type TaskStore struct {
	q Querier
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(q Querier) *TaskStore {
	return &TaskStore{q: q}
}

// Compile-time interface check.
var _ queue.Backend = (*TaskStore)(nil)

const taskColumns = `id::text, task_name, COALESCE(related_object_id, ''), payload::text, status, attempts, COALESCE(last_error, ''), available_at, locked_until, created_at, updated_at`

// Enqueue stores a new pending task.
func (s *TaskStore) Enqueue(ctx context.Context, t *queue.Task) error {
	if t == nil || t.ID == "" || t.Name == "" {
		return storage.ErrInvalidInput
	}
	payload := "{}"
	if len(t.Payload) > 0 {
		payload = string(t.Payload)
	}

	var related *string
	if t.RelatedID != "" {
		related = &t.RelatedID
	}

	query := `
		INSERT INTO background_tasks (id, task_name, related_object_id, payload, status, available_at)
		VALUES ($1::uuid, $2, $3, $4::jsonb, 'pending', COALESCE($5, NOW()))
		RETURNING available_at, created_at, updated_at
	`

	var availableAt *time.Time
	if !t.AvailableAt.IsZero() {
		availableAt = &t.AvailableAt
	}

	err := s.q.QueryRow(ctx, query, t.ID, t.Name, related, payload, availableAt).
		Scan(&t.AvailableAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("enqueue task: %w", err)
	}
	t.Status = queue.StatusPending
	return nil
}

// Claim leases the oldest ready task.
func (s *TaskStore) Claim(ctx context.Context, lease time.Duration) (*queue.Task, error) {
	query := `
		UPDATE background_tasks
		SET status = 'running',
		    attempts = attempts + 1,
		    locked_until = NOW() + make_interval(secs => $1),
		    updated_at = NOW()
		WHERE id = (
			SELECT id FROM background_tasks
			WHERE (status = 'pending' AND available_at <= NOW())
			   OR (status = 'running' AND locked_until < NOW())
			ORDER BY available_at ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	t, err := scanTask(s.q.QueryRow(ctx, query, lease.Seconds()))
	if err != nil {
		if isNotFoundError(err) {
			return nil, queue.ErrEmpty
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return t, nil
}

// Complete marks a task done.
func (s *TaskStore) Complete(ctx context.Context, id string) error {
	return s.finish(ctx, `
		UPDATE background_tasks
		SET status = 'done', locked_until = NULL, updated_at = NOW()
		WHERE id = $1::uuid
	`, id)
}

// Retry puts a task back to pending.
func (s *TaskStore) Retry(ctx context.Context, id, lastError string, availableAt time.Time) error {
	return s.finish(ctx, `
		UPDATE background_tasks
		SET status = 'pending', last_error = $2, available_at = $3, locked_until = NULL, updated_at = NOW()
		WHERE id = $1::uuid
	`, id, lastError, availableAt)
}

// Fail marks a task failed.
func (s *TaskStore) Fail(ctx context.Context, id, lastError string) error {
	return s.finish(ctx, `
		UPDATE background_tasks
		SET status = 'failed', last_error = $2, locked_until = NULL, updated_at = NOW()
		WHERE id = $1::uuid
	`, id, lastError)
}

func (s *TaskStore) finish(ctx context.Context, query, id string, args ...any) error {
	tag, err := s.q.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Get retrieves a task. Returns ErrNotFound if not exists.
func (s *TaskStore) Get(ctx context.Context, id string) (*queue.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM background_tasks WHERE id = $1::uuid`

	t, err := scanTask(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// CountByStatus returns the number of tasks in each status.
func (s *TaskStore) CountByStatus(ctx context.Context) (map[queue.Status]int64, error) {
	rows, err := s.q.Query(ctx, `SELECT status, COUNT(*) FROM background_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[queue.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[queue.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task counts: %w", err)
	}
	return counts, nil
}

// scanTask scans a single row into a Task.
func scanTask(row pgx.Row) (*queue.Task, error) {
	var t queue.Task
	var payload, status string

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.RelatedID,
		&payload,
		&status,
		&t.Attempts,
		&t.LastError,
		&t.AvailableAt,
		&t.LockedUntil,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Payload = []byte(payload)
	t.Status = queue.Status(status)
	return &t, nil
}
