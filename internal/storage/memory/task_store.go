package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"binary-referral/internal/queue"
	"binary-referral/internal/storage"
)

// TaskStore is an in-memory implementation of queue.Backend.
type TaskStore struct {
	mu   sync.RWMutex
	data map[string]*queue.Task // keyed by task id
	seq  map[string]int64       // enqueue order, breaks timestamp ties
	next int64
	now  func() time.Time
}

// NewTaskStore creates a new in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		data: make(map[string]*queue.Task),
		seq:  make(map[string]int64),
		now:  time.Now,
	}
}

// Compile-time interface check.
var _ queue.Backend = (*TaskStore)(nil)

// Enqueue stores a new pending task.
func (s *TaskStore) Enqueue(_ context.Context, t *queue.Task) error {
	if t == nil || t.ID == "" || t.Name == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.ID]; exists {
		return storage.ErrDuplicateKey
	}

	now := s.now()
	if t.AvailableAt.IsZero() {
		t.AvailableAt = now
	}
	if len(t.Payload) == 0 {
		t.Payload = []byte("{}")
	}
	t.Status = queue.StatusPending
	t.CreatedAt = now
	t.UpdatedAt = now

	s.data[t.ID] = copyTask(t)
	s.next++
	s.seq[t.ID] = s.next
	return nil
}

// Claim leases the oldest ready task.
func (s *TaskStore) Claim(_ context.Context, lease time.Duration) (*queue.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var ready []*queue.Task
	for _, t := range s.data {
		switch {
		case t.Status == queue.StatusPending && !t.AvailableAt.After(now):
			ready = append(ready, t)
		case t.Status == queue.StatusRunning && t.LockedUntil != nil && t.LockedUntil.Before(now):
			ready = append(ready, t)
		}
	}
	if len(ready) == 0 {
		return nil, queue.ErrEmpty
	}

	// Sort by available_at ASC, then enqueue order
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].AvailableAt.Equal(ready[j].AvailableAt) {
			return ready[i].AvailableAt.Before(ready[j].AvailableAt)
		}
		return s.seq[ready[i].ID] < s.seq[ready[j].ID]
	})

	t := ready[0]
	lockedUntil := now.Add(lease)
	t.Status = queue.StatusRunning
	t.Attempts++
	t.LockedUntil = &lockedUntil
	t.UpdatedAt = now

	return copyTask(t), nil
}

// Complete marks a task done.
func (s *TaskStore) Complete(_ context.Context, id string) error {
	return s.update(id, func(t *queue.Task) {
		t.Status = queue.StatusDone
	})
}

// Retry puts a task back to pending.
func (s *TaskStore) Retry(_ context.Context, id, lastError string, availableAt time.Time) error {
	return s.update(id, func(t *queue.Task) {
		t.Status = queue.StatusPending
		t.LastError = lastError
		t.AvailableAt = availableAt
	})
}

// Fail marks a task failed.
func (s *TaskStore) Fail(_ context.Context, id, lastError string) error {
	return s.update(id, func(t *queue.Task) {
		t.Status = queue.StatusFailed
		t.LastError = lastError
	})
}

func (s *TaskStore) update(id string, fn func(t *queue.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	fn(t)
	t.LockedUntil = nil
	t.UpdatedAt = s.now()
	return nil
}

// Get retrieves a task. Returns ErrNotFound if not exists.
func (s *TaskStore) Get(_ context.Context, id string) (*queue.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyTask(t), nil
}

// CountByStatus returns the number of tasks in each status.
func (s *TaskStore) CountByStatus(_ context.Context) (map[queue.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[queue.Status]int64)
	for _, t := range s.data {
		counts[t.Status]++
	}
	return counts, nil
}

// List returns copies of all tasks ordered by creation time.
func (s *TaskStore) List() []*queue.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*queue.Task, 0, len(s.data))
	for _, t := range s.data {
		result = append(result, copyTask(t))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

func copyTask(t *queue.Task) *queue.Task {
	c := *t
	c.Payload = append([]byte(nil), t.Payload...)
	if t.LockedUntil != nil {
		l := *t.LockedUntil
		c.LockedUntil = &l
	}
	return &c
}
