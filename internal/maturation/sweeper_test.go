package maturation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage/memory"
)

func seedPending(t *testing.T, s *memory.Store, n int) []int64 {
	t.Helper()
	ctx := context.Background()
	if err := s.Users().Insert(ctx, &domain.User{ID: 1}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		e := &domain.BonusEvent{
			UserID:         1,
			OrderID:        domain.SystemOrderID,
			BonusType:      domain.BonusTypeDirect,
			Amount:         domain.DirectBonusAmount,
			Status:         domain.BonusStatusPending,
			IdempotencyKey: fmt.Sprintf("pending-%d", i),
		}
		if i > 0 {
			// One DIRECT per order; the rest are counter-driven rows.
			e.BonusType = domain.BonusTypeHierarchy
			e.Amount = domain.HierarchyBonusAmount
		}
		if err := s.Ledger().Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
		ids = append(ids, e.ID)
	}
	return ids
}

func TestSweep_ReleasesMaturedEvents(t *testing.T) {
	store := memory.NewStore()
	ids := seedPending(t, store, 5)
	ctx := context.Background()

	later := time.Now().UTC().Add(2 * time.Hour)
	s := NewSweeper(store, Options{
		HoldPeriod: time.Hour,
		BatchSize:  2,
		Now:        func() time.Time { return later },
	})

	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 5 {
		t.Errorf("released: got %d, want 5", n)
	}

	for _, id := range ids {
		e, err := store.Ledger().GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%d): %v", id, err)
		}
		if e.Status != domain.BonusStatusReleased || e.ReleasedAt == nil || !e.ReleasedAt.Equal(later) {
			t.Errorf("event %d: status %s released_at %v", id, e.Status, e.ReleasedAt)
		}
	}

	n, err = s.Sweep(ctx)
	if err != nil || n != 0 {
		t.Errorf("second sweep: got %d, %v; want 0", n, err)
	}
}

func TestSweep_HoldsYoungEvents(t *testing.T) {
	store := memory.NewStore()
	ids := seedPending(t, store, 2)
	ctx := context.Background()

	s := NewSweeper(store, Options{HoldPeriod: time.Hour})
	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("released: got %d, want 0", n)
	}

	e, _ := store.Ledger().GetByID(ctx, ids[0])
	if e.Status != domain.BonusStatusPending {
		t.Errorf("event should still be pending, got %s", e.Status)
	}
}

func TestSweep_AmountsUntouched(t *testing.T) {
	store := memory.NewStore()
	seedPending(t, store, 3)
	ctx := context.Background()

	before, _ := store.Ledger().Totals(ctx, 1)

	later := time.Now().UTC().Add(time.Minute)
	if _, err := NewSweeper(store, Options{Now: func() time.Time { return later }}).Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	after, _ := store.Ledger().Totals(ctx, 1)
	if !after.Released.Equal(before.Pending) || !after.Pending.IsZero() {
		t.Errorf("totals: before %+v after %+v", before, after)
	}
	if !after.Direct.Equal(before.Direct) || !after.Hierarchy.Equal(before.Hierarchy) {
		t.Errorf("amounts changed: before %+v after %+v", before, after)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	seedPending(t, store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	later := time.Now().UTC().Add(time.Minute)
	s := NewSweeper(store, Options{Interval: 10 * time.Millisecond, Now: func() time.Time { return later }})

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(time.Second)
	for {
		totals, _ := store.Ledger().Totals(context.Background(), 1)
		if totals.Pending.IsZero() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("event never matured")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
