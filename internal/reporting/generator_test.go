package reporting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"binary-referral/internal/domain"
	"binary-referral/internal/placement"
	"binary-referral/internal/purchase"
	"binary-referral/internal/storage/memory"
)

func ptr(v int64) *int64 { return &v }

// setupTestData builds R with A (left) and B (right), both of whom bought
// once, plus an unplaced user D referred by R.
func setupTestData(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	place := placement.NewEngine(store, placement.Options{})

	users := []*domain.User{
		{ID: 1, Email: "r@example.com"},
		{ID: 2, Email: "a@example.com", ReferredBy: ptr(1)},
		{ID: 3, Email: "b@example.com", ReferredBy: ptr(1)},
		{ID: 4, Email: "d@example.com", ReferredBy: ptr(1)},
	}
	for _, u := range users {
		if err := store.Users().Insert(ctx, u); err != nil {
			t.Fatalf("Insert user failed: %v", err)
		}
		if u.ID == 4 {
			continue
		}
		if _, err := place.Place(ctx, u.ID, u.ReferredBy); err != nil {
			t.Fatalf("Place failed: %v", err)
		}
	}

	p := purchase.NewProcessor(store, purchase.Options{Placement: place})
	for id, buyer := range map[int64]int64{10: 2, 11: 3} {
		o := &domain.Order{ID: id, BuyerID: buyer, Total: decimal.RequireFromString("30.00"), Status: domain.OrderStatusPaid}
		if err := store.Orders().Insert(ctx, o); err != nil {
			t.Fatalf("Insert order failed: %v", err)
		}
		if _, err := p.OnOrderPaid(ctx, id); err != nil {
			t.Fatalf("OnOrderPaid failed: %v", err)
		}
	}
	return store
}

func TestGenerator_Summary(t *testing.T) {
	g := NewGenerator(setupTestData(t))

	s, err := g.Summary(context.Background(), 1)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}

	if !s.Placed || s.Depth == nil || *s.Depth != 0 {
		t.Errorf("placement: placed=%v depth=%v", s.Placed, s.Depth)
	}
	if s.DirectReferrals != 3 {
		t.Errorf("DirectReferrals: got %d, want 3", s.DirectReferrals)
	}
	if s.LeftCount != 1 || s.RightCount != 1 || s.ReleasedPairs != 1 || s.AvailablePairs != 0 {
		t.Errorf("counters: %+v", s)
	}
	if s.DirectTotal != "20.00" || s.HierarchyTotal != "5.00" {
		t.Errorf("type totals: direct %s hierarchy %s", s.DirectTotal, s.HierarchyTotal)
	}
	if s.ReleasedTotal != "25.00" || s.PendingTotal != "0.00" {
		t.Errorf("status totals: released %s pending %s", s.ReleasedTotal, s.PendingTotal)
	}
	if s.Events != 3 {
		t.Errorf("Events: got %d, want 3", s.Events)
	}
}

func TestGenerator_SummaryUnplacedUser(t *testing.T) {
	g := NewGenerator(setupTestData(t))

	s, err := g.Summary(context.Background(), 4)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if s.Placed || s.Depth != nil || s.DirectTotal != "0.00" {
		t.Errorf("unexpected summary: %+v", s)
	}
}

func TestGenerator_Subtree(t *testing.T) {
	g := NewGenerator(setupTestData(t))
	ctx := context.Background()

	tree, err := g.Subtree(ctx, 1, 0)
	if err != nil {
		t.Fatalf("Subtree failed: %v", err)
	}
	if len(tree.Nodes) != 3 || len(tree.Edges) != 2 || tree.Truncated {
		t.Fatalf("got %d nodes, %d edges, truncated=%v", len(tree.Nodes), len(tree.Edges), tree.Truncated)
	}
	if tree.Nodes[0].ID != 1 || tree.Nodes[0].Lane != "" {
		t.Errorf("first node should be the root: %+v", tree.Nodes[0])
	}
	if e := tree.Edges[0]; e.From != 1 || e.To != 2 || e.Lane != "L" {
		t.Errorf("first edge: %+v", e)
	}
	if e := tree.Edges[1]; e.From != 1 || e.To != 3 || e.Lane != "R" {
		t.Errorf("second edge: %+v", e)
	}

	cut, err := g.Subtree(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Subtree failed: %v", err)
	}
	if len(cut.Nodes) != 2 || !cut.Truncated {
		t.Errorf("limit 2: got %d nodes, truncated=%v", len(cut.Nodes), cut.Truncated)
	}

	empty, err := g.Subtree(ctx, 4, 0)
	if err != nil {
		t.Fatalf("Subtree of unplaced user failed: %v", err)
	}
	if len(empty.Nodes) != 0 {
		t.Errorf("unplaced user should have no nodes, got %d", len(empty.Nodes))
	}
}

func TestGenerator_RecentEvents(t *testing.T) {
	g := NewGenerator(setupTestData(t))
	ctx := context.Background()

	all, err := g.RecentEvents(ctx, 1, 0)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	// Newest first: the pair release is the last row written.
	if all[0].BonusType != "HIERARCHY" || all[0].OrderID != domain.SystemOrderID {
		t.Errorf("newest event: %+v", all[0])
	}

	two, err := g.RecentEvents(ctx, 1, 2)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(two) != 2 || two[0].ID != all[0].ID {
		t.Errorf("limit 2: %+v", two)
	}
}

func TestGenerator_UnknownUser(t *testing.T) {
	g := NewGenerator(setupTestData(t))
	ctx := context.Background()

	if _, err := g.Summary(ctx, 99); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Summary: got %v", err)
	}
	if _, err := g.Subtree(ctx, 99, 0); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Subtree: got %v", err)
	}
	if _, err := g.RecentEvents(ctx, 99, 0); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("RecentEvents: got %v", err)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		limit, want int
	}{
		{0, DefaultEventLimit},
		{-5, DefaultEventLimit},
		{7, 7},
		{MaxEventLimit + 1, MaxEventLimit},
	}
	for _, tt := range tests {
		if got := clamp(tt.limit, DefaultEventLimit, MaxEventLimit); got != tt.want {
			t.Errorf("clamp(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestRenderLedgerCSV(t *testing.T) {
	g := NewGenerator(setupTestData(t))

	events, err := g.Ledger(context.Background(), 1)
	if err != nil {
		t.Fatalf("Ledger failed: %v", err)
	}
	csv := RenderLedgerCSV(events)

	lines := strings.Split(strings.TrimSpace(csv), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,order_id,bonus_type,amount") {
		t.Errorf("bad header: %s", lines[0])
	}
	// Oldest first.
	if !strings.Contains(lines[1], ",DIRECT,10.00,,0,RELEASED,") {
		t.Errorf("first row: %s", lines[1])
	}
	if !strings.Contains(lines[3], ",HIERARCHY,5.00,,0,RELEASED,") {
		t.Errorf("last row: %s", lines[3])
	}
}

func TestRenderMarkdown(t *testing.T) {
	fixed := time.Date(2025, 1, 4, 12, 0, 0, 0, time.UTC)
	g := NewGenerator(setupTestData(t)).WithClock(func() time.Time { return fixed })

	r, err := g.UserReport(context.Background(), 1)
	if err != nil {
		t.Fatalf("UserReport failed: %v", err)
	}
	md := RenderMarkdown(r)

	for _, want := range []string{
		"# Bonus Report: User 1",
		"Generated: 2025-01-04T12:00:00Z",
		"Placed at depth 0.",
		"| Direct Referrals | 3 |",
		"| Released Pairs | 1 |",
		"| DIRECT | 20.00 |",
		"| HIERARCHY | 5.00 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}

	empty := RenderMarkdown(&UserReport{GeneratedAt: fixed, Summary: &Summary{UserID: 4}})
	if !strings.Contains(empty, "Not placed in the tree yet.") || !strings.Contains(empty, "No bonus events recorded.") {
		t.Errorf("empty report:\n%s", empty)
	}
}
