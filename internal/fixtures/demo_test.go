package fixtures

import (
	"context"
	"testing"

	"binary-referral/internal/domain"
	"binary-referral/internal/reporting"
	"binary-referral/internal/storage/memory"
)

func TestLoadDemo(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	if err := LoadDemo(ctx, store); err != nil {
		t.Fatalf("LoadDemo failed: %v", err)
	}

	g := reporting.NewGenerator(store)
	tests := []struct {
		userID                      int64
		left, right, released       int64
		directTotal, hierarchyTotal string
	}{
		{DemoRootID, 3, 3, 3, "20.00", "15.00"},
		{2, 1, 1, 1, "20.00", "5.00"},
		{3, 1, 1, 1, "20.00", "5.00"},
		{4, 0, 0, 0, "0.00", "0.00"},
	}
	for _, tt := range tests {
		s, err := g.Summary(ctx, tt.userID)
		if err != nil {
			t.Fatalf("Summary(%d) failed: %v", tt.userID, err)
		}
		if s.LeftCount != tt.left || s.RightCount != tt.right || s.ReleasedPairs != tt.released {
			t.Errorf("user %d counters: L=%d R=%d released=%d", tt.userID, s.LeftCount, s.RightCount, s.ReleasedPairs)
		}
		if s.DirectTotal != tt.directTotal || s.HierarchyTotal != tt.hierarchyTotal {
			t.Errorf("user %d totals: direct %s hierarchy %s", tt.userID, s.DirectTotal, s.HierarchyTotal)
		}
	}

	node, err := store.Tree().GetByUser(ctx, 7)
	if err != nil {
		t.Fatalf("GetByUser failed: %v", err)
	}
	if node.Depth != 2 || node.Lane != domain.LaneRight || *node.ParentID != 3 {
		t.Errorf("user 7 node: %+v", node)
	}
}

func TestLoadDemo_Twice(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	if err := LoadDemo(ctx, store); err != nil {
		t.Fatalf("LoadDemo failed: %v", err)
	}
	if err := LoadDemo(ctx, store); err == nil {
		t.Fatal("second LoadDemo should fail on duplicate users")
	}
}
