package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

func seed(t *testing.T, s *Store, ids ...int64) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		if err := s.Users().Insert(ctx, &domain.User{ID: id}); err != nil {
			t.Fatalf("seed user %d: %v", id, err)
		}
	}
}

func TestStore_InTxRollback(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seed(t, s, 1, 2)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		root := domain.NewRootNode(1)
		if err := tx.Tree().Insert(ctx, root); err != nil {
			return err
		}
		if err := tx.Tree().Insert(ctx, domain.NewChildNode(2, root, domain.LaneLeft)); err != nil {
			return err
		}
		c, err := tx.Counters().GetForUpdate(ctx, 1)
		if err != nil {
			return err
		}
		c.LeftCount = 1
		if err := tx.Counters().Update(ctx, c); err != nil {
			return err
		}
		e := &domain.BonusEvent{
			UserID:         1,
			OrderID:        domain.SystemOrderID,
			BonusType:      domain.BonusTypeHierarchy,
			Amount:         domain.HierarchyBonusAmount,
			Status:         domain.BonusStatusReleased,
			IdempotencyKey: "k1",
		}
		if err := tx.Ledger().Append(ctx, e); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := s.Tree().GetRoot(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("root should be rolled back, got %v", err)
	}
	if _, err := s.Tree().GetChild(ctx, 1, domain.LaneLeft); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("slot should be rolled back, got %v", err)
	}
	c, err := s.Counters().Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get counter failed: %v", err)
	}
	if c.LeftCount != 0 {
		t.Errorf("LeftCount: got %d, want 0", c.LeftCount)
	}
	if _, err := s.Ledger().GetByKey(ctx, "k1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ledger row should be rolled back, got %v", err)
	}

	// Event ids are reused after rollback, keeping them gap free.
	e := &domain.BonusEvent{
		UserID:         1,
		OrderID:        domain.SystemOrderID,
		BonusType:      domain.BonusTypeHierarchy,
		Amount:         domain.HierarchyBonusAmount,
		Status:         domain.BonusStatusReleased,
		IdempotencyKey: "k2",
	}
	if err := s.Ledger().Append(ctx, e); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if e.ID != 1 {
		t.Errorf("event id: got %d, want 1", e.ID)
	}
}

func TestStore_InTxRollbackOnPanic(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seed(t, s, 1)

	func() {
		defer func() { _ = recover() }()
		_ = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			if err := tx.Tree().Insert(ctx, domain.NewRootNode(1)); err != nil {
				return err
			}
			panic("handler bug")
		})
	}()

	if _, err := s.Tree().GetRoot(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("root should be rolled back after panic, got %v", err)
	}
	// The lock must have been released.
	if err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error { return nil }); err != nil {
		t.Fatalf("InTx after panic failed: %v", err)
	}
}

func TestTreeStore_Constraints(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seed(t, s, 1, 2, 3, 4)
	tree := s.Tree()

	root := domain.NewRootNode(1)
	if err := tree.Insert(ctx, root); err != nil {
		t.Fatalf("Insert root failed: %v", err)
	}
	if err := tree.Insert(ctx, domain.NewChildNode(2, root, domain.LaneLeft)); err != nil {
		t.Fatalf("Insert child failed: %v", err)
	}

	tests := []struct {
		name string
		node *domain.TreeNode
		want error
	}{
		{"second root", domain.NewRootNode(3), storage.ErrRootTaken},
		{"taken slot", domain.NewChildNode(3, root, domain.LaneLeft), storage.ErrSlotTaken},
		{"placed twice", domain.NewChildNode(2, root, domain.LaneRight), storage.ErrDuplicateKey},
		{"unknown user", domain.NewChildNode(99, root, domain.LaneRight), storage.ErrInvalidInput},
		{"no lane", domain.NewChildNode(4, root, domain.LaneNone), storage.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tree.Insert(ctx, tt.node); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTreeStore_ChildrenAndSubtree(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seed(t, s, 1, 2, 3, 4, 5, 6)
	tree := s.Tree()

	root := domain.NewRootNode(1)
	n2 := domain.NewChildNode(2, root, domain.LaneLeft)
	n3 := domain.NewChildNode(3, root, domain.LaneRight)
	n5 := domain.NewChildNode(5, n3, domain.LaneLeft)
	n4 := domain.NewChildNode(4, n2, domain.LaneRight)
	n6 := domain.NewChildNode(6, n2, domain.LaneLeft)
	for _, n := range []*domain.TreeNode{root, n2, n3, n5, n4, n6} {
		if err := tree.Insert(ctx, n); err != nil {
			t.Fatalf("Insert %d failed: %v", n.UserID, err)
		}
	}

	children, err := tree.GetChildren(ctx, []int64{3, 2})
	if err != nil {
		t.Fatalf("GetChildren failed: %v", err)
	}
	var got []int64
	for _, c := range children {
		got = append(got, c.UserID)
	}
	want := []int64{6, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("children: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("children[%d]: got %d, want %d", i, got[i], want[i])
		}
	}

	nodes, err := tree.GetSubtree(ctx, 1, 4)
	if err != nil {
		t.Fatalf("GetSubtree failed: %v", err)
	}
	if len(nodes) != 4 {
		t.Fatalf("subtree size: got %d, want 4", len(nodes))
	}
	if nodes[0].UserID != 1 || nodes[1].UserID != 2 || nodes[2].UserID != 3 || nodes[3].UserID != 6 {
		t.Errorf("subtree order: got %d,%d,%d,%d", nodes[0].UserID, nodes[1].UserID, nodes[2].UserID, nodes[3].UserID)
	}

	count, err := tree.CountChildren(ctx, 2)
	if err != nil {
		t.Fatalf("CountChildren failed: %v", err)
	}
	if count != 2 {
		t.Errorf("CountChildren: got %d, want 2", count)
	}
}

func TestCounterStore_Monotonic(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seed(t, s, 1)
	counters := s.Counters()

	if err := counters.Update(ctx, &domain.PairingCounter{UserID: 1, LeftCount: 1}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("update before create: got %v, want ErrNotFound", err)
	}

	c, err := counters.GetForUpdate(ctx, 1)
	if err != nil {
		t.Fatalf("GetForUpdate failed: %v", err)
	}
	c.LeftCount, c.RightCount, c.ReleasedPairs = 2, 2, 1
	if err := counters.Update(ctx, c); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := counters.Update(ctx, &domain.PairingCounter{UserID: 1, LeftCount: 1, RightCount: 2, ReleasedPairs: 1}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("decrease: got %v, want ErrInvalidInput", err)
	}
	if err := counters.Update(ctx, &domain.PairingCounter{UserID: 1, LeftCount: 2, RightCount: 2, ReleasedPairs: 3}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("released above pairs: got %v, want ErrInvalidInput", err)
	}

	if _, err := counters.GetForUpdate(ctx, 42); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("unknown user: got %v, want ErrInvalidInput", err)
	}
}

func TestLedgerStore_AppendOnly(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seed(t, s, 1, 2)
	if err := s.Orders().Insert(ctx, &domain.Order{ID: 10, BuyerID: 2, Status: domain.OrderStatusPaid}); err != nil {
		t.Fatalf("Insert order failed: %v", err)
	}
	ledger := s.Ledger()

	direct := &domain.BonusEvent{
		UserID:         1,
		OrderID:        10,
		BonusType:      domain.BonusTypeDirect,
		Amount:         domain.DirectBonusAmount,
		Status:         domain.BonusStatusPending,
		IdempotencyKey: "direct:10",
	}
	if err := ledger.Append(ctx, direct); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	dup := *direct
	dup.IdempotencyKey = "direct:10:other"
	if err := ledger.Append(ctx, &dup); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("second DIRECT for order: got %v, want ErrDuplicateKey", err)
	}

	pending, err := ledger.GetPendingBefore(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("GetPendingBefore failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending: got %d, want 1", len(pending))
	}

	if err := ledger.MarkReleased(ctx, direct.ID, time.Now()); err != nil {
		t.Fatalf("MarkReleased failed: %v", err)
	}
	if err := ledger.MarkReleased(ctx, direct.ID, time.Now()); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("second release: got %v, want ErrInvalidTransition", err)
	}

	totals, err := ledger.Totals(ctx, 1)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if !totals.Released.Equal(decimal.RequireFromString("10")) || !totals.Pending.IsZero() {
		t.Errorf("totals: released %s pending %s", totals.Released, totals.Pending)
	}

	// Mutating a returned copy does not touch the stored row.
	got, err := ledger.GetByID(ctx, direct.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	got.Amount = decimal.NewFromInt(1000)
	again, _ := ledger.GetByID(ctx, direct.ID)
	if !again.Amount.Equal(domain.DirectBonusAmount) {
		t.Errorf("amount changed through copy: %s", again.Amount)
	}
}

func TestStore_ConcurrentTransactions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seed(t, s, 1)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		lane := domain.Lanes[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
				c, err := tx.Counters().GetForUpdate(ctx, 1)
				if err != nil {
					return err
				}
				if err := c.Increment(lane); err != nil {
					return err
				}
				return tx.Counters().Update(ctx, c)
			})
			if err != nil {
				t.Errorf("InTx failed: %v", err)
			}
		}()
	}
	wg.Wait()

	c, _ := s.Counters().Get(ctx, 1)
	if c.LeftCount != workers/2 || c.RightCount != workers/2 {
		t.Errorf("counts: got L=%d R=%d, want %d each", c.LeftCount, c.RightCount, workers/2)
	}
}
