// Package reporting builds read-only views of the tree and the bonus ledger.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

// Limits for list views.
const (
	DefaultEventLimit = 20
	MaxEventLimit     = 200
	DefaultTreeLimit  = 127
	MaxTreeLimit      = 1023
)

// Generator produces views from stored data.
type Generator struct {
	store storage.Store
	now   func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new view generator.
func NewGenerator(store storage.Store) *Generator {
	return &Generator{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Summary reads the user's counters, referral count and ledger totals from
// one transaction so the numbers agree with each other.
func (g *Generator) Summary(ctx context.Context, userID int64) (*Summary, error) {
	var s *Summary
	err := g.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := checkUser(ctx, tx, userID); err != nil {
			return err
		}

		sum := &Summary{UserID: userID}

		node, err := tx.Tree().GetByUser(ctx, userID)
		switch {
		case err == nil:
			sum.Placed = true
			depth := node.Depth
			sum.Depth = &depth
		case !errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("load node: %w", err)
		}

		if sum.DirectReferrals, err = tx.Users().CountReferrals(ctx, userID); err != nil {
			return err
		}

		c, err := tx.Counters().Get(ctx, userID)
		if err != nil {
			return fmt.Errorf("load counter: %w", err)
		}
		sum.LeftCount = c.LeftCount
		sum.RightCount = c.RightCount
		sum.ReleasedPairs = c.ReleasedPairs
		sum.AvailablePairs = c.Available()

		totals, err := tx.Ledger().Totals(ctx, userID)
		if err != nil {
			return fmt.Errorf("load totals: %w", err)
		}
		sum.DirectTotal = totals.Direct.StringFixed(2)
		sum.HierarchyTotal = totals.Hierarchy.StringFixed(2)
		sum.ReleasedTotal = totals.Released.StringFixed(2)
		sum.PendingTotal = totals.Pending.StringFixed(2)
		sum.Events = totals.Events

		s = sum
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Subtree returns up to limit nodes below and including userID. A user who
// is not placed yet has an empty subtree.
func (g *Generator) Subtree(ctx context.Context, userID int64, limit int) (*Subtree, error) {
	limit = clamp(limit, DefaultTreeLimit, MaxTreeLimit)
	if err := checkUser(ctx, g.store, userID); err != nil {
		return nil, err
	}

	out := &Subtree{RootID: userID, Nodes: []NodeView{}, Edges: []EdgeView{}}

	// One extra row tells us whether the result was cut.
	nodes, err := g.store.Tree().GetSubtree(ctx, userID, limit+1)
	if errors.Is(err, storage.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subtree: %w", err)
	}
	if len(nodes) > limit {
		nodes = nodes[:limit]
		out.Truncated = true
	}

	for _, n := range nodes {
		v := NodeView{ID: n.UserID, ParentID: n.ParentID, Depth: n.Depth}
		if n.Lane != domain.LaneNone {
			v.Lane = string(n.Lane)
		}
		out.Nodes = append(out.Nodes, v)

		if n.UserID != userID && n.ParentID != nil {
			out.Edges = append(out.Edges, EdgeView{From: *n.ParentID, To: n.UserID, Lane: string(n.Lane)})
		}
	}
	return out, nil
}

// RecentEvents returns the user's newest ledger rows, newest first.
func (g *Generator) RecentEvents(ctx context.Context, userID int64, limit int) ([]EventView, error) {
	limit = clamp(limit, DefaultEventLimit, MaxEventLimit)
	if err := checkUser(ctx, g.store, userID); err != nil {
		return nil, err
	}

	events, err := g.store.Ledger().GetRecent(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, NewEventView(e))
	}
	return views, nil
}

// Ledger returns up to MaxEventLimit of the user's rows oldest first, for export.
func (g *Generator) Ledger(ctx context.Context, userID int64) ([]EventView, error) {
	views, err := g.RecentEvents(ctx, userID, MaxEventLimit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(views)-1; i < j; i, j = i+1, j-1 {
		views[i], views[j] = views[j], views[i]
	}
	return views, nil
}

// UserReport produces the audit document for one user.
func (g *Generator) UserReport(ctx context.Context, userID int64) (*UserReport, error) {
	summary, err := g.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}
	events, err := g.RecentEvents(ctx, userID, DefaultEventLimit)
	if err != nil {
		return nil, err
	}
	return &UserReport{
		GeneratedAt: g.now(),
		Summary:     summary,
		Events:      events,
	}, nil
}

func checkUser(ctx context.Context, tx storage.Tx, userID int64) error {
	if _, err := tx.Users().GetByID(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("user %d: %w", userID, domain.ErrUserNotFound)
		}
		return err
	}
	return nil
}

func clamp(limit, def, upper int) int {
	if limit <= 0 {
		return def
	}
	if limit > upper {
		return upper
	}
	return limit
}
