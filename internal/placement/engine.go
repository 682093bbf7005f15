// Package placement inserts users into the global binary tree.
//
// A new user is placed in the first open slot found by a breadth-first search
// of the referrer's subtree, level by level, LEFT before RIGHT. The search and
// the insert run in one serializable transaction; a lost race for a slot
// re-runs the whole search in a fresh transaction.
package placement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"binary-referral/internal/domain"
	"binary-referral/internal/observability"
	"binary-referral/internal/storage"
)

// ErrSubtreeTooDeep is returned when no open slot exists within MaxLevels of the referrer.
var ErrSubtreeTooDeep = errors.New("no open slot within search depth")

// Options configures the engine.
type Options struct {
	MaxLevels   int // Default: 64, BFS levels searched below the referrer
	MaxAttempts int // Default: 8, searches before giving up on slot races
	Logger      *slog.Logger
}

// Engine places users into the tree.
type Engine struct {
	store       storage.Store
	maxLevels   int
	maxAttempts int
	logger      *slog.Logger
}

// NewEngine creates a placement engine.
func NewEngine(store storage.Store, opts Options) *Engine {
	maxLevels := opts.MaxLevels
	if maxLevels <= 0 {
		maxLevels = 64
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:       store,
		maxLevels:   maxLevels,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Place inserts newUser under the subtree of referrer. A nil referrer creates
// the global root. Returns the stored node.
func (e *Engine) Place(ctx context.Context, newUser int64, referrer *int64) (*domain.TreeNode, error) {
	if referrer != nil && *referrer == newUser {
		return nil, domain.ErrSelfReferral
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		var placed *domain.TreeNode
		err := e.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			n, err := e.place(ctx, tx, newUser, referrer)
			if err != nil {
				return err
			}
			placed = n
			return nil
		})

		switch {
		case err == nil:
			observability.RecordPlacement("placed", placed.Depth)
			e.logger.Info("user placed",
				slog.Int64("user_id", placed.UserID),
				slog.Any("parent_id", placed.ParentID),
				slog.String("lane", placed.Lane.String()),
				slog.Int("depth", placed.Depth),
				slog.Int("attempt", attempt))
			return placed, nil

		case errors.Is(err, storage.ErrSlotTaken):
			observability.RecordPlacementRetry()
			e.logger.Debug("placement slot taken concurrently, searching again",
				slog.Int64("user_id", newUser),
				slog.Int("attempt", attempt))
			continue

		case errors.Is(err, domain.ErrAlreadyPlaced):
			observability.RecordPlacement("already_placed", 0)
			return nil, err

		default:
			observability.RecordPlacement("error", 0)
			return nil, err
		}
	}

	observability.RecordPlacement("error", 0)
	return nil, fmt.Errorf("place user %d: %w: lost %d slot races", newUser, storage.ErrConflict, e.maxAttempts)
}

func (e *Engine) place(ctx context.Context, tx storage.Tx, newUser int64, referrer *int64) (*domain.TreeNode, error) {
	if _, err := tx.Users().GetByID(ctx, newUser); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("place user %d: %w", newUser, domain.ErrUserNotFound)
		}
		return nil, err
	}

	if _, err := tx.Tree().GetByUser(ctx, newUser); err == nil {
		return nil, fmt.Errorf("place user %d: %w", newUser, domain.ErrAlreadyPlaced)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if referrer == nil {
		return e.placeRoot(ctx, tx, newUser)
	}

	start, err := tx.Tree().GetByUser(ctx, *referrer)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("place user %d under %d: %w", newUser, *referrer, domain.ErrReferrerNotFound)
		}
		return nil, err
	}

	parent, lane, err := e.findSlot(ctx, tx.Tree(), start)
	if err != nil {
		return nil, fmt.Errorf("place user %d under %d: %w", newUser, *referrer, err)
	}

	// Re-check the slot right before writing it.
	if _, err := tx.Tree().GetChild(ctx, parent.UserID, lane); err == nil {
		return nil, storage.ErrSlotTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	node := domain.NewChildNode(newUser, parent, lane)
	if err := tx.Tree().Insert(ctx, node); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("place user %d: %w", newUser, domain.ErrAlreadyPlaced)
		}
		return nil, err
	}
	return node, nil
}

func (e *Engine) placeRoot(ctx context.Context, tx storage.Tx, userID int64) (*domain.TreeNode, error) {
	if _, err := tx.Tree().GetRoot(ctx); err == nil {
		return nil, fmt.Errorf("place root %d: %w", userID, domain.ErrRootExists)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	node := domain.NewRootNode(userID)
	if err := tx.Tree().Insert(ctx, node); err != nil {
		if errors.Is(err, storage.ErrRootTaken) {
			return nil, fmt.Errorf("place root %d: %w", userID, domain.ErrRootExists)
		}
		return nil, err
	}
	return node, nil
}

// findSlot runs the level-order search from start and returns the first node
// with an open lane. LEFT is checked before RIGHT.
func (e *Engine) findSlot(ctx context.Context, tree storage.TreeStore, start *domain.TreeNode) (*domain.TreeNode, domain.Lane, error) {
	level := []*domain.TreeNode{start}

	for depth := 0; depth < e.maxLevels && len(level) > 0; depth++ {
		ids := make([]int64, len(level))
		for i, n := range level {
			ids[i] = n.UserID
		}

		children, err := tree.GetChildren(ctx, ids)
		if err != nil {
			return nil, domain.LaneNone, fmt.Errorf("load level %d: %w", depth, err)
		}

		occupied := make(map[int64]map[domain.Lane]*domain.TreeNode, len(level))
		for _, c := range children {
			if occupied[*c.ParentID] == nil {
				occupied[*c.ParentID] = make(map[domain.Lane]*domain.TreeNode, 2)
			}
			occupied[*c.ParentID][c.Lane] = c
		}

		next := make([]*domain.TreeNode, 0, 2*len(level))
		for _, n := range level {
			for _, lane := range domain.Lanes {
				child, taken := occupied[n.UserID][lane]
				if !taken {
					return n, lane, nil
				}
				next = append(next, child)
			}
		}
		level = next
	}

	return nil, domain.LaneNone, ErrSubtreeTooDeep
}
