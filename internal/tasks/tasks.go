// Package tasks binds the inbound events to queue handlers.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"binary-referral/internal/domain"
	"binary-referral/internal/pairing"
	"binary-referral/internal/placement"
	"binary-referral/internal/purchase"
	"binary-referral/internal/queue"
	"binary-referral/internal/storage"
)

// Task names.
const (
	ProcessPurchase     = "process_purchase"
	PlaceUser           = "place_user"
	PlaceRoot           = "place_root"
	ReleasePairsForUser = "release_pairs_for_user"
)

// ProcessPurchasePayload is the OrderPaid event.
type ProcessPurchasePayload struct {
	OrderID int64 `json:"order_id"`
}

// PlaceUserPayload is the UserReferred event. ReferrerID must match the
// user's stored referred_by.
type PlaceUserPayload struct {
	UserID     int64  `json:"user_id"`
	ReferrerID *int64 `json:"referrer_id,omitempty"`
}

// PlaceRootPayload places the first user of the tree.
type PlaceRootPayload struct {
	UserID int64 `json:"user_id"`
}

// ReleasePairsPayload asks for every available pair of one user to be released.
type ReleasePairsPayload struct {
	UserID int64 `json:"user_id"`
}

// Handlers holds the engines the task handlers call.
type Handlers struct {
	Users     storage.UserStore
	Purchases *purchase.Processor
	Placement *placement.Engine
	Pairing   *pairing.Engine
	Logger    *slog.Logger
}

// Register binds every task name to its handler on w.
func (h *Handlers) Register(w *queue.Worker) {
	w.Register(ProcessPurchase, h.processPurchase)
	w.Register(PlaceUser, h.placeUser)
	w.Register(PlaceRoot, h.placeRoot)
	w.Register(ReleasePairsForUser, h.releasePairs)
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *Handlers) processPurchase(ctx context.Context, t *queue.Task) error {
	var p ProcessPurchasePayload
	if err := decode(t, &p); err != nil {
		return err
	}
	if p.OrderID <= 0 {
		return fmt.Errorf("%s: order_id %d: %w", t.Name, p.OrderID, domain.ErrInvalidEvent)
	}

	_, err := h.Purchases.OnOrderPaid(ctx, p.OrderID)
	return err
}

func (h *Handlers) placeUser(ctx context.Context, t *queue.Task) error {
	var p PlaceUserPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	if p.UserID <= 0 {
		return fmt.Errorf("%s: user_id %d: %w", t.Name, p.UserID, domain.ErrInvalidEvent)
	}
	if p.ReferrerID == nil {
		return fmt.Errorf("%s: user %d: referrer_id is required: %w", t.Name, p.UserID, domain.ErrInvalidEvent)
	}

	u, err := h.loadUser(ctx, p.UserID)
	if err != nil {
		return err
	}
	if u.ReferredBy == nil || *u.ReferredBy != *p.ReferrerID {
		return fmt.Errorf("%s: user %d: referrer_id %d does not match referred_by: %w",
			t.Name, p.UserID, *p.ReferrerID, domain.ErrInvalidEvent)
	}

	return h.place(ctx, p.UserID, u.ReferredBy)
}

func (h *Handlers) placeRoot(ctx context.Context, t *queue.Task) error {
	var p PlaceRootPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	if p.UserID <= 0 {
		return fmt.Errorf("%s: user_id %d: %w", t.Name, p.UserID, domain.ErrInvalidEvent)
	}

	u, err := h.loadUser(ctx, p.UserID)
	if err != nil {
		return err
	}
	if u.ReferredBy != nil {
		return fmt.Errorf("%s: user %d was referred by %d: %w", t.Name, p.UserID, *u.ReferredBy, domain.ErrInvalidEvent)
	}

	return h.place(ctx, p.UserID, nil)
}

func (h *Handlers) place(ctx context.Context, userID int64, referrer *int64) error {
	_, err := h.Placement.Place(ctx, userID, referrer)
	if errors.Is(err, domain.ErrAlreadyPlaced) {
		// Redelivery after a committed placement.
		h.logger().Debug("user already placed", slog.Int64("user_id", userID))
		return nil
	}
	return err
}

func (h *Handlers) loadUser(ctx context.Context, userID int64) (*domain.User, error) {
	u, err := h.Users.GetByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("user %d: %w", userID, domain.ErrUserNotFound)
	}
	return u, err
}

func (h *Handlers) releasePairs(ctx context.Context, t *queue.Task) error {
	var p ReleasePairsPayload
	if err := decode(t, &p); err != nil {
		return err
	}

	n, err := h.Pairing.ReleaseAll(ctx, p.UserID)
	if err != nil {
		return err
	}
	h.logger().Info("pairs released on request",
		slog.Int64("user_id", p.UserID),
		slog.Int("released", n))
	return nil
}

func decode(t *queue.Task, v any) error {
	if err := t.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}
	return nil
}

// EnqueuePurchase queues an OrderPaid event.
func EnqueuePurchase(ctx context.Context, b queue.Backend, orderID int64) (*queue.Task, error) {
	return enqueue(ctx, b, ProcessPurchase, orderID, ProcessPurchasePayload{OrderID: orderID})
}

// EnqueuePlacement queues a UserReferred event.
func EnqueuePlacement(ctx context.Context, b queue.Backend, userID int64, referrerID *int64) (*queue.Task, error) {
	return enqueue(ctx, b, PlaceUser, userID, PlaceUserPayload{UserID: userID, ReferrerID: referrerID})
}

// EnqueueRootPlacement queues placement of the tree root.
func EnqueueRootPlacement(ctx context.Context, b queue.Backend, userID int64) (*queue.Task, error) {
	return enqueue(ctx, b, PlaceRoot, userID, PlaceRootPayload{UserID: userID})
}

// EnqueueReleasePairs queues a pair release for one user.
func EnqueueReleasePairs(ctx context.Context, b queue.Backend, userID int64) (*queue.Task, error) {
	return enqueue(ctx, b, ReleasePairsForUser, userID, ReleasePairsPayload{UserID: userID})
}

func enqueue(ctx context.Context, b queue.Backend, name string, related int64, payload any) (*queue.Task, error) {
	t, err := queue.NewTask(name, strconv.FormatInt(related, 10), payload)
	if err != nil {
		return nil, err
	}
	if err := b.Enqueue(ctx, t); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", name, err)
	}
	return t, nil
}
