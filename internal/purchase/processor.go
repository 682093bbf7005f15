// Package purchase turns a paid order into ledger rows and counter updates.
//
// Processing runs in two phases. The accrual phase appends the DIRECT bonus,
// walks the buyer's ancestors incrementing the lane counter each one sees the
// purchase on, and writes an ACCRUED marker, all in one serializable
// transaction. The release phase then asks the pairing engine for one pair
// per incremented ancestor and finally marks the order COMPLETED. A crash
// between the phases leaves an ACCRUED marker and the next call resumes at
// the release phase.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"binary-referral/internal/domain"
	"binary-referral/internal/idhash"
	"binary-referral/internal/observability"
	"binary-referral/internal/pairing"
	"binary-referral/internal/placement"
	"binary-referral/internal/storage"
)

// Status is the outcome of one OnOrderPaid call.
type Status string

// Processing outcomes.
const (
	StatusProcessed        Status = "processed"
	StatusResumed          Status = "resumed"
	StatusAlreadyProcessed Status = "already_processed"
)

// Accrual is one ancestor counter incremented for an order.
type Accrual struct {
	UserID  int64
	Lane    domain.Lane            // lane the buyer's branch descends from
	Depth   int                    // hops from the buyer, parent = 1
	Counter *domain.PairingCounter // nil when resuming
}

// Result describes one OnOrderPaid call.
type Result struct {
	Status      Status
	OrderID     int64
	BuyerID     int64
	DirectEvent *domain.BonusEvent // nil if the buyer was not referred
	Accruals    []Accrual          // walk order, nearest ancestor first
	Releases    []*pairing.Result  // one per accrual
}

// Options configures the processor.
type Options struct {
	MaxAncestorDepth int                // Default: 32
	DirectStatus     domain.BonusStatus // Default: RELEASED
	Placement        *placement.Engine  // Default: engine over the same store
	Pairing          *pairing.Engine    // Default: engine over the same store
	Logger           *slog.Logger
	Now              func() time.Time
}

// Processor handles paid orders.
type Processor struct {
	store        storage.Store
	maxDepth     int
	directStatus domain.BonusStatus
	placement    *placement.Engine
	pairing      *pairing.Engine
	logger       *slog.Logger
	now          func() time.Time
}

// NewProcessor creates a purchase processor.
func NewProcessor(store storage.Store, opts Options) *Processor {
	maxDepth := opts.MaxAncestorDepth
	if maxDepth <= 0 {
		maxDepth = 32
	}
	directStatus := opts.DirectStatus
	if !directStatus.Valid() {
		directStatus = domain.BonusStatusReleased
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	place := opts.Placement
	if place == nil {
		place = placement.NewEngine(store, placement.Options{Logger: logger})
	}
	pair := opts.Pairing
	if pair == nil {
		pair = pairing.NewEngine(store, pairing.Options{Logger: logger, Now: now})
	}

	return &Processor{
		store:        store,
		maxDepth:     maxDepth,
		directStatus: directStatus,
		placement:    place,
		pairing:      pair,
		logger:       logger,
		now:          now,
	}
}

// OnOrderPaid processes a paid order. Calling it again for the same order
// leaves the ledger and counters exactly as after the first successful call.
// Any error leaves the order safe to retry.
func (p *Processor) OnOrderPaid(ctx context.Context, orderID int64) (*Result, error) {
	order, buyer, err := p.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := p.ensurePlaced(ctx, order.ID, buyer); err != nil {
		return nil, fmt.Errorf("process order %d: %w", orderID, err)
	}

	var res *Result
	err = p.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		r, err := p.accrue(ctx, tx, order, buyer)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("process order %d: %w", orderID, err)
	}

	if res.Status == StatusAlreadyProcessed {
		observability.RecordPurchase(string(res.Status), 0)
		p.logger.Debug("order already processed", slog.Int64("order_id", orderID))
		return res, nil
	}
	if res.Status == StatusProcessed && res.DirectEvent != nil {
		ev := res.DirectEvent
		observability.RecordBonusEvent(string(ev.BonusType), string(ev.Status), ev.Amount.InexactFloat64())
	}

	for _, a := range res.Accruals {
		rel, err := p.pairing.Release(ctx, a.UserID)
		if err != nil {
			p.logger.Error("pair release failed, order left accrued",
				slog.Int64("order_id", orderID),
				slog.Int64("user_id", a.UserID),
				slog.String("error", err.Error()))
			return nil, fmt.Errorf("process order %d: release pairs for %d: %w", orderID, a.UserID, err)
		}
		res.Releases = append(res.Releases, rel)
	}

	err = p.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.ProcessedOrders().MarkCompleted(ctx, orderID, p.now())
	})
	if err != nil {
		return nil, fmt.Errorf("process order %d: mark completed: %w", orderID, err)
	}

	observability.RecordPurchase(string(res.Status), len(res.Accruals))
	p.logResult(res)
	return res, nil
}

// load reads the order and its buyer and checks the order is paid.
func (p *Processor) load(ctx context.Context, orderID int64) (*domain.Order, *domain.User, error) {
	order, err := p.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("process order %d: %w", orderID, domain.ErrOrderNotFound)
		}
		return nil, nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if order.ID == domain.SystemOrderID || order.Status != domain.OrderStatusPaid {
		return nil, nil, fmt.Errorf("process order %d (%s): %w", orderID, order.Status, domain.ErrOrderNotPaid)
	}

	buyer, err := p.store.Users().GetByID(ctx, order.BuyerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("process order %d buyer %d: %w", orderID, order.BuyerID, domain.ErrUserNotFound)
		}
		return nil, nil, fmt.Errorf("load buyer %d: %w", order.BuyerID, err)
	}
	return order, buyer, nil
}

// ensurePlaced places a referred buyer that has no tree node yet. A referrer
// that is not placed itself leaves the buyer unplaced without failing the order.
func (p *Processor) ensurePlaced(ctx context.Context, orderID int64, buyer *domain.User) error {
	if buyer.ReferredBy == nil {
		return nil
	}
	if _, err := p.store.Tree().GetByUser(ctx, buyer.ID); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	_, err := p.placement.Place(ctx, buyer.ID, buyer.ReferredBy)
	switch {
	case err == nil, errors.Is(err, domain.ErrAlreadyPlaced):
		return nil
	case errors.Is(err, domain.ErrReferrerNotFound):
		// The DIRECT bonus does not depend on the tree. The buyer stays
		// unplaced, so the walk credits no ancestors.
		p.logger.Warn("referrer not in tree, buyer left unplaced",
			slog.Int64("order_id", orderID),
			slog.Int64("buyer_id", buyer.ID),
			slog.Int64("referrer_id", *buyer.ReferredBy))
		return nil
	default:
		return err
	}
}

// accrue runs inside the umbrella transaction.
func (p *Processor) accrue(ctx context.Context, tx storage.Tx, order *domain.Order, buyer *domain.User) (*Result, error) {
	res := &Result{OrderID: order.ID, BuyerID: buyer.ID}

	marker, err := tx.ProcessedOrders().GetByOrder(ctx, order.ID)
	switch {
	case err == nil && marker.State == domain.ProcessingCompleted:
		res.Status = StatusAlreadyProcessed
		return res, nil

	case err == nil:
		// Accrual committed earlier; rebuild the walk without writing.
		res.Status = StatusResumed
		if buyer.ReferredBy != nil {
			ev, err := tx.Ledger().GetByKey(ctx, idhash.DirectBonusKey(order.ID))
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
			res.DirectEvent = ev
		}
		res.Accruals, err = p.walk(ctx, tx, buyer.ID, false)
		if err != nil {
			return nil, err
		}
		return res, nil

	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("read marker: %w", err)
	}

	res.Status = StatusProcessed

	if buyer.ReferredBy != nil {
		ev, err := p.appendDirect(ctx, tx, order, *buyer.ReferredBy)
		if err != nil {
			return nil, err
		}
		res.DirectEvent = ev
	}

	res.Accruals, err = p.walk(ctx, tx, buyer.ID, true)
	if err != nil {
		return nil, err
	}

	err = tx.ProcessedOrders().Insert(ctx, &domain.ProcessedOrder{
		OrderID:   order.ID,
		WalkToken: idhash.WalkToken(order.ID),
		State:     domain.ProcessingAccrued,
		Ancestors: len(res.Accruals),
	})
	if err != nil {
		return nil, fmt.Errorf("write marker: %w", err)
	}
	return res, nil
}

func (p *Processor) appendDirect(ctx context.Context, tx storage.Tx, order *domain.Order, referrer int64) (*domain.BonusEvent, error) {
	depth := 0
	ev := &domain.BonusEvent{
		UserID:         referrer,
		OrderID:        order.ID,
		BonusType:      domain.BonusTypeDirect,
		Amount:         domain.DirectBonusAmount,
		Depth:          &depth,
		Status:         p.directStatus,
		IdempotencyKey: idhash.DirectBonusKey(order.ID),
	}
	if ev.Status == domain.BonusStatusReleased {
		now := p.now()
		ev.ReleasedAt = &now
	}

	if err := tx.Ledger().Append(ctx, ev); err != nil {
		p.logger.Error("ledger append failed, rolling back order",
			slog.Int64("user_id", referrer),
			slog.Int64("order_id", order.ID),
			slog.Int64("buyer_id", order.BuyerID),
			slog.String("bonus_type", string(ev.BonusType)),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("append direct bonus: %w", err)
	}
	return ev, nil
}

// walk follows parent pointers from the buyer's node, at most maxDepth hops.
// With increment set, each ancestor's counter is locked and the lane of the
// buyer's branch is incremented. Locks are taken bottom-up, so overlapping
// walks acquire shared ancestors in the same order.
func (p *Processor) walk(ctx context.Context, tx storage.Tx, buyerID int64, increment bool) ([]Accrual, error) {
	child, err := tx.Tree().GetByUser(ctx, buyerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load node %d: %w", buyerID, err)
	}

	var accruals []Accrual
	for hop := 1; child.ParentID != nil && hop <= p.maxDepth; hop++ {
		parentID := *child.ParentID
		a := Accrual{UserID: parentID, Lane: child.Lane, Depth: hop}

		if increment {
			c, err := tx.Counters().GetForUpdate(ctx, parentID)
			if err != nil {
				return nil, fmt.Errorf("lock counter %d: %w", parentID, err)
			}
			if err := c.Increment(child.Lane); err != nil {
				return nil, fmt.Errorf("increment counter %d: %w", parentID, err)
			}
			if err := tx.Counters().Update(ctx, c); err != nil {
				return nil, fmt.Errorf("update counter %d: %w", parentID, err)
			}
			a.Counter = c
		}
		accruals = append(accruals, a)

		child, err = tx.Tree().GetByUser(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("load node %d: %w", parentID, err)
		}
	}
	return accruals, nil
}

func (p *Processor) logResult(res *Result) {
	attrs := []any{
		slog.String("status", string(res.Status)),
		slog.Int64("order_id", res.OrderID),
		slog.Int64("buyer_id", res.BuyerID),
		slog.Int("ancestors", len(res.Accruals)),
	}
	if res.DirectEvent != nil {
		attrs = append(attrs,
			slog.Int64("referrer_id", res.DirectEvent.UserID),
			slog.String("direct_status", string(res.DirectEvent.Status)))
	}

	released := 0
	for _, r := range res.Releases {
		if r.Status == pairing.StatusReleased {
			released++
		}
	}
	attrs = append(attrs, slog.Int("pairs_released", released))

	p.logger.Info("order processed", attrs...)
}
