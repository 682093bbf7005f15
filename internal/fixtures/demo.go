// Package fixtures loads a small demo network for local runs and reports.
package fixtures

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"binary-referral/internal/domain"
	"binary-referral/internal/placement"
	"binary-referral/internal/purchase"
	"binary-referral/internal/storage"
)

// DemoRootID is the root of the demo tree.
const DemoRootID int64 = 1

// demoUsers is a full tree of depth 2: 1 refers 2 and 3, 2 refers 4 and 5,
// 3 refers 6 and 7. Referral order fills each referrer's L lane first.
var demoUsers = []struct {
	id       int64
	referrer int64
}{
	{1, 0},
	{2, 1},
	{3, 1},
	{4, 2},
	{5, 2},
	{6, 3},
	{7, 3},
}

// demoOrders holds one paid order per non-root user, processed in this order.
var demoOrders = []struct {
	id    int64
	buyer int64
	total string
}{
	{1001, 2, "49.90"},
	{1002, 3, "19.00"},
	{1003, 4, "120.00"},
	{1004, 5, "35.50"},
	{1005, 6, "80.00"},
	{1006, 7, "12.25"},
}

// LoadDemo inserts the demo users and orders, places every user and
// processes every order.
//
// Resulting ledger for the root: two DIRECT rows (20.00) and three pair
// releases (15.00). Users 2 and 3 each get two DIRECT rows and one pair.
func LoadDemo(ctx context.Context, store storage.Store) error {
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	place := placement.NewEngine(store, placement.Options{})
	processor := purchase.NewProcessor(store, purchase.Options{Placement: place})

	for i, du := range demoUsers {
		u := &domain.User{
			ID:        du.id,
			Email:     fmt.Sprintf("user%d@example.com", du.id),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if du.referrer != 0 {
			ref := du.referrer
			u.ReferredBy = &ref
		}
		if err := store.Users().Insert(ctx, u); err != nil {
			return fmt.Errorf("insert user %d: %w", u.ID, err)
		}
		if _, err := place.Place(ctx, u.ID, u.ReferredBy); err != nil {
			return fmt.Errorf("place user %d: %w", u.ID, err)
		}
	}

	for i, do := range demoOrders {
		o := &domain.Order{
			ID:        do.id,
			BuyerID:   do.buyer,
			Total:     decimal.RequireFromString(do.total),
			Status:    domain.OrderStatusPaid,
			CreatedAt: base.Add(24*time.Hour + time.Duration(i)*time.Hour),
		}
		if err := store.Orders().Insert(ctx, o); err != nil {
			return fmt.Errorf("insert order %d: %w", o.ID, err)
		}
		if _, err := processor.OnOrderPaid(ctx, o.ID); err != nil {
			return fmt.Errorf("process order %d: %w", o.ID, err)
		}
	}
	return nil
}
