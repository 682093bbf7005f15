package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reserved identities used to attribute counter-driven ledger rows.
const (
	SystemUserID  int64 = 0
	SystemOrderID int64 = 0
)

// User mirrors the signup subsystem's account record.
// ReferredBy is set once at signup and never points at the user itself.
type User struct {
	ID         int64
	Email      string
	ReferredBy *int64
	CreatedAt  time.Time
}

// OrderStatus mirrors the checkout subsystem's order state.
type OrderStatus string

// Order statuses.
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order mirrors the checkout subsystem's order record.
type Order struct {
	ID        int64
	BuyerID   int64
	Total     decimal.Decimal
	Status    OrderStatus
	CreatedAt time.Time
}

// ProcessingState tracks how far purchase processing has progressed for an order.
type ProcessingState string

// Processing states.
const (
	// ProcessingAccrued: direct bonus and ancestor counters are committed,
	// pair releases may still be outstanding.
	ProcessingAccrued ProcessingState = "ACCRUED"
	// ProcessingCompleted: every step ran; reprocessing is a no-op.
	ProcessingCompleted ProcessingState = "COMPLETED"
)

// ProcessedOrder is the per-order idempotency marker written in the same
// transaction as the ledger and counter updates.
type ProcessedOrder struct {
	OrderID     int64
	WalkToken   string
	State       ProcessingState
	Ancestors   int
	CreatedAt   time.Time
	CompletedAt *time.Time
}
