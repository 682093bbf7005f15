package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BonusType classifies a ledger row.
type BonusType string

// Bonus types.
const (
	BonusTypeDirect    BonusType = "DIRECT"
	BonusTypeHierarchy BonusType = "HIERARCHY"
)

// BonusStatus is the disbursement state of a ledger row.
// The only allowed transition is PENDING -> RELEASED.
type BonusStatus string

// Bonus statuses.
const (
	BonusStatusPending  BonusStatus = "PENDING"
	BonusStatusReleased BonusStatus = "RELEASED"
)

// Valid reports whether s is a known status.
func (s BonusStatus) Valid() bool {
	return s == BonusStatusPending || s == BonusStatusReleased
}

// CanTransitionTo reports whether s may move to next.
func (s BonusStatus) CanTransitionTo(next BonusStatus) bool {
	return s == BonusStatusPending && next == BonusStatusReleased
}

// Fixed bonus amounts. There is a single tier for each bonus type.
var (
	DirectBonusAmount    = decimal.RequireFromString("10.00")
	HierarchyBonusAmount = decimal.RequireFromString("5.00")
)

// BonusEvent is an append-only ledger row. Corresponds to bonus_events.
// Amount is never updated; Status only moves PENDING -> RELEASED.
type BonusEvent struct {
	ID             int64
	UserID         int64 // beneficiary
	OrderID        int64 // source order or SystemOrderID
	BonusType      BonusType
	Amount         decimal.Decimal // 2 decimal places
	Lane           *Lane           // nullable
	Depth          *int            // nullable, ancestor distance
	Status         BonusStatus
	IdempotencyKey string // unique; deterministic per (order) or (user, pair number)
	CreatedAt      time.Time
	ReleasedAt     *time.Time
}

// BonusTotals aggregates a user's ledger by type and status.
type BonusTotals struct {
	Direct    decimal.Decimal
	Hierarchy decimal.Decimal
	Released  decimal.Decimal
	Pending   decimal.Decimal
	Events    int64
}
