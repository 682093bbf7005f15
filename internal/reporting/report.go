package reporting

import (
	"time"

	"binary-referral/internal/domain"
)

// Summary is a user's dashboard view: referrals, pairing state and ledger totals.
type Summary struct {
	UserID          int64  `json:"user_id"`
	Placed          bool   `json:"placed"`
	Depth           *int   `json:"depth,omitempty"`
	DirectReferrals int64  `json:"direct_referrals"`
	LeftCount       int64  `json:"left_count"`
	RightCount      int64  `json:"right_count"`
	ReleasedPairs   int64  `json:"released_pairs"`
	AvailablePairs  int64  `json:"available_pairs"`
	DirectTotal     string `json:"direct_total"`
	HierarchyTotal  string `json:"hierarchy_total"`
	ReleasedTotal   string `json:"released_total"`
	PendingTotal    string `json:"pending_total"`
	Events          int64  `json:"events"`
}

// Subtree is the part of the tree rooted at one user, in level order.
type Subtree struct {
	RootID    int64      `json:"root_id"`
	Nodes     []NodeView `json:"nodes"`
	Edges     []EdgeView `json:"edges"`
	Truncated bool       `json:"truncated"`
}

// NodeView is one tree node.
type NodeView struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id"`
	Lane     string `json:"lane,omitempty"`
	Depth    int    `json:"depth"`
}

// EdgeView links a parent to a child through a lane.
type EdgeView struct {
	From int64  `json:"from"`
	To   int64  `json:"to"`
	Lane string `json:"lane"`
}

// EventView is one ledger row as exposed to readers.
type EventView struct {
	ID         int64      `json:"id"`
	OrderID    int64      `json:"order_id"`
	BonusType  string     `json:"bonus_type"`
	Amount     string     `json:"amount"`
	Lane       string     `json:"lane,omitempty"`
	Depth      *int       `json:"depth,omitempty"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// UserReport bundles the summary and recent ledger rows for an audit document.
type UserReport struct {
	GeneratedAt time.Time
	Summary     *Summary
	Events      []EventView
}

// NewEventView converts a ledger row.
func NewEventView(e *domain.BonusEvent) EventView {
	v := EventView{
		ID:         e.ID,
		OrderID:    e.OrderID,
		BonusType:  string(e.BonusType),
		Amount:     e.Amount.StringFixed(2),
		Depth:      e.Depth,
		Status:     string(e.Status),
		CreatedAt:  e.CreatedAt,
		ReleasedAt: e.ReleasedAt,
	}
	if e.Lane != nil {
		v.Lane = string(*e.Lane)
	}
	return v
}
