package storage

import (
	"context"
	"time"

	"binary-referral/internal/domain"
)

// UserStore provides read access to the signup subsystem's users.
type UserStore interface {
	// Insert adds a user. Returns ErrDuplicateKey if the id exists and
	// ErrInvalidInput on self-referral.
	Insert(ctx context.Context, u *domain.User) error

	// GetByID retrieves a user. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, userID int64) (*domain.User, error)

	// CountReferrals returns the number of users whose referred_by is userID.
	CountReferrals(ctx context.Context, userID int64) (int64, error)
}

// OrderStore provides read access to the checkout subsystem's orders.
type OrderStore interface {
	// Insert adds an order. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, o *domain.Order) error

	// GetByID retrieves an order. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, orderID int64) (*domain.Order, error)
}

// TreeStore provides access to tree_nodes storage. Nodes are immutable.
type TreeStore interface {
	// Insert adds a node and sets CreatedAt. Returns ErrDuplicateKey if the user
	// is already placed, ErrSlotTaken if (parent, lane) is occupied and
	// ErrRootTaken if a root already exists.
	Insert(ctx context.Context, n *domain.TreeNode) error

	// GetByUser retrieves the node owned by userID. Returns ErrNotFound if not exists.
	GetByUser(ctx context.Context, userID int64) (*domain.TreeNode, error)

	// GetRoot retrieves the global root. Returns ErrNotFound if the tree is empty.
	GetRoot(ctx context.Context) (*domain.TreeNode, error)

	// GetChild retrieves the child of parentID in lane. Returns ErrNotFound if the slot is open.
	GetChild(ctx context.Context, parentID int64, lane domain.Lane) (*domain.TreeNode, error)

	// GetChildren retrieves children of all given parents, ordered by parent then lane (L before R).
	GetChildren(ctx context.Context, parentIDs []int64) ([]*domain.TreeNode, error)

	// GetSubtree retrieves up to limit nodes of the subtree rooted at userID,
	// ordered by depth then parent then lane. Returns ErrNotFound if userID is not placed.
	GetSubtree(ctx context.Context, userID int64, limit int) ([]*domain.TreeNode, error)

	// CountChildren returns the number of direct children of parentID.
	CountChildren(ctx context.Context, parentID int64) (int, error)
}

// CounterStore provides access to pairing_counters storage.
type CounterStore interface {
	// GetForUpdate returns the user's counter, creating a zero row if absent,
	// and holds an exclusive lock on it until the enclosing transaction ends.
	GetForUpdate(ctx context.Context, userID int64) (*domain.PairingCounter, error)

	// Get returns the user's counter without locking. Absent rows read as zero.
	Get(ctx context.Context, userID int64) (*domain.PairingCounter, error)

	// Update writes counter values. Returns ErrInvalidInput if any value would
	// decrease or the release invariant would break, ErrNotFound if no row exists.
	Update(ctx context.Context, c *domain.PairingCounter) error
}

// LedgerStore provides access to the append-only bonus_events ledger.
type LedgerStore interface {
	// Append adds a new event and sets ID and CreatedAt.
	// Returns ErrDuplicateKey if the idempotency key exists.
	Append(ctx context.Context, e *domain.BonusEvent) error

	// MarkReleased moves a PENDING event to RELEASED. Returns ErrNotFound if the
	// event does not exist and ErrInvalidTransition if it is not PENDING.
	MarkReleased(ctx context.Context, eventID int64, at time.Time) error

	// GetByID retrieves an event. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, eventID int64) (*domain.BonusEvent, error)

	// GetByKey retrieves an event by idempotency key. Returns ErrNotFound if not exists.
	GetByKey(ctx context.Context, key string) (*domain.BonusEvent, error)

	// GetRecent retrieves the newest limit events for a user, newest first.
	GetRecent(ctx context.Context, userID int64, limit int) ([]*domain.BonusEvent, error)

	// GetByOrder retrieves all events sourced from an order, ordered by id.
	GetByOrder(ctx context.Context, orderID int64) ([]*domain.BonusEvent, error)

	// GetPendingBefore retrieves up to limit PENDING events created before cutoff, oldest first.
	GetPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.BonusEvent, error)

	// Totals aggregates a user's events by type and status.
	Totals(ctx context.Context, userID int64) (*domain.BonusTotals, error)
}

// ProcessedOrderStore provides access to processed_orders idempotency markers.
type ProcessedOrderStore interface {
	// Insert adds a marker. Returns ErrDuplicateKey if the order already has one.
	Insert(ctx context.Context, p *domain.ProcessedOrder) error

	// GetByOrder retrieves the marker. Returns ErrNotFound if not exists.
	GetByOrder(ctx context.Context, orderID int64) (*domain.ProcessedOrder, error)

	// MarkCompleted moves the marker to COMPLETED. Completing twice is a no-op.
	MarkCompleted(ctx context.Context, orderID int64, at time.Time) error
}

// Tx exposes every store bound to one transaction.
type Tx interface {
	Users() UserStore
	Orders() OrderStore
	Tree() TreeStore
	Counters() CounterStore
	Ledger() LedgerStore
	ProcessedOrders() ProcessedOrderStore
}

// Store is the relational source of truth. Its accessors run each call on its
// own; InTx groups calls into one serializable transaction.
type Store interface {
	Tx

	// InTx runs fn inside a single serializable transaction and commits if fn
	// returns nil. fn may run more than once when the backend retries a
	// serialization conflict, so it must not have effects outside tx.
	// Returns ErrConflict when attempts are exhausted.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
