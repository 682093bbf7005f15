package memory

import (
	"context"
	"sync"
	"time"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
// InTx holds one global lock for the whole transaction, so transactions are
// fully serialized, and rolls back through an undo log when fn fails.
// Calling the Store's own accessors from inside fn deadlocks; use tx.
type Store struct {
	mu  sync.Mutex
	db  *db
	now func() time.Time
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// db holds every table. Rows are stored by value so callers never share memory.
type db struct {
	users     map[int64]domain.User
	orders    map[int64]domain.Order
	nodes     map[int64]domain.TreeNode
	slots     map[slot]int64 // (parent, lane) -> child
	root      *int64
	counters  map[int64]domain.PairingCounter
	events    map[int64]domain.BonusEvent
	eventKeys map[string]int64
	directs   map[int64]int64 // order -> DIRECT event
	nextEvent int64
	processed map[int64]domain.ProcessedOrder
}

type slot struct {
	parent int64
	lane   domain.Lane
}

// NewStore creates an empty store seeded with the system user and order.
func NewStore() *Store {
	s := &Store{
		db: &db{
			users:     make(map[int64]domain.User),
			orders:    make(map[int64]domain.Order),
			nodes:     make(map[int64]domain.TreeNode),
			slots:     make(map[slot]int64),
			counters:  make(map[int64]domain.PairingCounter),
			events:    make(map[int64]domain.BonusEvent),
			eventKeys: make(map[string]int64),
			directs:   make(map[int64]int64),
			processed: make(map[int64]domain.ProcessedOrder),
		},
		now: func() time.Time { return time.Now().UTC() },
	}

	now := s.now()
	s.db.users[domain.SystemUserID] = domain.User{ID: domain.SystemUserID, Email: "system@localhost", CreatedAt: now}
	s.db.orders[domain.SystemOrderID] = domain.Order{
		ID:        domain.SystemOrderID,
		BuyerID:   domain.SystemUserID,
		Status:    domain.OrderStatusPaid,
		CreatedAt: now,
	}
	return s
}

// InTx runs fn with the global lock held. Writes are undone if fn returns an error or panics.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &session{s: s, inTx: true}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) Users() storage.UserStore                     { return &UserStore{sess: &session{s: s}} }
func (s *Store) Orders() storage.OrderStore                   { return &OrderStore{sess: &session{s: s}} }
func (s *Store) Tree() storage.TreeStore                      { return &TreeStore{sess: &session{s: s}} }
func (s *Store) Counters() storage.CounterStore               { return &CounterStore{sess: &session{s: s}} }
func (s *Store) Ledger() storage.LedgerStore                  { return &LedgerStore{sess: &session{s: s}} }
func (s *Store) ProcessedOrders() storage.ProcessedOrderStore { return &ProcessedOrderStore{sess: &session{s: s}} }

// session is either a single-call scope (locks per call) or an open transaction
// (lock already held, writes journaled).
type session struct {
	s    *Store
	inTx bool
	undo []func()
}

func (t *session) Users() storage.UserStore                     { return &UserStore{sess: t} }
func (t *session) Orders() storage.OrderStore                   { return &OrderStore{sess: t} }
func (t *session) Tree() storage.TreeStore                      { return &TreeStore{sess: t} }
func (t *session) Counters() storage.CounterStore               { return &CounterStore{sess: t} }
func (t *session) Ledger() storage.LedgerStore                  { return &LedgerStore{sess: t} }
func (t *session) ProcessedOrders() storage.ProcessedOrderStore { return &ProcessedOrderStore{sess: t} }

// enter acquires the store lock unless a transaction already holds it.
// The returned func releases it.
func (t *session) enter() (*db, func()) {
	if t.inTx {
		return t.s.db, func() {}
	}
	t.s.mu.Lock()
	return t.s.db, t.s.mu.Unlock
}

// journal registers an undo step. Outside a transaction writes are final.
func (t *session) journal(undo func()) {
	if t.inTx {
		t.undo = append(t.undo, undo)
	}
}

func (t *session) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *session) now() time.Time {
	return t.s.now()
}
