package memory

import (
	"context"
	"sort"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

// TreeStore is an in-memory implementation of storage.TreeStore.
type TreeStore struct {
	sess *session
}

// Compile-time interface check.
var _ storage.TreeStore = (*TreeStore)(nil)

// Insert adds a node. Mirrors the unique constraints of tree_nodes.
func (s *TreeStore) Insert(_ context.Context, n *domain.TreeNode) error {
	if n == nil || n.IsRoot() != (n.Lane == domain.LaneNone) {
		return storage.ErrInvalidInput
	}
	if !n.IsRoot() && (!n.Lane.Valid() || n.Depth <= 0) {
		return storage.ErrInvalidInput
	}
	if n.IsRoot() && n.Depth != 0 {
		return storage.ErrInvalidInput
	}

	db, unlock := s.sess.enter()
	defer unlock()

	if _, exists := db.users[n.UserID]; !exists {
		return storage.ErrInvalidInput
	}
	if _, exists := db.nodes[n.UserID]; exists {
		return storage.ErrDuplicateKey
	}

	if n.IsRoot() {
		if db.root != nil {
			return storage.ErrRootTaken
		}
		id := n.UserID
		db.root = &id
		s.sess.journal(func() { db.root = nil })
	} else {
		if _, exists := db.nodes[*n.ParentID]; !exists {
			return storage.ErrInvalidInput
		}
		key := slot{parent: *n.ParentID, lane: n.Lane}
		if _, taken := db.slots[key]; taken {
			return storage.ErrSlotTaken
		}
		db.slots[key] = n.UserID
		s.sess.journal(func() { delete(db.slots, key) })
	}

	n.CreatedAt = s.sess.now()
	db.nodes[n.UserID] = copyNode(n)
	id := n.UserID
	s.sess.journal(func() { delete(db.nodes, id) })
	return nil
}

// GetByUser retrieves the node owned by userID. Returns ErrNotFound if not exists.
func (s *TreeStore) GetByUser(_ context.Context, userID int64) (*domain.TreeNode, error) {
	db, unlock := s.sess.enter()
	defer unlock()

	return db.node(userID)
}

// GetRoot retrieves the global root. Returns ErrNotFound if the tree is empty.
func (s *TreeStore) GetRoot(_ context.Context) (*domain.TreeNode, error) {
	db, unlock := s.sess.enter()
	defer unlock()

	if db.root == nil {
		return nil, storage.ErrNotFound
	}
	return db.node(*db.root)
}

// GetChild retrieves the child of parentID in lane. Returns ErrNotFound if the slot is open.
func (s *TreeStore) GetChild(_ context.Context, parentID int64, lane domain.Lane) (*domain.TreeNode, error) {
	if !lane.Valid() {
		return nil, storage.ErrInvalidInput
	}

	db, unlock := s.sess.enter()
	defer unlock()

	childID, ok := db.slots[slot{parent: parentID, lane: lane}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return db.node(childID)
}

// GetChildren retrieves children of all given parents, ordered by parent then lane.
func (s *TreeStore) GetChildren(_ context.Context, parentIDs []int64) ([]*domain.TreeNode, error) {
	db, unlock := s.sess.enter()
	defer unlock()

	parents := append([]int64(nil), parentIDs...)
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })

	var result []*domain.TreeNode
	var prev *int64
	for _, p := range parents {
		p := p
		if prev != nil && *prev == p {
			continue
		}
		prev = &p
		for _, lane := range domain.Lanes {
			if childID, ok := db.slots[slot{parent: p, lane: lane}]; ok {
				n, err := db.node(childID)
				if err != nil {
					return nil, err
				}
				result = append(result, n)
			}
		}
	}
	return result, nil
}

// GetSubtree retrieves up to limit nodes of the subtree rooted at userID in level order.
func (s *TreeStore) GetSubtree(_ context.Context, userID int64, limit int) ([]*domain.TreeNode, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	db, unlock := s.sess.enter()
	defer unlock()

	start, err := db.node(userID)
	if err != nil {
		return nil, err
	}

	result := []*domain.TreeNode{start}
	level := []int64{userID}
	for len(level) > 0 && len(result) < limit {
		sort.Slice(level, func(i, j int) bool { return level[i] < level[j] })
		var next []int64
		for _, p := range level {
			for _, lane := range domain.Lanes {
				childID, ok := db.slots[slot{parent: p, lane: lane}]
				if !ok {
					continue
				}
				if len(result) == limit {
					return result, nil
				}
				n, err := db.node(childID)
				if err != nil {
					return nil, err
				}
				result = append(result, n)
				next = append(next, childID)
			}
		}
		level = next
	}
	return result, nil
}

// CountChildren returns the number of direct children of parentID.
func (s *TreeStore) CountChildren(_ context.Context, parentID int64) (int, error) {
	db, unlock := s.sess.enter()
	defer unlock()

	count := 0
	for _, lane := range domain.Lanes {
		if _, ok := db.slots[slot{parent: parentID, lane: lane}]; ok {
			count++
		}
	}
	return count, nil
}

func (db *db) node(userID int64) (*domain.TreeNode, error) {
	n, exists := db.nodes[userID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := copyNode(&n)
	return &out, nil
}

func copyNode(n *domain.TreeNode) domain.TreeNode {
	c := *n
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	return c
}
