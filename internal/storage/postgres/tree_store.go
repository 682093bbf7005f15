package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"binary-referral/internal/domain"
	"binary-referral/internal/storage"
)

// Constraint names from 002_tree_nodes.sql.
const (
	constraintTreePK         = "tree_nodes_pkey"
	constraintTreeParentLane = "tree_unique_parent_lane"
	constraintTreeSingleRoot = "tree_single_root"
)

// TreeStore implements storage.TreeStore using PostgreSQL.
type TreeStore struct {
	q Querier
}

// NewTreeStore creates a new TreeStore.
func NewTreeStore(q Querier) *TreeStore {
	return &TreeStore{q: q}
}

// Compile-time interface check.
var _ storage.TreeStore = (*TreeStore)(nil)

const treeColumns = `user_id, parent_id, lane, depth, created_at`

// Insert adds a node. The unique constraints decide between duplicate user,
// taken slot and second root.
func (s *TreeStore) Insert(ctx context.Context, n *domain.TreeNode) error {
	if n == nil {
		return storage.ErrInvalidInput
	}
	if n.IsRoot() != (n.Lane == domain.LaneNone) {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO tree_nodes (user_id, parent_id, lane, depth)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := s.q.QueryRow(ctx, query, n.UserID, n.ParentID, laneParam(n.Lane), n.Depth).Scan(&n.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			switch constraintName(err) {
			case constraintTreeParentLane:
				return storage.ErrSlotTaken
			case constraintTreeSingleRoot:
				return storage.ErrRootTaken
			default:
				return storage.ErrDuplicateKey
			}
		}
		if isConstraintError(err) {
			return fmt.Errorf("insert tree node: %w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("insert tree node: %w", err)
	}
	return nil
}

// GetByUser retrieves the node owned by userID. Returns ErrNotFound if not exists.
func (s *TreeStore) GetByUser(ctx context.Context, userID int64) (*domain.TreeNode, error) {
	query := `SELECT ` + treeColumns + ` FROM tree_nodes WHERE user_id = $1`

	n, err := scanTreeNode(s.q.QueryRow(ctx, query, userID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get tree node by user: %w", err)
	}
	return n, nil
}

// GetRoot retrieves the global root. Returns ErrNotFound if the tree is empty.
func (s *TreeStore) GetRoot(ctx context.Context) (*domain.TreeNode, error) {
	query := `SELECT ` + treeColumns + ` FROM tree_nodes WHERE parent_id IS NULL`

	n, err := scanTreeNode(s.q.QueryRow(ctx, query))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get tree root: %w", err)
	}
	return n, nil
}

// GetChild retrieves the child in (parentID, lane). Returns ErrNotFound if the slot is open.
func (s *TreeStore) GetChild(ctx context.Context, parentID int64, lane domain.Lane) (*domain.TreeNode, error) {
	if !lane.Valid() {
		return nil, storage.ErrInvalidInput
	}

	query := `SELECT ` + treeColumns + ` FROM tree_nodes WHERE parent_id = $1 AND lane = $2`

	n, err := scanTreeNode(s.q.QueryRow(ctx, query, parentID, string(lane)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get tree child: %w", err)
	}
	return n, nil
}

// GetChildren retrieves children of all given parents, ordered by parent then lane.
func (s *TreeStore) GetChildren(ctx context.Context, parentIDs []int64) ([]*domain.TreeNode, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + treeColumns + `
		FROM tree_nodes
		WHERE parent_id = ANY($1)
		ORDER BY parent_id ASC, lane ASC
	`

	rows, err := s.q.Query(ctx, query, parentIDs)
	if err != nil {
		return nil, fmt.Errorf("get tree children: %w", err)
	}
	defer rows.Close()

	return scanTreeNodes(rows)
}

// GetSubtree retrieves up to limit nodes of the subtree rooted at userID.
func (s *TreeStore) GetSubtree(ctx context.Context, userID int64, limit int) ([]*domain.TreeNode, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		WITH RECURSIVE subtree AS (
			SELECT ` + treeColumns + `
			FROM tree_nodes
			WHERE user_id = $1
			UNION ALL
			SELECT t.user_id, t.parent_id, t.lane, t.depth, t.created_at
			FROM tree_nodes t
			JOIN subtree st ON t.parent_id = st.user_id
		)
		SELECT ` + treeColumns + `
		FROM subtree
		ORDER BY depth ASC, parent_id ASC NULLS FIRST, lane ASC NULLS FIRST
		LIMIT $2
	`

	rows, err := s.q.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get subtree: %w", err)
	}
	defer rows.Close()

	nodes, err := scanTreeNodes(rows)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, storage.ErrNotFound
	}
	return nodes, nil
}

// CountChildren returns the number of direct children of parentID.
func (s *TreeStore) CountChildren(ctx context.Context, parentID int64) (int, error) {
	var count int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM tree_nodes WHERE parent_id = $1`, parentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tree children: %w", err)
	}
	return count, nil
}

// laneParam converts a lane into a nullable column value.
func laneParam(l domain.Lane) *string {
	if l == domain.LaneNone {
		return nil
	}
	s := string(l)
	return &s
}

// scanTreeNode scans a single row into a TreeNode.
func scanTreeNode(row pgx.Row) (*domain.TreeNode, error) {
	var n domain.TreeNode
	var lane *string

	if err := row.Scan(&n.UserID, &n.ParentID, &lane, &n.Depth, &n.CreatedAt); err != nil {
		return nil, err
	}
	if lane != nil {
		n.Lane = domain.Lane(*lane)
	}
	return &n, nil
}

// scanTreeNodes scans multiple rows into a slice of TreeNode.
func scanTreeNodes(rows pgx.Rows) ([]*domain.TreeNode, error) {
	var nodes []*domain.TreeNode

	for rows.Next() {
		n, err := scanTreeNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tree node row: %w", err)
		}
		nodes = append(nodes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tree node rows: %w", err)
	}

	return nodes, nil
}
