package domain

import "time"

// Lane is one of the two child slots under a tree node.
type Lane string

// Lane values. The root node has no lane.
const (
	LaneNone  Lane = ""
	LaneLeft  Lane = "L"
	LaneRight Lane = "R"
)

// Valid reports whether l is LEFT or RIGHT.
func (l Lane) Valid() bool {
	return l == LaneLeft || l == LaneRight
}

// String returns a readable lane name.
func (l Lane) String() string {
	switch l {
	case LaneLeft:
		return "LEFT"
	case LaneRight:
		return "RIGHT"
	default:
		return "NONE"
	}
}

// Lanes lists lanes in placement order (LEFT before RIGHT).
var Lanes = [2]Lane{LaneLeft, LaneRight}

// TreeNode is a binary-tree placement record. Corresponds to tree_nodes.
// Parent and Lane are immutable after insert.
type TreeNode struct {
	UserID    int64     // owner, unique
	ParentID  *int64    // nil for the root
	Lane      Lane      // LaneNone for the root
	Depth     int       // root = 0
	CreatedAt time.Time // set by the store
}

// IsRoot reports whether the node has no parent.
func (n *TreeNode) IsRoot() bool {
	return n.ParentID == nil
}

// NewRootNode builds the global root placement.
func NewRootNode(userID int64) *TreeNode {
	return &TreeNode{UserID: userID, Lane: LaneNone, Depth: 0}
}

// NewChildNode builds a placement under parent in the given lane.
func NewChildNode(userID int64, parent *TreeNode, lane Lane) *TreeNode {
	parentID := parent.UserID
	return &TreeNode{
		UserID:   userID,
		ParentID: &parentID,
		Lane:     lane,
		Depth:    parent.Depth + 1,
	}
}
