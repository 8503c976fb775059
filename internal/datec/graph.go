package datec

import (
	"context"
	"time"
)

// NodeLabel is the label of a graph node.
type NodeLabel string

const (
	LabelUser    NodeLabel = "User"
	LabelDataset NodeLabel = "Dataset"
)

// EdgeType is a relationship type.
type EdgeType string

const (
	EdgeFollows    EdgeType = "FOLLOWS"    // User -> User
	EdgeDownloaded EdgeType = "DOWNLOADED" // User -> Dataset
)

// Endpoints returns the labels an edge type connects.
func (t EdgeType) Endpoints() (from, to NodeLabel) {
	if t == EdgeDownloaded {
		return LabelUser, LabelDataset
	}
	return LabelUser, LabelUser
}

// Direction selects which edges of a node to traverse.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// Node is a labeled graph node with string properties.
type Node struct {
	Label NodeLabel
	ID    string
	Props map[string]string
}

// Edge is a typed relationship with an optional timestamp property.
type Edge struct {
	Type EdgeType
	From string
	To   string
	At   time.Time
}

// GraphStore holds derived social and provenance relationships.
type GraphStore interface {
	// MergeNode creates the node, or updates its properties if it exists.
	MergeNode(ctx context.Context, n Node) error

	// DeleteNode removes the node and every edge touching it.
	DeleteNode(ctx context.Context, label NodeLabel, id string) error

	// MergeEdge creates the edge unless it already exists. It returns
	// ErrNodeMissing if either endpoint is absent.
	MergeEdge(ctx context.Context, e Edge) (created bool, err error)

	DeleteEdge(ctx context.Context, t EdgeType, from, to string) (bool, error)
	HasEdge(ctx context.Context, t EdgeType, from, to string) (bool, error)

	// Edges lists edges of type t at node id, newest first. limit <= 0 means all.
	Edges(ctx context.Context, t EdgeType, id string, dir Direction, limit int) ([]Edge, error)
	CountEdges(ctx context.Context, t EdgeType, id string, dir Direction) (int, error)

	Close() error
}
