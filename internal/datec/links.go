package datec

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// linker creates graph edges, recreating endpoint nodes that are missing.
// Graph nodes are derived from metadata records, so a node lost to a failed
// best-effort step is rebuilt on the first edge that needs it.
type linker struct {
	graph GraphStore
	group singleflight.Group
}

func newLinker(graph GraphStore) *linker {
	return &linker{graph: graph}
}

// link merges e, recreating its endpoint nodes once if either is missing.
func (l *linker) link(ctx context.Context, e Edge) (bool, error) {
	created, err := l.graph.MergeEdge(ctx, e)
	if !errors.Is(err, ErrNodeMissing) {
		return created, err
	}

	fromLabel, toLabel := e.Type.Endpoints()
	if err := l.ensure(ctx, fromLabel, e.From); err != nil {
		return false, err
	}
	if err := l.ensure(ctx, toLabel, e.To); err != nil {
		return false, err
	}
	return l.graph.MergeEdge(ctx, e)
}

// ensure merges an empty-property node, collapsing concurrent calls for the same node.
func (l *linker) ensure(ctx context.Context, label NodeLabel, id string) error {
	_, err, _ := l.group.Do(string(label)+"/"+id, func() (any, error) {
		return nil, l.graph.MergeNode(ctx, Node{Label: label, ID: id})
	})
	if err != nil {
		return fmt.Errorf("recreating %s node %s: %w", label, id, err)
	}
	return nil
}
