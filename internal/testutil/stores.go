// Package testutil provides deterministic clocks, in-memory store sets and
// fault-injecting store wrappers for tests.
package testutil

import (
	"testing"

	"datec-go/internal/blob"
	"datec-go/internal/database"
	"datec-go/internal/datec"
	"datec-go/internal/ephemeral"
	"datec-go/internal/graph"
)

// TestStores holds one in-memory instance of each store, keeping the
// concrete types so tests can inspect them.
type TestStores struct {
	Meta      *database.SQLiteStore
	Blobs     *blob.MemoryStore
	Graph     *graph.BadgerStore
	Ephemeral *ephemeral.MemoryStore
}

// NewTestStores opens a fresh store set. Everything is closed on cleanup.
func NewTestStores(t *testing.T) *TestStores {
	t.Helper()

	meta, err := database.NewSQLiteStore(":memory:", nil)
	if err != nil {
		t.Fatalf("opening metadata store: %v", err)
	}
	g, err := graph.OpenInMemory(nil)
	if err != nil {
		meta.Close()
		t.Fatalf("opening graph store: %v", err)
	}
	t.Cleanup(func() {
		g.Close()
		meta.Close()
	})

	return &TestStores{
		Meta:      meta,
		Blobs:     blob.NewMemoryStore(),
		Graph:     g,
		Ephemeral: ephemeral.NewMemoryStore(),
	}
}

// Stores returns the set as datec.Stores.
func (s *TestStores) Stores() datec.Stores {
	return datec.Stores{
		Metadata:  s.Meta,
		Blobs:     s.Blobs,
		Graph:     s.Graph,
		Ephemeral: s.Ephemeral,
	}
}

// NewTestMetadataStore opens an in-memory SQLite store with migrations applied.
func NewTestMetadataStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	s, err := database.NewSQLiteStore(":memory:", nil)
	if err != nil {
		t.Fatalf("opening metadata store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
