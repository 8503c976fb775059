// Package graph implements datec.GraphStore on badger.
//
// Key layout (NUL separated):
//
//	n <label> <id>          -> JSON node properties
//	o <type> <from> <to>    -> edge timestamp (unix nanos, big endian)
//	i <type> <to> <from>    -> edge timestamp
//
// Every edge is written under both an outgoing and an incoming key in one
// transaction, so either direction is a prefix scan.
package graph

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"datec-go/internal/datec"
	"datec-go/internal/retry"
)

const sep = "\x00"

var edgeTypes = []datec.EdgeType{datec.EdgeFollows, datec.EdgeDownloaded}

// BadgerStore is a graph store over a badger database.
type BadgerStore struct {
	db       *badger.DB
	conflict retry.Config
}

// Open opens a persistent store in dir.
func Open(dir string, logger datec.Logger) (*BadgerStore, error) {
	return open(badger.DefaultOptions(dir), logger)
}

// OpenInMemory opens a store that keeps everything in memory.
func OpenInMemory(logger datec.Logger) (*BadgerStore, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger datec.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = datec.NewNopLogger()
	}
	db, err := badger.Open(opts.WithLogger(badgerLogger{logger}))
	if err != nil {
		return nil, fmt.Errorf("opening graph store: %w", err)
	}
	return &BadgerStore{
		db:       db,
		conflict: retry.Config{MaxAttempts: 10, InitialDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond, AddJitter: true},
	}, nil
}

func nodeKey(label datec.NodeLabel, id string) []byte {
	return []byte("n" + sep + string(label) + sep + id)
}

func outKey(t datec.EdgeType, from, to string) []byte {
	return []byte("o" + sep + string(t) + sep + from + sep + to)
}

func inKey(t datec.EdgeType, to, from string) []byte {
	return []byte("i" + sep + string(t) + sep + to + sep + from)
}

func adjacencyPrefix(t datec.EdgeType, id string, dir datec.Direction) []byte {
	d := "o"
	if dir == datec.Incoming {
		d = "i"
	}
	return []byte(d + sep + string(t) + sep + id + sep)
}

func encodeAt(at time.Time) []byte {
	if at.IsZero() {
		return nil
	}
	return binary.BigEndian.AppendUint64(nil, uint64(at.UnixNano()))
}

func decodeAt(v []byte) time.Time {
	if len(v) != 8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(v))).UTC()
}

// update runs fn in a read-write transaction, retrying on badger conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	return retry.Do(ctx, s.conflict, func() error {
		err := s.db.Update(fn)
		if err == nil || errors.Is(err, badger.ErrConflict) {
			return err
		}
		return retry.NonRetryable(err)
	})
}

// MergeNode creates the node or overlays n.Props onto the existing properties.
func (s *BadgerStore) MergeNode(ctx context.Context, n datec.Node) error {
	key := nodeKey(n.Label, n.ID)
	err := s.update(ctx, func(txn *badger.Txn) error {
		props := map[string]string{}
		item, err := txn.Get(key)
		switch {
		case err == nil:
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &props) }); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		for k, v := range n.Props {
			props[k] = v
		}
		data, err := json.Marshal(props)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("merging node %s %s: %w", n.Label, n.ID, err)
	}
	return nil
}

// Node returns a node, or nil if absent.
func (s *BadgerStore) Node(ctx context.Context, label datec.NodeLabel, id string) (*datec.Node, error) {
	var n *datec.Node
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(label, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			n = &datec.Node{Label: label, ID: id}
			return json.Unmarshal(v, &n.Props)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading node %s %s: %w", label, id, err)
	}
	return n, nil
}

// DeleteNode removes the node and its edges in one transaction.
func (s *BadgerStore) DeleteNode(ctx context.Context, label datec.NodeLabel, id string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var doomed [][]byte
		for _, t := range edgeTypes {
			from, to := t.Endpoints()
			if from == label {
				for _, other := range neighbourIDs(txn, adjacencyPrefix(t, id, datec.Outgoing)) {
					doomed = append(doomed, outKey(t, id, other), inKey(t, other, id))
				}
			}
			if to == label {
				for _, other := range neighbourIDs(txn, adjacencyPrefix(t, id, datec.Incoming)) {
					doomed = append(doomed, inKey(t, id, other), outKey(t, other, id))
				}
			}
		}
		doomed = append(doomed, nodeKey(label, id))

		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting node %s %s: %w", label, id, err)
	}
	return nil
}

func neighbourIDs(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, string(bytes.TrimPrefix(it.Item().Key(), prefix)))
	}
	return ids
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *BadgerStore) MergeEdge(ctx context.Context, e datec.Edge) (bool, error) {
	fromLabel, toLabel := e.Type.Endpoints()
	var created bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		for _, k := range [][]byte{nodeKey(fromLabel, e.From), nodeKey(toLabel, e.To)} {
			ok, err := exists(txn, k)
			if err != nil {
				return err
			}
			if !ok {
				return datec.ErrNodeMissing
			}
		}

		ok, err := exists(txn, outKey(e.Type, e.From, e.To))
		if err != nil || ok {
			return err
		}
		at := encodeAt(e.At)
		if err := txn.Set(outKey(e.Type, e.From, e.To), at); err != nil {
			return err
		}
		if err := txn.Set(inKey(e.Type, e.To, e.From), at); err != nil {
			return err
		}
		created = true
		return nil
	})
	if errors.Is(err, datec.ErrNodeMissing) {
		return false, datec.ErrNodeMissing
	}
	if err != nil {
		return false, fmt.Errorf("merging %s edge: %w", e.Type, err)
	}
	return created, nil
}

func (s *BadgerStore) DeleteEdge(ctx context.Context, t datec.EdgeType, from, to string) (bool, error) {
	var deleted bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		ok, err := exists(txn, outKey(t, from, to))
		if err != nil || !ok {
			deleted = false
			return err
		}
		if err := txn.Delete(outKey(t, from, to)); err != nil {
			return err
		}
		deleted = true
		return txn.Delete(inKey(t, to, from))
	})
	if err != nil {
		return false, fmt.Errorf("deleting %s edge: %w", t, err)
	}
	return deleted, nil
}

func (s *BadgerStore) HasEdge(ctx context.Context, t datec.EdgeType, from, to string) (bool, error) {
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = exists(txn, outKey(t, from, to))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("reading %s edge: %w", t, err)
	}
	return ok, nil
}

func (s *BadgerStore) Edges(ctx context.Context, t datec.EdgeType, id string, dir datec.Direction, limit int) ([]datec.Edge, error) {
	prefix := adjacencyPrefix(t, id, dir)
	var edges []datec.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			other := string(bytes.TrimPrefix(item.Key(), prefix))
			e := datec.Edge{Type: t, From: id, To: other}
			if dir == datec.Incoming {
				e.From, e.To = other, id
			}
			if err := item.Value(func(v []byte) error {
				e.At = decodeAt(v)
				return nil
			}); err != nil {
				return err
			}
			edges = append(edges, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s edges: %w", t, err)
	}

	slices.SortStableFunc(edges, func(a, b datec.Edge) int {
		return b.At.Compare(a.At)
	})
	if limit > 0 && len(edges) > limit {
		edges = edges[:limit]
	}
	return edges, nil
}

func (s *BadgerStore) CountEdges(ctx context.Context, t datec.EdgeType, id string, dir datec.Direction) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		n = len(neighbourIDs(txn, adjacencyPrefix(t, id, dir)))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s edges: %w", t, err)
	}
	return n, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ datec.GraphStore = (*BadgerStore)(nil)

// badgerLogger routes badger's printf logging into datec.Logger. Badger's
// info chatter goes to Debug.
type badgerLogger struct {
	l datec.Logger
}

func (b badgerLogger) Errorf(f string, args ...any)   { b.l.Error(fmt.Sprintf(f, args...), "component", "badger") }
func (b badgerLogger) Warningf(f string, args ...any) { b.l.Warn(fmt.Sprintf(f, args...), "component", "badger") }
func (b badgerLogger) Infof(f string, args ...any)    { b.l.Debug(fmt.Sprintf(f, args...), "component", "badger") }
func (b badgerLogger) Debugf(f string, args ...any)   { b.l.Debug(fmt.Sprintf(f, args...), "component", "badger") }
