package testutil

import (
	"context"
	"errors"
	"io"
	"sync"

	"datec-go/internal/datec"
)

// ErrInjected is the default error returned by an armed fault.
var ErrInjected = errors.New("injected failure")

// Faults maps method names to the error they should return.
type Faults struct {
	mu   sync.Mutex
	errs map[string]error
}

// Fail arms method to return err, or ErrInjected when err is nil.
func (f *Faults) Fail(method string, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	f.errs[method] = err
}

// Heal disarms method.
func (f *Faults) Heal(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, method)
}

func (f *Faults) check(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[method]
}

// FaultyBlobStore wraps a BlobStore with injectable failures.
type FaultyBlobStore struct {
	Faults
	Inner datec.BlobStore
}

func NewFaultyBlobStore(inner datec.BlobStore) *FaultyBlobStore {
	return &FaultyBlobStore{Inner: inner}
}

func (s *FaultyBlobStore) Put(ctx context.Context, id string, r io.Reader, meta datec.BlobMeta) error {
	if err := s.check("Put"); err != nil {
		return err
	}
	return s.Inner.Put(ctx, id, r, meta)
}

func (s *FaultyBlobStore) Get(ctx context.Context, id string, w io.Writer) (*datec.BlobMeta, error) {
	if err := s.check("Get"); err != nil {
		return nil, err
	}
	return s.Inner.Get(ctx, id, w)
}

func (s *FaultyBlobStore) Stat(ctx context.Context, id string) (*datec.BlobMeta, error) {
	if err := s.check("Stat"); err != nil {
		return nil, err
	}
	return s.Inner.Stat(ctx, id)
}

func (s *FaultyBlobStore) Delete(ctx context.Context, id string) error {
	if err := s.check("Delete"); err != nil {
		return err
	}
	return s.Inner.Delete(ctx, id)
}

// FaultyGraphStore wraps a GraphStore with injectable failures.
type FaultyGraphStore struct {
	Faults
	Inner datec.GraphStore
}

func NewFaultyGraphStore(inner datec.GraphStore) *FaultyGraphStore {
	return &FaultyGraphStore{Inner: inner}
}

func (s *FaultyGraphStore) MergeNode(ctx context.Context, n datec.Node) error {
	if err := s.check("MergeNode"); err != nil {
		return err
	}
	return s.Inner.MergeNode(ctx, n)
}

func (s *FaultyGraphStore) DeleteNode(ctx context.Context, label datec.NodeLabel, id string) error {
	if err := s.check("DeleteNode"); err != nil {
		return err
	}
	return s.Inner.DeleteNode(ctx, label, id)
}

func (s *FaultyGraphStore) MergeEdge(ctx context.Context, e datec.Edge) (bool, error) {
	if err := s.check("MergeEdge"); err != nil {
		return false, err
	}
	return s.Inner.MergeEdge(ctx, e)
}

func (s *FaultyGraphStore) DeleteEdge(ctx context.Context, t datec.EdgeType, from, to string) (bool, error) {
	if err := s.check("DeleteEdge"); err != nil {
		return false, err
	}
	return s.Inner.DeleteEdge(ctx, t, from, to)
}

func (s *FaultyGraphStore) HasEdge(ctx context.Context, t datec.EdgeType, from, to string) (bool, error) {
	if err := s.check("HasEdge"); err != nil {
		return false, err
	}
	return s.Inner.HasEdge(ctx, t, from, to)
}

func (s *FaultyGraphStore) Edges(ctx context.Context, t datec.EdgeType, id string, dir datec.Direction, limit int) ([]datec.Edge, error) {
	if err := s.check("Edges"); err != nil {
		return nil, err
	}
	return s.Inner.Edges(ctx, t, id, dir, limit)
}

func (s *FaultyGraphStore) CountEdges(ctx context.Context, t datec.EdgeType, id string, dir datec.Direction) (int, error) {
	if err := s.check("CountEdges"); err != nil {
		return 0, err
	}
	return s.Inner.CountEdges(ctx, t, id, dir)
}

func (s *FaultyGraphStore) Close() error { return s.Inner.Close() }

// FaultyEphemeralStore wraps an EphemeralStore with injectable failures.
// It offers DecrByClamped only when the inner store does.
type FaultyEphemeralStore struct {
	Faults
	Inner datec.EphemeralStore
}

func NewFaultyEphemeralStore(inner datec.EphemeralStore) *FaultyEphemeralStore {
	return &FaultyEphemeralStore{Inner: inner}
}

func (s *FaultyEphemeralStore) GetInt(ctx context.Context, key string) (int64, bool, error) {
	if err := s.check("GetInt"); err != nil {
		return 0, false, err
	}
	return s.Inner.GetInt(ctx, key)
}

func (s *FaultyEphemeralStore) SetInt(ctx context.Context, key string, value int64) error {
	if err := s.check("SetInt"); err != nil {
		return err
	}
	return s.Inner.SetInt(ctx, key, value)
}

func (s *FaultyEphemeralStore) SetIntIfAbsent(ctx context.Context, key string, value int64) (bool, error) {
	if err := s.check("SetIntIfAbsent"); err != nil {
		return false, err
	}
	return s.Inner.SetIntIfAbsent(ctx, key, value)
}

func (s *FaultyEphemeralStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	if err := s.check("IncrBy"); err != nil {
		return 0, err
	}
	return s.Inner.IncrBy(ctx, key, delta)
}

func (s *FaultyEphemeralStore) DecrByClamped(ctx context.Context, key string, delta int64) (int64, error) {
	if err := s.check("DecrByClamped"); err != nil {
		return 0, err
	}
	cd, ok := s.Inner.(datec.ClampedDecrementer)
	if !ok {
		return 0, errors.New("inner store has no clamped decrement")
	}
	return cd.DecrByClamped(ctx, key, delta)
}

func (s *FaultyEphemeralStore) PushFront(ctx context.Context, key string, item []byte, max int) error {
	if err := s.check("PushFront"); err != nil {
		return err
	}
	return s.Inner.PushFront(ctx, key, item, max)
}

func (s *FaultyEphemeralStore) Range(ctx context.Context, key string, limit int) ([][]byte, error) {
	if err := s.check("Range"); err != nil {
		return nil, err
	}
	return s.Inner.Range(ctx, key, limit)
}

func (s *FaultyEphemeralStore) Len(ctx context.Context, key string) (int, error) {
	if err := s.check("Len"); err != nil {
		return 0, err
	}
	return s.Inner.Len(ctx, key)
}

func (s *FaultyEphemeralStore) Delete(ctx context.Context, keys ...string) error {
	if err := s.check("Delete"); err != nil {
		return err
	}
	return s.Inner.Delete(ctx, keys...)
}

func (s *FaultyEphemeralStore) Close() error { return s.Inner.Close() }

var (
	_ datec.BlobStore          = (*FaultyBlobStore)(nil)
	_ datec.GraphStore         = (*FaultyGraphStore)(nil)
	_ datec.EphemeralStore     = (*FaultyEphemeralStore)(nil)
	_ datec.ClampedDecrementer = (*FaultyEphemeralStore)(nil)
)
