// Package blob implements datec.BlobStore on memory, a local directory and S3,
// with an optional age encryption layer.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"datec-go/internal/datec"
)

type memoryBlob struct {
	data []byte
	meta datec.BlobMeta
}

// MemoryStore keeps blobs in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

func (m *MemoryStore) Put(ctx context.Context, id string, r io.Reader, meta datec.BlobMeta) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[id] = memoryBlob{data: data, meta: meta}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string, w io.Writer) (*datec.BlobMeta, error) {
	m.mu.RLock()
	b, ok := m.blobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, datec.ErrBlobNotFound
	}

	if _, err := io.Copy(w, bytes.NewReader(b.data)); err != nil {
		return nil, fmt.Errorf("failed to write content: %w", err)
	}
	meta := b.meta
	return &meta, nil
}

func (m *MemoryStore) Stat(ctx context.Context, id string) (*datec.BlobMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blobs[id]
	if !ok {
		return nil, nil
	}
	meta := b.meta
	return &meta, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, id)
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Raw returns the stored bytes of id, as written by the layer above.
func (m *MemoryStore) Raw(id string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[id]
	return b.data, ok
}

var _ datec.BlobStore = (*MemoryStore)(nil)
