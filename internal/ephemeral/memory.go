// Package ephemeral implements datec.EphemeralStore on memory and on a NATS
// JetStream key-value bucket.
package ephemeral

import (
	"context"
	"slices"
	"sync"

	"datec-go/internal/datec"
)

// MemoryStore keeps counters and lists in maps. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.Mutex
	ints  map[string]int64
	lists map[string][][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ints:  make(map[string]int64),
		lists: make(map[string][][]byte),
	}
}

func (m *MemoryStore) GetInt(ctx context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *MemoryStore) SetInt(ctx context.Context, key string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ints[key] = value
	return nil
}

func (m *MemoryStore) SetIntIfAbsent(ctx context.Context, key string, value int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ints[key]; ok {
		return false, nil
	}
	m.ints[key] = value
	return true, nil
}

func (m *MemoryStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ints[key] += delta
	return m.ints[key], nil
}

func (m *MemoryStore) DecrByClamped(ctx context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := max(m.ints[key]-delta, 0)
	m.ints[key] = v
	return v, nil
}

func (m *MemoryStore) PushFront(ctx context.Context, key string, item []byte, maxLen int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = pushFront(m.lists[key], item, maxLen)
	return nil
}

func (m *MemoryStore) Range(ctx context.Context, key string, limit int) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return front(m.lists[key], limit), nil
}

func (m *MemoryStore) Len(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists[key]), nil
}

func (m *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.ints, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// pushFront returns list with item prepended, trimmed to maxLen when maxLen > 0.
func pushFront(list [][]byte, item []byte, maxLen int) [][]byte {
	out := make([][]byte, 0, len(list)+1)
	out = append(out, slices.Clone(item))
	out = append(out, list...)
	if maxLen > 0 && len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}

// front returns copies of the first limit items. limit <= 0 means all.
func front(list [][]byte, limit int) [][]byte {
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([][]byte, limit)
	for i := range out {
		out[i] = slices.Clone(list[i])
	}
	return out
}

var (
	_ datec.EphemeralStore     = (*MemoryStore)(nil)
	_ datec.ClampedDecrementer = (*MemoryStore)(nil)
)
