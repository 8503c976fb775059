package datec

import "context"

// EphemeralStore is a key-value store for counters and bounded queues.
// An absent key reads as zero or empty, never as an error.
type EphemeralStore interface {
	GetInt(ctx context.Context, key string) (value int64, found bool, err error)
	SetInt(ctx context.Context, key string, value int64) error
	SetIntIfAbsent(ctx context.Context, key string, value int64) (bool, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// PushFront prepends item to the list at key and trims it to max entries.
	PushFront(ctx context.Context, key string, item []byte, max int) error
	// Range returns up to limit items from the front of the list.
	Range(ctx context.Context, key string, limit int) ([][]byte, error)
	Len(ctx context.Context, key string) (int, error)

	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// ClampedDecrementer is implemented by stores with an atomic floor-at-zero
// decrement. CounterService falls back to read-then-set without it.
type ClampedDecrementer interface {
	DecrByClamped(ctx context.Context, key string, delta int64) (int64, error)
}
