package datec

import (
	"context"
	"fmt"
)

// DownloadCountKey is the ephemeral counter of whole-dataset downloads.
func DownloadCountKey(datasetID string) string {
	return "download_count:dataset:" + datasetID
}

// VoteCountKey is the ephemeral counter of votes on a dataset.
func VoteCountKey(datasetID string) string {
	return "vote_count:dataset:" + datasetID
}

// CounterService maintains floor-clamped integer counters on the ephemeral store.
// Reads go to the replica, writes to the primary. Both may be the same store.
type CounterService struct {
	primary EphemeralStore
	replica EphemeralStore
}

// NewCounterService creates a CounterService. A nil replica reads from primary.
func NewCounterService(primary, replica EphemeralStore) *CounterService {
	if replica == nil {
		replica = primary
	}
	return &CounterService{primary: primary, replica: replica}
}

// Init sets key to value unless it already exists. It reports whether the value was set.
func (s *CounterService) Init(ctx context.Context, key string, value int64) (bool, error) {
	if value < 0 {
		value = 0
	}
	ok, err := s.primary.SetIntIfAbsent(ctx, key, value)
	if err != nil {
		return false, fmt.Errorf("initializing counter %s: %w", key, err)
	}
	return ok, nil
}

// Increment adds amount to key and returns the new value.
func (s *CounterService) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	if amount < 0 {
		return s.Decrement(ctx, key, -amount)
	}
	v, err := s.primary.IncrBy(ctx, key, amount)
	if err != nil {
		return 0, fmt.Errorf("incrementing counter %s: %w", key, err)
	}
	return v, nil
}

// Decrement subtracts amount from key, never going below zero.
// Stores without an atomic clamped decrement get a read-then-set, which can
// lose updates under concurrent writers.
func (s *CounterService) Decrement(ctx context.Context, key string, amount int64) (int64, error) {
	if amount < 0 {
		return s.Increment(ctx, key, -amount)
	}

	if cd, ok := s.primary.(ClampedDecrementer); ok {
		v, err := cd.DecrByClamped(ctx, key, amount)
		if err != nil {
			return 0, fmt.Errorf("decrementing counter %s: %w", key, err)
		}
		return v, nil
	}

	current, _, err := s.primary.GetInt(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reading counter %s: %w", key, err)
	}
	next := max(current-amount, 0)
	if err := s.primary.SetInt(ctx, key, next); err != nil {
		return 0, fmt.Errorf("writing counter %s: %w", key, err)
	}
	return next, nil
}

// Get returns the counter value. An absent key reads as zero.
func (s *CounterService) Get(ctx context.Context, key string) (int64, error) {
	v, _, err := s.replica.GetInt(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reading counter %s: %w", key, err)
	}
	return max(v, 0), nil
}

// Delete removes the given counters.
func (s *CounterService) Delete(ctx context.Context, keys ...string) error {
	if err := s.primary.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("deleting counters: %w", err)
	}
	return nil
}
