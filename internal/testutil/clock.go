package testutil

import (
	"fmt"
	"sync"
	"time"

	"datec-go/internal/datec"
)

var (
	_ datec.Clock       = (*StubClock)(nil)
	_ datec.IDGenerator = (*StubIDGenerator)(nil)
)

// StubClock is a datec.Clock that only moves when told to. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t.UTC()}
}

// FixedClock returns a StubClock set to 2026-03-02 10:30:00 UTC, a Monday.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps to t, which may be in the past.
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// StubIDGenerator is a datec.IDGenerator returning "id-1", "id-2", and so on.
type StubIDGenerator struct {
	mu     sync.Mutex
	issued int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued++
	return fmt.Sprintf("id-%d", g.issued)
}

