package app

import (
	"strings"
	"time"
)

// Operation tracks one CLI command for the log. Sagas the command runs are
// journaled separately by the core; the operation ID ties their log lines together.
type Operation struct {
	ID        string
	Name      string
	Args      string
	StartedAt time.Time
	Status    string // "success" or "error"
	Err       error
}

// NewOperation creates an operation that starts at now.
func NewOperation(name string, args []string, now time.Time) *Operation {
	return &Operation{
		ID:        now.UTC().Format("20060102T150405Z"),
		Name:      name,
		Args:      strings.Join(args, " "),
		StartedAt: now,
		Status:    "success",
	}
}

// Fail marks the operation as failed. The first error wins.
func (op *Operation) Fail(err error) {
	if err == nil || op.Err != nil {
		return
	}
	op.Status = "error"
	op.Err = err
}

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.StartedAt).Truncate(time.Millisecond)
}
