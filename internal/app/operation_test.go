package app

import (
	"errors"
	"testing"
	"time"
)

func TestNewOperation(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 5, 7, 0, time.UTC)

	tests := []struct {
		name     string
		args     []string
		wantArgs string
	}{
		{name: "with args", args: []string{"weather", "--tag", "climate"}, wantArgs: "weather --tag climate"},
		{name: "no args", args: nil, wantArgs: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation("dataset create", tt.args, now)

			if op.Name != "dataset create" {
				t.Errorf("Name = %q, want %q", op.Name, "dataset create")
			}
			if op.Args != tt.wantArgs {
				t.Errorf("Args = %q, want %q", op.Args, tt.wantArgs)
			}
			if op.ID != "20260302T090507Z" {
				t.Errorf("ID = %q, want %q", op.ID, "20260302T090507Z")
			}
			if op.Status != "success" {
				t.Errorf("Status = %q, want %q", op.Status, "success")
			}
		})
	}
}

func TestOperation_Fail(t *testing.T) {
	op := NewOperation("follow", nil, time.Now())

	op.Fail(nil)
	if op.Status != "success" {
		t.Errorf("Fail(nil) changed status to %q", op.Status)
	}

	first := errors.New("first")
	op.Fail(first)
	op.Fail(errors.New("second"))
	if op.Status != "error" || op.Err != first {
		t.Errorf("Fail() = %q %v, want error with the first cause", op.Status, op.Err)
	}
}

func TestOperation_Elapsed(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	op := NewOperation("history", nil, start)
	if got := op.Elapsed(start.Add(1500*time.Microsecond + 2*time.Second)); got != 2001*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 2.001s", got)
	}
}
