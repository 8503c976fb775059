package datec

import (
	"context"
	"errors"
	"time"

	"datec-go/internal/model"
)

// StepMode classifies how a saga step's failure is handled.
type StepMode int

const (
	// Fatal steps run in order; a failure aborts the saga and is returned.
	Fatal StepMode = iota
	// Tolerated steps run in order; a failure is logged and the saga continues.
	Tolerated
	// Background steps are dispatched without blocking the caller; a failure is logged.
	Background
)

func (m StepMode) String() string {
	switch m {
	case Fatal:
		return "fatal"
	case Tolerated:
		return "tolerated"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// step is one named unit of a saga. S is the saga's state.
type step[S any] struct {
	name string
	mode StepMode
	// leaves describes what stays behind in other stores if a later fatal step fails.
	leaves string
	run    func(ctx context.Context, st *S) error
}

// plan is an ordered saga definition.
// Background steps must come after every sequential step, since they read
// state concurrently with the caller.
type plan[S any] struct {
	name  string
	steps []step[S]
}

// StepInfo describes a saga step for review.
type StepInfo struct {
	Name   string
	Mode   StepMode
	Leaves string
}

// PlanInfo describes a saga for review.
type PlanInfo struct {
	Saga  string
	Steps []StepInfo
}

func (p plan[S]) info() PlanInfo {
	steps := make([]StepInfo, len(p.steps))
	for i, s := range p.steps {
		steps[i] = StepInfo{Name: s.name, Mode: s.mode, Leaves: s.leaves}
	}
	return PlanInfo{Saga: p.name, Steps: steps}
}

// sagaRunner executes plans and journals their outcome.
type sagaRunner struct {
	journal    SagaJournal
	dispatcher *Dispatcher
	logger     Logger
	metrics    Metrics
	clock      Clock
}

// runSaga executes p against st. subject names the affected entity in logs
// and the journal; it is re-read after each step since IDs are minted mid-saga.
func runSaga[S any](ctx context.Context, r *sagaRunner, p plan[S], st *S, subject func(*S) string) error {
	start := r.clock.Now()

	var runID int64
	if r.journal != nil {
		id, err := r.journal.StartSagaRun(ctx, p.name, subject(st), start)
		if err != nil {
			r.logger.Warn("journaling saga start failed", "saga", p.name, "error", err)
		}
		runID = id
	}

	run := &model.SagaRun{ID: runID, Saga: p.name, StartedAt: start}
	var failure error

	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			run.FailedStep = s.name
			failure = upstream(p.name, "cancelled before "+s.name, err)
			break
		}

		switch s.mode {
		case Background:
			r.dispatcher.Go(ctx, p.name, s.name, subject(st), func(ctx context.Context) error {
				return s.run(ctx, st)
			})
			run.CompletedSteps = append(run.CompletedSteps, s.name)

		case Tolerated:
			if err := s.run(ctx, st); err != nil {
				r.logger.Warn("tolerated step failed", "saga", p.name, "step", s.name, "subject", subject(st), "error", err)
				r.metrics.BestEffortFailed(p.name, s.name)
				r.metrics.StepFinished(p.name, s.name, "failed")
			} else {
				r.metrics.StepFinished(p.name, s.name, "ok")
			}
			run.CompletedSteps = append(run.CompletedSteps, s.name)

		default:
			if err := s.run(ctx, st); err != nil {
				r.metrics.StepFinished(p.name, s.name, "failed")
				run.FailedStep = s.name
				failure = classify(p.name, s.name, err)
			} else {
				r.metrics.StepFinished(p.name, s.name, "ok")
				run.CompletedSteps = append(run.CompletedSteps, s.name)
			}
		}
		if failure != nil {
			break
		}
	}

	run.Subject = subject(st)
	finished := r.clock.Now()
	run.FinishedAt = &finished
	run.Status = "succeeded"
	if failure != nil {
		run.Status = "failed"
		run.Error = failure.Error()
		r.logger.Error("saga aborted", "saga", p.name, "step", run.FailedStep, "subject", run.Subject, "error", failure)
	} else {
		r.logger.Info("saga completed", "saga", p.name, "subject", run.Subject)
	}
	r.metrics.SagaFinished(p.name, run.Status, finished.Sub(start))

	if r.journal != nil && runID != 0 {
		// Journal even when ctx is done.
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := r.journal.FinishSagaRun(jctx, run); err != nil {
			r.logger.Warn("journaling saga finish failed", "saga", p.name, "error", err)
		}
		cancel()
	}

	return failure
}

// classify turns a step error into a caller-facing error.
func classify(saga, stepName string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, ErrDuplicate) {
		return &Error{Kind: KindConflict, Op: saga, Message: stepName + ": already exists", Err: err}
	}
	return upstream(saga, stepName, err)
}
