package datec

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"datec-go/internal/model"
)

type memJournal struct {
	mu   sync.Mutex
	runs []*model.SagaRun
}

func (j *memJournal) StartSagaRun(_ context.Context, saga, subject string, at time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, &model.SagaRun{ID: int64(len(j.runs) + 1), Saga: saga, Subject: subject, Status: "running", StartedAt: at})
	return int64(len(j.runs)), nil
}

func (j *memJournal) FinishSagaRun(_ context.Context, run *model.SagaRun) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *run
	j.runs[run.ID-1] = &cp
	return nil
}

func (j *memJournal) ListSagaRuns(context.Context, int) ([]*model.SagaRun, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*model.SagaRun(nil), j.runs...), nil
}

type trace struct {
	mu    sync.Mutex
	steps []string
}

func (tr *trace) add(s string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.steps = append(tr.steps, s)
}

func record(name string, err error) func(context.Context, *trace) error {
	return func(_ context.Context, tr *trace) error {
		tr.add(name)
		return err
	}
}

func newTestRunner(j SagaJournal) *sagaRunner {
	return &sagaRunner{
		journal:    j,
		dispatcher: NewDispatcher(NewNopLogger(), NopMetrics{}, time.Second),
		logger:     NewNopLogger(),
		metrics:    NopMetrics{},
		clock:      RealClock{},
	}
}

func TestRunSaga(t *testing.T) {
	subject := func(*trace) string { return "subject" }
	boom := errors.New("boom")

	t.Run("runs every step and journals success", func(t *testing.T) {
		j := &memJournal{}
		r := newTestRunner(j)
		p := plan[trace]{name: "test", steps: []step[trace]{
			{name: "a", mode: Fatal, run: record("a", nil)},
			{name: "b", mode: Tolerated, run: record("b", nil)},
			{name: "c", mode: Background, run: record("c", nil)},
		}}

		tr := &trace{}
		if err := runSaga(context.Background(), r, p, tr, subject); err != nil {
			t.Fatalf("runSaga() error = %v", err)
		}
		r.dispatcher.Wait()

		if len(tr.steps) != 3 {
			t.Errorf("steps run = %v, want a, b, c", tr.steps)
		}
		run := j.runs[0]
		if run.Status != "succeeded" || len(run.CompletedSteps) != 3 || run.FinishedAt == nil {
			t.Errorf("journal = %+v, want succeeded with 3 steps", run)
		}
	})

	t.Run("fatal failure stops the saga", func(t *testing.T) {
		j := &memJournal{}
		r := newTestRunner(j)
		p := plan[trace]{name: "test", steps: []step[trace]{
			{name: "a", mode: Fatal, run: record("a", nil)},
			{name: "b", mode: Fatal, run: record("b", boom)},
			{name: "c", mode: Background, run: record("c", nil)},
		}}

		tr := &trace{}
		err := runSaga(context.Background(), r, p, tr, subject)
		r.dispatcher.Wait()

		if !errors.Is(err, boom) || !IsKind(err, KindUpstream) {
			t.Fatalf("runSaga() error = %v, want upstream wrapping boom", err)
		}
		if len(tr.steps) != 2 {
			t.Errorf("steps run = %v, want a, b", tr.steps)
		}
		run := j.runs[0]
		if run.Status != "failed" || run.FailedStep != "b" || run.Error == "" {
			t.Errorf("journal = %+v, want failed at b", run)
		}
	})

	t.Run("classified errors pass through", func(t *testing.T) {
		r := newTestRunner(nil)
		p := plan[trace]{name: "test", steps: []step[trace]{
			{name: "a", mode: Fatal, run: func(context.Context, *trace) error { return forbidden("op", "no") }},
		}}
		err := runSaga(context.Background(), r, p, &trace{}, subject)
		if !IsKind(err, KindForbidden) {
			t.Errorf("runSaga() error = %v, want forbidden", err)
		}
	})

	t.Run("duplicate becomes conflict", func(t *testing.T) {
		r := newTestRunner(nil)
		p := plan[trace]{name: "test", steps: []step[trace]{
			{name: "a", mode: Fatal, run: record("a", ErrDuplicate)},
		}}
		err := runSaga(context.Background(), r, p, &trace{}, subject)
		if !IsKind(err, KindConflict) {
			t.Errorf("runSaga() error = %v, want conflict", err)
		}
	})

	t.Run("tolerated failure continues", func(t *testing.T) {
		r := newTestRunner(nil)
		p := plan[trace]{name: "test", steps: []step[trace]{
			{name: "a", mode: Tolerated, run: record("a", boom)},
			{name: "b", mode: Fatal, run: record("b", nil)},
		}}
		tr := &trace{}
		if err := runSaga(context.Background(), r, p, tr, subject); err != nil {
			t.Fatalf("runSaga() error = %v", err)
		}
		if len(tr.steps) != 2 {
			t.Errorf("steps run = %v, want a, b", tr.steps)
		}
	})

	t.Run("background failure is not returned", func(t *testing.T) {
		r := newTestRunner(nil)
		p := plan[trace]{name: "test", steps: []step[trace]{
			{name: "a", mode: Background, run: record("a", boom)},
		}}
		if err := runSaga(context.Background(), r, p, &trace{}, subject); err != nil {
			t.Fatalf("runSaga() error = %v", err)
		}
		r.dispatcher.Wait()
	})

	t.Run("background step outlives caller cancellation", func(t *testing.T) {
		r := newTestRunner(nil)
		ctx, cancel := context.WithCancel(context.Background())
		release := make(chan struct{})
		var sawErr error
		p := plan[trace]{name: "test", steps: []step[trace]{
			{name: "a", mode: Background, run: func(ctx context.Context, _ *trace) error {
				<-release
				sawErr = ctx.Err()
				return nil
			}},
		}}
		if err := runSaga(ctx, r, p, &trace{}, subject); err != nil {
			t.Fatalf("runSaga() error = %v", err)
		}
		cancel()
		close(release)
		r.dispatcher.Wait()
		if sawErr != nil {
			t.Errorf("background ctx error = %v, want nil", sawErr)
		}
	})

	t.Run("cancelled context aborts before the next step", func(t *testing.T) {
		r := newTestRunner(nil)
		ctx, cancel := context.WithCancel(context.Background())
		p := plan[trace]{name: "test", steps: []step[trace]{
			{name: "a", mode: Fatal, run: func(_ context.Context, tr *trace) error { tr.add("a"); cancel(); return nil }},
			{name: "b", mode: Fatal, run: record("b", nil)},
		}}
		tr := &trace{}
		err := runSaga(ctx, r, p, tr, subject)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("runSaga() error = %v, want context.Canceled", err)
		}
		if len(tr.steps) != 1 {
			t.Errorf("steps run = %v, want only a", tr.steps)
		}
	})
}

func TestPlans_BackgroundStepsComeLast(t *testing.T) {
	for _, p := range Plans() {
		background := false
		for _, s := range p.Steps {
			if s.Mode == Background {
				background = true
				continue
			}
			if background {
				t.Errorf("%s: sequential step %s follows a background step", p.Saga, s.Name)
			}
		}
	}
}

func TestPlans_Names(t *testing.T) {
	seen := make(map[string]bool)
	for _, p := range Plans() {
		if seen[p.Saga] {
			t.Errorf("duplicate saga name %s", p.Saga)
		}
		seen[p.Saga] = true
		if len(p.Steps) == 0 {
			t.Errorf("%s has no steps", p.Saga)
		}
	}
	if !seen["dataset.create"] || !seen["dataset.delete"] {
		t.Errorf("Plans() = %v, missing core sagas", seen)
	}
}

func TestStepMode_String(t *testing.T) {
	tests := map[StepMode]string{Fatal: "fatal", Tolerated: "tolerated", Background: "background", StepMode(9): "unknown"}
	for m, want := range tests {
		if got := m.String(); got != want {
			t.Errorf("StepMode(%d).String() = %q, want %q", m, got, want)
		}
	}
}
