package datec_test

import (
	"context"
	"testing"

	"datec-go/internal/datec"
	"datec-go/internal/model"
	"datec-go/internal/testutil"
)

// env is a service over in-memory stores with recording observers.
type env struct {
	t       *testing.T
	ctx     context.Context
	stores  *testutil.TestStores
	svc     *datec.Service
	clock   *testutil.StubClock
	logger  *testutil.RecordingLogger
	metrics *testutil.RecordingMetrics
}

// newEnv builds an env. wrap may replace individual stores, e.g. with
// fault-injecting wrappers.
func newEnv(t *testing.T, wrap ...func(*datec.Stores)) *env {
	t.Helper()

	stores := testutil.NewTestStores(t)
	s := stores.Stores()
	for _, w := range wrap {
		w(&s)
	}

	e := &env{
		t:       t,
		ctx:     context.Background(),
		stores:  stores,
		clock:   testutil.FixedClock(),
		logger:  testutil.NewRecordingLogger(),
		metrics: testutil.NewRecordingMetrics(),
	}
	e.svc = datec.NewService(s, datec.Options{
		Logger:  e.logger,
		Metrics: e.metrics,
		Clock:   e.clock,
		IDs:     testutil.NewStubIDGenerator(),
	})
	t.Cleanup(e.svc.Wait)
	return e
}

// register creates a user and returns its identity.
func (e *env) register(username string) *datec.Identity {
	e.t.Helper()
	u, err := e.svc.Users.Register(e.ctx, datec.RegisterInput{Username: username, Email: username + "@example.com"})
	if err != nil {
		e.t.Fatalf("Register(%s) error = %v", username, err)
	}
	return &datec.Identity{UserID: u.ID, Username: u.Username}
}

func (e *env) admin(username string) *datec.Identity {
	e.t.Helper()
	id := e.register(username)
	id.IsAdmin = true
	return id
}

func csvFile(name, body string) datec.FilePayload {
	return datec.FilePayload{Filename: name, MimeType: "text/csv", Data: []byte(body)}
}

func pngFile(name string) datec.FilePayload {
	return datec.FilePayload{Filename: name, MimeType: "image/png", Data: []byte("\x89PNG\r\n\x1a\nheader")}
}

// create makes a pending dataset with the given files.
func (e *env) create(owner *datec.Identity, name string, files ...datec.FilePayload) *model.Dataset {
	e.t.Helper()
	if len(files) == 0 {
		files = []datec.FilePayload{csvFile("data.csv", "a,b\n1,2\n")}
	}
	d, err := e.svc.Datasets.Create(e.ctx, owner, datec.CreateInput{
		Name:        name,
		Description: "a dataset used in tests",
		Files:       files,
	})
	if err != nil {
		e.t.Fatalf("Create(%s) error = %v", name, err)
	}
	return d
}

// publish approves a dataset and makes it public.
func (e *env) publish(owner, admin *datec.Identity, id string) *model.Dataset {
	e.t.Helper()
	if _, err := e.svc.Datasets.Review(e.ctx, admin, id, datec.Approve, "looks good"); err != nil {
		e.t.Fatalf("Review() error = %v", err)
	}
	d, err := e.svc.Datasets.ToggleVisibility(e.ctx, owner, id, true)
	if err != nil {
		e.t.Fatalf("ToggleVisibility() error = %v", err)
	}
	return d
}

func wantKind(t *testing.T, name string, err error, want datec.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s error = nil, want %v", name, want)
	}
	if got := datec.KindOf(err); got != want {
		t.Fatalf("%s error kind = %v, want %v (error: %v)", name, got, want, err)
	}
}
