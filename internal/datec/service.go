package datec

import (
	"context"
	"time"

	"datec-go/internal/model"
	"datec-go/internal/retry"
)

// Stores are the four backing stores. Replica is optional and serves counter reads.
type Stores struct {
	Metadata  MetadataStore
	Blobs     BlobStore
	Graph     GraphStore
	Ephemeral EphemeralStore
	Replica   EphemeralStore
}

// Options carries the ambient dependencies. Zero values get working defaults.
type Options struct {
	Logger      Logger
	Metrics     Metrics
	Clock       Clock
	IDs         IDGenerator
	TaskTimeout time.Duration
	MaxFiles    int
	IDRetry     retry.Config
}

// Service bundles every core component over one set of stores.
type Service struct {
	Datasets      *Coordinator
	Comments      *CommentManager
	Votes         *VoteAggregator
	Users         *UserService
	Messages      *MessageService
	Notifications *Fanout
	Counters      *CounterService

	dispatcher *Dispatcher
	journal    SagaJournal
}

// NewService wires all components. Stores are owned by the caller.
func NewService(stores Stores, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics{}
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = UUIDGenerator{}
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if opts.IDRetry.MaxAttempts == 0 {
		opts.IDRetry = retry.Config{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, AddJitter: true}
	}

	dispatcher := NewDispatcher(opts.Logger, opts.Metrics, opts.TaskTimeout)
	runner := &sagaRunner{
		journal:    stores.Metadata,
		dispatcher: dispatcher,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		clock:      opts.Clock,
	}
	counters := NewCounterService(stores.Ephemeral, stores.Replica)
	fanout := NewFanout(stores.Ephemeral, opts.Logger, opts.Metrics, opts.Clock, opts.IDs)
	links := newLinker(stores.Graph)

	coord := &Coordinator{
		meta:     stores.Metadata,
		blobs:    stores.Blobs,
		graph:    stores.Graph,
		counters: counters,
		fanout:   fanout,
		seq:      NewSequenceGenerator(stores.Metadata, opts.Clock),
		links:    links,
		sagas:    runner,
		logger:   opts.Logger,
		clock:    opts.Clock,
		maxFiles: opts.MaxFiles,
		idRetry:  opts.IDRetry,
	}

	return &Service{
		Datasets:      coord,
		Comments:      NewCommentManager(stores.Metadata, stores.Metadata, opts.Logger, opts.Clock, opts.IDs),
		Votes:         NewVoteAggregator(stores.Metadata, stores.Metadata, counters, opts.Logger, opts.Clock),
		Users:         newUserService(stores.Metadata, stores.Blobs, stores.Graph, links, fanout, runner, opts.Logger, opts.Clock),
		Messages:      NewMessageService(stores.Metadata, stores.Metadata, opts.Clock, opts.IDs),
		Notifications: fanout,
		Counters:      counters,
		dispatcher:    dispatcher,
		journal:       stores.Metadata,
	}
}

// Wait blocks until all dispatched background work has finished.
func (s *Service) Wait() {
	s.dispatcher.Wait()
}

// History returns the most recent saga runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*model.SagaRun, error) {
	runs, err := s.journal.ListSagaRuns(ctx, limit)
	if err != nil {
		return nil, upstream("history", "listing saga runs", err)
	}
	return runs, nil
}
