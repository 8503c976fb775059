package datec

import (
	"context"
	"time"

	"datec-go/internal/model"
)

// Lookups in these interfaces return (nil, nil) when the entity does not
// exist. Writes that violate a uniqueness constraint return an error wrapping
// ErrDuplicate.

// UserStore holds durable user records.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUsers(ctx context.Context, ids []string) ([]*model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error
	SearchUsers(ctx context.Context, query string, limit int) ([]*model.User, error)
}

// DatasetStore holds dataset records. It is authoritative for existence and status.
type DatasetStore interface {
	// InsertDataset fails with ErrDuplicate on a reused ID or (owner, name).
	InsertDataset(ctx context.Context, d *model.Dataset) error
	GetDataset(ctx context.Context, id string) (*model.Dataset, error)
	FindDatasetByName(ctx context.Context, ownerID, name string) (*model.Dataset, error)

	// UpdateDataset rewrites every mutable field of d.
	UpdateDataset(ctx context.Context, d *model.Dataset) error

	// DeleteDataset removes the dataset together with its votes and comments.
	DeleteDataset(ctx context.Context, id string) error

	// MaxDatasetSequence returns the highest NNN among IDs "{prefix}NNN", or 0.
	MaxDatasetSequence(ctx context.Context, prefix string) (int, error)

	ListDatasetsByOwner(ctx context.Context, ownerID string, includeHidden bool) ([]*model.Dataset, error)
	ListClones(ctx context.Context, parentID string) ([]*model.Dataset, error)
	ListDatasetsByStatus(ctx context.Context, status model.Status, limit int) ([]*model.Dataset, error)

	// SearchDatasets runs a text query over approved, public datasets.
	SearchDatasets(ctx context.Context, query string, limit int) ([]*model.Dataset, error)
}

// CommentStore holds comment records.
type CommentStore interface {
	// InsertComment stores c and increments its dataset's comment count atomically.
	InsertComment(ctx context.Context, c *model.Comment) error
	GetComment(ctx context.Context, id string) (*model.Comment, error)
	ListComments(ctx context.Context, datasetID string, includeInactive bool) ([]*model.Comment, error)
	SetCommentActive(ctx context.Context, id string, active bool, at time.Time, by string) error
}

// VoteStore holds per-user durable votes.
type VoteStore interface {
	GetVote(ctx context.Context, datasetID, voterID string) (*model.Vote, error)
	InsertVote(ctx context.Context, v *model.Vote) error
	UpdateVoteRating(ctx context.Context, id string, rating int, at time.Time) error
	DeleteVote(ctx context.Context, id string) error

	// VoteStats returns the durable vote count and mean rating.
	VoteStats(ctx context.Context, datasetID string) (count int, avg float64, err error)
}

// MessageStore holds direct messages.
type MessageStore interface {
	InsertMessage(ctx context.Context, m *model.Message) error
	ListThread(ctx context.Context, userA, userB string, limit int) ([]*model.Message, error)
}

// SagaJournal records saga executions for operators.
type SagaJournal interface {
	StartSagaRun(ctx context.Context, saga, subject string, at time.Time) (int64, error)
	FinishSagaRun(ctx context.Context, run *model.SagaRun) error
	ListSagaRuns(ctx context.Context, limit int) ([]*model.SagaRun, error)
}

// MetadataStore is the full schema-validating record store.
type MetadataStore interface {
	UserStore
	DatasetStore
	CommentStore
	VoteStore
	MessageStore
	SagaJournal
	Close() error
}
