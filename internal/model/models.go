package model

import "time"

// Status is the review lifecycle state of a dataset.
type Status string

const (
	StatusDraft    Status = "draft" // not yet submitted for review
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// User is a registered account. The ID is derived from username and email.
type User struct {
	ID           string // UUIDv5 of lower(username):lower(email)
	Username     string
	Email        string
	FullName     string
	Bio          string
	AvatarBlobID string // empty when no avatar is set
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FileRef points from a dataset record to one of its blobs.
type FileRef struct {
	BlobID     string
	Index      int // file_index in blob metadata; never reused within a dataset
	Filename   string
	MimeType   string
	Size       int64
	UploadedAt time.Time
}

// VideoRef is an optional external video attached to a dataset.
type VideoRef struct {
	URL      string
	Platform string // "youtube", "vimeo" or "other"
}

// Dataset is the authoritative metadata record for a dataset.
type Dataset struct {
	ID            string // {owner}_{YYYYMMDD}_{NNN}
	OwnerID       string
	ParentID      string // source dataset when created by clone
	Name          string // normalized, unique per owner
	Description   string
	Tags          []string
	Status        Status
	IsPublic      bool
	Files         []FileRef
	HeaderBlobID  string
	Video         *VideoRef
	DownloadCount int64
	VoteCount     int64
	CommentCount  int64
	ReviewComment string
	ReviewedBy    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ReviewedAt    *time.Time
}

// Copy returns a deep copy of d.
func (d *Dataset) Copy() *Dataset {
	c := *d
	c.Tags = append([]string(nil), d.Tags...)
	c.Files = append([]FileRef(nil), d.Files...)
	if d.Video != nil {
		v := *d.Video
		c.Video = &v
	}
	if d.ReviewedAt != nil {
		t := *d.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}

// Visible reports whether anyone may read the dataset.
func (d *Dataset) Visible() bool {
	return d.Status == StatusApproved && d.IsPublic
}

// Comment is one entry of a dataset's discussion thread.
type Comment struct {
	ID         string
	DatasetID  string
	AuthorID   string
	ParentID   string // empty for root comments
	Body       string
	IsActive   bool
	CreatedAt  time.Time
	DisabledAt *time.Time
	DisabledBy string
}

// CommentNode is a comment with its replies attached, as produced by tree assembly.
type CommentNode struct {
	*Comment
	Replies []*CommentNode
}

// Vote is a single user's rating of a dataset.
type Vote struct {
	ID        string // vote_{dataset}_user_{user}
	DatasetID string
	VoterID   string
	Rating    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a direct message between two users.
type Message struct {
	ID          string
	SenderID    string
	RecipientID string
	Body        string
	CreatedAt   time.Time
}

// SagaRun is the journal entry for one execution of a multi-store operation.
type SagaRun struct {
	ID             int64
	Saga           string
	Subject        string
	Status         string // "running", "succeeded" or "failed"
	CompletedSteps []string
	FailedStep     string
	Error          string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// DownloadEvent is one DOWNLOADED edge read back from the graph store.
type DownloadEvent struct {
	UserID       string
	DownloadedAt time.Time
}
