package datec

import (
	"context"
	"fmt"
	"io"
	"time"
)

// BlobType tags what a blob is attached to.
type BlobType string

const (
	BlobDatasetFile BlobType = "dataset_file"
	BlobHeaderPhoto BlobType = "header_photo"
	BlobUserAvatar  BlobType = "user_avatar"
)

// BlobMeta is the document-level metadata stored beside each blob.
type BlobMeta struct {
	Type       BlobType
	OwnerID    string
	DatasetID  string
	FileIndex  int
	ClonedFrom string
	Filename   string
	MimeType   string
	Size       int64
	UploadedAt time.Time
}

// BlobStore is a keyed binary attachment store.
// Content is streamed so large files do not need to be held twice.
type BlobStore interface {
	// Put stores the content read from r under id, replacing any existing blob.
	Put(ctx context.Context, id string, r io.Reader, meta BlobMeta) error

	// Get writes the blob content to w. It returns ErrBlobNotFound if absent.
	Get(ctx context.Context, id string, w io.Writer) (*BlobMeta, error)

	// Stat returns the blob metadata, or nil if absent.
	Stat(ctx context.Context, id string) (*BlobMeta, error)

	// Delete removes the blob. Deleting an absent blob succeeds.
	Delete(ctx context.Context, id string) error
}

// DatasetFileBlobID is the key of the index-th file of a dataset.
func DatasetFileBlobID(datasetID string, index int) string {
	return fmt.Sprintf("file_%s_%03d", datasetID, index)
}

// HeaderBlobID is the key of a dataset's header photo.
func HeaderBlobID(datasetID string) string {
	return fmt.Sprintf("photo_%s_header", datasetID)
}

// AvatarBlobID is the key of a user's avatar.
func AvatarBlobID(userID string) string {
	return fmt.Sprintf("avatar_%s", userID)
}

// FilePayload is a decoded upload handed to the core by the perimeter.
type FilePayload struct {
	Filename string
	MimeType string
	Data     []byte
}

// Size returns the payload length in bytes.
func (p FilePayload) Size() int64 { return int64(len(p.Data)) }
