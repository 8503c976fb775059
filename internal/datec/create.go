package datec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"datec-go/internal/model"
	"datec-go/internal/retry"
)

// errIDTaken marks an insert rejected because another dataset won the ID race.
var errIDTaken = errors.New("dataset id already taken")

// CreateInput is the already-validated payload of a dataset creation.
type CreateInput struct {
	Name        string
	Description string
	Tags        []string
	Files       []FilePayload
	Header      *FilePayload
	VideoURL    string
}

// createState carries one create or clone execution. source is set for clones.
type createState struct {
	c      *Coordinator
	owner  *Identity
	in     CreateInput
	source *model.Dataset

	name        string
	description string
	tags        []string
	video       *model.VideoRef

	id       string
	files    []model.FileRef
	headerID string
	dataset  *model.Dataset
}

func (st *createState) subject() string {
	if st.id != "" {
		return st.id
	}
	if st.owner != nil {
		return st.owner.Username + "/" + st.name
	}
	return ""
}

var createPlan = plan[createState]{
	name: "dataset.create",
	steps: []step[createState]{
		{name: "validate", mode: Fatal, run: validateCreate},
		{name: "mint-id", mode: Fatal, run: mintDatasetID},
		{name: "upload-blobs", mode: Fatal, run: uploadDatasetBlobs, leaves: "orphan blobs keyed by the uncommitted dataset id"},
		{name: "insert-metadata", mode: Fatal, run: insertDatasetRecord},
		{name: "create-graph-node", mode: Background, run: createDatasetNode},
		{name: "init-counters", mode: Background, run: initDatasetCounters},
	},
}

// Create registers a new dataset in pending status.
// A lost ID race re-runs the saga with a fresh ID, a bounded number of times.
func (c *Coordinator) Create(ctx context.Context, owner *Identity, in CreateInput) (*model.Dataset, error) {
	var st *createState
	err := retry.Do(ctx, c.idRetry, func() error {
		st = &createState{c: c, owner: owner, in: in}
		return retryOnIDRace(runSaga(ctx, c.sagas, createPlan, st, (*createState).subject))
	})
	if err != nil {
		return nil, err
	}
	return st.dataset.Copy(), nil
}

func retryOnIDRace(err error) error {
	if err == nil || errors.Is(err, errIDTaken) {
		return err
	}
	return retry.NonRetryable(err)
}

func validateCreate(ctx context.Context, st *createState) error {
	const op = "dataset.create"
	if st.owner == nil {
		return forbidden(op, "authentication required")
	}

	var err error
	if st.name, err = checkName(op, st.in.Name); err != nil {
		return err
	}
	if st.description, err = checkDescription(op, st.in.Description); err != nil {
		return err
	}
	if len(st.in.Files) == 0 {
		return invalidInput(op, "at least one file is required")
	}
	if len(st.in.Files) > st.c.maxFiles {
		return invalidInput(op, "at most %d files are allowed", st.c.maxFiles)
	}
	if st.video, err = ParseVideoRef(st.in.VideoURL); err != nil {
		return err
	}
	st.tags = normalizeTags(st.in.Tags)

	return ensureNameFree(ctx, st.c, op, st.owner.UserID, st.name)
}

func ensureNameFree(ctx context.Context, c *Coordinator, op, ownerID, name string) error {
	existing, err := c.meta.FindDatasetByName(ctx, ownerID, name)
	if err != nil {
		return upstream(op, "checking dataset name", err)
	}
	if existing != nil {
		return conflict(op, "you already have a dataset named %q", name)
	}
	return nil
}

func mintDatasetID(ctx context.Context, st *createState) error {
	id, err := st.c.seq.Next(ctx, st.owner.Username)
	if err != nil {
		return err
	}
	st.id = id
	return nil
}

func uploadDatasetBlobs(ctx context.Context, st *createState) error {
	now := st.c.clock.Now()
	for i, f := range st.in.Files {
		ref, err := st.c.putFile(ctx, st.id, st.owner.UserID, i+1, f, "", now)
		if err != nil {
			return err
		}
		st.files = append(st.files, ref)
	}

	if st.in.Header != nil {
		id, err := st.c.putHeader(ctx, st.id, st.owner.UserID, *st.in.Header, now)
		if err != nil {
			return err
		}
		st.headerID = id
	}
	return nil
}

func (c *Coordinator) putFile(ctx context.Context, datasetID, ownerID string, index int, f FilePayload, clonedFrom string, now time.Time) (model.FileRef, error) {
	id := DatasetFileBlobID(datasetID, index)
	meta := BlobMeta{
		Type:       BlobDatasetFile,
		OwnerID:    ownerID,
		DatasetID:  datasetID,
		FileIndex:  index,
		ClonedFrom: clonedFrom,
		Filename:   f.Filename,
		MimeType:   f.MimeType,
		Size:       f.Size(),
		UploadedAt: now,
	}
	if err := c.blobs.Put(ctx, id, bytes.NewReader(f.Data), meta); err != nil {
		return model.FileRef{}, fmt.Errorf("uploading %s: %w", f.Filename, err)
	}
	return model.FileRef{
		BlobID:     id,
		Index:      index,
		Filename:   f.Filename,
		MimeType:   f.MimeType,
		Size:       f.Size(),
		UploadedAt: now,
	}, nil
}

func (c *Coordinator) putHeader(ctx context.Context, datasetID, ownerID string, f FilePayload, now time.Time) (string, error) {
	id := HeaderBlobID(datasetID)
	meta := BlobMeta{
		Type:       BlobHeaderPhoto,
		OwnerID:    ownerID,
		DatasetID:  datasetID,
		Filename:   f.Filename,
		MimeType:   f.MimeType,
		Size:       f.Size(),
		UploadedAt: now,
	}
	if err := c.blobs.Put(ctx, id, bytes.NewReader(f.Data), meta); err != nil {
		return "", fmt.Errorf("uploading header image: %w", err)
	}
	return id, nil
}

func insertDatasetRecord(ctx context.Context, st *createState) error {
	const op = "dataset.insert"
	now := st.c.clock.Now()
	d := &model.Dataset{
		ID:           st.id,
		OwnerID:      st.owner.UserID,
		Name:         st.name,
		Description:  st.description,
		Tags:         st.tags,
		Status:       model.StatusPending,
		IsPublic:     false,
		Files:        st.files,
		HeaderBlobID: st.headerID,
		Video:        st.video,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if st.source != nil {
		d.ParentID = st.source.ID
	}

	err := st.c.meta.InsertDataset(ctx, d)
	if errors.Is(err, ErrDuplicate) {
		taken, lookupErr := st.c.meta.GetDataset(ctx, st.id)
		if lookupErr == nil && taken != nil {
			return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf("dataset id %s already taken", st.id), Err: errIDTaken}
		}
		return conflict(op, "you already have a dataset named %q", st.name)
	}
	if err != nil {
		return upstream(op, "inserting dataset", err)
	}

	st.dataset = d
	return nil
}

func createDatasetNode(ctx context.Context, st *createState) error {
	return st.c.graph.MergeNode(ctx, Node{
		Label: LabelDataset,
		ID:    st.id,
		Props: map[string]string{"name": st.name, "owner_id": st.owner.UserID},
	})
}

func initDatasetCounters(ctx context.Context, st *createState) error {
	_, errDownloads := st.c.counters.Init(ctx, DownloadCountKey(st.id), 0)
	_, errVotes := st.c.counters.Init(ctx, VoteCountKey(st.id), 0)
	return errors.Join(errDownloads, errVotes)
}
