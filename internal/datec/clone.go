package datec

import (
	"bytes"
	"context"
	"fmt"

	"datec-go/internal/model"
	"datec-go/internal/retry"
)

var clonePlan = plan[createState]{
	name: "dataset.clone",
	steps: []step[createState]{
		{name: "load-source", mode: Fatal, run: loadCloneSource},
		{name: "check-name", mode: Fatal, run: checkCloneName},
		{name: "mint-id", mode: Fatal, run: mintDatasetID},
		{name: "copy-blobs", mode: Fatal, run: copySourceFiles, leaves: "orphan blob copies keyed by the uncommitted dataset id"},
		{name: "copy-header", mode: Tolerated, run: copySourceHeader, leaves: "orphan header copy"},
		{name: "insert-metadata", mode: Fatal, run: insertDatasetRecord},
		{name: "create-graph-node", mode: Background, run: createDatasetNode},
		{name: "init-counters", mode: Background, run: initDatasetCounters},
	},
}

// Clone copies an approved dataset, including every blob, into a new pending
// dataset owned by the requester. Non-owners may only clone public datasets.
func (c *Coordinator) Clone(ctx context.Context, requester *Identity, sourceID, newName string) (*model.Dataset, error) {
	var st *createState
	err := retry.Do(ctx, c.idRetry, func() error {
		st = &createState{c: c, owner: requester, in: CreateInput{Name: newName}, source: &model.Dataset{ID: sourceID}}
		return retryOnIDRace(runSaga(ctx, c.sagas, clonePlan, st, (*createState).subject))
	})
	if err != nil {
		return nil, err
	}
	return st.dataset.Copy(), nil
}

func loadCloneSource(ctx context.Context, st *createState) error {
	const op = "dataset.clone"
	if st.owner == nil {
		return forbidden(op, "authentication required")
	}

	src, err := st.c.load(ctx, op, st.source.ID)
	if err != nil {
		return err
	}
	if src.Status != model.StatusApproved {
		return invalidState(op, "only approved datasets can be cloned")
	}
	if !st.owner.is(src.OwnerID) && !src.IsPublic {
		return forbidden(op, "dataset %s is private", src.ID)
	}

	st.source = src
	st.description = src.Description
	st.tags = append([]string(nil), src.Tags...)
	if src.Video != nil {
		v := *src.Video
		st.video = &v
	}
	return nil
}

func checkCloneName(ctx context.Context, st *createState) error {
	const op = "dataset.clone"
	name, err := checkName(op, st.in.Name)
	if err != nil {
		return err
	}
	st.name = name
	return ensureNameFree(ctx, st.c, op, st.owner.UserID, name)
}

// copySourceFiles reads each source blob fully and re-uploads it under the new ID.
func copySourceFiles(ctx context.Context, st *createState) error {
	now := st.c.clock.Now()
	for i, f := range st.source.Files {
		var buf bytes.Buffer
		meta, err := st.c.blobs.Get(ctx, f.BlobID, &buf)
		if err != nil {
			return fmt.Errorf("reading %s: %w", f.BlobID, err)
		}

		payload := FilePayload{Filename: f.Filename, MimeType: f.MimeType, Data: buf.Bytes()}
		if payload.MimeType == "" {
			payload.MimeType = meta.MimeType
		}
		ref, err := st.c.putFile(ctx, st.id, st.owner.UserID, i+1, payload, st.source.ID, now)
		if err != nil {
			return err
		}
		st.files = append(st.files, ref)
	}
	return nil
}

func copySourceHeader(ctx context.Context, st *createState) error {
	if st.source.HeaderBlobID == "" {
		return nil
	}

	var buf bytes.Buffer
	meta, err := st.c.blobs.Get(ctx, st.source.HeaderBlobID, &buf)
	if err != nil {
		return fmt.Errorf("reading header %s: %w", st.source.HeaderBlobID, err)
	}
	id := HeaderBlobID(st.id)
	err = st.c.blobs.Put(ctx, id, bytes.NewReader(buf.Bytes()), BlobMeta{
		Type:       BlobHeaderPhoto,
		OwnerID:    st.owner.UserID,
		DatasetID:  st.id,
		ClonedFrom: st.source.ID,
		Filename:   meta.Filename,
		MimeType:   meta.MimeType,
		Size:       int64(buf.Len()),
		UploadedAt: st.c.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("copying header: %w", err)
	}
	st.headerID = id
	return nil
}
