package datec

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"datec-go/internal/model"
)

// UpdateInput is a partial dataset update. Nil fields are left unchanged.
type UpdateInput struct {
	Name        *string
	Description *string
	Tags        *[]string
	VideoURL    *string // an empty string clears the video reference

	RemoveFiles  []string // blob IDs
	AddFiles     []FilePayload
	Header       *FilePayload
	RemoveHeader bool
}

type updateState struct {
	c     *Coordinator
	owner *Identity
	id    string
	in    UpdateInput

	d       *model.Dataset
	next    model.Dataset
	removed []model.FileRef
}

func (st *updateState) subject() string { return st.id }

var updatePlan = plan[updateState]{
	name: "dataset.update",
	steps: []step[updateState]{
		{name: "load-and-authorize", mode: Fatal, run: loadForUpdate},
		{name: "check-rename", mode: Fatal, run: checkRename},
		{name: "remove-files", mode: Tolerated, run: removeFiles, leaves: "references to deleted blobs until write-metadata lands"},
		{name: "add-files", mode: Fatal, run: addFiles, leaves: "orphan blobs for files never referenced"},
		{name: "replace-header", mode: Fatal, run: replaceHeader, leaves: "header blob without a reference"},
		{name: "write-metadata", mode: Fatal, run: writeUpdate},
	},
}

// Update applies a partial update. Only the owner may update a dataset.
func (c *Coordinator) Update(ctx context.Context, owner *Identity, id string, in UpdateInput) (*model.Dataset, error) {
	st := &updateState{c: c, owner: owner, id: id, in: in}
	if err := runSaga(ctx, c.sagas, updatePlan, st, (*updateState).subject); err != nil {
		return nil, err
	}
	return &st.next, nil
}

func loadForUpdate(ctx context.Context, st *updateState) error {
	const op = "dataset.update"

	d, err := st.c.load(ctx, op, st.id)
	if err != nil {
		return err
	}
	if !st.owner.is(d.OwnerID) {
		return forbidden(op, "only the owner can update dataset %s", st.id)
	}
	st.d = d
	st.next = *d

	in := st.in
	if in.Name != nil {
		if st.next.Name, err = checkName(op, *in.Name); err != nil {
			return err
		}
	}
	if in.Description != nil {
		if st.next.Description, err = checkDescription(op, *in.Description); err != nil {
			return err
		}
	}
	if in.Tags != nil {
		st.next.Tags = normalizeTags(*in.Tags)
	}
	if in.VideoURL != nil {
		if st.next.Video, err = ParseVideoRef(*in.VideoURL); err != nil {
			return err
		}
	}

	kept := make([]model.FileRef, 0, len(d.Files))
	for _, f := range d.Files {
		if slices.Contains(in.RemoveFiles, f.BlobID) {
			st.removed = append(st.removed, f)
			continue
		}
		kept = append(kept, f)
	}
	if len(st.removed) != len(in.RemoveFiles) {
		return invalidInput(op, "some files to remove do not belong to dataset %s", st.id)
	}
	if len(kept)+len(in.AddFiles) > st.c.maxFiles {
		return invalidInput(op, "cannot exceed %d files per dataset", st.c.maxFiles)
	}
	if len(kept)+len(in.AddFiles) == 0 {
		return invalidInput(op, "a dataset must keep at least one file")
	}
	st.next.Files = kept
	return nil
}

func checkRename(ctx context.Context, st *updateState) error {
	if st.next.Name == st.d.Name {
		return nil
	}
	return ensureNameFree(ctx, st.c, "dataset.update", st.d.OwnerID, st.next.Name)
}

// removeFiles deletes removed blobs. The references are dropped even when a
// delete fails.
func removeFiles(ctx context.Context, st *updateState) error {
	var errs []error
	for _, f := range st.removed {
		if err := st.c.blobs.Delete(ctx, f.BlobID); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", f.BlobID, err))
		}
	}
	return errors.Join(errs...)
}

func addFiles(ctx context.Context, st *updateState) error {
	next := 1
	for _, f := range st.d.Files {
		next = max(next, f.Index+1)
	}

	now := st.c.clock.Now()
	for _, f := range st.in.AddFiles {
		ref, err := st.c.putFile(ctx, st.id, st.d.OwnerID, next, f, "", now)
		if err != nil {
			return err
		}
		st.next.Files = append(st.next.Files, ref)
		next++
	}
	return nil
}

func replaceHeader(ctx context.Context, st *updateState) error {
	if st.in.Header == nil && !st.in.RemoveHeader {
		return nil
	}

	if st.d.HeaderBlobID != "" {
		if err := st.c.blobs.Delete(ctx, st.d.HeaderBlobID); err != nil {
			st.c.logger.Warn("deleting old header failed", "dataset", st.id, "blob", st.d.HeaderBlobID, "error", err)
		}
		st.next.HeaderBlobID = ""
	}

	if st.in.Header != nil {
		id, err := st.c.putHeader(ctx, st.id, st.d.OwnerID, *st.in.Header, st.c.clock.Now())
		if err != nil {
			return err
		}
		st.next.HeaderBlobID = id
	}
	return nil
}

func writeUpdate(ctx context.Context, st *updateState) error {
	st.next.UpdatedAt = st.c.clock.Now()
	err := st.c.meta.UpdateDataset(ctx, &st.next)
	if errors.Is(err, ErrDuplicate) {
		return conflict("dataset.update", "you already have a dataset named %q", st.next.Name)
	}
	if err != nil {
		return upstream("dataset.update", "writing dataset", err)
	}
	return nil
}
