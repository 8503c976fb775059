package datec

import (
	"context"
	"errors"
	"fmt"
)

type deleteState struct {
	c         *Coordinator
	requester *Identity
	id        string

	blobIDs []string
}

func (st *deleteState) subject() string { return st.id }

// The metadata record goes before the graph node and counters. A crash in
// between leaves stray derived state that nothing can reach.
var deletePlan = plan[deleteState]{
	name: "dataset.delete",
	steps: []step[deleteState]{
		{name: "load-and-authorize", mode: Fatal, run: loadForDelete},
		{name: "delete-blobs", mode: Tolerated, run: deleteDatasetBlobs, leaves: "orphan blobs that failed to delete"},
		{name: "delete-metadata", mode: Fatal, run: deleteDatasetRecord},
		{name: "delete-graph-node", mode: Tolerated, run: deleteDatasetNode, leaves: "stray graph node"},
		{name: "delete-counters", mode: Tolerated, run: deleteDatasetCounters, leaves: "stray counters"},
	},
}

// Delete removes a dataset from every store. The owner or an admin may delete.
func (c *Coordinator) Delete(ctx context.Context, requester *Identity, id string) error {
	st := &deleteState{c: c, requester: requester, id: id}
	return runSaga(ctx, c.sagas, deletePlan, st, (*deleteState).subject)
}

func loadForDelete(ctx context.Context, st *deleteState) error {
	const op = "dataset.delete"
	d, err := st.c.load(ctx, op, st.id)
	if err != nil {
		return err
	}
	if !st.requester.is(d.OwnerID) && !st.requester.admin() {
		return forbidden(op, "only the owner or an admin can delete dataset %s", st.id)
	}
	for _, f := range d.Files {
		st.blobIDs = append(st.blobIDs, f.BlobID)
	}
	if d.HeaderBlobID != "" {
		st.blobIDs = append(st.blobIDs, d.HeaderBlobID)
	}
	return nil
}

// deleteDatasetBlobs attempts every blob and reports all failures together.
func deleteDatasetBlobs(ctx context.Context, st *deleteState) error {
	var errs []error
	for _, id := range st.blobIDs {
		if err := st.c.blobs.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func deleteDatasetRecord(ctx context.Context, st *deleteState) error {
	if err := st.c.meta.DeleteDataset(ctx, st.id); err != nil {
		return upstream("dataset.delete", "deleting dataset record", err)
	}
	return nil
}

func deleteDatasetNode(ctx context.Context, st *deleteState) error {
	return st.c.graph.DeleteNode(ctx, LabelDataset, st.id)
}

func deleteDatasetCounters(ctx context.Context, st *deleteState) error {
	return st.c.counters.Delete(ctx, DownloadCountKey(st.id), VoteCountKey(st.id))
}
