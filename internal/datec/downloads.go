package datec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"

	"datec-go/internal/model"
)

// recentDownloadsLimit bounds the recent downloads returned by DownloadStats.
const recentDownloadsLimit = 100

// ArchiveResult summarizes a streamed archive.
type ArchiveResult struct {
	Dataset *model.Dataset
	Written int
	Skipped []string // blob IDs that could not be fetched
}

// DownloadStats reports download activity for a dataset.
type DownloadStats struct {
	Total             int64
	UniqueDownloaders int
	Recent            []model.DownloadEvent
}

type downloadState struct {
	c      *Coordinator
	viewer *Identity
	id     string
	w      io.Writer

	d      *model.Dataset
	result ArchiveResult
}

func (st *downloadState) subject() string { return st.id }

var downloadPlan = plan[downloadState]{
	name: "dataset.download",
	steps: []step[downloadState]{
		{name: "load", mode: Fatal, run: loadForDownload},
		{name: "stream-archive", mode: Fatal, run: streamArchive, leaves: "a partial archive on the caller's sink when the sink fails"},
		{name: "track-download", mode: Background, run: trackDownload},
	},
}

// DownloadArchive writes every file of a dataset to w as one zip archive.
// Downloads by anyone but the owner are tracked in the background.
func (c *Coordinator) DownloadArchive(ctx context.Context, viewer *Identity, id string, w io.Writer) (*ArchiveResult, error) {
	st := &downloadState{c: c, viewer: viewer, id: id, w: w}
	if err := runSaga(ctx, c.sagas, downloadPlan, st, (*downloadState).subject); err != nil {
		return nil, err
	}
	return &st.result, nil
}

// DownloadFile writes a single file to w. It is never tracked.
func (c *Coordinator) DownloadFile(ctx context.Context, viewer *Identity, id string, index int, w io.Writer) (*model.FileRef, error) {
	const op = "dataset.download-file"

	d, err := c.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if !canRead(viewer, d) {
		return nil, forbidden(op, "dataset %s is not accessible", id)
	}

	for _, f := range d.Files {
		if f.Index != index {
			continue
		}
		if _, err := c.blobs.Get(ctx, f.BlobID, w); err != nil {
			if errors.Is(err, ErrBlobNotFound) {
				return nil, notFound(op, "file %d of dataset %s is missing", index, id)
			}
			return nil, upstream(op, "reading file", err)
		}
		return &f, nil
	}
	return nil, notFound(op, "dataset %s has no file %d", id, index)
}

// DownloadStats returns the download counter, the number of distinct
// downloaders and the most recent downloads. Owner or admin only.
func (c *Coordinator) DownloadStats(ctx context.Context, viewer *Identity, id string) (*DownloadStats, error) {
	const op = "dataset.download-stats"

	d, err := c.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if !viewer.is(d.OwnerID) && !viewer.admin() {
		return nil, forbidden(op, "only the owner can view download statistics")
	}

	total, err := c.counters.Get(ctx, DownloadCountKey(id))
	if err != nil {
		return nil, upstream(op, "reading download counter", err)
	}
	unique, err := c.graph.CountEdges(ctx, EdgeDownloaded, id, Incoming)
	if err != nil {
		return nil, upstream(op, "counting downloaders", err)
	}
	edges, err := c.graph.Edges(ctx, EdgeDownloaded, id, Incoming, recentDownloadsLimit)
	if err != nil {
		return nil, upstream(op, "listing downloads", err)
	}

	stats := &DownloadStats{Total: total, UniqueDownloaders: unique, Recent: make([]model.DownloadEvent, len(edges))}
	for i, e := range edges {
		stats.Recent[i] = model.DownloadEvent{UserID: e.From, DownloadedAt: e.At}
	}
	return stats, nil
}

func loadForDownload(ctx context.Context, st *downloadState) error {
	const op = "dataset.download"
	if st.viewer == nil {
		return forbidden(op, "authentication required")
	}
	d, err := st.c.load(ctx, op, st.id)
	if err != nil {
		return err
	}
	if !canRead(st.viewer, d) {
		return forbidden(op, "dataset %s is not accessible", st.id)
	}
	if len(d.Files) == 0 {
		return invalidState(op, "dataset %s has no files", st.id)
	}
	st.d = d
	st.result.Dataset = d
	return nil
}

// streamArchive appends one entry per file. Each blob is spooled to a temp
// file first so a failed fetch skips the file instead of truncating the
// archive. The archive is finalized once every file is appended or skipped.
func streamArchive(ctx context.Context, st *downloadState) error {
	spool, err := os.CreateTemp("", "datec-archive-*")
	if err != nil {
		return fmt.Errorf("creating spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	zw := zip.NewWriter(st.w)
	names := make(map[string]bool, len(st.d.Files))

	for _, f := range st.d.Files {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := fetchToSpool(ctx, st.c.blobs, f.BlobID, spool); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			st.c.logger.Warn("skipping archive entry", "dataset", st.id, "blob", f.BlobID, "error", err)
			st.result.Skipped = append(st.result.Skipped, f.BlobID)
			continue
		}

		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     archiveEntryName(names, f),
			Method:   zip.Deflate,
			Modified: f.UploadedAt,
		})
		if err != nil {
			return fmt.Errorf("creating archive entry: %w", err)
		}
		if _, err := io.Copy(entry, spool); err != nil {
			return fmt.Errorf("writing %s: %w", f.BlobID, err)
		}
		st.result.Written++
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return nil
}

// fetchToSpool replaces the spool content with the blob and rewinds it.
func fetchToSpool(ctx context.Context, blobs BlobStore, id string, spool *os.File) error {
	if err := spool.Truncate(0); err != nil {
		return fmt.Errorf("resetting spool: %w", err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("resetting spool: %w", err)
	}
	if _, err := blobs.Get(ctx, id, spool); err != nil {
		return err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding spool: %w", err)
	}
	return nil
}

// archiveEntryName returns the base of the file's declared name, prefixed
// with its index when another entry already uses it. Directory components
// never reach the archive.
func archiveEntryName(used map[string]bool, f model.FileRef) string {
	name := path.Base(strings.ReplaceAll(f.Filename, `\`, "/"))
	switch name {
	case ".", "..", "/":
		name = f.BlobID
	}
	if used[name] {
		name = fmt.Sprintf("%03d_%s", f.Index, name)
	}
	used[name] = true
	return name
}

func trackDownload(ctx context.Context, st *downloadState) error {
	if st.viewer.is(st.d.OwnerID) {
		return nil
	}
	if _, err := st.c.links.link(ctx, Edge{
		Type: EdgeDownloaded,
		From: st.viewer.UserID,
		To:   st.id,
		At:   st.c.clock.Now(),
	}); err != nil {
		return fmt.Errorf("recording download edge: %w", err)
	}
	if _, err := st.c.counters.Increment(ctx, DownloadCountKey(st.id), 1); err != nil {
		return err
	}
	return nil
}
