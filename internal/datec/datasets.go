package datec

import (
	"context"
	"net/url"
	"strings"
	"unicode/utf8"

	"datec-go/internal/model"
	"datec-go/internal/retry"
)

const (
	// DefaultMaxFiles is the per-dataset file cap.
	DefaultMaxFiles = 10

	minNameLength        = 3
	maxNameLength        = 100
	minDescriptionLength = 10
	maxDescriptionLength = 5000

	defaultSearchLimit = 20
	maxPendingList     = 100
)

// Coordinator owns the dataset lifecycle across the four stores.
// Callers never write dataset-derived state to a store directly.
type Coordinator struct {
	meta     MetadataStore
	blobs    BlobStore
	graph    GraphStore
	counters *CounterService
	fanout   *Fanout
	seq      *SequenceGenerator
	links    *linker
	sagas    *sagaRunner
	logger   Logger
	clock    Clock
	maxFiles int
	idRetry  retry.Config
}

// Get returns a dataset the viewer may read, with live counter values.
func (c *Coordinator) Get(ctx context.Context, viewer *Identity, id string) (*model.Dataset, error) {
	d, err := c.load(ctx, "dataset.get", id)
	if err != nil {
		return nil, err
	}
	if !canRead(viewer, d) {
		return nil, forbidden("dataset.get", "dataset %s is not accessible", id)
	}
	c.overlayCounters(ctx, d)
	return d, nil
}

// overlayCounters replaces the stored download and vote counts with the
// ephemeral values. A failed read keeps the stored value.
func (c *Coordinator) overlayCounters(ctx context.Context, d *model.Dataset) {
	if v, err := c.counters.Get(ctx, DownloadCountKey(d.ID)); err == nil {
		d.DownloadCount = v
	} else {
		c.logger.Warn("reading download counter failed", "dataset", d.ID, "error", err)
	}
	if v, err := c.counters.Get(ctx, VoteCountKey(d.ID)); err == nil {
		d.VoteCount = v
	} else {
		c.logger.Warn("reading vote counter failed", "dataset", d.ID, "error", err)
	}
}

// Search runs a text query over approved, public datasets.
func (c *Coordinator) Search(ctx context.Context, query string, limit int) ([]*model.Dataset, error) {
	if limit <= 0 || limit > defaultSearchLimit {
		limit = defaultSearchLimit
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalidInput("dataset.search", "search query is required")
	}
	ds, err := c.meta.SearchDatasets(ctx, query, limit)
	if err != nil {
		return nil, upstream("dataset.search", "searching datasets", err)
	}
	return ds, nil
}

// ListByOwner lists a user's datasets, newest first. Other viewers only see
// approved, public ones.
func (c *Coordinator) ListByOwner(ctx context.Context, viewer *Identity, username string) ([]*model.Dataset, error) {
	const op = "dataset.list"

	owner, err := c.meta.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, upstream(op, "loading user", err)
	}
	if owner == nil {
		return nil, notFound(op, "user %s not found", username)
	}

	all := viewer.is(owner.ID) || viewer.admin()
	ds, err := c.meta.ListDatasetsByOwner(ctx, owner.ID, all)
	if err != nil {
		return nil, upstream(op, "listing datasets", err)
	}
	return ds, nil
}

// ListClones lists the clones of a dataset that the viewer may read.
func (c *Coordinator) ListClones(ctx context.Context, viewer *Identity, id string) ([]*model.Dataset, error) {
	const op = "dataset.clones"

	if _, err := c.load(ctx, op, id); err != nil {
		return nil, err
	}
	clones, err := c.meta.ListClones(ctx, id)
	if err != nil {
		return nil, upstream(op, "listing clones", err)
	}

	out := clones[:0]
	for _, d := range clones {
		if canRead(viewer, d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// ListPending returns datasets awaiting review, oldest first.
func (c *Coordinator) ListPending(ctx context.Context, admin *Identity, limit int) ([]*model.Dataset, error) {
	if !admin.admin() {
		return nil, forbidden("dataset.pending", "admin privileges required")
	}
	if limit <= 0 || limit > maxPendingList {
		limit = maxPendingList
	}
	ds, err := c.meta.ListDatasetsByStatus(ctx, model.StatusPending, limit)
	if err != nil {
		return nil, upstream("dataset.pending", "listing pending datasets", err)
	}
	return ds, nil
}

func (c *Coordinator) load(ctx context.Context, op, id string) (*model.Dataset, error) {
	d, err := c.meta.GetDataset(ctx, id)
	if err != nil {
		return nil, upstream(op, "loading dataset", err)
	}
	if d == nil {
		return nil, notFound(op, "dataset %s not found", id)
	}
	return d, nil
}

func canRead(viewer *Identity, d *model.Dataset) bool {
	return d.Visible() || viewer.is(d.OwnerID) || viewer.admin()
}

func checkName(op, name string) (string, error) {
	n := NormalizeDatasetName(name)
	if l := utf8.RuneCountInString(n); l < minNameLength || l > maxNameLength {
		return "", invalidInput(op, "dataset name must be %d-%d characters", minNameLength, maxNameLength)
	}
	return n, nil
}

func checkDescription(op, desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if l := utf8.RuneCountInString(desc); l < minDescriptionLength || l > maxDescriptionLength {
		return "", invalidInput(op, "description must be %d-%d characters", minDescriptionLength, maxDescriptionLength)
	}
	return desc, nil
}

// normalizeTags trims, drops empties and removes duplicates, keeping first-seen order.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ParseVideoRef classifies a video URL by host. An empty URL yields nil.
func ParseVideoRef(raw string) (*model.VideoRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, invalidInput("dataset.video", "invalid video URL %q", raw)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	platform := "other"
	switch {
	case host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		platform = "youtube"
	case host == "vimeo.com" || strings.HasSuffix(host, ".vimeo.com"):
		platform = "vimeo"
	}
	return &model.VideoRef{URL: raw, Platform: platform}, nil
}
