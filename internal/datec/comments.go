package datec

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"datec-go/internal/model"
)

const (
	// MaxCommentDepth is the deepest a comment may sit; roots have depth 0.
	MaxCommentDepth = 5

	maxCommentLength = 2000
)

// CommentManager owns comment threads: posting, moderation and tree assembly.
type CommentManager struct {
	datasets DatasetStore
	comments CommentStore
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// NewCommentManager creates a CommentManager.
func NewCommentManager(datasets DatasetStore, comments CommentStore, logger Logger, clock Clock, idgen IDGenerator) *CommentManager {
	return &CommentManager{datasets: datasets, comments: comments, logger: logger, clock: clock, idgen: idgen}
}

// Depth returns the number of parent hops from commentID to its root.
// A parent that no longer exists ends the chain. It fails with InvalidState
// if the chain loops or runs deeper than MaxCommentDepth.
func (m *CommentManager) Depth(ctx context.Context, commentID string) (int, error) {
	const op = "comment.depth"

	c, err := m.comments.GetComment(ctx, commentID)
	if err != nil {
		return 0, upstream(op, "loading comment", err)
	}
	if c == nil {
		return 0, notFound(op, "comment %s not found", commentID)
	}

	seen := map[string]bool{c.ID: true}
	depth := 0
	for c.ParentID != "" {
		if seen[c.ParentID] {
			return depth, invalidState(op, "comment %s has a cyclic parent chain", commentID)
		}
		if depth >= MaxCommentDepth {
			return depth, invalidState(op, "comment %s is nested deeper than %d", commentID, MaxCommentDepth)
		}
		parent, err := m.comments.GetComment(ctx, c.ParentID)
		if err != nil {
			return 0, upstream(op, "loading parent comment", err)
		}
		if parent == nil {
			break
		}
		seen[parent.ID] = true
		depth++
		c = parent
	}
	return depth, nil
}

// Add posts a comment, or a reply when parentID is set.
// It also bumps the dataset's durable comment count.
func (m *CommentManager) Add(ctx context.Context, author *Identity, datasetID, body, parentID string) (*model.Comment, error) {
	const op = "comment.add"

	if author == nil {
		return nil, forbidden(op, "authentication required")
	}
	body = strings.TrimSpace(body)
	if n := utf8.RuneCountInString(body); n == 0 || n > maxCommentLength {
		return nil, invalidInput(op, "comment must be 1-%d characters", maxCommentLength)
	}

	d, err := m.datasets.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, upstream(op, "loading dataset", err)
	}
	if d == nil {
		return nil, notFound(op, "dataset %s not found", datasetID)
	}
	if !d.Visible() && !author.is(d.OwnerID) && !author.admin() {
		return nil, forbidden(op, "dataset %s is not accessible", datasetID)
	}

	if parentID != "" {
		parent, err := m.comments.GetComment(ctx, parentID)
		if err != nil {
			return nil, upstream(op, "loading parent comment", err)
		}
		if parent == nil {
			return nil, notFound(op, "parent comment %s not found", parentID)
		}
		if !parent.IsActive {
			return nil, invalidState(op, "cannot reply to a disabled comment")
		}
		if parent.DatasetID != datasetID {
			return nil, invalidState(op, "parent comment belongs to another dataset")
		}
		depth, err := m.Depth(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if depth >= MaxCommentDepth {
			return nil, invalidState(op, "maximum reply depth of %d reached", MaxCommentDepth)
		}
	}

	now := m.clock.Now()
	c := &model.Comment{
		ID:        m.newCommentID(datasetID, now.UnixMilli()),
		DatasetID: datasetID,
		AuthorID:  author.UserID,
		ParentID:  parentID,
		Body:      body,
		IsActive:  true,
		CreatedAt: now,
	}
	if err := m.comments.InsertComment(ctx, c); err != nil {
		return nil, classify(op, "inserting comment", err)
	}

	m.logger.Info("comment added", "comment", c.ID, "dataset", datasetID, "parent", parentID)
	return c, nil
}

func (m *CommentManager) newCommentID(datasetID string, millis int64) string {
	suffix := strings.ReplaceAll(m.idgen.New(), "-", "")
	if len(suffix) > 9 {
		suffix = suffix[:9]
	}
	return fmt.Sprintf("cmt_%s_%d_%s", datasetID, millis, suffix)
}

// List returns the dataset's comment tree. Admins also see disabled comments.
func (m *CommentManager) List(ctx context.Context, viewer *Identity, datasetID string) ([]*model.CommentNode, error) {
	const op = "comment.list"

	d, err := m.datasets.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, upstream(op, "loading dataset", err)
	}
	if d == nil {
		return nil, notFound(op, "dataset %s not found", datasetID)
	}
	if !d.Visible() && !viewer.is(d.OwnerID) && !viewer.admin() {
		return nil, forbidden(op, "dataset %s is not accessible", datasetID)
	}

	flat, err := m.comments.ListComments(ctx, datasetID, viewer.admin())
	if err != nil {
		return nil, upstream(op, "listing comments", err)
	}
	return BuildTree(flat), nil
}

// Disable hides a comment. Only admins may moderate.
func (m *CommentManager) Disable(ctx context.Context, admin *Identity, commentID string) (*model.Comment, error) {
	return m.setActive(ctx, "comment.disable", admin, commentID, false)
}

// Enable restores a disabled comment.
func (m *CommentManager) Enable(ctx context.Context, admin *Identity, commentID string) (*model.Comment, error) {
	return m.setActive(ctx, "comment.enable", admin, commentID, true)
}

func (m *CommentManager) setActive(ctx context.Context, op string, admin *Identity, commentID string, active bool) (*model.Comment, error) {
	if !admin.admin() {
		return nil, forbidden(op, "admin privileges required")
	}

	c, err := m.comments.GetComment(ctx, commentID)
	if err != nil {
		return nil, upstream(op, "loading comment", err)
	}
	if c == nil {
		return nil, notFound(op, "comment %s not found", commentID)
	}
	if c.IsActive == active {
		state := "disabled"
		if active {
			state = "active"
		}
		return nil, conflict(op, "comment %s is already %s", commentID, state)
	}

	now := m.clock.Now()
	if err := m.comments.SetCommentActive(ctx, commentID, active, now, admin.UserID); err != nil {
		return nil, upstream(op, "updating comment", err)
	}

	c.IsActive = active
	if active {
		c.DisabledAt, c.DisabledBy = nil, ""
	} else {
		c.DisabledAt, c.DisabledBy = &now, admin.UserID
	}
	m.logger.Info("comment moderated", "comment", commentID, "active", active, "by", admin.UserID)
	return c, nil
}

// BuildTree assembles a flat comment list into a forest in O(n).
//
// Comments whose parent is absent become roots. A parent chain that loops is
// cut at the comment that closes the loop, which becomes a root. Every level
// is sorted by creation time ascending; ties keep input order. Duplicate IDs
// keep the first occurrence.
func BuildTree(flat []*model.Comment) []*model.CommentNode {
	nodes := make(map[string]*model.CommentNode, len(flat))
	order := make([]*model.CommentNode, 0, len(flat))
	for _, c := range flat {
		if c == nil {
			continue
		}
		if _, dup := nodes[c.ID]; dup {
			continue
		}
		n := &model.CommentNode{Comment: c}
		nodes[c.ID] = n
		order = append(order, n)
	}

	parentOf := func(n *model.CommentNode) *model.CommentNode {
		if n.ParentID == "" || n.ParentID == n.ID {
			return nil
		}
		return nodes[n.ParentID]
	}

	// Each node is visited once: 1 = on the current walk, 2 = settled.
	cut := make(map[string]bool)
	state := make(map[string]uint8, len(order))
	for _, start := range order {
		var path []*model.CommentNode
		for cur := start; cur != nil && state[cur.ID] == 0; {
			state[cur.ID] = 1
			path = append(path, cur)
			p := parentOf(cur)
			if p != nil && state[p.ID] == 1 {
				cut[cur.ID] = true
				break
			}
			cur = p
		}
		for _, n := range path {
			state[n.ID] = 2
		}
	}

	var roots []*model.CommentNode
	for _, n := range order {
		p := parentOf(n)
		if p == nil || cut[n.ID] {
			roots = append(roots, n)
			continue
		}
		p.Replies = append(p.Replies, n)
	}

	byCreated := func(a, b *model.CommentNode) int { return a.CreatedAt.Compare(b.CreatedAt) }
	slices.SortStableFunc(roots, byCreated)
	stack := slices.Clone(roots)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		slices.SortStableFunc(n.Replies, byCreated)
		stack = append(stack, n.Replies...)
	}
	return roots
}
