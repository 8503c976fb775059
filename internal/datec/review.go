package datec

import (
	"context"
	"strings"

	"datec-go/internal/model"
)

// ReviewAction is an admin decision on a pending dataset.
type ReviewAction string

const (
	Approve ReviewAction = "approve"
	Reject  ReviewAction = "reject"
)

type statusState struct {
	c     *Coordinator
	actor *Identity
	id    string

	action  ReviewAction
	comment string
	public  bool

	d            *model.Dataset
	becamePublic bool
}

func (st *statusState) subject() string { return st.id }

var requestApprovalPlan = plan[statusState]{
	name: "dataset.request-approval",
	steps: []step[statusState]{
		{name: "load", mode: Fatal, run: loadForApproval},
		{name: "write-status", mode: Fatal, run: writeStatus},
	},
}

var reviewPlan = plan[statusState]{
	name: "dataset.review",
	steps: []step[statusState]{
		{name: "load", mode: Fatal, run: loadForReview},
		{name: "write-review", mode: Fatal, run: writeStatus},
		{name: "notify-owner", mode: Background, run: notifyOwner},
	},
}

var visibilityPlan = plan[statusState]{
	name: "dataset.visibility",
	steps: []step[statusState]{
		{name: "load", mode: Fatal, run: loadForVisibility},
		{name: "write-visibility", mode: Fatal, run: writeStatus},
		{name: "notify-followers", mode: Background, run: notifyFollowers},
	},
}

// RequestApproval resubmits a rejected or draft dataset for review.
func (c *Coordinator) RequestApproval(ctx context.Context, owner *Identity, id string) (*model.Dataset, error) {
	st := &statusState{c: c, actor: owner, id: id}
	if err := runSaga(ctx, c.sagas, requestApprovalPlan, st, (*statusState).subject); err != nil {
		return nil, err
	}
	return st.d.Copy(), nil
}

// Review approves or rejects a pending dataset and notifies its owner.
// Followers are not notified until the owner makes the dataset public.
func (c *Coordinator) Review(ctx context.Context, admin *Identity, id string, action ReviewAction, comment string) (*model.Dataset, error) {
	st := &statusState{c: c, actor: admin, id: id, action: action, comment: strings.TrimSpace(comment)}
	if err := runSaga(ctx, c.sagas, reviewPlan, st, (*statusState).subject); err != nil {
		return nil, err
	}
	return st.d.Copy(), nil
}

// ToggleVisibility sets the public flag. Going public requires approval and
// notifies the owner's followers in the background.
func (c *Coordinator) ToggleVisibility(ctx context.Context, owner *Identity, id string, public bool) (*model.Dataset, error) {
	st := &statusState{c: c, actor: owner, id: id, public: public}
	if err := runSaga(ctx, c.sagas, visibilityPlan, st, (*statusState).subject); err != nil {
		return nil, err
	}
	return st.d.Copy(), nil
}

func loadForApproval(ctx context.Context, st *statusState) error {
	const op = "dataset.request-approval"
	d, err := st.c.load(ctx, op, st.id)
	if err != nil {
		return err
	}
	if !st.actor.is(d.OwnerID) {
		return forbidden(op, "only the owner can request approval")
	}
	switch d.Status {
	case model.StatusRejected, model.StatusDraft:
	case model.StatusPending:
		return invalidState(op, "dataset %s is already pending review", st.id)
	default:
		return invalidState(op, "dataset %s is already %s", st.id, d.Status)
	}

	d.Status = model.StatusPending
	d.UpdatedAt = st.c.clock.Now()
	st.d = d
	return nil
}

func loadForReview(ctx context.Context, st *statusState) error {
	const op = "dataset.review"
	if !st.actor.admin() {
		return forbidden(op, "admin privileges required")
	}
	if st.action != Approve && st.action != Reject {
		return invalidInput(op, "unknown review action %q", st.action)
	}
	d, err := st.c.load(ctx, op, st.id)
	if err != nil {
		return err
	}
	if d.Status != model.StatusPending {
		return invalidState(op, "dataset %s is %s, not pending", st.id, d.Status)
	}

	now := st.c.clock.Now()
	d.Status = model.StatusRejected
	if st.action == Approve {
		d.Status = model.StatusApproved
	}
	d.ReviewComment = st.comment
	d.ReviewedBy = st.actor.UserID
	d.ReviewedAt = &now
	d.UpdatedAt = now
	st.d = d
	return nil
}

func loadForVisibility(ctx context.Context, st *statusState) error {
	const op = "dataset.visibility"
	d, err := st.c.load(ctx, op, st.id)
	if err != nil {
		return err
	}
	if !st.actor.is(d.OwnerID) {
		return forbidden(op, "only the owner can change visibility")
	}
	if st.public && d.Status != model.StatusApproved {
		return invalidState(op, "only approved datasets can be made public")
	}

	st.becamePublic = st.public && !d.IsPublic
	d.IsPublic = st.public
	d.UpdatedAt = st.c.clock.Now()
	st.d = d
	return nil
}

func writeStatus(ctx context.Context, st *statusState) error {
	if err := st.c.meta.UpdateDataset(ctx, st.d); err != nil {
		return upstream("dataset.status", "writing dataset", err)
	}
	return nil
}

func notifyOwner(ctx context.Context, st *statusState) error {
	n, err := st.c.fanout.New(model.DatasetReviewed{
		Approved:    st.d.Status == model.StatusApproved,
		DatasetID:   st.d.ID,
		DatasetName: st.d.Name,
		AdminReview: st.d.ReviewComment,
		ReviewedBy:  st.actor.Username,
	})
	if err != nil {
		return err
	}
	return st.c.fanout.Send(ctx, st.d.OwnerID, n)
}

func notifyFollowers(ctx context.Context, st *statusState) error {
	if !st.becamePublic {
		return nil
	}

	edges, err := st.c.graph.Edges(ctx, EdgeFollows, st.d.OwnerID, Incoming, 0)
	if err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}
	followers := make([]string, len(edges))
	for i, e := range edges {
		followers[i] = e.From
	}

	n, err := st.c.fanout.New(model.NewDataset{
		FromUserID:   st.actor.UserID,
		FromUsername: st.actor.Username,
		DatasetID:    st.d.ID,
		DatasetName:  st.d.Name,
	})
	if err != nil {
		return err
	}
	delivered := st.c.fanout.Broadcast(ctx, followers, n)
	st.c.logger.Info("followers notified", "dataset", st.d.ID, "delivered", delivered, "followers", len(followers))
	return nil
}
