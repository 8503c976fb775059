package datec

import (
	"context"
	"errors"
	"fmt"
	"math"

	"datec-go/internal/model"
)

// VoteAggregator keeps durable votes and the cached vote counter in step.
// The durable rows are authoritative; the counter may drift under races.
type VoteAggregator struct {
	datasets DatasetStore
	votes    VoteStore
	counters *CounterService
	logger   Logger
	clock    Clock
}

// VoteSummary is the rating summary of a dataset.
type VoteSummary struct {
	Count       int
	Average     float64
	CachedCount int64
}

// NewVoteAggregator creates a VoteAggregator.
func NewVoteAggregator(datasets DatasetStore, votes VoteStore, counters *CounterService, logger Logger, clock Clock) *VoteAggregator {
	return &VoteAggregator{datasets: datasets, votes: votes, counters: counters, logger: logger, clock: clock}
}

// VoteID is the deterministic ID of a user's vote on a dataset.
func VoteID(datasetID, voterID string) string {
	return fmt.Sprintf("vote_%s_user_%s", datasetID, voterID)
}

// AddOrUpdateVote records voter's rating. An existing vote is updated in place.
func (a *VoteAggregator) AddOrUpdateVote(ctx context.Context, voter *Identity, datasetID string, rating int) (*model.Vote, error) {
	const op = "vote.cast"

	if voter == nil {
		return nil, forbidden(op, "authentication required")
	}
	if rating < 1 || rating > 5 {
		return nil, invalidInput(op, "rating must be between 1 and 5")
	}
	d, err := a.loadVotable(ctx, op, datasetID)
	if err != nil {
		return nil, err
	}
	if voter.is(d.OwnerID) {
		return nil, conflict(op, "you cannot vote on your own dataset")
	}

	key := VoteCountKey(datasetID)
	now := a.clock.Now()

	prior, err := a.votes.GetVote(ctx, datasetID, voter.UserID)
	if err != nil {
		return nil, upstream(op, "loading vote", err)
	}
	if prior != nil {
		if prior.Rating == rating {
			return prior, nil
		}
		if err := a.votes.UpdateVoteRating(ctx, prior.ID, rating, now); err != nil {
			return nil, upstream(op, "updating vote", err)
		}
		// The counter tracks vote count, so a rating change nets to zero.
		if _, err := a.counters.Decrement(ctx, key, 1); err != nil {
			a.logger.Warn("adjusting vote counter failed", "dataset", datasetID, "error", err)
		} else if _, err := a.counters.Increment(ctx, key, 1); err != nil {
			a.logger.Warn("adjusting vote counter failed", "dataset", datasetID, "error", err)
		}
		prior.Rating = rating
		prior.UpdatedAt = now
		return prior, nil
	}

	v := &model.Vote{
		ID:        VoteID(datasetID, voter.UserID),
		DatasetID: datasetID,
		VoterID:   voter.UserID,
		Rating:    rating,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = a.votes.InsertVote(ctx, v)
	if errors.Is(err, ErrDuplicate) {
		return nil, conflict(op, "vote already recorded")
	}
	if err != nil {
		return nil, upstream(op, "inserting vote", err)
	}
	if _, err := a.counters.Increment(ctx, key, 1); err != nil {
		a.logger.Warn("incrementing vote counter failed", "dataset", datasetID, "error", err)
	}
	return v, nil
}

// RemoveVote deletes voter's vote and decrements the counter.
func (a *VoteAggregator) RemoveVote(ctx context.Context, voter *Identity, datasetID string) error {
	const op = "vote.remove"

	if voter == nil {
		return forbidden(op, "authentication required")
	}
	v, err := a.votes.GetVote(ctx, datasetID, voter.UserID)
	if err != nil {
		return upstream(op, "loading vote", err)
	}
	if v == nil {
		return notFound(op, "no vote on dataset %s", datasetID)
	}
	if err := a.votes.DeleteVote(ctx, v.ID); err != nil {
		return upstream(op, "deleting vote", err)
	}
	if _, err := a.counters.Decrement(ctx, VoteCountKey(datasetID), 1); err != nil {
		a.logger.Warn("decrementing vote counter failed", "dataset", datasetID, "error", err)
	}
	return nil
}

// Summary returns the durable count and average rating, rounded to one
// decimal, next to the cached counter value.
func (a *VoteAggregator) Summary(ctx context.Context, datasetID string) (*VoteSummary, error) {
	const op = "vote.summary"

	if _, err := a.loadDataset(ctx, op, datasetID); err != nil {
		return nil, err
	}
	count, avg, err := a.votes.VoteStats(ctx, datasetID)
	if err != nil {
		return nil, upstream(op, "computing vote stats", err)
	}
	cached, err := a.counters.Get(ctx, VoteCountKey(datasetID))
	if err != nil {
		a.logger.Warn("reading vote counter failed", "dataset", datasetID, "error", err)
		cached = int64(count)
	}
	return &VoteSummary{Count: count, Average: math.Round(avg*10) / 10, CachedCount: cached}, nil
}

// UserVote returns voter's vote on a dataset, or nil if there is none.
func (a *VoteAggregator) UserVote(ctx context.Context, voter *Identity, datasetID string) (*model.Vote, error) {
	if voter == nil {
		return nil, forbidden("vote.get", "authentication required")
	}
	v, err := a.votes.GetVote(ctx, datasetID, voter.UserID)
	if err != nil {
		return nil, upstream("vote.get", "loading vote", err)
	}
	return v, nil
}

func (a *VoteAggregator) loadDataset(ctx context.Context, op, id string) (*model.Dataset, error) {
	d, err := a.datasets.GetDataset(ctx, id)
	if err != nil {
		return nil, upstream(op, "loading dataset", err)
	}
	if d == nil {
		return nil, notFound(op, "dataset %s not found", id)
	}
	return d, nil
}

func (a *VoteAggregator) loadVotable(ctx context.Context, op, id string) (*model.Dataset, error) {
	d, err := a.loadDataset(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if !d.Visible() {
		return nil, invalidState(op, "only approved public datasets accept votes")
	}
	return d, nil
}
