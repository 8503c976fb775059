package datec_test

import (
	"context"
	"testing"

	"datec-go/internal/datec"
	"datec-go/internal/model"
	"datec-go/internal/testutil"
)

func TestCoordinator_Review(t *testing.T) {
	ctx := context.Background()

	t.Run("approve notifies the owner", func(t *testing.T) {
		e := newEnv(t)
		alice := e.register("alice")
		admin := e.admin("root")
		d := e.create(alice, "weather")

		got, err := e.svc.Datasets.Review(ctx, admin, d.ID, datec.Approve, " great ")
		if err != nil {
			t.Fatalf("Review() error = %v", err)
		}
		e.svc.Wait()

		if got.Status != model.StatusApproved || got.ReviewComment != "great" || got.ReviewedBy != admin.UserID || got.ReviewedAt == nil {
			t.Errorf("Review() = %+v", got)
		}
		if got.IsPublic {
			t.Error("approval made the dataset public")
		}

		notes, _ := e.svc.Notifications.List(ctx, alice.UserID, 0)
		if len(notes) != 1 || notes[0].Kind() != model.KindDatasetApproved {
			t.Fatalf("owner notifications = %+v, want one approval", notes)
		}
		p := notes[0].Payload.(model.DatasetReviewed)
		if p.DatasetID != d.ID || p.AdminReview != "great" || p.ReviewedBy != "root" {
			t.Errorf("payload = %+v", p)
		}
	})

	t.Run("result is detached from the notify step", func(t *testing.T) {
		e := newEnv(t)
		alice := e.register("alice")
		admin := e.admin("root")
		d := e.create(alice, "weather")

		got, err := e.svc.Datasets.Review(ctx, admin, d.ID, datec.Approve, "fine")
		if err != nil {
			t.Fatalf("Review() error = %v", err)
		}
		got.Name = "renamed"
		got.ReviewComment = "edited"
		e.svc.Wait()

		notes, _ := e.svc.Notifications.List(ctx, alice.UserID, 0)
		if len(notes) != 1 {
			t.Fatalf("owner notifications = %+v, want one", notes)
		}
		p := notes[0].Payload.(model.DatasetReviewed)
		if p.DatasetName != "weather" || p.AdminReview != "fine" {
			t.Errorf("payload = %+v, want the reviewed values", p)
		}
	})

	t.Run("reject then resubmit", func(t *testing.T) {
		e := newEnv(t)
		alice := e.register("alice")
		admin := e.admin("root")
		d := e.create(alice, "weather")

		if _, err := e.svc.Datasets.Review(ctx, admin, d.ID, datec.Reject, "needs docs"); err != nil {
			t.Fatalf("Review() error = %v", err)
		}
		e.svc.Wait()
		notes, _ := e.svc.Notifications.List(ctx, alice.UserID, 0)
		if len(notes) != 1 || notes[0].Kind() != model.KindDatasetRejected {
			t.Errorf("owner notifications = %+v, want one rejection", notes)
		}

		_, err := e.svc.Datasets.Review(ctx, admin, d.ID, datec.Approve, "")
		wantKind(t, "Review(rejected)", err, datec.KindInvalidState)

		got, err := e.svc.Datasets.RequestApproval(ctx, alice, d.ID)
		if err != nil {
			t.Fatalf("RequestApproval() error = %v", err)
		}
		if got.Status != model.StatusPending {
			t.Errorf("Status = %s, want pending", got.Status)
		}
		_, err = e.svc.Datasets.RequestApproval(ctx, alice, d.ID)
		wantKind(t, "RequestApproval(pending)", err, datec.KindInvalidState)
	})

	t.Run("rules", func(t *testing.T) {
		e := newEnv(t)
		alice := e.register("alice")
		admin := e.admin("root")
		d := e.create(alice, "weather")

		_, err := e.svc.Datasets.Review(ctx, alice, d.ID, datec.Approve, "")
		wantKind(t, "Review(non-admin)", err, datec.KindForbidden)
		_, err = e.svc.Datasets.Review(ctx, admin, d.ID, datec.ReviewAction("maybe"), "")
		wantKind(t, "Review(bad action)", err, datec.KindInvalidInput)
		_, err = e.svc.Datasets.Review(ctx, admin, "missing", datec.Approve, "")
		wantKind(t, "Review(missing)", err, datec.KindNotFound)
		_, err = e.svc.Datasets.RequestApproval(ctx, admin, d.ID)
		wantKind(t, "RequestApproval(non-owner)", err, datec.KindForbidden)
	})

	t.Run("notification failure does not fail the review", func(t *testing.T) {
		var eph *testutil.FaultyEphemeralStore
		e := newEnv(t, func(s *datec.Stores) {
			eph = testutil.NewFaultyEphemeralStore(s.Ephemeral)
			s.Ephemeral = eph
		})
		alice := e.register("alice")
		admin := e.admin("root")
		d := e.create(alice, "weather")
		e.svc.Wait()
		eph.Fail("PushFront", nil)

		if _, err := e.svc.Datasets.Review(ctx, admin, d.ID, datec.Approve, ""); err != nil {
			t.Fatalf("Review() error = %v", err)
		}
		e.svc.Wait()
		if e.metrics.BestEffort("dataset.review", "notify-owner") != 1 {
			t.Error("notification failure not counted")
		}
		stored, _ := e.stores.Meta.GetDataset(ctx, d.ID)
		if stored.Status != model.StatusApproved {
			t.Errorf("Status = %s, want approved", stored.Status)
		}
	})
}

func TestCoordinator_ToggleVisibility(t *testing.T) {
	ctx := context.Background()

	t.Run("going public notifies followers once", func(t *testing.T) {
		e := newEnv(t)
		alice := e.register("alice")
		bob := e.register("bob")
		carol := e.register("carol")
		admin := e.admin("root")
		for _, f := range []*datec.Identity{bob, carol} {
			if err := e.svc.Users.Follow(ctx, f, alice.UserID); err != nil {
				t.Fatalf("Follow() error = %v", err)
			}
		}
		d := e.create(alice, "weather")
		e.svc.Datasets.Review(ctx, admin, d.ID, datec.Approve, "")

		got, err := e.svc.Datasets.ToggleVisibility(ctx, alice, d.ID, true)
		if err != nil {
			t.Fatalf("ToggleVisibility() error = %v", err)
		}
		e.svc.Wait()
		if !got.IsPublic || !got.Visible() {
			t.Errorf("ToggleVisibility() = %+v", got)
		}

		for _, f := range []*datec.Identity{bob, carol} {
			notes, _ := e.svc.Notifications.List(ctx, f.UserID, 0)
			if len(notes) != 1 || notes[0].Kind() != model.KindNewDataset {
				t.Errorf("%s notifications = %+v, want one new dataset", f.Username, notes)
			}
		}

		// Already public: no second broadcast.
		if _, err := e.svc.Datasets.ToggleVisibility(ctx, alice, d.ID, true); err != nil {
			t.Fatalf("ToggleVisibility(again) error = %v", err)
		}
		e.svc.Wait()
		if n, _ := e.svc.Notifications.Count(ctx, bob.UserID); n != 1 {
			t.Errorf("bob notifications = %d, want 1", n)
		}

		got, err = e.svc.Datasets.ToggleVisibility(ctx, alice, d.ID, false)
		if err != nil || got.IsPublic {
			t.Errorf("ToggleVisibility(false) = %+v, %v", got, err)
		}
	})

	t.Run("rules", func(t *testing.T) {
		e := newEnv(t)
		alice := e.register("alice")
		bob := e.register("bob")
		d := e.create(alice, "weather")

		_, err := e.svc.Datasets.ToggleVisibility(ctx, alice, d.ID, true)
		wantKind(t, "ToggleVisibility(pending)", err, datec.KindInvalidState)
		_, err = e.svc.Datasets.ToggleVisibility(ctx, bob, d.ID, false)
		wantKind(t, "ToggleVisibility(non-owner)", err, datec.KindForbidden)
		if _, err := e.svc.Datasets.ToggleVisibility(ctx, alice, d.ID, false); err != nil {
			t.Errorf("ToggleVisibility(private, pending) error = %v", err)
		}
	})
}
