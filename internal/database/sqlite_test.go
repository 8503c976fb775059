package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"datec-go/internal/datec"
	"datec-go/internal/model"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// newTestStore creates an in-memory store with the schema applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:", nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUser(t *testing.T, s *SQLiteStore, id, username string) *model.User {
	t.Helper()
	u := &model.User{ID: id, Username: username, Email: username + "@example.com", CreatedAt: t0, UpdatedAt: t0}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return u
}

func mustDataset(t *testing.T, s *SQLiteStore, id, ownerID, name string, at time.Time) *model.Dataset {
	t.Helper()
	d := &model.Dataset{
		ID:          id,
		OwnerID:     ownerID,
		Name:        name,
		Description: "weather observations",
		Tags:        []string{"climate"},
		Status:      model.StatusPending,
		Files:       []model.FileRef{{BlobID: "file_" + id + "_001", Index: 1, Filename: "a.csv", Size: 3, UploadedAt: at}},
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if err := s.InsertDataset(context.Background(), d); err != nil {
		t.Fatalf("InsertDataset() error = %v", err)
	}
	return d
}

func TestSQLiteStore_Users(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when user not found", func(t *testing.T) {
		s := newTestStore(t)

		u, err := s.GetUser(ctx, "missing")
		if err != nil {
			t.Fatalf("GetUser() error = %v", err)
		}
		if u != nil {
			t.Errorf("GetUser() = %v, want nil", u)
		}
	})

	t.Run("duplicate username is ErrDuplicate", func(t *testing.T) {
		s := newTestStore(t)
		mustUser(t, s, "u1", "alice")

		err := s.CreateUser(ctx, &model.User{ID: "u2", Username: "alice", Email: "other@example.com", CreatedAt: t0, UpdatedAt: t0})
		if !errors.Is(err, datec.ErrDuplicate) {
			t.Errorf("CreateUser() error = %v, want ErrDuplicate", err)
		}
	})

	t.Run("update and search", func(t *testing.T) {
		s := newTestStore(t)
		u := mustUser(t, s, "u1", "alice")
		mustUser(t, s, "u2", "bob")

		u.FullName = "Alice Liddell"
		u.IsAdmin = true
		if err := s.UpdateUser(ctx, u); err != nil {
			t.Fatalf("UpdateUser() error = %v", err)
		}

		got, err := s.GetUserByUsername(ctx, "alice")
		if err != nil {
			t.Fatalf("GetUserByUsername() error = %v", err)
		}
		if got.FullName != "Alice Liddell" || !got.IsAdmin {
			t.Errorf("GetUserByUsername() = %+v, want updated profile", got)
		}

		found, err := s.SearchUsers(ctx, "liddell", 10)
		if err != nil {
			t.Fatalf("SearchUsers() error = %v", err)
		}
		if len(found) != 1 || found[0].ID != "u1" {
			t.Errorf("SearchUsers() = %v, want [u1]", found)
		}

		many, err := s.GetUsers(ctx, []string{"u1", "u2", "u3"})
		if err != nil {
			t.Fatalf("GetUsers() error = %v", err)
		}
		if len(many) != 2 {
			t.Errorf("len(GetUsers()) = %d, want 2", len(many))
		}
	})

	t.Run("search escapes wildcards", func(t *testing.T) {
		s := newTestStore(t)
		mustUser(t, s, "u1", "alice")

		found, err := s.SearchUsers(ctx, "%", 10)
		if err != nil {
			t.Fatalf("SearchUsers() error = %v", err)
		}
		if len(found) != 0 {
			t.Errorf("SearchUsers(%%) = %v, want none", found)
		}
	})
}

func TestSQLiteStore_Datasets(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips every field", func(t *testing.T) {
		s := newTestStore(t)
		mustUser(t, s, "u1", "alice")
		d := mustDataset(t, s, "alice_20250101_001", "u1", "weather", t0)

		reviewed := t0.Add(time.Hour)
		d.Status = model.StatusApproved
		d.IsPublic = true
		d.Video = &model.VideoRef{URL: "https://youtu.be/x", Platform: "youtube"}
		d.ReviewedAt = &reviewed
		d.ReviewedBy = "admin"
		if err := s.UpdateDataset(ctx, d); err != nil {
			t.Fatalf("UpdateDataset() error = %v", err)
		}

		got, err := s.GetDataset(ctx, d.ID)
		if err != nil {
			t.Fatalf("GetDataset() error = %v", err)
		}
		if got.Status != model.StatusApproved || !got.IsPublic {
			t.Errorf("status = %s public = %v, want approved public", got.Status, got.IsPublic)
		}
		if got.Video == nil || got.Video.Platform != "youtube" {
			t.Errorf("Video = %v, want youtube", got.Video)
		}
		if got.ReviewedAt == nil || !got.ReviewedAt.Equal(reviewed) {
			t.Errorf("ReviewedAt = %v, want %v", got.ReviewedAt, reviewed)
		}
		if len(got.Files) != 1 || got.Files[0].BlobID != "file_alice_20250101_001_001" {
			t.Errorf("Files = %v, want one file", got.Files)
		}
		if len(got.Tags) != 1 || got.Tags[0] != "climate" {
			t.Errorf("Tags = %v, want [climate]", got.Tags)
		}
	})

	t.Run("name is unique per owner", func(t *testing.T) {
		s := newTestStore(t)
		mustUser(t, s, "u1", "alice")
		mustUser(t, s, "u2", "bob")
		mustDataset(t, s, "alice_20250101_001", "u1", "weather", t0)
		mustDataset(t, s, "bob_20250101_001", "u2", "weather", t0)

		err := s.InsertDataset(ctx, &model.Dataset{ID: "alice_20250101_002", OwnerID: "u1", Name: "weather", Description: "again", Status: model.StatusPending, CreatedAt: t0, UpdatedAt: t0})
		if !errors.Is(err, datec.ErrDuplicate) {
			t.Errorf("InsertDataset() error = %v, want ErrDuplicate", err)
		}

		found, err := s.FindDatasetByName(ctx, "u2", "weather")
		if err != nil {
			t.Fatalf("FindDatasetByName() error = %v", err)
		}
		if found == nil || found.ID != "bob_20250101_001" {
			t.Errorf("FindDatasetByName() = %v, want bob's dataset", found)
		}
	})

	t.Run("max sequence ignores other prefixes", func(t *testing.T) {
		s := newTestStore(t)
		mustUser(t, s, "u1", "alice")
		mustDataset(t, s, "alice_20250101_001", "u1", "one", t0)
		mustDataset(t, s, "alice_20250101_007", "u1", "two", t0)
		mustDataset(t, s, "alice_20250102_009", "u1", "three", t0)

		got, err := s.MaxDatasetSequence(ctx, "alice_20250101_")
		if err != nil {
			t.Fatalf("MaxDatasetSequence() error = %v", err)
		}
		if got != 7 {
			t.Errorf("MaxDatasetSequence() = %d, want 7", got)
		}

		got, err = s.MaxDatasetSequence(ctx, "bob_20250101_")
		if err != nil {
			t.Fatalf("MaxDatasetSequence() error = %v", err)
		}
		if got != 0 {
			t.Errorf("MaxDatasetSequence() = %d, want 0", got)
		}
	})

	t.Run("max sequence ignores owners sharing the prefix", func(t *testing.T) {
		s := newTestStore(t)
		mustUser(t, s, "u1", "alice")
		mustUser(t, s, "u2", "alice_20250101")
		mustDataset(t, s, "alice_20250101_20250101_001", "u2", "theirs", t0)
		mustDataset(t, s, "alice_20250101_004", "u1", "mine", t0)

		got, err := s.MaxDatasetSequence(ctx, "alice_20250101_")
		if err != nil {
			t.Fatalf("MaxDatasetSequence() error = %v", err)
		}
		if got != 4 {
			t.Errorf("MaxDatasetSequence() = %d, want 4", got)
		}

		got, err = s.MaxDatasetSequence(ctx, "alice_20250101_20250101_")
		if err != nil {
			t.Fatalf("MaxDatasetSequence() error = %v", err)
		}
		if got != 1 {
			t.Errorf("MaxDatasetSequence() = %d, want 1", got)
		}
	})

	t.Run("lists by owner hide unpublished datasets", func(t *testing.T) {
		s := newTestStore(t)
		mustUser(t, s, "u1", "alice")
		mustDataset(t, s, "alice_20250101_001", "u1", "hidden", t0)
		pub := mustDataset(t, s, "alice_20250101_002", "u1", "shown", t0.Add(time.Minute))
		pub.Status, pub.IsPublic = model.StatusApproved, true
		if err := s.UpdateDataset(ctx, pub); err != nil {
			t.Fatalf("UpdateDataset() error = %v", err)
		}

		all, err := s.ListDatasetsByOwner(ctx, "u1", true)
		if err != nil {
			t.Fatalf("ListDatasetsByOwner() error = %v", err)
		}
		if len(all) != 2 || all[0].ID != pub.ID {
			t.Errorf("ListDatasetsByOwner(all) = %d datasets, want 2 newest first", len(all))
		}

		visible, err := s.ListDatasetsByOwner(ctx, "u1", false)
		if err != nil {
			t.Fatalf("ListDatasetsByOwner() error = %v", err)
		}
		if len(visible) != 1 || visible[0].ID != pub.ID {
			t.Errorf("ListDatasetsByOwner(visible) = %v, want [%s]", visible, pub.ID)
		}

		pending, err := s.ListDatasetsByStatus(ctx, model.StatusPending, 10)
		if err != nil {
			t.Fatalf("ListDatasetsByStatus() error = %v", err)
		}
		if len(pending) != 1 {
			t.Errorf("len(ListDatasetsByStatus(pending)) = %d, want 1", len(pending))
		}
	})

	t.Run("delete cascades to votes and comments", func(t *testing.T) {
		s := newTestStore(t)
		mustUser(t, s, "u1", "alice")
		d := mustDataset(t, s, "alice_20250101_001", "u1", "weather", t0)

		if err := s.InsertVote(ctx, &model.Vote{ID: "v1", DatasetID: d.ID, VoterID: "u2", Rating: 4, CreatedAt: t0, UpdatedAt: t0}); err != nil {
			t.Fatalf("InsertVote() error = %v", err)
		}
		if err := s.InsertComment(ctx, &model.Comment{ID: "c1", DatasetID: d.ID, AuthorID: "u2", Body: "nice", IsActive: true, CreatedAt: t0}); err != nil {
			t.Fatalf("InsertComment() error = %v", err)
		}

		if err := s.DeleteDataset(ctx, d.ID); err != nil {
			t.Fatalf("DeleteDataset() error = %v", err)
		}
		if got, _ := s.GetDataset(ctx, d.ID); got != nil {
			t.Error("GetDataset() after delete returned dataset")
		}
		if c, _ := s.GetComment(ctx, "c1"); c != nil {
			t.Error("comment survived dataset delete")
		}
		if count, _, _ := s.VoteStats(ctx, d.ID); count != 0 {
			t.Errorf("VoteStats() count = %d after delete, want 0", count)
		}
		if err := s.DeleteDataset(ctx, d.ID); err != nil {
			t.Errorf("DeleteDataset() of absent dataset error = %v", err)
		}
	})
}

func TestSQLiteStore_SearchDatasets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustUser(t, s, "u1", "alice")

	hidden := mustDataset(t, s, "alice_20250101_001", "u1", "rainfall-hidden", t0)
	shown := mustDataset(t, s, "alice_20250101_002", "u1", "rainfall-shown", t0)
	shown.Status, shown.IsPublic = model.StatusApproved, true
	if err := s.UpdateDataset(ctx, shown); err != nil {
		t.Fatalf("UpdateDataset() error = %v", err)
	}

	got, err := s.SearchDatasets(ctx, "rainfall", 10)
	if err != nil {
		t.Fatalf("SearchDatasets() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != shown.ID {
		t.Errorf("SearchDatasets() = %v, want only %s (not %s)", got, shown.ID, hidden.ID)
	}

	byTag, err := s.SearchDatasets(ctx, "climate", 10)
	if err != nil {
		t.Fatalf("SearchDatasets() error = %v", err)
	}
	if len(byTag) != 1 {
		t.Errorf("len(SearchDatasets(tag)) = %d, want 1", len(byTag))
	}

	t.Run("index is rebuilt on open", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "datec.db")
		first, err := NewSQLiteStore(path, nil)
		if err != nil {
			t.Fatalf("NewSQLiteStore() error = %v", err)
		}
		mustUser(t, first, "u1", "alice")
		d := mustDataset(t, first, "alice_20250101_001", "u1", "snowfall", t0)
		d.Status, d.IsPublic = model.StatusApproved, true
		if err := first.UpdateDataset(ctx, d); err != nil {
			t.Fatalf("UpdateDataset() error = %v", err)
		}
		first.Close()

		second, err := NewSQLiteStore(path, nil)
		if err != nil {
			t.Fatalf("NewSQLiteStore() reopen error = %v", err)
		}
		defer second.Close()

		got, err := second.SearchDatasets(ctx, "snowfall", 10)
		if err != nil {
			t.Fatalf("SearchDatasets() error = %v", err)
		}
		if len(got) != 1 {
			t.Errorf("len(SearchDatasets()) after reopen = %d, want 1", len(got))
		}
	})
}

func TestSQLiteStore_Comments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustUser(t, s, "u1", "alice")
	d := mustDataset(t, s, "alice_20250101_001", "u1", "weather", t0)

	for i, id := range []string{"c1", "c2"} {
		c := &model.Comment{ID: id, DatasetID: d.ID, AuthorID: "u1", Body: "hi", IsActive: true, CreatedAt: t0.Add(time.Duration(i) * time.Second)}
		if err := s.InsertComment(ctx, c); err != nil {
			t.Fatalf("InsertComment() error = %v", err)
		}
	}

	got, _ := s.GetDataset(ctx, d.ID)
	if got.CommentCount != 2 {
		t.Errorf("CommentCount = %d, want 2", got.CommentCount)
	}

	t.Run("insert into missing dataset rolls back", func(t *testing.T) {
		err := s.InsertComment(ctx, &model.Comment{ID: "c9", DatasetID: "nope", AuthorID: "u1", Body: "x", IsActive: true, CreatedAt: t0})
		if err == nil {
			t.Fatal("InsertComment() error = nil, want error")
		}
		if c, _ := s.GetComment(ctx, "c9"); c != nil {
			t.Error("comment persisted despite failed insert")
		}
	})

	t.Run("disable hides from active listing", func(t *testing.T) {
		if err := s.SetCommentActive(ctx, "c1", false, t0, "admin"); err != nil {
			t.Fatalf("SetCommentActive() error = %v", err)
		}

		active, err := s.ListComments(ctx, d.ID, false)
		if err != nil {
			t.Fatalf("ListComments() error = %v", err)
		}
		if len(active) != 1 || active[0].ID != "c2" {
			t.Errorf("ListComments(active) = %v, want [c2]", active)
		}

		all, _ := s.ListComments(ctx, d.ID, true)
		if len(all) != 2 {
			t.Errorf("len(ListComments(all)) = %d, want 2", len(all))
		}

		c, _ := s.GetComment(ctx, "c1")
		if c.DisabledAt == nil || c.DisabledBy != "admin" {
			t.Errorf("disabled comment = %+v, want disabled_at and disabled_by set", c)
		}

		if err := s.SetCommentActive(ctx, "c1", true, t0, "admin"); err != nil {
			t.Fatalf("SetCommentActive() error = %v", err)
		}
		c, _ = s.GetComment(ctx, "c1")
		if !c.IsActive || c.DisabledAt != nil {
			t.Errorf("enabled comment = %+v, want active with no disabled_at", c)
		}
	})
}

func TestSQLiteStore_Votes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustUser(t, s, "u1", "alice")
	d := mustDataset(t, s, "alice_20250101_001", "u1", "weather", t0)

	v := &model.Vote{ID: "vote_x_user_u2", DatasetID: d.ID, VoterID: "u2", Rating: 3, CreatedAt: t0, UpdatedAt: t0}
	if err := s.InsertVote(ctx, v); err != nil {
		t.Fatalf("InsertVote() error = %v", err)
	}
	if err := s.InsertVote(ctx, v); !errors.Is(err, datec.ErrDuplicate) {
		t.Errorf("second InsertVote() error = %v, want ErrDuplicate", err)
	}
	if err := s.InsertVote(ctx, &model.Vote{ID: "v3", DatasetID: d.ID, VoterID: "u3", Rating: 4, CreatedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatalf("InsertVote() error = %v", err)
	}

	if err := s.UpdateVoteRating(ctx, v.ID, 5, t0.Add(time.Hour)); err != nil {
		t.Fatalf("UpdateVoteRating() error = %v", err)
	}

	count, avg, err := s.VoteStats(ctx, d.ID)
	if err != nil {
		t.Fatalf("VoteStats() error = %v", err)
	}
	if count != 2 || avg != 4.5 {
		t.Errorf("VoteStats() = (%d, %v), want (2, 4.5)", count, avg)
	}

	got, _ := s.GetVote(ctx, d.ID, "u2")
	if got == nil || got.Rating != 5 {
		t.Errorf("GetVote() = %v, want rating 5", got)
	}

	if err := s.DeleteVote(ctx, v.ID); err != nil {
		t.Fatalf("DeleteVote() error = %v", err)
	}
	if got, _ := s.GetVote(ctx, d.ID, "u2"); got != nil {
		t.Errorf("GetVote() after delete = %v, want nil", got)
	}
}

func TestSQLiteStore_ListThread(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustUser(t, s, "a", "alice")
	mustUser(t, s, "b", "bob")
	mustUser(t, s, "c", "carol")

	msgs := []*model.Message{
		{ID: "m1", SenderID: "a", RecipientID: "b", Body: "hi", CreatedAt: t0},
		{ID: "m2", SenderID: "b", RecipientID: "a", Body: "hey", CreatedAt: t0.Add(time.Second)},
		{ID: "m3", SenderID: "a", RecipientID: "c", Body: "other", CreatedAt: t0.Add(2 * time.Second)},
		{ID: "m4", SenderID: "a", RecipientID: "b", Body: "bye", CreatedAt: t0.Add(3 * time.Second)},
	}
	for _, m := range msgs {
		if err := s.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage() error = %v", err)
		}
	}

	got, err := s.ListThread(ctx, "b", "a", 2)
	if err != nil {
		t.Fatalf("ListThread() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "m2" || got[1].ID != "m4" {
		t.Errorf("ListThread() = %v, want [m2 m4]", got)
	}
}

func TestSQLiteStore_SagaJournal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.StartSagaRun(ctx, "dataset.create", "alice/weather", t0)
	if err != nil {
		t.Fatalf("StartSagaRun() error = %v", err)
	}

	finished := t0.Add(time.Second)
	run := &model.SagaRun{
		ID:             id,
		Saga:           "dataset.create",
		Subject:        "alice_20250101_001",
		Status:         "failed",
		CompletedSteps: []string{"validate", "mint-id"},
		FailedStep:     "upload-blobs",
		Error:          "boom",
		FinishedAt:     &finished,
	}
	if err := s.FinishSagaRun(ctx, run); err != nil {
		t.Fatalf("FinishSagaRun() error = %v", err)
	}

	runs, err := s.ListSagaRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListSagaRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(ListSagaRuns()) = %d, want 1", len(runs))
	}
	got := runs[0]
	if got.Subject != "alice_20250101_001" || got.FailedStep != "upload-blobs" || len(got.CompletedSteps) != 2 {
		t.Errorf("ListSagaRuns()[0] = %+v, want finished run", got)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}
}

func TestSQLiteStore_BackupTo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustUser(t, s, "u1", "alice")

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := s.BackupTo(ctx, dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	restored, err := NewSQLiteStore(dest, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore(backup) error = %v", err)
	}
	defer restored.Close()

	u, err := restored.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u == nil {
		t.Error("GetUser() on backup = nil, want user")
	}
}
