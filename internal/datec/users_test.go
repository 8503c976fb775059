package datec_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"datec-go/internal/datec"
	"datec-go/internal/model"
)

func TestUserService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the record and graph node", func(t *testing.T) {
		e := newEnv(t)
		u, err := e.svc.Users.Register(ctx, datec.RegisterInput{Username: " alice ", Email: " Alice@Example.COM ", FullName: " Alice A "})
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		e.svc.Wait()

		if u.Username != "alice" || u.Email != "alice@example.com" || u.FullName != "Alice A" {
			t.Errorf("Register() = %+v", u)
		}
		if u.ID != datec.UserID("alice", "alice@example.com") {
			t.Errorf("ID = %s, want derived from username and email", u.ID)
		}
		node, _ := e.stores.Graph.Node(ctx, datec.LabelUser, u.ID)
		if node == nil || node.Props["username"] != "alice" {
			t.Errorf("graph node = %+v", node)
		}

		got, err := e.svc.Users.GetByUsername(ctx, "alice")
		if err != nil || got.ID != u.ID {
			t.Errorf("GetByUsername() = %+v, %v", got, err)
		}
	})

	t.Run("validation and conflicts", func(t *testing.T) {
		e := newEnv(t)
		e.register("alice")

		tests := []struct {
			name string
			in   datec.RegisterInput
			want datec.Kind
		}{
			{"short username", datec.RegisterInput{Username: "al", Email: "a@example.com"}, datec.KindInvalidInput},
			{"bad characters", datec.RegisterInput{Username: "al ice", Email: "a@example.com"}, datec.KindInvalidInput},
			{"bad email", datec.RegisterInput{Username: "bobby", Email: "not-an-email"}, datec.KindInvalidInput},
			{"named email", datec.RegisterInput{Username: "bobby", Email: "Bob <bob@example.com>"}, datec.KindInvalidInput},
			{"taken username", datec.RegisterInput{Username: "ALICE", Email: "other@example.com"}, datec.KindConflict},
			{"taken email", datec.RegisterInput{Username: "alice2", Email: "alice@example.com"}, datec.KindConflict},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := e.svc.Users.Register(ctx, tt.in)
				wantKind(t, "Register()", err, tt.want)
			})
		}
	})
}

func TestUserService_Profile(t *testing.T) {
	ctx := context.Background()
	str := func(s string) *string { return &s }

	e := newEnv(t)
	alice := e.register("alice")
	e.register("bob")

	u, err := e.svc.Users.UpdateProfile(ctx, alice, datec.ProfileInput{FullName: str("Alice"), Bio: str(" hello ")})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if u.FullName != "Alice" || u.Bio != "hello" || u.Email != "alice@example.com" {
		t.Errorf("UpdateProfile() = %+v", u)
	}

	_, err = e.svc.Users.UpdateProfile(ctx, alice, datec.ProfileInput{Email: str("bob@example.com")})
	wantKind(t, "UpdateProfile(taken email)", err, datec.KindConflict)
	_, err = e.svc.Users.UpdateProfile(ctx, alice, datec.ProfileInput{Email: str("nope")})
	wantKind(t, "UpdateProfile(bad email)", err, datec.KindInvalidInput)
	_, err = e.svc.Users.UpdateProfile(ctx, nil, datec.ProfileInput{})
	wantKind(t, "UpdateProfile(anonymous)", err, datec.KindForbidden)

	found, err := e.svc.Users.Search(ctx, "ali", 0)
	if err != nil || len(found) != 1 || found[0].ID != alice.UserID {
		t.Errorf("Search() = %v, %v, want alice", found, err)
	}
	_, err = e.svc.Users.Search(ctx, " ", 0)
	wantKind(t, "Search(empty)", err, datec.KindInvalidInput)
}

func TestUserService_SetAvatar(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.register("alice")

	if _, err := e.svc.Users.SetAvatar(ctx, alice, pngFile("me.png")); err != nil {
		t.Fatalf("SetAvatar() error = %v", err)
	}
	second := datec.FilePayload{Filename: "me2.png", MimeType: "image/png", Data: []byte("second")}
	u, err := e.svc.Users.SetAvatar(ctx, alice, second)
	if err != nil {
		t.Fatalf("SetAvatar(again) error = %v", err)
	}
	if u.AvatarBlobID != datec.AvatarBlobID(alice.UserID) {
		t.Errorf("AvatarBlobID = %s", u.AvatarBlobID)
	}

	var buf bytes.Buffer
	meta, err := e.stores.Blobs.Get(ctx, u.AvatarBlobID, &buf)
	if err != nil {
		t.Fatalf("Get(avatar) error = %v", err)
	}
	if buf.String() != "second" || meta.Type != datec.BlobUserAvatar {
		t.Errorf("avatar = %q %+v", buf.String(), meta)
	}

	_, err = e.svc.Users.SetAvatar(ctx, alice, csvFile("a.csv", "x"))
	wantKind(t, "SetAvatar(csv)", err, datec.KindInvalidInput)
}

func TestUserService_ToggleAdmin(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.register("alice")
	admin := e.admin("root")

	_, err := e.svc.Users.ToggleAdmin(ctx, alice, admin.UserID)
	wantKind(t, "ToggleAdmin(non-admin)", err, datec.KindForbidden)
	_, err = e.svc.Users.ToggleAdmin(ctx, admin, admin.UserID)
	wantKind(t, "ToggleAdmin(self)", err, datec.KindInvalidState)

	u, err := e.svc.Users.ToggleAdmin(ctx, admin, alice.UserID)
	if err != nil || !u.IsAdmin {
		t.Fatalf("ToggleAdmin() = %+v, %v, want admin", u, err)
	}
	u, _ = e.svc.Users.ToggleAdmin(ctx, admin, alice.UserID)
	if u.IsAdmin {
		t.Error("second ToggleAdmin() did not demote")
	}
	if !e.logger.Has("INFO", "admin status changed", "user", alice.UserID) {
		t.Error("admin change not logged")
	}
}

func TestUserService_Follow(t *testing.T) {
	ctx := context.Background()

	t.Run("follow, list and unfollow", func(t *testing.T) {
		e := newEnv(t)
		alice := e.register("alice")
		bob := e.register("bob")
		carol := e.register("carol")

		if err := e.svc.Users.Follow(ctx, bob, alice.UserID); err != nil {
			t.Fatalf("Follow() error = %v", err)
		}
		e.svc.Wait()
		e.clock.Advance(time.Minute)
		if err := e.svc.Users.Follow(ctx, carol, alice.UserID); err != nil {
			t.Fatalf("Follow() error = %v", err)
		}
		e.svc.Users.Follow(ctx, bob, carol.UserID)
		e.svc.Wait()

		followers, err := e.svc.Users.Followers(ctx, alice.UserID, 0)
		if err != nil {
			t.Fatalf("Followers() error = %v", err)
		}
		if len(followers) != 2 || followers[0].ID != carol.UserID || followers[1].ID != bob.UserID {
			t.Errorf("Followers() = %v, want carol then bob", followers)
		}
		following, _ := e.svc.Users.Following(ctx, bob.UserID, 0)
		if len(following) != 2 {
			t.Errorf("Following() = %d, want 2", len(following))
		}

		notes, _ := e.svc.Notifications.List(ctx, alice.UserID, 0)
		if len(notes) != 2 || notes[0].Kind() != model.KindNewFollower {
			t.Fatalf("alice notifications = %+v, want two new followers", notes)
		}
		if p := notes[0].Payload.(model.NewFollower); p.FromUsername != "carol" {
			t.Errorf("newest follower = %s, want carol", p.FromUsername)
		}

		if err := e.svc.Users.Unfollow(ctx, bob, alice.UserID); err != nil {
			t.Fatalf("Unfollow() error = %v", err)
		}
		err = e.svc.Users.Unfollow(ctx, bob, alice.UserID)
		wantKind(t, "Unfollow(again)", err, datec.KindNotFound)
		if followers, _ := e.svc.Users.Followers(ctx, alice.UserID, 0); len(followers) != 1 {
			t.Errorf("Followers() after unfollow = %d, want 1", len(followers))
		}
	})

	t.Run("rules", func(t *testing.T) {
		e := newEnv(t)
		alice := e.register("alice")
		bob := e.register("bob")

		err := e.svc.Users.Follow(ctx, nil, alice.UserID)
		wantKind(t, "Follow(anonymous)", err, datec.KindForbidden)
		err = e.svc.Users.Follow(ctx, alice, alice.UserID)
		wantKind(t, "Follow(self)", err, datec.KindInvalidState)
		err = e.svc.Users.Follow(ctx, alice, "missing")
		wantKind(t, "Follow(missing)", err, datec.KindNotFound)

		if err := e.svc.Users.Follow(ctx, bob, alice.UserID); err != nil {
			t.Fatalf("Follow() error = %v", err)
		}
		err = e.svc.Users.Follow(ctx, bob, alice.UserID)
		wantKind(t, "Follow(again)", err, datec.KindConflict)
	})

	t.Run("missing graph nodes are recreated", func(t *testing.T) {
		e := newEnv(t)
		alice := e.register("alice")
		bob := e.register("bob")
		e.svc.Wait()
		e.stores.Graph.DeleteNode(ctx, datec.LabelUser, alice.UserID)

		if err := e.svc.Users.Follow(ctx, bob, alice.UserID); err != nil {
			t.Fatalf("Follow() error = %v", err)
		}
		if ok, _ := e.stores.Graph.HasEdge(ctx, datec.EdgeFollows, bob.UserID, alice.UserID); !ok {
			t.Error("follow edge missing")
		}
		if n, _ := e.stores.Graph.Node(ctx, datec.LabelUser, alice.UserID); n == nil {
			t.Error("user node not recreated")
		}
	})
}
