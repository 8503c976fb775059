package datec

import (
	"bytes"
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"datec-go/internal/model"
)

const (
	maxBioLength       = 500
	maxFullNameLength  = 100
	defaultUserResults = 20
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

// RegisterInput is a new account.
type RegisterInput struct {
	Username string
	Email    string
	FullName string
}

// ProfileInput is a partial profile update. Nil fields are left unchanged.
type ProfileInput struct {
	FullName *string
	Email    *string
	Bio      *string
}

// UserService manages accounts and the follow graph between them.
type UserService struct {
	users  UserStore
	blobs  BlobStore
	graph  GraphStore
	links  *linker
	fanout *Fanout
	sagas  *sagaRunner
	logger Logger
	clock  Clock
}

func newUserService(users UserStore, blobs BlobStore, graph GraphStore, links *linker, fanout *Fanout, sagas *sagaRunner, logger Logger, clock Clock) *UserService {
	return &UserService{
		users:  users,
		blobs:  blobs,
		graph:  graph,
		links:  links,
		fanout: fanout,
		sagas:  sagas,
		logger: logger,
		clock:  clock,
	}
}

type registerState struct {
	s    *UserService
	in   RegisterInput
	user *model.User
}

func (st *registerState) subject() string { return st.in.Username }

var registerPlan = plan[registerState]{
	name: "user.register",
	steps: []step[registerState]{
		{name: "validate", mode: Fatal, run: validateRegistration},
		{name: "insert-user", mode: Fatal, run: insertUser},
		{name: "create-graph-node", mode: Background, run: createUserNode},
	},
}

type followState struct {
	s        *UserService
	follower *Identity
	targetID string
	target   *model.User
}

func (st *followState) subject() string { return st.follower.UserID + "->" + st.targetID }

var followPlan = plan[followState]{
	name: "user.follow",
	steps: []step[followState]{
		{name: "check", mode: Fatal, run: checkFollow},
		{name: "create-edge", mode: Fatal, run: createFollowEdge},
		{name: "notify-target", mode: Background, run: notifyFollowed},
	},
}

// Register creates an account. The ID is derived from username and email.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	st := &registerState{s: s, in: in}
	if err := runSaga(ctx, s.sagas, registerPlan, st, (*registerState).subject); err != nil {
		return nil, err
	}
	return st.user, nil
}

func validateRegistration(ctx context.Context, st *registerState) error {
	const op = "user.register"
	in := &st.in
	in.Username = strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(in.Username) {
		return invalidInput(op, "username must be 3-30 letters, digits or underscores")
	}
	email, err := checkEmail(op, in.Email)
	if err != nil {
		return err
	}
	in.Email = email
	in.FullName = strings.TrimSpace(in.FullName)
	if utf8.RuneCountInString(in.FullName) > maxFullNameLength {
		return invalidInput(op, "full name must be at most %d characters", maxFullNameLength)
	}

	existing, err := st.s.users.GetUserByUsername(ctx, in.Username)
	if err != nil {
		return upstream(op, "checking username", err)
	}
	if existing != nil {
		return conflict(op, "username %s is taken", in.Username)
	}
	return nil
}

func insertUser(ctx context.Context, st *registerState) error {
	now := st.s.clock.Now()
	u := &model.User{
		ID:        UserID(st.in.Username, st.in.Email),
		Username:  st.in.Username,
		Email:     st.in.Email,
		FullName:  st.in.FullName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := st.s.users.CreateUser(ctx, u)
	if errors.Is(err, ErrDuplicate) {
		return conflict("user.register", "username or email already registered")
	}
	if err != nil {
		return upstream("user.register", "inserting user", err)
	}
	st.user = u
	return nil
}

func createUserNode(ctx context.Context, st *registerState) error {
	return st.s.graph.MergeNode(ctx, Node{
		Label: LabelUser,
		ID:    st.user.ID,
		Props: map[string]string{"username": st.user.Username},
	})
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	return s.load(ctx, "user.get", id)
}

// GetByUsername returns a user by username.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, upstream("user.get", "loading user", err)
	}
	if u == nil {
		return nil, notFound("user.get", "user %s not found", username)
	}
	return u, nil
}

// Search matches users by username or full name.
func (s *UserService) Search(ctx context.Context, query string, limit int) ([]*model.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalidInput("user.search", "search query is required")
	}
	if limit <= 0 || limit > defaultUserResults {
		limit = defaultUserResults
	}
	users, err := s.users.SearchUsers(ctx, query, limit)
	if err != nil {
		return nil, upstream("user.search", "searching users", err)
	}
	return users, nil
}

// UpdateProfile changes the caller's own profile.
func (s *UserService) UpdateProfile(ctx context.Context, actor *Identity, in ProfileInput) (*model.User, error) {
	const op = "user.update"
	if actor == nil {
		return nil, forbidden(op, "authentication required")
	}
	u, err := s.load(ctx, op, actor.UserID)
	if err != nil {
		return nil, err
	}

	if in.FullName != nil {
		name := strings.TrimSpace(*in.FullName)
		if utf8.RuneCountInString(name) > maxFullNameLength {
			return nil, invalidInput(op, "full name must be at most %d characters", maxFullNameLength)
		}
		u.FullName = name
	}
	if in.Email != nil {
		if u.Email, err = checkEmail(op, *in.Email); err != nil {
			return nil, err
		}
	}
	if in.Bio != nil {
		bio := strings.TrimSpace(*in.Bio)
		if utf8.RuneCountInString(bio) > maxBioLength {
			return nil, invalidInput(op, "bio must be at most %d characters", maxBioLength)
		}
		u.Bio = bio
	}
	u.UpdatedAt = s.clock.Now()

	err = s.users.UpdateUser(ctx, u)
	if errors.Is(err, ErrDuplicate) {
		return nil, conflict(op, "email %s is already registered", u.Email)
	}
	if err != nil {
		return nil, upstream(op, "updating user", err)
	}
	return u, nil
}

// SetAvatar replaces the caller's avatar image.
func (s *UserService) SetAvatar(ctx context.Context, actor *Identity, img FilePayload) (*model.User, error) {
	const op = "user.avatar"
	if actor == nil {
		return nil, forbidden(op, "authentication required")
	}
	if !strings.HasPrefix(img.MimeType, "image/") {
		return nil, invalidInput(op, "avatar must be an image, got %q", img.MimeType)
	}
	u, err := s.load(ctx, op, actor.UserID)
	if err != nil {
		return nil, err
	}

	if u.AvatarBlobID != "" {
		if err := s.blobs.Delete(ctx, u.AvatarBlobID); err != nil {
			s.logger.Warn("deleting old avatar failed", "user", u.ID, "blob", u.AvatarBlobID, "error", err)
		}
	}

	now := s.clock.Now()
	id := AvatarBlobID(u.ID)
	err = s.blobs.Put(ctx, id, bytes.NewReader(img.Data), BlobMeta{
		Type:       BlobUserAvatar,
		OwnerID:    u.ID,
		Filename:   img.Filename,
		MimeType:   img.MimeType,
		Size:       img.Size(),
		UploadedAt: now,
	})
	if err != nil {
		return nil, upstream(op, "uploading avatar", err)
	}

	u.AvatarBlobID = id
	u.UpdatedAt = now
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return nil, upstream(op, "updating user", err)
	}
	return u, nil
}

// ToggleAdmin flips the admin flag of target. Admins cannot demote themselves.
func (s *UserService) ToggleAdmin(ctx context.Context, admin *Identity, targetID string) (*model.User, error) {
	const op = "user.admin"
	if !admin.admin() {
		return nil, forbidden(op, "admin privileges required")
	}
	if admin.is(targetID) {
		return nil, invalidState(op, "you cannot change your own admin status")
	}
	u, err := s.load(ctx, op, targetID)
	if err != nil {
		return nil, err
	}
	u.IsAdmin = !u.IsAdmin
	u.UpdatedAt = s.clock.Now()
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return nil, upstream(op, "updating user", err)
	}
	s.logger.Info("admin status changed", "user", u.ID, "admin", u.IsAdmin, "by", admin.UserID)
	return u, nil
}

// Follow makes follower follow target and notifies the target.
func (s *UserService) Follow(ctx context.Context, follower *Identity, targetID string) error {
	if follower == nil {
		return forbidden("user.follow", "authentication required")
	}
	st := &followState{s: s, follower: follower, targetID: targetID}
	return runSaga(ctx, s.sagas, followPlan, st, (*followState).subject)
}

func checkFollow(ctx context.Context, st *followState) error {
	const op = "user.follow"
	if st.follower.is(st.targetID) {
		return invalidState(op, "you cannot follow yourself")
	}
	target, err := st.s.load(ctx, op, st.targetID)
	if err != nil {
		return err
	}
	exists, err := st.s.graph.HasEdge(ctx, EdgeFollows, st.follower.UserID, st.targetID)
	if err != nil {
		return upstream(op, "checking follow", err)
	}
	if exists {
		return conflict(op, "already following %s", target.Username)
	}
	st.target = target
	return nil
}

func createFollowEdge(ctx context.Context, st *followState) error {
	created, err := st.s.links.link(ctx, Edge{
		Type: EdgeFollows,
		From: st.follower.UserID,
		To:   st.targetID,
		At:   st.s.clock.Now(),
	})
	if err != nil {
		return err
	}
	if !created {
		return conflict("user.follow", "already following %s", st.target.Username)
	}
	return nil
}

func notifyFollowed(ctx context.Context, st *followState) error {
	n, err := st.s.fanout.New(model.NewFollower{
		FromUserID:   st.follower.UserID,
		FromUsername: st.follower.Username,
	})
	if err != nil {
		return err
	}
	return st.s.fanout.Send(ctx, st.targetID, n)
}

// Unfollow removes a follow. It is NotFound if follower does not follow target.
func (s *UserService) Unfollow(ctx context.Context, follower *Identity, targetID string) error {
	const op = "user.unfollow"
	if follower == nil {
		return forbidden(op, "authentication required")
	}
	removed, err := s.graph.DeleteEdge(ctx, EdgeFollows, follower.UserID, targetID)
	if err != nil {
		return upstream(op, "deleting follow", err)
	}
	if !removed {
		return notFound(op, "not following %s", targetID)
	}
	return nil
}

// Followers lists the users following userID, most recent first.
func (s *UserService) Followers(ctx context.Context, userID string, limit int) ([]*model.User, error) {
	return s.neighbours(ctx, "user.followers", userID, Incoming, limit)
}

// Following lists the users userID follows, most recent first.
func (s *UserService) Following(ctx context.Context, userID string, limit int) ([]*model.User, error) {
	return s.neighbours(ctx, "user.following", userID, Outgoing, limit)
}

func (s *UserService) neighbours(ctx context.Context, op, userID string, dir Direction, limit int) ([]*model.User, error) {
	if _, err := s.load(ctx, op, userID); err != nil {
		return nil, err
	}
	edges, err := s.graph.Edges(ctx, EdgeFollows, userID, dir, limit)
	if err != nil {
		return nil, upstream(op, "listing follows", err)
	}
	if len(edges) == 0 {
		return nil, nil
	}

	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.To
		if dir == Incoming {
			ids[i] = e.From
		}
	}
	users, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, upstream(op, "loading users", err)
	}

	byID := make(map[string]*model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	out := make([]*model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *UserService) load(ctx context.Context, op, id string) (*model.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, upstream(op, "loading user", err)
	}
	if u == nil {
		return nil, notFound(op, "user %s not found", id)
	}
	return u, nil
}

func checkEmail(op, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalidInput(op, "invalid email address %q", email)
	}
	return email, nil
}
