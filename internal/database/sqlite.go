// Package database implements the metadata store on SQLite.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"datec-go/internal/database/migrations"
	"datec-go/internal/datec"
	"datec-go/internal/model"
)

// SQLiteStore implements datec.MetadataStore on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	search *searchIndex
	logger datec.Logger
	path   string
}

// NewSQLiteStore opens the database at path, applies pending migrations and
// builds the search index. path can be ":memory:".
func NewSQLiteStore(path string, logger datec.Logger) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	s, err := NewSQLiteStoreFromDB(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.path = path
	return s, nil
}

// NewSQLiteStoreFromDB wraps an already-migrated connection and builds the search index.
func NewSQLiteStoreFromDB(db *sql.DB, logger datec.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = datec.NewNopLogger()
	}
	idx, err := newSearchIndex()
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db, search: idx, logger: logger}
	if err := s.reindex(context.Background()); err != nil {
		idx.close()
		return nil, err
	}
	return s, nil
}

// OpenConnection opens a SQLite connection with foreign keys enforced.
// An in-memory database is limited to one connection, since each
// connection would otherwise see its own empty database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// translate maps constraint violations onto datec.ErrDuplicate.
func translate(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %v", datec.ErrDuplicate, err)
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

// User operations

const userColumns = `id, username, email, full_name, bio, avatar_blob_id, is_admin, created_at, updated_at`

func scanUser(row scanner) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.Bio, &u.AvatarBlobID, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.FullName, u.Bio, u.AvatarBlobID, u.IsAdmin, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating user: %w", translate(err))
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by username: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUsers(ctx context.Context, ids []string) ([]*model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT ` + userColumns + ` FROM users WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("getting users: %w", err)
	}
	return collect(rows, scanUser)
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u *model.User) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET email = ?, full_name = ?, bio = ?, avatar_blob_id = ?, is_admin = ?, updated_at = ? WHERE id = ?`,
		u.Email, u.FullName, u.Bio, u.AvatarBlobID, u.IsAdmin, u.UpdatedAt.UTC(), u.ID)
	if err != nil {
		return fmt.Errorf("updating user: %w", translate(err))
	}
	return requireRow(res, "user", u.ID)
}

func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, limit int) ([]*model.User, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users
		WHERE username LIKE ? ESCAPE '\' OR full_name LIKE ? ESCAPE '\'
		ORDER BY username LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	return collect(rows, scanUser)
}

// Dataset operations

const datasetColumns = `id, owner_id, parent_id, name, description, tags, status, is_public, files,
	header_blob_id, video_url, video_platform, download_count, vote_count, comment_count,
	review_comment, reviewed_by, created_at, updated_at, reviewed_at`

func scanDataset(row scanner) (*model.Dataset, error) {
	var (
		d                  model.Dataset
		tags, files        string
		videoURL, platform string
		reviewedAt         sql.NullTime
	)
	err := row.Scan(&d.ID, &d.OwnerID, &d.ParentID, &d.Name, &d.Description, &tags, &d.Status, &d.IsPublic, &files,
		&d.HeaderBlobID, &videoURL, &platform, &d.DownloadCount, &d.VoteCount, &d.CommentCount,
		&d.ReviewComment, &d.ReviewedBy, &d.CreatedAt, &d.UpdatedAt, &reviewedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(files), &d.Files); err != nil {
		return nil, fmt.Errorf("decoding files of %s: %w", d.ID, err)
	}
	if videoURL != "" {
		d.Video = &model.VideoRef{URL: videoURL, Platform: platform}
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		d.ReviewedAt = &t
	}
	return &d, nil
}

// datasetArgs returns the column values of d in datasetColumns order.
func datasetArgs(d *model.Dataset) ([]any, error) {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}
	files := d.Files
	if files == nil {
		files = []model.FileRef{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return nil, fmt.Errorf("encoding files: %w", err)
	}

	var videoURL, platform string
	if d.Video != nil {
		videoURL, platform = d.Video.URL, d.Video.Platform
	}
	var reviewedAt sql.NullTime
	if d.ReviewedAt != nil {
		reviewedAt = sql.NullTime{Time: d.ReviewedAt.UTC(), Valid: true}
	}

	return []any{
		d.ID, d.OwnerID, d.ParentID, d.Name, d.Description, string(tagsJSON), d.Status, d.IsPublic, string(filesJSON),
		d.HeaderBlobID, videoURL, platform, d.DownloadCount, d.VoteCount, d.CommentCount,
		d.ReviewComment, d.ReviewedBy, d.CreatedAt.UTC(), d.UpdatedAt.UTC(), reviewedAt,
	}, nil
}

func (s *SQLiteStore) InsertDataset(ctx context.Context, d *model.Dataset) error {
	args, err := datasetArgs(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO datasets (`+datasetColumns+`) VALUES (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return fmt.Errorf("inserting dataset: %w", translate(err))
	}
	s.indexDataset(d)
	return nil
}

func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	d, err := scanDataset(s.db.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting dataset: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) FindDatasetByName(ctx context.Context, ownerID, name string) (*model.Dataset, error) {
	d, err := scanDataset(s.db.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE owner_id = ? AND name = ?`, ownerID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding dataset by name: %w", err)
	}
	return d, nil
}

// UpdateDataset rewrites every mutable column. The comment count is owned
// by InsertComment and is left alone.
func (s *SQLiteStore) UpdateDataset(ctx context.Context, d *model.Dataset) error {
	args, err := datasetArgs(d)
	if err != nil {
		return err
	}
	// args follow datasetColumns; id, owner_id and comment_count are skipped.
	res, err := s.db.ExecContext(ctx, `UPDATE datasets SET
		parent_id = ?, name = ?, description = ?, tags = ?, status = ?, is_public = ?, files = ?,
		header_blob_id = ?, video_url = ?, video_platform = ?, download_count = ?, vote_count = ?,
		review_comment = ?, reviewed_by = ?, created_at = ?, updated_at = ?, reviewed_at = ?
		WHERE id = ?`,
		args[2], args[3], args[4], args[5], args[6], args[7], args[8],
		args[9], args[10], args[11], args[12], args[13],
		args[15], args[16], args[17], args[18], args[19],
		d.ID)
	if err != nil {
		return fmt.Errorf("updating dataset: %w", translate(err))
	}
	if err := requireRow(res, "dataset", d.ID); err != nil {
		return err
	}
	s.indexDataset(d)
	return nil
}

// DeleteDataset removes a dataset with its votes and comments. Deleting an
// absent dataset succeeds.
func (s *SQLiteStore) DeleteDataset(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM votes WHERE dataset_id = ?`,
		`DELETE FROM comments WHERE dataset_id = ?`,
		`DELETE FROM datasets WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("deleting dataset: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	if err := s.search.remove(id); err != nil {
		s.logger.Warn("removing dataset from search index failed", "dataset", id, "error", err)
	}
	return nil
}

// MaxDatasetSequence returns the highest NNN among dataset IDs of the form
// prefix+NNN, or 0 if there are none. Usernames may contain underscores, so
// another owner's IDs can share the prefix; only a three-digit suffix counts.
func (s *SQLiteStore) MaxDatasetSequence(ctx context.Context, prefix string) (int, error) {
	var highest int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(CAST(substr(id, length(?1) + 1) AS INTEGER)), 0)
		FROM datasets
		WHERE substr(id, 1, length(?1)) = ?1
		  AND length(id) = length(?1) + 3
		  AND substr(id, length(?1) + 1) GLOB '[0-9][0-9][0-9]'`, prefix).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("reading dataset sequence: %w", err)
	}
	return highest, nil
}

func (s *SQLiteStore) ListDatasetsByOwner(ctx context.Context, ownerID string, includeHidden bool) ([]*model.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+datasetColumns+` FROM datasets
		WHERE owner_id = ? AND (? OR (status = 'approved' AND is_public = 1))
		ORDER BY created_at DESC, id DESC`, ownerID, includeHidden)
	if err != nil {
		return nil, fmt.Errorf("listing datasets by owner: %w", err)
	}
	return collect(rows, scanDataset)
}

func (s *SQLiteStore) ListClones(ctx context.Context, parentID string) ([]*model.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+datasetColumns+` FROM datasets
		WHERE parent_id = ? ORDER BY created_at DESC, id DESC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing clones: %w", err)
	}
	return collect(rows, scanDataset)
}

func (s *SQLiteStore) ListDatasetsByStatus(ctx context.Context, status model.Status, limit int) ([]*model.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+datasetColumns+` FROM datasets
		WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing datasets by status: %w", err)
	}
	return collect(rows, scanDataset)
}

// SearchDatasets returns approved, public datasets matching query, best match first.
func (s *SQLiteStore) SearchDatasets(ctx context.Context, query string, limit int) ([]*model.Dataset, error) {
	ids, err := s.search.search(query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Dataset, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetDataset(ctx, id)
		if err != nil {
			return nil, err
		}
		// The index can briefly lag a delete.
		if d != nil && d.Visible() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *SQLiteStore) indexDataset(d *model.Dataset) {
	if err := s.search.index(d); err != nil {
		s.logger.Warn("indexing dataset failed", "dataset", d.ID, "error", err)
	}
}

func (s *SQLiteStore) reindex(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+datasetColumns+` FROM datasets`)
	if err != nil {
		return fmt.Errorf("loading datasets for indexing: %w", err)
	}
	all, err := collect(rows, scanDataset)
	if err != nil {
		return err
	}
	if err := s.search.indexAll(all); err != nil {
		return fmt.Errorf("building search index: %w", err)
	}
	s.logger.Debug("search index built", "datasets", len(all))
	return nil
}

// Comment operations

const commentColumns = `id, dataset_id, author_id, parent_id, body, is_active, created_at, disabled_at, disabled_by`

func scanComment(row scanner) (*model.Comment, error) {
	var (
		c          model.Comment
		disabledAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.DatasetID, &c.AuthorID, &c.ParentID, &c.Body, &c.IsActive, &c.CreatedAt, &disabledAt, &c.DisabledBy)
	if err != nil {
		return nil, err
	}
	if disabledAt.Valid {
		t := disabledAt.Time
		c.DisabledAt = &t
	}
	return &c, nil
}

// InsertComment stores c and increments its dataset's comment count in one transaction.
func (s *SQLiteStore) InsertComment(ctx context.Context, c *model.Comment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO comments (`+commentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, NULL, '')`,
		c.ID, c.DatasetID, c.AuthorID, c.ParentID, c.Body, c.IsActive, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting comment: %w", translate(err))
	}
	res, err := tx.ExecContext(ctx, `UPDATE datasets SET comment_count = comment_count + 1 WHERE id = ?`, c.DatasetID)
	if err != nil {
		return fmt.Errorf("incrementing comment count: %w", err)
	}
	if err := requireRow(res, "dataset", c.DatasetID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetComment(ctx context.Context, id string) (*model.Comment, error) {
	c, err := scanComment(s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting comment: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListComments(ctx context.Context, datasetID string, includeInactive bool) ([]*model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments
		WHERE dataset_id = ? AND (? OR is_active = 1)
		ORDER BY created_at ASC, id ASC`, datasetID, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	return collect(rows, scanComment)
}

func (s *SQLiteStore) SetCommentActive(ctx context.Context, id string, active bool, at time.Time, by string) error {
	var (
		disabledAt sql.NullTime
		disabledBy string
	)
	if !active {
		disabledAt = sql.NullTime{Time: at.UTC(), Valid: true}
		disabledBy = by
	}
	res, err := s.db.ExecContext(ctx, `UPDATE comments SET is_active = ?, disabled_at = ?, disabled_by = ? WHERE id = ?`,
		active, disabledAt, disabledBy, id)
	if err != nil {
		return fmt.Errorf("updating comment: %w", err)
	}
	return requireRow(res, "comment", id)
}

// Vote operations

const voteColumns = `id, dataset_id, voter_id, rating, created_at, updated_at`

func scanVote(row scanner) (*model.Vote, error) {
	var v model.Vote
	if err := row.Scan(&v.ID, &v.DatasetID, &v.VoterID, &v.Rating, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLiteStore) GetVote(ctx context.Context, datasetID, voterID string) (*model.Vote, error) {
	v, err := scanVote(s.db.QueryRowContext(ctx, `SELECT `+voteColumns+` FROM votes WHERE dataset_id = ? AND voter_id = ?`, datasetID, voterID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting vote: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) InsertVote(ctx context.Context, v *model.Vote) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO votes (`+voteColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.DatasetID, v.VoterID, v.Rating, v.CreatedAt.UTC(), v.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting vote: %w", translate(err))
	}
	return nil
}

func (s *SQLiteStore) UpdateVoteRating(ctx context.Context, id string, rating int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE votes SET rating = ?, updated_at = ? WHERE id = ?`, rating, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("updating vote: %w", err)
	}
	return requireRow(res, "vote", id)
}

func (s *SQLiteStore) DeleteVote(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM votes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting vote: %w", err)
	}
	return nil
}

func (s *SQLiteStore) VoteStats(ctx context.Context, datasetID string) (int, float64, error) {
	var (
		count int
		avg   float64
	)
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(AVG(rating), 0) FROM votes WHERE dataset_id = ?`, datasetID).Scan(&count, &avg)
	if err != nil {
		return 0, 0, fmt.Errorf("computing vote stats: %w", err)
	}
	return count, avg, nil
}

// Message operations

func (s *SQLiteStore) InsertMessage(ctx context.Context, m *model.Message) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, sender_id, recipient_id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SenderID, m.RecipientID, m.Body, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting message: %w", translate(err))
	}
	return nil
}

// ListThread returns the latest limit messages between two users, oldest first.
func (s *SQLiteStore) ListThread(ctx context.Context, userA, userB string, limit int) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, sender_id, recipient_id, body, created_at FROM messages
		WHERE (sender_id = ?1 AND recipient_id = ?2) OR (sender_id = ?2 AND recipient_id = ?1)
		ORDER BY created_at DESC, id DESC LIMIT ?3`, userA, userB, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	msgs, err := collect(rows, func(row scanner) (*model.Message, error) {
		var m model.Message
		if err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		return &m, nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Saga journal

func (s *SQLiteStore) StartSagaRun(ctx context.Context, saga, subject string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO saga_runs (saga, subject, status, started_at) VALUES (?, ?, 'running', ?)`,
		saga, subject, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("starting saga run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("starting saga run: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) FinishSagaRun(ctx context.Context, run *model.SagaRun) error {
	steps := run.CompletedSteps
	if steps == nil {
		steps = []string{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("encoding completed steps: %w", err)
	}
	var finishedAt sql.NullTime
	if run.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `UPDATE saga_runs SET subject = ?, status = ?, completed_steps = ?, failed_step = ?, error = ?, finished_at = ?
		WHERE id = ?`, run.Subject, run.Status, string(stepsJSON), run.FailedStep, run.Error, finishedAt, run.ID)
	if err != nil {
		return fmt.Errorf("finishing saga run: %w", err)
	}
	return requireRow(res, "saga run", fmt.Sprint(run.ID))
}

func (s *SQLiteStore) ListSagaRuns(ctx context.Context, limit int) ([]*model.SagaRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, saga, subject, status, completed_steps, failed_step, error, started_at, finished_at
		FROM saga_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing saga runs: %w", err)
	}
	return collect(rows, func(row scanner) (*model.SagaRun, error) {
		var (
			r          model.SagaRun
			steps      string
			finishedAt sql.NullTime
		)
		if err := row.Scan(&r.ID, &r.Saga, &r.Subject, &r.Status, &steps, &r.FailedStep, &r.Error, &r.StartedAt, &finishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(steps), &r.CompletedSteps); err != nil {
			return nil, fmt.Errorf("decoding steps of run %d: %w", r.ID, err)
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			r.FinishedAt = &t
		}
		return &r, nil
	})
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteStore) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo writes a complete copy of the database to destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the search index and the database connection.
func (s *SQLiteStore) Close() error {
	return errors.Join(s.search.close(), s.db.Close())
}

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

func requireRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking %s update: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s does not exist", what, id)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ datec.MetadataStore = (*SQLiteStore)(nil)
