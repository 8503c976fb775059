package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"datec-go/internal/blob"
	"datec-go/internal/config"
	"datec-go/internal/database"
	"datec-go/internal/datec"
	"datec-go/internal/encryption"
	"datec-go/internal/ephemeral"
	"datec-go/internal/graph"
	"datec-go/internal/metrics"
	"datec-go/internal/model"
	"datec-go/internal/upload"
)

// Options carries the secrets that are kept out of the config file.
type Options struct {
	// Passphrase unlocks the age identity. Without it encrypted blobs can be
	// written but not read.
	Passphrase string

	S3AccessKeyID     string
	S3SecretAccessKey string
}

// OptionsFromEnv reads Options from DATEC_PASSPHRASE, DATEC_S3_ACCESS_KEY_ID
// and DATEC_S3_SECRET_ACCESS_KEY.
func OptionsFromEnv() Options {
	return Options{
		Passphrase:        os.Getenv("DATEC_PASSPHRASE"),
		S3AccessKeyID:     os.Getenv("DATEC_S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("DATEC_S3_SECRET_ACCESS_KEY"),
	}
}

// DatecApp is the application layer between the CLI and the core service.
// It constructs all stores from config, resolves usernames and local paths
// for the CLI, and closes everything on Close.
type DatecApp struct {
	cfg      *config.Config
	meta     *database.SQLiteStore
	blobs    datec.BlobStore
	graph    *graph.BadgerStore
	eph      datec.EphemeralStore
	replica  datec.EphemeralStore
	recorder *metrics.Recorder
	loader   *upload.Loader
	service  *datec.Service
	logger   datec.Logger
	op       *Operation
	logFile  *os.File
}

// NewDatecApp creates a fully wired DatecApp from the given config.
// operation identifies the CLI command being run (e.g. "dataset create").
// The caller must call Close when done.
func NewDatecApp(ctx context.Context, cfg *config.Config, operation string, args []string, opts Options) (*DatecApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Background.TaskTimeout()
	if err != nil {
		return nil, err
	}

	op := NewOperation(operation, args, time.Now())
	sl, logFile, err := newLogger(cfg.LogDir, op.ID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl}

	a := &DatecApp{cfg: cfg, logger: logger, op: op, logFile: logFile}
	if err := a.openStores(ctx, opts); err != nil {
		a.closeStores()
		logFile.Close()
		return nil, err
	}

	a.recorder = metrics.NewRecorder()
	a.loader = upload.NewLoader(cfg.Limits)
	a.service = datec.NewService(datec.Stores{
		Metadata:  a.meta,
		Blobs:     a.blobs,
		Graph:     a.graph,
		Ephemeral: a.eph,
		Replica:   a.replica,
	}, datec.Options{
		Logger:      logger,
		Metrics:     a.recorder,
		TaskTimeout: timeout,
		MaxFiles:    cfg.Limits.WithDefaults().MaxFiles,
	})

	logger.Debug("operation started", "operation", op.Name, "args", op.Args)
	return a, nil
}

func (a *DatecApp) openStores(ctx context.Context, opts Options) error {
	meta, err := database.NewMetadataStoreFromConfig(a.cfg.Database, a.logger)
	if err != nil {
		return fmt.Errorf("creating metadata store: %w", err)
	}
	a.meta = meta
	if err := meta.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	blobOpts := blob.Options{
		S3AccessKeyID:     opts.S3AccessKeyID,
		S3SecretAccessKey: opts.S3SecretAccessKey,
	}
	if a.cfg.Blob.Encrypt {
		keyring, err := encryption.NewKeyringFromConfig(a.cfg.Encryption)
		if err != nil {
			return fmt.Errorf("creating keyring: %w", err)
		}
		if !keyring.IsConfigured() {
			return errors.New("blob encryption is enabled but no key pair exists: run 'datec keys init'")
		}
		blobOpts.Encrypter = keyring
		if opts.Passphrase != "" {
			id, err := keyring.Unlock(opts.Passphrase)
			if err != nil {
				return fmt.Errorf("unlocking private key: %w", err)
			}
			blobOpts.Decrypter = id
		}
	}
	blobs, err := blob.NewStoreFromConfig(ctx, a.cfg.Blob, blobOpts)
	if err != nil {
		return fmt.Errorf("creating blob store: %w", err)
	}
	a.blobs = blobs

	g, err := graph.NewStoreFromConfig(a.cfg.Graph, a.logger)
	if err != nil {
		return fmt.Errorf("creating graph store: %w", err)
	}
	a.graph = g

	eph, replica, err := ephemeral.NewStoresFromConfig(ctx, a.cfg.Ephemeral, a.logger)
	if err != nil {
		return fmt.Errorf("creating ephemeral store: %w", err)
	}
	a.eph, a.replica = eph, replica

	a.logger.Debug("stores opened",
		"database", a.cfg.Database.Type,
		"blob", a.cfg.Blob.Type,
		"encrypted", a.cfg.Blob.Encrypt,
		"graph", a.cfg.Graph.Type,
		"ephemeral", a.cfg.Ephemeral.Type,
		"replica", replica != nil,
	)
	return nil
}

// Service returns the core service.
func (a *DatecApp) Service() *datec.Service {
	return a.service
}

// Identity resolves a username into the caller identity. An empty username
// is the anonymous caller.
func (a *DatecApp) Identity(ctx context.Context, username string) (*datec.Identity, error) {
	if username == "" {
		return nil, nil
	}
	u, err := a.service.Users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return &datec.Identity{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}, nil
}

// DatasetRequest is a create request with local file paths.
type DatasetRequest struct {
	Name        string
	Description string
	Tags        []string
	FilePaths   []string // files or directories
	HeaderPath  string
	VideoURL    string
}

// CreateDataset loads the files from disk and creates the dataset.
func (a *DatecApp) CreateDataset(ctx context.Context, owner *datec.Identity, req DatasetRequest) (*model.Dataset, error) {
	files, err := a.loader.LoadFiles(req.FilePaths)
	if err != nil {
		return nil, err
	}
	in := datec.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Files:       files,
		VideoURL:    req.VideoURL,
	}
	if req.HeaderPath != "" {
		header, err := a.loader.Load(req.HeaderPath, upload.HeaderImage)
		if err != nil {
			return nil, err
		}
		in.Header = &header
	}
	return a.service.Datasets.Create(ctx, owner, in)
}

// UpdateRequest is an update request with local file paths. Nil fields are unchanged.
type UpdateRequest struct {
	Name         *string
	Description  *string
	Tags         *[]string
	VideoURL     *string
	RemoveFiles  []string
	AddPaths     []string
	HeaderPath   string
	RemoveHeader bool
}

// UpdateDataset loads any added files from disk and applies the update.
func (a *DatecApp) UpdateDataset(ctx context.Context, owner *datec.Identity, id string, req UpdateRequest) (*model.Dataset, error) {
	in := datec.UpdateInput{
		Name:         req.Name,
		Description:  req.Description,
		Tags:         req.Tags,
		VideoURL:     req.VideoURL,
		RemoveFiles:  req.RemoveFiles,
		RemoveHeader: req.RemoveHeader,
	}
	if len(req.AddPaths) > 0 {
		files, err := a.loader.LoadFiles(req.AddPaths)
		if err != nil {
			return nil, err
		}
		in.AddFiles = files
	}
	if req.HeaderPath != "" {
		header, err := a.loader.Load(req.HeaderPath, upload.HeaderImage)
		if err != nil {
			return nil, err
		}
		in.Header = &header
	}
	return a.service.Datasets.Update(ctx, owner, id, in)
}

// SetAvatar loads an image from disk and makes it the caller's avatar.
func (a *DatecApp) SetAvatar(ctx context.Context, actor *datec.Identity, path string) (*model.User, error) {
	img, err := a.loader.Load(path, upload.Avatar)
	if err != nil {
		return nil, err
	}
	return a.service.Users.SetAvatar(ctx, actor, img)
}

// GrantAdmin makes a user an administrator without an acting admin. It is
// the operator's way to bootstrap the first admin from the local CLI.
func (a *DatecApp) GrantAdmin(ctx context.Context, username string) (*model.User, error) {
	u, err := a.service.Users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u.IsAdmin {
		return u, nil
	}
	u.IsAdmin = true
	if err := a.meta.UpdateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("granting admin: %w", err)
	}
	a.logger.Info("admin granted by operator", "user", u.ID)
	return u, nil
}

// Fail marks the running operation as failed.
func (a *DatecApp) Fail(err error) {
	a.op.Fail(err)
}

// Close waits for background work, writes the metrics textfile and closes
// all stores. It returns the first error it meets.
func (a *DatecApp) Close() error {
	var firstErr error

	a.service.Wait()

	if err := a.recorder.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
		firstErr = err
	}

	if err := a.closeStores(); err != nil && firstErr == nil {
		firstErr = err
	}

	if a.op.Err != nil {
		a.logger.Error("operation failed", "operation", a.op.Name, "elapsed", a.op.Elapsed(time.Now()), "error", a.op.Err)
	} else {
		a.logger.Info("operation finished", "operation", a.op.Name, "elapsed", a.op.Elapsed(time.Now()))
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

func (a *DatecApp) closeStores() error {
	var errs []error
	if a.replica != nil {
		errs = append(errs, a.replica.Close())
	}
	if a.eph != nil {
		errs = append(errs, a.eph.Close())
	}
	if a.graph != nil {
		errs = append(errs, a.graph.Close())
	}
	if a.meta != nil {
		errs = append(errs, a.meta.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing stores: %w", err)
	}
	return nil
}
