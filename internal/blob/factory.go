package blob

import (
	"context"
	"fmt"

	"datec-go/internal/config"
	"datec-go/internal/datec"
)

// Options carries what the blob config cannot: credentials and keys.
type Options struct {
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Encrypter and Decrypter are used when the config enables encryption.
	// Decrypter may be nil for write-only use.
	Encrypter Encrypter
	Decrypter Decrypter
}

// NewStoreFromConfig creates a BlobStore based on the blob config type,
// wrapped in an EncryptedStore when encryption is enabled.
func NewStoreFromConfig(ctx context.Context, cfg config.BlobConfig, opts Options) (datec.BlobStore, error) {
	var store datec.BlobStore
	switch cfg.Type {
	case "memory":
		store = NewMemoryStore()
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem blob store requires root to be set")
		}
		fs, err := NewFileSystemStore(cfg.Root)
		if err != nil {
			return nil, err
		}
		store = fs
	case "s3":
		s, err := NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     opts.S3AccessKeyID,
			SecretAccessKey: opts.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}

	if !cfg.Encrypt {
		return store, nil
	}
	if opts.Encrypter == nil {
		return nil, fmt.Errorf("blob encryption enabled but no encrypter configured")
	}
	return NewEncryptedStore(store, opts.Encrypter, opts.Decrypter), nil
}
