package database

import (
	"fmt"
	"os"
	"path/filepath"

	"datec-go/internal/config"
	"datec-go/internal/datec"
)

// NewMetadataStoreFromConfig creates the metadata store selected by the database config type.
func NewMetadataStoreFromConfig(cfg config.DatabaseConfig, logger datec.Logger) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, "datec.db"), logger)
	case "memory":
		return NewSQLiteStore(":memory:", logger)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
