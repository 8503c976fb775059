package graph

import (
	"fmt"
	"os"

	"datec-go/internal/config"
	"datec-go/internal/datec"
)

// NewStoreFromConfig creates a graph store based on the graph config type.
func NewStoreFromConfig(cfg config.GraphConfig, logger datec.Logger) (*BadgerStore, error) {
	switch cfg.Type {
	case "memory":
		return OpenInMemory(logger)
	case "badger":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("badger graph store requires dir to be set")
		}
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("creating graph directory: %w", err)
		}
		return Open(cfg.Dir, logger)
	default:
		return nil, fmt.Errorf("unknown graph store type: %s", cfg.Type)
	}
}
