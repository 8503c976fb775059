package ephemeral

import (
	"context"
	"fmt"

	"datec-go/internal/config"
	"datec-go/internal/datec"
)

// NewStoresFromConfig creates the primary ephemeral store and, when a replica
// URL is configured, a read replica. replica is nil otherwise.
func NewStoresFromConfig(ctx context.Context, cfg config.EphemeralConfig, logger datec.Logger) (primary, replica datec.EphemeralStore, err error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil, nil
	case "nats":
		if cfg.URL == "" {
			return nil, nil, fmt.Errorf("nats ephemeral store requires url to be set")
		}
		p, err := ConnectNATS(ctx, cfg.URL, cfg.Bucket, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.ReplicaURL == "" {
			return p, nil, nil
		}
		r, err := ConnectNATS(ctx, cfg.ReplicaURL, cfg.Bucket, logger)
		if err != nil {
			p.Close()
			return nil, nil, fmt.Errorf("connecting replica: %w", err)
		}
		return p, r, nil
	default:
		return nil, nil, fmt.Errorf("unknown ephemeral store type: %s", cfg.Type)
	}
}
