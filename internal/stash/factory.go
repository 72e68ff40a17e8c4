package stash

import (
	"context"
	"fmt"

	"github.com/bioetl/targetforge/internal/model"
)

// Open constructs the stash backend named by the configuration
func Open(ctx context.Context, cfg model.StashConfig) (Stash, error) {
	switch Driver(cfg.Driver) {
	case DriverFilesystem:
		return NewFS(cfg.Dir, cfg.Prefix), nil
	case DriverS3:
		return NewS3(ctx, S3Config{
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
			Prefix:    cfg.Prefix,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown stash driver: %q", cfg.Driver)
	}
}
