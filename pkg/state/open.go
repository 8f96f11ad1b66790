package state

import (
	"context"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"go.uber.org/zap"
)

// Open returns the durable store selected by cfg, or nil when no backend is configured
func Open(ctx context.Context, cfg config.StateBackendConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case config.StateBackendFile:
		return NewFileStore(cfg.Path), nil
	case config.StateBackendGCS:
		store, err := NewGCSStore(ctx, cfg.Bucket, cfg.Key, cfg.CredentialsFile, logger)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
		}
		return store, nil
	case config.StateBackendS3:
		store, err := NewS3Store(ctx, cfg.Region, cfg.Bucket, cfg.Key, logger)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to load AWS configuration")
		}
		return store, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown state backend %q", cfg.Type)
	}
}
