package database

import (
	"context"
	"fmt"

	apperrors "chanrelay/internal/errors"
	"chanrelay/internal/models"
)

// Store persists, per source channel, the set of already-forwarded message
// identifiers. Implementations must be safe for concurrent use, with the
// understanding that exactly one goroutine writes a given channel's watermark
// at a time (the scheduler serializes writes per channel).
type Store interface {
	// GetWatermark loads the watermark for a channel. A channel that has
	// never been seen returns an empty, uninitialized watermark.
	GetWatermark(ctx context.Context, channelID string) (*models.Watermark, error)

	// CommitForwarded appends ids to the channel's watermark atomically.
	// Committing an id that is already present is not an error.
	CommitForwarded(ctx context.Context, channelID string, ids []string) error

	// MarkChannelInitialized records first-run handling for a channel,
	// committing baselineIDs (the pre-existing backlog to skip) in the same
	// operation. baselineIDs may be empty when the backlog is forwarded.
	MarkChannelInitialized(ctx context.Context, channelID string, baselineIDs []string) error

	// ResetChannel clears a channel's watermark and initialization marker.
	// Operator-only; normal operation never deletes watermark state.
	ResetChannel(ctx context.Context, channelID string) error

	// CompactWatermarks prunes forwarded ids older than retentionDays while
	// always retaining each channel's maximum id.
	CompactWatermarks(ctx context.Context, retentionDays int) error

	Close() error
}

// New opens the watermark store selected by the configuration.
func New(cfg models.DatabaseConfig) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case "", "sqlite":
		store, err = NewSQLiteStore(cfg.Path)
	case "pebble":
		store, err = NewPebbleStore(cfg.Path)
	case "redis":
		store, err = NewRedisStore(cfg)
	default:
		return nil, apperrors.New(apperrors.ErrCodeInvalidConfig, fmt.Sprintf("unknown database driver: %s", cfg.Driver))
	}
	if err != nil {
		return nil, apperrors.WrapRetryable(err, apperrors.ErrCodeStoreConnection, "failed to open watermark store").
			WithContext("driver", cfg.Driver)
	}
	return store, nil
}
