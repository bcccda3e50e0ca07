package roster

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roadbuddy/fleetwatch/internal/config"
)

// Open builds the source selected by cfg, wrapped in the Redis cache when
// one is configured. The returned func releases its connections.
func Open(ctx context.Context, cfg config.RosterConfig, logger *zap.Logger) (Source, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		src     Source
		closers []func() error
	)

	switch cfg.Source {
	case config.RosterSourceNone:
		src = StaticSource(nil)
	case config.RosterSourceFile:
		src = NewFileSource(cfg.File)
	case config.RosterSourcePostgres:
		db, err := NewPostgresDB(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, db.Close)
		src = NewPostgresSource(db, logger)
	case config.RosterSourceHTTP:
		src = NewHTTPSource(cfg.HTTPURL)
	default:
		return nil, nil, fmt.Errorf("unknown roster source %q", cfg.Source)
	}

	if cfg.Redis.Addr != "" {
		client := NewRedisClient(cfg.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("roster cache unavailable, continuing uncached", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		closers = append(closers, client.Close)
		src = NewCachedSource(src, client, cfg.Redis.TTL, logger)
	}

	closeAll := func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	return src, closeAll, nil
}
