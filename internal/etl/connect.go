package etl

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/db"
	"github.com/wxyc/discogs-cache/internal/resilience"
)

// Connect opens a pool, retrying while the server comes up.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg := resilience.StartupRetry()
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, db.ErrStorage) }
	cfg.OnRetry = func(attempt int, err error) {
		zap.L().Info("waiting for postgres", zap.Int("attempt", attempt), zap.Error(err))
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*pgxpool.Pool, error) {
		return db.Connect(ctx, url)
	})
}

// ConnectTarget is the default TargetConnector.
func ConnectTarget(ctx context.Context, url string) (db.Pool, func(), error) {
	pool, err := Connect(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}
