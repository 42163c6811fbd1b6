package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/mongo"
	"github.com/points-leaderboard/internal/postgres"
	"github.com/points-leaderboard/internal/redis"
	"github.com/points-leaderboard/internal/service"
)

// openStore connects the configured ledger backend. Postgres schemas are
// migrated and Mongo indexes created when prepare is set.
func openStore(
	ctx context.Context,
	cfg *config.Config,
	prepare bool,
	logger *slog.Logger,
) (service.LedgerStore, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if prepare {
			if err := repo.RunMigrations(ctx); err != nil {
				repo.Close()
				return nil, nil, err
			}
		}
		return repo, repo.Close, nil

	case config.DriverMongo:
		logger.Info("connecting to MongoDB", "database", cfg.Mongo.Database)
		repo, err := mongo.Connect(ctx, &cfg.Mongo, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to mongo: %w", err)
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := repo.Close(closeCtx); err != nil {
				logger.Warn("failed to disconnect from MongoDB", "error", err)
			}
		}
		if prepare {
			if err := repo.EnsureIndexes(ctx); err != nil {
				closeFn()
				return nil, nil, err
			}
		}
		return repo, closeFn, nil

	case config.DriverRedis:
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		store, err := redis.NewLedgerStore(&cfg.Redis, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		closeFn := func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close Redis client", "error", err)
			}
		}
		return store, closeFn, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
