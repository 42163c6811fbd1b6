// Package seed creates demo users on first start.
package seed

import (
	"context"
	"fmt"
	"log/slog"
)

// UserCreator is the store access the seeder needs
type UserCreator interface {
	CountUsers(ctx context.Context) (int64, error)
	CreateUsers(ctx context.Context, names []string) (int, error)
}

// Seeder populates an empty store with a fixed set of users
type Seeder struct {
	store  UserCreator
	names  []string
	logger *slog.Logger
}

// NewSeeder creates a new seeder
func NewSeeder(store UserCreator, names []string, logger *slog.Logger) *Seeder {
	return &Seeder{
		store:  store,
		names:  names,
		logger: logger,
	}
}

// Run creates the configured users unless the store already has any.
// It returns the number of users created.
func (s *Seeder) Run(ctx context.Context) (int, error) {
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	if count > 0 {
		s.logger.Debug("store already populated, skipping seed", "users", count)
		return 0, nil
	}

	created, err := s.store.CreateUsers(ctx, s.names)
	if err != nil {
		return 0, fmt.Errorf("creating seed users: %w", err)
	}

	s.logger.Info("seeded users", "created", created, "requested", len(s.names))
	return created, nil
}
