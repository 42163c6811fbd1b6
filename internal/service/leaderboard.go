package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/domain"
	"github.com/points-leaderboard/internal/metrics"
	"github.com/points-leaderboard/internal/ranking"
)

// LeaderboardService provides business logic for users, claims and history
type LeaderboardService struct {
	store   LedgerStore
	config  *config.LeaderboardConfig
	logger  *slog.Logger
	draw    PointsDrawer
	hub     Broadcaster
	pusher  *leaderboardPusher
	metrics *metrics.Metrics
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(
	store LedgerStore,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		store:  store,
		config: cfg,
		logger: logger,
		draw:   RandomPoints,
	}
}

// SetHub sets the broadcaster notified after committed claims
func (s *LeaderboardService) SetHub(hub Broadcaster) {
	s.hub = hub
	s.pusher = &leaderboardPusher{
		interval: s.config.BroadcastInterval,
		load:     s.Leaderboard,
		hub:      hub,
		logger:   s.logger,
	}
}

// SetPointsDrawer replaces the random point source
func (s *LeaderboardService) SetPointsDrawer(draw PointsDrawer) {
	s.draw = draw
}

// SetMetrics sets the collectors updated by claims
func (s *LeaderboardService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// CreateUser registers a new user with zero points
func (s *LeaderboardService) CreateUser(ctx context.Context, name string) (*domain.User, error) {
	name = domain.NormalizeName(name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	user, err := s.store.CreateUser(ctx, name)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user created", "user_id", user.ID, "name", user.Name)
	return user, nil
}

// ListUsers returns all users, newest first
func (s *LeaderboardService) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return users, nil
}

// Leaderboard returns every user ranked by total, update time and name
func (s *LeaderboardService) Leaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	users, err := s.store.RankedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting ranked users: %w", err)
	}
	return ranking.Entries(users), nil
}

// Ping checks that the store is reachable
func (s *LeaderboardService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
