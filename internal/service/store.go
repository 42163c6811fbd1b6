package service

import (
	"context"

	"github.com/points-leaderboard/internal/domain"
)

// UserStore persists users and their running totals
type UserStore interface {
	CreateUser(ctx context.Context, name string) (*domain.User, error)
	CreateUsers(ctx context.Context, names []string) (int, error)
	CountUsers(ctx context.Context) (int64, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	IncrementTotal(ctx context.Context, userID string, delta int64) (*domain.User, error)
	RankedUsers(ctx context.Context) ([]domain.User, error)
}

// HistoryStore persists the append-only claim log
type HistoryStore interface {
	AppendHistory(ctx context.Context, userID string, points int) (*domain.HistoryEntry, error)
	ListHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.HistoryItem, error)
	CountHistory(ctx context.Context, userID string) (int64, error)
	SumHistory(ctx context.Context, userID string) (int64, error)
}

// LedgerStore is the storage backend required by LeaderboardService
type LedgerStore interface {
	UserStore
	HistoryStore
	Ping(ctx context.Context) error
}

// Broadcaster pushes committed claims to real-time subscribers
type Broadcaster interface {
	BroadcastClaim(result domain.ClaimResult)
	BroadcastLeaderboard(entries []domain.LeaderboardEntry)
}
