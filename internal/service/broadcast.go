package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/points-leaderboard/internal/domain"
)

// pushTimeout bounds the ranking read behind one leaderboard push
const pushTimeout = 5 * time.Second

// leaderboardPusher folds the leaderboard pushes of claims committed within
// one interval into a single ranking read and broadcast
type leaderboardPusher struct {
	interval time.Duration
	load     func(ctx context.Context) ([]domain.LeaderboardEntry, error)
	hub      Broadcaster
	logger   *slog.Logger

	mu      sync.Mutex
	pending bool
}

// schedule arranges a push unless one is already waiting
func (p *leaderboardPusher) schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending {
		return
	}
	p.pending = true
	time.AfterFunc(p.interval, p.push)
}

// push clears the pending flag before reading, so a claim committed during
// the read schedules a fresh push and the last snapshot sent is current
func (p *leaderboardPusher) push() {
	p.mu.Lock()
	p.pending = false
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	entries, err := p.load(ctx)
	if err != nil {
		p.logger.Warn("failed to load leaderboard for broadcast", "error", err)
		return
	}
	p.hub.BroadcastLeaderboard(entries)
}
