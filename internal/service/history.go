package service

import (
	"context"
	"fmt"

	"github.com/points-leaderboard/internal/domain"
	"golang.org/x/sync/errgroup"
)

// History returns one page of the claim log, newest first. An empty userID
// selects the global feed. The page and the total are read concurrently and
// are not guaranteed to be consistent with each other.
func (s *LeaderboardService) History(ctx context.Context, userID string, page, limit int) (*domain.HistoryPage, error) {
	if userID != "" && !domain.ValidID(userID) {
		return nil, domain.ErrInvalidUserID
	}

	page, limit = s.normalizePage(page, limit)
	query := domain.HistoryQuery{
		UserID: userID,
		Offset: (page - 1) * limit,
		Limit:  limit,
	}

	var (
		items []domain.HistoryItem
		total int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.store.ListHistory(gctx, query)
		if err != nil {
			return fmt.Errorf("listing history: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		total, err = s.store.CountHistory(gctx, userID)
		if err != nil {
			return fmt.Errorf("counting history: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if items == nil {
		items = []domain.HistoryItem{}
	}

	return &domain.HistoryPage{
		Page:  page,
		Limit: limit,
		Total: total,
		Items: items,
	}, nil
}

// normalizePage applies the default page and size and caps the size
func (s *LeaderboardService) normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = s.config.DefaultPageSize
	}
	if limit > s.config.MaxPageSize {
		limit = s.config.MaxPageSize
	}
	return page, limit
}
