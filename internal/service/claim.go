package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/points-leaderboard/internal/domain"
	"github.com/points-leaderboard/internal/metrics"
)

// compensationTimeout bounds the rollback write, which runs detached from
// the caller's context so a cancelled request still restores the total.
const compensationTimeout = 5 * time.Second

// Claim awards a random number of points to a user.
//
// The total is incremented first and the audit row appended second. When
// the append fails the increment is reversed with a negative increment and
// ErrAuditWriteFailed is returned. A failed reversal is logged for manual
// reconciliation and not retried.
func (s *LeaderboardService) Claim(ctx context.Context, userID string) (*domain.ClaimResult, error) {
	if !domain.ValidID(userID) {
		s.metrics.ObserveClaim(metrics.OutcomeInvalidID, 0)
		return nil, domain.ErrInvalidUserID
	}

	points := s.draw()

	user, err := s.store.IncrementTotal(ctx, userID, int64(points))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.metrics.ObserveClaim(metrics.OutcomeNotFound, 0)
			return nil, err
		}
		s.metrics.ObserveClaim(metrics.OutcomeIncrementFailed, 0)
		return nil, fmt.Errorf("incrementing total: %w", err)
	}

	if _, err := s.store.AppendHistory(ctx, userID, points); err != nil {
		return nil, s.compensate(ctx, userID, points, err)
	}

	s.metrics.ObserveClaim(metrics.OutcomeCommitted, points)
	s.logger.Debug("claim committed",
		"user_id", userID,
		"points", points,
		"total_points", user.TotalPoints,
		"state", domain.ClaimCommitted,
	)

	result := &domain.ClaimResult{
		UserID:      userID,
		Points:      points,
		TotalPoints: user.TotalPoints,
	}
	s.broadcast(*result)
	return result, nil
}

// compensate reverses a committed increment after the audit write failed
func (s *LeaderboardService) compensate(ctx context.Context, userID string, points int, cause error) error {
	s.logger.Error("history insert failed, rolling back user points",
		"user_id", userID,
		"points", points,
		"state", domain.ClaimCompensating,
		"error", cause,
	)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if _, err := s.store.IncrementTotal(cctx, userID, -int64(points)); err != nil {
		s.metrics.ObserveClaim(metrics.OutcomeCompensationFailed, points)
		s.logger.Error("compensation failed, total needs manual reconciliation",
			"user_id", userID,
			"points", points,
			"state", domain.ClaimCompensatedFailed,
			"audit_error", cause,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrAuditWriteFailed, errors.Join(cause, err))
	}

	s.metrics.ObserveClaim(metrics.OutcomeCompensated, points)
	s.logger.Warn("claim rolled back",
		"user_id", userID,
		"points", points,
	)
	return fmt.Errorf("%w: %w", domain.ErrAuditWriteFailed, cause)
}

// broadcast notifies real-time subscribers; failures never affect the claim.
// The claim itself is pushed at once, the ranking on the next coalesced push.
func (s *LeaderboardService) broadcast(result domain.ClaimResult) {
	if s.hub == nil {
		return
	}

	s.hub.BroadcastClaim(result)
	s.pusher.schedule()
}
