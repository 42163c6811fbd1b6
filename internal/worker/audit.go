package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/domain"
	"github.com/points-leaderboard/internal/metrics"
)

// LedgerReader is the read access the audit needs
type LedgerReader interface {
	ListUsers(ctx context.Context) ([]domain.User, error)
	SumHistory(ctx context.Context, userID string) (int64, error)
}

// Drift describes a user whose total disagrees with their claim history
type Drift struct {
	UserID     string
	Name       string
	Total      int64
	HistorySum int64
}

// Difference is the number of points the total carries beyond its history
func (d Drift) Difference() int64 {
	return d.Total - d.HistorySum
}

// AuditWorker periodically compares every total with its history sum.
// It reports drift left behind by failed compensations and never repairs it.
type AuditWorker struct {
	store   LedgerReader
	config  *config.AuditConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewAuditWorker creates a new audit worker
func NewAuditWorker(
	store LedgerReader,
	cfg *config.AuditConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuditWorker {
	return &AuditWorker{
		store:   store,
		config:  cfg,
		metrics: m,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background audit
func (w *AuditWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("audit worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background audit
func (w *AuditWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("audit worker stopped")
	return nil
}

// run is the main worker loop
func (w *AuditWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("audit cycle failed", "error", err)
			}
		}
	}
}

// RunOnce audits every user and returns the drifted ones.
//
// Totals and history sums are read separately, so a claim landing between
// the two reads looks like drift. Suspects are therefore read again after the
// configured settle delay and reported only if they still disagree. A claim
// stuck between its increment and its history write for longer than that is
// still reported.
func (w *AuditWorker) RunOnce(ctx context.Context) ([]Drift, error) {
	startTime := time.Now()

	users, err := w.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	suspects, err := w.findDrift(ctx, users, nil)
	if err != nil {
		return nil, err
	}

	var drifts []Drift
	if len(suspects) > 0 {
		drifts, err = w.recheck(ctx, suspects)
		if err != nil {
			return nil, err
		}
	}

	for _, d := range drifts {
		w.logger.Warn("ledger drift detected",
			"user_id", d.UserID,
			"name", d.Name,
			"total_points", d.Total,
			"history_sum", d.HistorySum,
			"difference", d.Difference(),
		)
	}

	w.metrics.SetLedgerDrift(len(drifts))
	w.logger.Info("audit cycle completed",
		"users", len(users),
		"suspected", len(suspects),
		"drifted", len(drifts),
		"duration", time.Since(startTime),
	)
	return drifts, nil
}

// recheck re-reads suspected users after the settle delay
func (w *AuditWorker) recheck(ctx context.Context, suspects []Drift) ([]Drift, error) {
	if w.config.Settle > 0 {
		timer := time.NewTimer(w.config.Settle)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	users, err := w.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	only := make(map[string]bool, len(suspects))
	for _, d := range suspects {
		only[d.UserID] = true
	}
	return w.findDrift(ctx, users, only)
}

// findDrift compares totals with history sums, limited to the ids in only
// when it is non-nil
func (w *AuditWorker) findDrift(ctx context.Context, users []domain.User, only map[string]bool) ([]Drift, error) {
	var drifts []Drift
	for _, u := range users {
		if only != nil && !only[u.ID] {
			continue
		}
		sum, err := w.store.SumHistory(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("summing history for %s: %w", u.ID, err)
		}
		if sum != u.TotalPoints {
			drifts = append(drifts, Drift{UserID: u.ID, Name: u.Name, Total: u.TotalPoints, HistorySum: sum})
		}
	}
	return drifts, nil
}
