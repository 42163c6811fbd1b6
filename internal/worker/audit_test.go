package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/domain"
	"github.com/points-leaderboard/internal/metrics"
	redisstore "github.com/points-leaderboard/internal/redis"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *redisstore.LedgerStore {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	client := goredis.NewClient(&goredis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return redisstore.NewLedgerStoreWithClient(client, "audit:", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestWorker(store LedgerReader, m *metrics.Metrics, interval time.Duration) *AuditWorker {
	return NewAuditWorker(
		store,
		&config.AuditConfig{Interval: interval, Settle: time.Millisecond, Enabled: true},
		m,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

// claim records a consistent claim without going through the service
func claim(t *testing.T, store *redisstore.LedgerStore, userID string, points int) {
	t.Helper()
	ctx := context.Background()
	_, err := store.IncrementTotal(ctx, userID, int64(points))
	require.NoError(t, err)
	_, err = store.AppendHistory(ctx, userID, points)
	require.NoError(t, err)
}

func TestAuditWorker_NoDrift(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, "Rahul")
	require.NoError(t, err)
	_, err = store.CreateUser(ctx, "Kamal")
	require.NoError(t, err)
	claim(t, store, u.ID, 7)
	claim(t, store, u.ID, 3)

	m := metrics.New()
	drifts, err := newTestWorker(store, m, time.Hour).RunOnce(ctx)
	require.NoError(t, err)
	require.Empty(t, drifts)
	require.Zero(t, testutil.ToFloat64(m.LedgerDrift))
}

func TestAuditWorker_DetectsDrift(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, "Sanak")
	require.NoError(t, err)
	claim(t, store, u.ID, 5)

	// a total bumped with no history, as left by a failed rollback
	_, err = store.IncrementTotal(ctx, u.ID, 4)
	require.NoError(t, err)

	m := metrics.New()
	drifts, err := newTestWorker(store, m, time.Hour).RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, u.ID, drifts[0].UserID)
	require.Equal(t, "Sanak", drifts[0].Name)
	require.EqualValues(t, 9, drifts[0].Total)
	require.EqualValues(t, 5, drifts[0].HistorySum)
	require.EqualValues(t, 4, drifts[0].Difference())
	require.EqualValues(t, 1, testutil.ToFloat64(m.LedgerDrift))

	// detection only, the total is untouched
	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 9, users[0].TotalPoints)
}

// settlingReader reports one claim in flight on the first read only
type settlingReader struct {
	mu    sync.Mutex
	user  domain.User
	lists int
}

func (r *settlingReader) ListUsers(context.Context) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists++
	u := r.user
	if r.lists == 1 {
		u.TotalPoints += 6
	}
	return []domain.User{u}, nil
}

func (r *settlingReader) SumHistory(context.Context, string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.user.TotalPoints, nil
}

func TestAuditWorker_InFlightClaimIsNotDrift(t *testing.T) {
	reader := &settlingReader{user: domain.User{ID: domain.NewID(), Name: "Ankit", TotalPoints: 12}}
	m := metrics.New()

	drifts, err := newTestWorker(reader, m, time.Hour).RunOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, drifts)
	require.Equal(t, 2, reader.lists)
	require.Zero(t, testutil.ToFloat64(m.LedgerDrift))
}

type failingReader struct {
	users []domain.User
	err   error
}

func (f failingReader) ListUsers(context.Context) ([]domain.User, error) {
	return f.users, nil
}

func (f failingReader) SumHistory(context.Context, string) (int64, error) {
	return 0, f.err
}

func TestAuditWorker_SumError(t *testing.T) {
	boom := errors.New("connection reset")
	w := newTestWorker(failingReader{users: []domain.User{{ID: domain.NewID()}}, err: boom}, nil, time.Hour)

	_, err := w.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestAuditWorker_StartStop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, "Neha")
	require.NoError(t, err)
	_, err = store.IncrementTotal(ctx, u.ID, 2)
	require.NoError(t, err)

	m := metrics.New()
	w := newTestWorker(store, m, 10*time.Millisecond)
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.LedgerDrift) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
