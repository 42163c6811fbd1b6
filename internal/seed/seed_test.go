package seed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/points-leaderboard/internal/config"
	redisstore "github.com/points-leaderboard/internal/redis"
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

	return redisstore.NewLedgerStoreWithClient(client, "seed:", discard())
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeeder_EmptyStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := NewSeeder(store, config.DefaultSeedUsers, discard()).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, len(config.DefaultSeedUsers), created)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, len(config.DefaultSeedUsers))
	for _, u := range users {
		require.Zero(t, u.TotalPoints)
	}
}

func TestSeeder_SkipsPopulatedStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, "Existing")
	require.NoError(t, err)

	created, err := NewSeeder(store, []string{"Rahul", "Kamal"}, discard()).Run(ctx)
	require.NoError(t, err)
	require.Zero(t, created)

	count, err := store.CountUsers(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestSeeder_SecondRunIsNoop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	s := NewSeeder(store, []string{"Rahul", "Kamal"}, discard())

	_, err := s.Run(ctx)
	require.NoError(t, err)
	created, err := s.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, created)
}

type brokenStore struct{ err error }

func (b brokenStore) CountUsers(context.Context) (int64, error) { return 0, b.err }

func (b brokenStore) CreateUsers(context.Context, []string) (int, error) { return 0, nil }

func TestSeeder_CountError(t *testing.T) {
	boom := errors.New("store down")
	_, err := NewSeeder(brokenStore{err: boom}, []string{"Rahul"}, discard()).Run(context.Background())
	require.ErrorIs(t, err, boom)
}
