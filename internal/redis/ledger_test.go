package redis

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/points-leaderboard/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*LedgerStore, *mr.Miniredis) {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewLedgerStoreWithClient(client, "test:", logger)

	// every write observes a distinct, increasing time
	var mu sync.Mutex
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}
	return store, m
}

func TestCreateUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, "  Rahul  ")
	require.NoError(t, err)
	require.Equal(t, "Rahul", u.Name)
	require.True(t, domain.ValidID(u.ID))
	require.Zero(t, u.TotalPoints)
	require.Equal(t, u.CreatedAt, u.UpdatedAt)

	_, err = store.CreateUser(ctx, "Rahul")
	require.ErrorIs(t, err, domain.ErrDuplicateName)

	// uniqueness is case-sensitive
	_, err = store.CreateUser(ctx, "rahul")
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, "   ")
	require.ErrorIs(t, err, domain.ErrInvalidName)

	count, err := store.CountUsers(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestCreateUser_DuplicateLeavesOriginalUntouched(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	orig, err := store.CreateUser(ctx, "Rahul")
	require.NoError(t, err)
	_, err = store.IncrementTotal(ctx, orig.ID, 4)
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, "Rahul")
	require.ErrorIs(t, err, domain.ErrDuplicateName)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, orig.ID, users[0].ID)
	require.EqualValues(t, 4, users[0].TotalPoints)
}

func TestCreateUsers_SkipsExisting(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateUser(ctx, "Neha")
	require.NoError(t, err)

	n, err := store.CreateUsers(ctx, []string{"Kamal", "Neha", "", "Priya"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	count, err := store.CountUsers(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, count)
}

func TestListUsers_NewestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		_, err := store.CreateUser(ctx, name)
		require.NoError(t, err)
	}

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	require.Equal(t, "third", users[0].Name)
	require.Equal(t, "first", users[2].Name)
}

func TestListUsers_Empty(t *testing.T) {
	store, _ := newTestStore(t)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.NotNil(t, users)
	require.Empty(t, users)
}

func TestIncrementTotal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, "Aisha")
	require.NoError(t, err)

	got, err := store.IncrementTotal(ctx, u.ID, 7)
	require.NoError(t, err)
	require.EqualValues(t, 7, got.TotalPoints)
	require.Equal(t, "Aisha", got.Name)
	require.False(t, got.UpdatedAt.Before(u.UpdatedAt))
	require.Equal(t, u.CreatedAt, got.CreatedAt)

	got, err = store.IncrementTotal(ctx, u.ID, -7)
	require.NoError(t, err)
	require.Zero(t, got.TotalPoints)
}

func TestIncrementTotal_NotFound(t *testing.T) {
	store, m := newTestStore(t)

	id := domain.NewID()
	_, err := store.IncrementTotal(context.Background(), id, 3)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	require.False(t, m.Exists("test:user:"+id))
}

func TestIncrementTotal_ConcurrentNoLostUpdates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, "Vikram")
	require.NoError(t, err)

	const workers = 40
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(delta int64) {
			defer wg.Done()
			if _, err := store.IncrementTotal(ctx, u.ID, delta); err != nil {
				errs <- err
			}
		}(int64(i%10 + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var want int64
	for i := 1; i <= workers; i++ {
		want += int64(i%10 + 1)
	}

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, want, users[0].TotalPoints)
}

func TestRankedUsers(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a, _ := store.CreateUser(ctx, "bob")
	b, _ := store.CreateUser(ctx, "Alice")
	c, _ := store.CreateUser(ctx, "carl")

	_, err := store.IncrementTotal(ctx, c.ID, 9)
	require.NoError(t, err)
	_, err = store.IncrementTotal(ctx, a.ID, 4)
	require.NoError(t, err)
	_, err = store.IncrementTotal(ctx, b.ID, 4)
	require.NoError(t, err)

	ranked, err := store.RankedUsers(ctx)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	require.Equal(t, "carl", ranked[0].Name)
	// bob reached 4 before Alice did
	require.Equal(t, "bob", ranked[1].Name)
	require.Equal(t, "Alice", ranked[2].Name)
}

func TestAppendHistory_InvalidPoints(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.AppendHistory(ctx, domain.NewID(), 0)
	require.ErrorIs(t, err, domain.ErrInvalidPoints)
	_, err = store.AppendHistory(ctx, domain.NewID(), 11)
	require.ErrorIs(t, err, domain.ErrInvalidPoints)

	count, err := store.CountHistory(ctx, "")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestHistory_FeedsAndNames(t *testing.T) {
	store, m := newTestStore(t)
	ctx := context.Background()

	u1, _ := store.CreateUser(ctx, "Rohan")
	u2, _ := store.CreateUser(ctx, "Sneha")

	for _, p := range []int{1, 2, 3} {
		_, err := store.AppendHistory(ctx, u1.ID, p)
		require.NoError(t, err)
	}
	_, err := store.AppendHistory(ctx, u2.ID, 10)
	require.NoError(t, err)

	all, err := store.ListHistory(ctx, domain.HistoryQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, 10, all[0].Points)
	require.Equal(t, "Sneha", *all[0].UserName)
	require.Equal(t, []int{3, 2, 1}, []int{all[1].Points, all[2].Points, all[3].Points})

	mine, err := store.ListHistory(ctx, domain.HistoryQuery{UserID: u1.ID, Offset: 1, Limit: 5})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.Equal(t, 2, mine[0].Points)
	require.Equal(t, "Rohan", *mine[0].UserName)

	total, err := store.CountHistory(ctx, "")
	require.NoError(t, err)
	require.EqualValues(t, 4, total)
	mineTotal, err := store.CountHistory(ctx, u1.ID)
	require.NoError(t, err)
	require.EqualValues(t, 3, mineTotal)

	sum, err := store.SumHistory(ctx, u1.ID)
	require.NoError(t, err)
	require.EqualValues(t, 6, sum)

	// a removed user degrades to a null name
	m.Del("test:user:" + u2.ID)
	all, err = store.ListHistory(ctx, domain.HistoryQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, u2.ID, all[0].UserID)
	require.Nil(t, all[0].UserName)
}

func TestHistory_Pagination(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	u, _ := store.CreateUser(ctx, "Ankit")
	for i := 0; i < 25; i++ {
		_, err := store.AppendHistory(ctx, u.ID, i%10+1)
		require.NoError(t, err)
	}

	first, err := store.ListHistory(ctx, domain.HistoryQuery{Offset: 0, Limit: 20})
	require.NoError(t, err)
	require.Len(t, first, 20)

	second, err := store.ListHistory(ctx, domain.HistoryQuery{Offset: 20, Limit: 20})
	require.NoError(t, err)
	require.Len(t, second, 5)

	seen := map[string]bool{}
	for _, it := range append(first, second...) {
		require.False(t, seen[it.ID])
		seen[it.ID] = true
	}
	require.Len(t, seen, 25)
}

func TestPing(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))
}
