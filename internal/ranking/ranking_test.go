package ranking

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/points-leaderboard/internal/domain"
	"github.com/stretchr/testify/require"
)

func names(users []domain.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Name
	}
	return out
}

func TestSort_TotalDescending(t *testing.T) {
	now := time.Now()
	users := []domain.User{
		{ID: "1", Name: "low", TotalPoints: 3, UpdatedAt: now},
		{ID: "2", Name: "high", TotalPoints: 30, UpdatedAt: now},
		{ID: "3", Name: "mid", TotalPoints: 10, UpdatedAt: now},
	}
	Sort(users)
	require.Equal(t, []string{"high", "mid", "low"}, names(users))
}

func TestSort_EarlierUpdateWinsTie(t *testing.T) {
	now := time.Now()
	users := []domain.User{
		{ID: "1", Name: "late", TotalPoints: 5, UpdatedAt: now.Add(time.Second)},
		{ID: "2", Name: "early", TotalPoints: 5, UpdatedAt: now},
	}
	Sort(users)
	require.Equal(t, []string{"early", "late"}, names(users))
}

func TestSort_NameIsCaseInsensitive(t *testing.T) {
	now := time.Now()
	users := []domain.User{
		{ID: "1", Name: "bob", TotalPoints: 0, UpdatedAt: now},
		{ID: "2", Name: "Carol", TotalPoints: 0, UpdatedAt: now},
		{ID: "3", Name: "alice", TotalPoints: 0, UpdatedAt: now},
		{ID: "4", Name: "Bea", TotalPoints: 0, UpdatedAt: now},
	}
	Sort(users)
	require.Equal(t, []string{"alice", "Bea", "bob", "Carol"}, names(users))
}

func TestSort_CaseVariantsAreStillOrdered(t *testing.T) {
	now := time.Now()
	a := domain.User{ID: "1", Name: "aisha", UpdatedAt: now}
	b := domain.User{ID: "2", Name: "Aisha", UpdatedAt: now}

	c := NewComparator()
	require.NotZero(t, c.Compare(a, b))
	require.Equal(t, -c.Compare(a, b), c.Compare(b, a))

	first := []domain.User{a, b}
	second := []domain.User{b, a}
	Sort(first)
	Sort(second)
	require.Equal(t, names(first), names(second))
}

func TestSort_TotalOrderAcrossShuffles(t *testing.T) {
	base := time.Now()
	users := []domain.User{
		{ID: "a", Name: "Rahul", TotalPoints: 12, UpdatedAt: base},
		{ID: "b", Name: "Kamal", TotalPoints: 12, UpdatedAt: base},
		{ID: "c", Name: "Sanak", TotalPoints: 12, UpdatedAt: base.Add(-time.Minute)},
		{ID: "d", Name: "Aisha", TotalPoints: 7, UpdatedAt: base},
		{ID: "e", Name: "aisha", TotalPoints: 7, UpdatedAt: base},
		{ID: "f", Name: "Neha", TotalPoints: 40, UpdatedAt: base},
	}
	want := append([]domain.User(nil), users...)
	Sort(want)
	require.Equal(t, []string{"Neha", "Sanak", "Kamal", "Rahul"}, names(want)[:4])

	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		shuffled := append([]domain.User(nil), users...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		Sort(shuffled)
		require.Equal(t, names(want), names(shuffled))
	}
}

func TestEntries_ContiguousRanks(t *testing.T) {
	users := []domain.User{
		{ID: "x", Name: "first", TotalPoints: 9},
		{ID: "y", Name: "second", TotalPoints: 9},
		{ID: "z", Name: "third", TotalPoints: 1},
	}
	entries := Entries(users)
	require.Len(t, entries, 3)
	for i, e := range entries {
		require.Equal(t, i+1, e.Rank)
		require.Equal(t, users[i].ID, e.UserID)
		require.Equal(t, users[i].Name, e.Name)
		require.Equal(t, users[i].TotalPoints, e.TotalPoints)
	}
}
