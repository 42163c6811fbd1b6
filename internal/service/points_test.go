package service

import (
	"testing"

	"github.com/points-leaderboard/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestRandomPoints_CoversRange(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 5000; i++ {
		p := RandomPoints()
		require.True(t, domain.ValidPoints(p), "drew %d", p)
		seen[p] = true
	}
	require.Len(t, seen, domain.MaxClaimPoints-domain.MinClaimPoints+1)
}

func TestSeededDrawer_Reproducible(t *testing.T) {
	a, b := NewSeededDrawer(42), NewSeededDrawer(42)
	for i := 0; i < 100; i++ {
		pa, pb := a(), b()
		require.Equal(t, pa, pb)
		require.True(t, domain.ValidPoints(pa))
	}
}
