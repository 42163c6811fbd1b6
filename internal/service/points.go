package service

import (
	"math/rand/v2"
	"sync"

	"github.com/points-leaderboard/internal/domain"
)

// PointsDrawer returns the number of points awarded by one claim
type PointsDrawer func() int

const pointsSpan = domain.MaxClaimPoints - domain.MinClaimPoints + 1

// RandomPoints draws uniformly from the claim range
func RandomPoints() int {
	return rand.IntN(pointsSpan) + domain.MinClaimPoints
}

// NewSeededDrawer returns a deterministic drawer for reproducible runs
func NewSeededDrawer(seed uint64) PointsDrawer {
	var mu sync.Mutex
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		return r.IntN(pointsSpan) + domain.MinClaimPoints
	}
}
