// Package ranking holds the leaderboard ordering shared by every store.
package ranking

import (
	"slices"
	"strings"

	"github.com/points-leaderboard/internal/domain"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Comparator orders users for the leaderboard: total descending, then
// earlier update first, then name under case-insensitive English collation.
// Names equal under collation fall back to byte order and finally id, so no
// two distinct users compare equal.
//
// A Comparator is not safe for concurrent use.
type Comparator struct {
	collator *collate.Collator
}

// NewComparator creates a comparator with an English case-insensitive collator
func NewComparator() *Comparator {
	return &Comparator{collator: collate.New(language.English, collate.IgnoreCase)}
}

// Compare returns a negative number when a ranks above b, positive when
// b ranks above a and zero only when a and b are the same user.
func (c *Comparator) Compare(a, b domain.User) int {
	if a.TotalPoints != b.TotalPoints {
		if a.TotalPoints > b.TotalPoints {
			return -1
		}
		return 1
	}
	if cmp := a.UpdatedAt.Compare(b.UpdatedAt); cmp != 0 {
		return cmp
	}
	if cmp := c.collator.CompareString(a.Name, b.Name); cmp != 0 {
		return cmp
	}
	if cmp := strings.Compare(a.Name, b.Name); cmp != 0 {
		return cmp
	}
	return strings.Compare(a.ID, b.ID)
}

// Sort orders users in place for the leaderboard
func Sort(users []domain.User) {
	c := NewComparator()
	slices.SortFunc(users, c.Compare)
}

// Entries assigns contiguous 1-based ranks to already sorted users
func Entries(users []domain.User) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, len(users))
	for i, u := range users {
		entries[i] = domain.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      u.ID,
			Name:        u.Name,
			TotalPoints: u.TotalPoints,
		}
	}
	return entries
}
