package domain

import "time"

// Point bounds for a single claim
const (
	MinClaimPoints = 1
	MaxClaimPoints = 10
)

// HistoryEntry is an immutable audit record of one successful claim
type HistoryEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Points    int       `json:"points"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidPoints reports whether points is within the claim range
func ValidPoints(points int) bool {
	return points >= MinClaimPoints && points <= MaxClaimPoints
}

// HistoryItem is a history entry joined with the user's current name.
// UserName is nil when the referenced user no longer exists.
type HistoryItem struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  *string   `json:"userName"`
	Points    int       `json:"points"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryQuery selects a window of the timestamp-descending history feed
type HistoryQuery struct {
	UserID string
	Offset int
	Limit  int
}

// HistoryPage is one page of the history feed
type HistoryPage struct {
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int64         `json:"total"`
	Items []HistoryItem `json:"items"`
}
