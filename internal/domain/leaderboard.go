package domain

// ClaimRequest is the body of a claim request
type ClaimRequest struct {
	UserID string `json:"userId"`
}

// ClaimResult is returned for a committed claim
type ClaimResult struct {
	UserID      string `json:"userId"`
	Points      int    `json:"points"`
	TotalPoints int64  `json:"totalPoints"`
}

// LeaderboardEntry represents a single ranked row of the leaderboard
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	TotalPoints int64  `json:"totalPoints"`
}

// ClaimState is a step of the claim transaction
type ClaimState string

const (
	ClaimValidating        ClaimState = "validating"
	ClaimIncrementing      ClaimState = "incrementing"
	ClaimAuditWriting      ClaimState = "audit_writing"
	ClaimCommitted         ClaimState = "committed"
	ClaimCompensating      ClaimState = "compensating"
	ClaimCompensatedFailed ClaimState = "compensated_failure"
)
