package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a leaderboard participant with a running point total
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TotalPoints int64     `json:"totalPoints"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CreateUserRequest is the body of a user creation request
type CreateUserRequest struct {
	Name string `json:"name"`
}

// NewUser builds a user with a fresh identity and zero points.
// The name is trimmed; an empty result is rejected.
func NewUser(name string, now time.Time) (User, error) {
	name = NormalizeName(name)
	if name == "" {
		return User{}, ErrInvalidName
	}
	return User{
		ID:        NewID(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NormalizeName trims surrounding whitespace from a user name
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// NewID returns a time-ordered identifier
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ValidID reports whether id is a well-formed identifier
func ValidID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
