package domain

import "errors"

// Domain errors
var (
	ErrInvalidUserID    = errors.New("invalid or missing userId")
	ErrInvalidName      = errors.New("name is required")
	ErrInvalidPoints    = errors.New("points must be between 1 and 10")
	ErrUserNotFound     = errors.New("user not found")
	ErrDuplicateName    = errors.New("user name already exists")
	ErrAuditWriteFailed = errors.New("failed to record claim history")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInternalError    = errors.New("internal server error")
)

// IsInvalidInput reports whether err is a caller-correctable validation error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidPoints) ||
		errors.Is(err, ErrInvalidRequest)
}
