package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrForbidden    = errors.New("auth: forbidden")

	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account locked")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrExpiredToken       = errors.New("auth: token expired")
	ErrRevokedToken       = errors.New("auth: token revoked")
	ErrMissingToken       = errors.New("auth: missing token")
	ErrRateLimited        = errors.New("auth: rate limit exceeded")
	ErrSystem             = errors.New("auth: system error")
)

// LockedError carries the remaining lockout time. It matches ErrAccountLocked.
type LockedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("auth: account locked for %s", e.Remaining.Round(time.Second))
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// OperationError hides an unexpected downstream failure behind a generic
// message. The cause stays reachable for logging through Unwrap.
type OperationError struct {
	Op    string
	cause error
}

func (e *OperationError) Error() string { return "auth: " + e.Op + " failed" }

func (e *OperationError) Is(target error) bool { return target == ErrSystem }

func (e *OperationError) Unwrap() error { return e.cause }

func opError(op string, err error) error {
	return &OperationError{Op: op, cause: err}
}

// isDomainError reports whether err belongs to the taxonomy that may cross the
// service boundary unchanged.
func isDomainError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrExpiredToken),
		errors.Is(err, ErrRevokedToken),
		errors.Is(err, ErrMissingToken),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrForbidden):
		return true
	}
	return false
}
