package auth

import (
	"errors"
	"time"
)

// Outcome is the closed set of results an auth operation can end in.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeInvalidCredentials
	OutcomeAccountLocked
	OutcomeInvalidToken
	OutcomeExpiredToken
	OutcomeRevokedToken
	OutcomeMissingToken
	OutcomeRateLimited
	OutcomeInvalidInput
	OutcomeConflict
	OutcomeForbidden
	OutcomeNotFound
	OutcomeSystemError
)

var outcomeNames = [...]string{
	OutcomeOK:                 "ok",
	OutcomeInvalidCredentials: "invalid_credentials",
	OutcomeAccountLocked:      "account_locked",
	OutcomeInvalidToken:       "invalid_token",
	OutcomeExpiredToken:       "expired_token",
	OutcomeRevokedToken:       "revoked_token",
	OutcomeMissingToken:       "missing_token",
	OutcomeRateLimited:        "rate_limit_exceeded",
	OutcomeInvalidInput:       "invalid_request",
	OutcomeConflict:           "conflict",
	OutcomeForbidden:          "forbidden",
	OutcomeNotFound:           "not_found",
	OutcomeSystemError:        "internal",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "internal"
	}
	return outcomeNames[o]
}

// Classify maps err onto an Outcome. Unknown errors classify as system errors.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrInvalidCredentials):
		return OutcomeInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return OutcomeAccountLocked
	case errors.Is(err, ErrExpiredToken):
		return OutcomeExpiredToken
	case errors.Is(err, ErrRevokedToken):
		return OutcomeRevokedToken
	case errors.Is(err, ErrMissingToken):
		return OutcomeMissingToken
	case errors.Is(err, ErrInvalidToken):
		return OutcomeInvalidToken
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, ErrInvalidInput):
		return OutcomeInvalidInput
	case errors.Is(err, ErrConflict):
		return OutcomeConflict
	case errors.Is(err, ErrForbidden):
		return OutcomeForbidden
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeSystemError
	}
}

// LockRemaining returns the remaining lockout for an account-locked error.
func LockRemaining(err error) (time.Duration, bool) {
	var locked *LockedError
	if errors.As(err, &locked) {
		return locked.Remaining, true
	}
	return 0, false
}
