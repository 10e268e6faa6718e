package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Verifier checks an identifier/password pair against the account store and
// keeps the lockout bookkeeping current.
type Verifier struct {
	accounts AccountStore
	attempts LoginAttemptStore
	hasher   *Hasher
	policy   LockoutPolicy
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewVerifier wires a Verifier. A nil logger discards output.
func NewVerifier(accounts AccountStore, attempts LoginAttemptStore, hasher *Hasher, policy LockoutPolicy, log logrus.FieldLogger) *Verifier {
	if log == nil {
		log = discardLogger()
	}
	return &Verifier{
		accounts: accounts,
		attempts: attempts,
		hasher:   hasher,
		policy:   policy,
		now:      time.Now,
		log:      log,
	}
}

// Verify returns the account when the password matches. It fails with
// ErrInvalidCredentials for unknown accounts and wrong passwords alike, and
// with a *LockedError while the account is locked.
func (v *Verifier) Verify(ctx context.Context, identifier, plaintext string) (*Account, error) {
	identifier = normalizeIdentifier(identifier)
	if identifier == "" || plaintext == "" {
		return nil, ErrInvalidCredentials
	}

	acct, err := v.accounts.FindByIdentifier(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		v.hasher.burn(plaintext)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	log := v.log.WithField("account_id", acct.ID)
	if acct.Status != StatusActive {
		v.hasher.burn(plaintext)
		log.Info("login rejected for inactive account")
		return nil, ErrInvalidCredentials
	}

	now := v.now()
	if remaining := v.policy.Remaining(acct.Lockout(), now); remaining > 0 {
		log.WithField("remaining", remaining.Round(time.Second).String()).Info("login rejected for locked account")
		return nil, &LockedError{Until: *acct.LockoutEndAt, Remaining: remaining}
	}

	ok, err := v.hasher.Verify(acct.PasswordHash, plaintext, acct.HashAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		state, err := v.attempts.RegisterFailedLogin(ctx, acct.ID, v.policy, now)
		if err != nil {
			return nil, fmt.Errorf("register failed login: %w", err)
		}
		entry := log.WithField("failed_attempts", state.FailedAttempts)
		if state.LockoutEndAt != nil {
			entry.Warn("account locked after repeated failures")
		} else {
			entry.Info("login failed")
		}
		return nil, ErrInvalidCredentials
	}

	if err := v.attempts.RegisterSuccessfulLogin(ctx, acct.ID); err != nil {
		return nil, fmt.Errorf("register successful login: %w", err)
	}
	acct.FailedAttempts = 0
	acct.LastFailedAt = nil
	acct.LockoutEndAt = nil
	return acct, nil
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
