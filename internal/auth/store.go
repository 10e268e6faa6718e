package auth

import (
	"context"
	"time"
)

// AccountStore looks up and creates accounts.
type AccountStore interface {
	// FindByIdentifier matches the handle or the email, case-insensitively.
	FindByIdentifier(ctx context.Context, identifier string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	CreateAccount(ctx context.Context, acct *Account, roles []RoleAssignment) error
	UpdatePasswordHash(ctx context.Context, accountID, digest, algorithm string) error
}

// RoleStore resolves role assignments.
type RoleStore interface {
	RolesForAccount(ctx context.Context, accountID string) ([]RoleAssignment, error)
}

// LoginAttemptStore persists lockout bookkeeping. RegisterFailedLogin applies
// policy to the stored state atomically and returns the new state.
type LoginAttemptStore interface {
	RegisterFailedLogin(ctx context.Context, accountID string, policy LockoutPolicy, now time.Time) (LockoutState, error)
	RegisterSuccessfulLogin(ctx context.Context, accountID string) error
}

// RefreshStore persists refresh records.
type RefreshStore interface {
	IssueRefresh(ctx context.Context, rec *RefreshRecord) error
	// RotateRefresh consumes the live record matching oldFingerprint and
	// inserts next in its chain as one compare-and-swap. It returns the
	// consumed record, or ErrNotFound when no live record matched.
	RotateRefresh(ctx context.Context, oldFingerprint string, next *RefreshRecord, now time.Time) (*RefreshRecord, error)
	// FindRefresh returns the record for fingerprint in any state.
	FindRefresh(ctx context.Context, fingerprint string) (*RefreshRecord, error)
	RevokeRefresh(ctx context.Context, fingerprint string, now time.Time) error
	RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int64, error)
	PurgeExpiredRefresh(ctx context.Context, before time.Time) (int64, error)
}

// DenylistStore persists revoked access token ids.
type DenylistStore interface {
	// DenylistToken is idempotent for an already present jti.
	DenylistToken(ctx context.Context, entry DenylistEntry) error
	IsTokenDenylisted(ctx context.Context, jti string, now time.Time) (bool, error)
	PurgeExpiredDenylist(ctx context.Context, before time.Time) (int64, error)
}

// Store bundles every collaborator the service needs.
type Store interface {
	AccountStore
	RoleStore
	LoginAttemptStore
	RefreshStore
	DenylistStore
}
