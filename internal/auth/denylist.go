package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"afiliados.org/internal/ids"
)

// Registry records revoked access tokens and revokes refresh chains.
type Registry struct {
	deny    DenylistStore
	refresh RefreshStore
	now     func() time.Time
}

// NewRegistry wires a Registry.
func NewRegistry(deny DenylistStore, refresh RefreshStore) *Registry {
	return &Registry{deny: deny, refresh: refresh, now: time.Now}
}

// Denylist rejects jti until expiresAt. Re-denylisting a jti is a no-op.
func (r *Registry) Denylist(ctx context.Context, jti, accountID string, expiresAt time.Time, reason string) error {
	jti = strings.TrimSpace(jti)
	if !validJTI(jti) {
		return fmt.Errorf("%w: jti is required", ErrInvalidInput)
	}
	now := r.now().UTC()
	if !expiresAt.After(now) {
		return fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}
	return r.deny.DenylistToken(ctx, DenylistEntry{
		JTI:       jti,
		AccountID: strings.TrimSpace(accountID),
		ExpiresAt: expiresAt.UTC(),
		Reason:    strings.TrimSpace(reason),
		CreatedAt: now,
	})
}

// IsDenylisted reports whether jti is revoked. Malformed ids are never
// denylisted.
func (r *Registry) IsDenylisted(ctx context.Context, jti string) (bool, error) {
	jti = strings.TrimSpace(jti)
	if !validJTI(jti) {
		return false, nil
	}
	return r.deny.IsTokenDenylisted(ctx, jti, r.now().UTC())
}

// RevokeAllForAccount revokes every live refresh record of accountID. Access
// tokens already issued stay valid until they expire.
func (r *Registry) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return 0, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	if !ids.Valid(accountID) {
		return 0, fmt.Errorf("%w: malformed account id", ErrInvalidInput)
	}
	return r.refresh.RevokeAllForAccount(ctx, accountID, r.now().UTC())
}

func validJTI(jti string) bool {
	if jti == "" {
		return false
	}
	_, err := uuid.Parse(jti)
	return err == nil
}
