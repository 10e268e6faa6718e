package auth

import (
	"context"
	"fmt"
	"time"

	"afiliados.org/internal/ids"
)

// Issuer mints the access token and first refresh record of a new session.
type Issuer struct {
	codec   *TokenCodec
	roles   RoleStore
	refresh RefreshStore
	now     func() time.Time
}

// NewIssuer wires an Issuer.
func NewIssuer(codec *TokenCodec, roles RoleStore, refresh RefreshStore) *Issuer {
	return &Issuer{codec: codec, roles: roles, refresh: refresh, now: time.Now}
}

// Issue starts a new refresh chain for acct and signs an access token carrying
// its current roles.
func (i *Issuer) Issue(ctx context.Context, acct *Account, client ClientInfo) (*Session, error) {
	access, roles, err := i.IssueAccess(ctx, acct)
	if err != nil {
		return nil, err
	}
	secret, err := i.codec.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("refresh secret: %w", err)
	}
	now := i.now().UTC()
	id := ids.New()
	rec := &RefreshRecord{
		ID:          id,
		AccountID:   acct.ID,
		ChainID:     id,
		Fingerprint: secret.Fingerprint,
		IssuedAt:    now,
		ExpiresAt:   now.Add(secret.TTL),
		ClientIP:    client.IP,
		UserAgent:   client.UserAgent,
	}
	if err := i.refresh.IssueRefresh(ctx, rec); err != nil {
		return nil, fmt.Errorf("issue refresh: %w", err)
	}
	return &Session{
		AccountID:        acct.ID,
		AccessToken:      access.Token,
		AccessJTI:        access.JTI,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     secret.Token,
		RefreshExpiresAt: rec.ExpiresAt,
		Roles:            roles,
	}, nil
}

// IssueAccess signs an access token only.
func (i *Issuer) IssueAccess(ctx context.Context, acct *Account) (AccessToken, []RoleAssignment, error) {
	roles, err := i.roles.RolesForAccount(ctx, acct.ID)
	if err != nil {
		return AccessToken{}, nil, fmt.Errorf("roles: %w", err)
	}
	access, err := i.codec.SignAccess(acct.ID, roles, acct.Org)
	if err != nil {
		return AccessToken{}, nil, err
	}
	return access, roles, nil
}
