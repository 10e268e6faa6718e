package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"afiliados.org/internal/ids"
)

// ReusePolicy decides what happens when a consumed refresh secret is replayed.
type ReusePolicy int

const (
	// ReuseIgnore rejects the replay and does nothing else.
	ReuseIgnore ReusePolicy = iota
	// ReuseRevokeAccount also revokes every live refresh record of the owner.
	ReuseRevokeAccount
)

func (p ReusePolicy) String() string {
	if p == ReuseRevokeAccount {
		return "revoke-account"
	}
	return "ignore"
}

// ParseReusePolicy accepts "ignore" and "revoke-account".
func ParseReusePolicy(s string) (ReusePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return ReuseIgnore, nil
	case "revoke-account", "revoke_account":
		return ReuseRevokeAccount, nil
	default:
		return ReuseIgnore, fmt.Errorf("unknown refresh reuse policy %q", s)
	}
}

// Rotator exchanges a refresh secret for a new one.
type Rotator struct {
	codec  *TokenCodec
	store  RefreshStore
	policy ReusePolicy
	now    func() time.Time
	log    logrus.FieldLogger

	// OnReuse, when set, observes replays of consumed secrets.
	OnReuse func(accountID string, revoked int64)
}

// NewRotator wires a Rotator.
func NewRotator(codec *TokenCodec, store RefreshStore, policy ReusePolicy, log logrus.FieldLogger) *Rotator {
	if log == nil {
		log = discardLogger()
	}
	return &Rotator{codec: codec, store: store, policy: policy, now: time.Now, log: log}
}

// Rotate consumes presented and returns its successor. Unknown, consumed,
// revoked and expired secrets all fail with ErrRevokedToken.
func (r *Rotator) Rotate(ctx context.Context, presented string, client ClientInfo) (*RefreshResult, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return nil, ErrMissingToken
	}
	fingerprint := r.codec.Fingerprint(presented)

	secret, err := r.codec.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("refresh secret: %w", err)
	}
	now := r.now().UTC()
	next := &RefreshRecord{
		ID:          ids.New(),
		Fingerprint: secret.Fingerprint,
		IssuedAt:    now,
		ExpiresAt:   now.Add(secret.TTL),
		ClientIP:    client.IP,
		UserAgent:   client.UserAgent,
	}
	old, err := r.store.RotateRefresh(ctx, fingerprint, next, now)
	if errors.Is(err, ErrNotFound) {
		r.handleReuse(ctx, fingerprint, now)
		return nil, ErrRevokedToken
	}
	if err != nil {
		return nil, fmt.Errorf("rotate refresh: %w", err)
	}
	return &RefreshResult{AccountID: old.AccountID, RefreshToken: secret.Token, ExpiresAt: next.ExpiresAt}, nil
}

// Lookup returns the live record for presented without consuming it.
func (r *Rotator) Lookup(ctx context.Context, presented string) (*RefreshRecord, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return nil, ErrMissingToken
	}
	rec, err := r.store.FindRefresh(ctx, r.codec.Fingerprint(presented))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrRevokedToken
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh: %w", err)
	}
	if !rec.Live(r.now()) {
		return nil, ErrRevokedToken
	}
	return rec, nil
}

// handleReuse applies the reuse policy. Only a known record that is no longer
// live counts as a replay; an unknown fingerprint proves nothing about any
// account. Cascade failures are logged; the replay is rejected either way.
func (r *Rotator) handleReuse(ctx context.Context, fingerprint string, now time.Time) {
	if r.policy != ReuseRevokeAccount {
		return
	}
	rec, err := r.store.FindRefresh(ctx, fingerprint)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		r.log.WithError(err).Error("refresh reuse lookup failed")
		return
	}
	if rec.RevokedAt == nil {
		// expired naturally
		return
	}
	entry := r.log.WithFields(logrus.Fields{
		"account_id": rec.AccountID,
		"chain_id":   rec.ChainID,
	})
	n, err := r.store.RevokeAllForAccount(ctx, rec.AccountID, now)
	if err != nil {
		entry.WithError(err).Error("refresh token reuse detected, revoking sessions failed")
		return
	}
	entry.WithField("revoked", n).Warn("refresh token reuse detected, sessions revoked")
	if r.OnReuse != nil {
		r.OnReuse(rec.AccountID, n)
	}
}
