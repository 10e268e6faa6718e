package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"afiliados.org/internal/auth"
)

func (s *Store) IssueRefresh(ctx context.Context, rec *auth.RefreshRecord) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, account_id, chain_id, fingerprint, issued_at, expires_at, client_ip, user_agent)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.AccountID, rec.ChainID, rec.Fingerprint, rec.IssuedAt, rec.ExpiresAt,
		nullIfEmpty(rec.ClientIP), nullIfEmpty(rec.UserAgent))
	return mapWriteError(err)
}

// RotateRefresh consumes the old record and inserts its successor in a single
// statement. Under concurrent rotations of one fingerprint the losing UPDATE
// re-evaluates its predicate after the winner commits, matches nothing and
// inserts nothing.
func (s *Store) RotateRefresh(ctx context.Context, oldFingerprint string, next *auth.RefreshRecord, now time.Time) (*auth.RefreshRecord, error) {
	var oldID, accountID, chainID string
	err := s.db.QueryRowContext(ctx, `
		with old as (
			update refresh_tokens
			set revoked_at = $2, replaced_by = $3
			where fingerprint = $1 and revoked_at is null and expires_at > $2
			returning id, account_id, chain_id
		)
		insert into refresh_tokens (id, account_id, chain_id, fingerprint, issued_at, expires_at, client_ip, user_agent, rotated_from)
		select $3, old.account_id, old.chain_id, $4, $5, $6, $7, $8, old.id
		from old
		returning rotated_from, account_id, chain_id
	`, oldFingerprint, now.UTC(), next.ID, next.Fingerprint, next.IssuedAt, next.ExpiresAt,
		nullIfEmpty(next.ClientIP), nullIfEmpty(next.UserAgent)).Scan(&oldID, &accountID, &chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, mapWriteError(err)
	}
	next.AccountID = accountID
	next.ChainID = chainID
	next.RotatedFrom = oldID

	revokedAt := now.UTC()
	return &auth.RefreshRecord{
		ID:          oldID,
		AccountID:   accountID,
		ChainID:     chainID,
		Fingerprint: oldFingerprint,
		RevokedAt:   &revokedAt,
		ReplacedBy:  next.ID,
	}, nil
}

func (s *Store) FindRefresh(ctx context.Context, fingerprint string) (*auth.RefreshRecord, error) {
	var rec auth.RefreshRecord
	var clientIP, userAgent, replacedBy, rotFrom sql.NullString
	var revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		select id, account_id, chain_id, fingerprint, issued_at, expires_at,
			client_ip, user_agent, revoked_at, replaced_by, rotated_from
		from refresh_tokens
		where fingerprint = $1
	`, fingerprint).Scan(&rec.ID, &rec.AccountID, &rec.ChainID, &rec.Fingerprint, &rec.IssuedAt, &rec.ExpiresAt,
		&clientIP, &userAgent, &revokedAt, &replacedBy, &rotFrom)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.ClientIP = clientIP.String
	rec.UserAgent = userAgent.String
	rec.RevokedAt = timePtr(revokedAt)
	rec.ReplacedBy = replacedBy.String
	rec.RotatedFrom = rotFrom.String
	return &rec, nil
}

func (s *Store) RevokeRefresh(ctx context.Context, fingerprint string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = coalesce(revoked_at, $2)
		where fingerprint = $1
	`, fingerprint, now.UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set revoked_at = $2
		where account_id = $1 and revoked_at is null and expires_at > $2
	`, accountID, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) PurgeExpiredRefresh(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
