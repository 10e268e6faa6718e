package pg

import (
	"context"
	"time"

	"afiliados.org/internal/auth"
)

func (s *Store) DenylistToken(ctx context.Context, entry auth.DenylistEntry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into token_denylist (jti, account_id, expires_at, reason, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict (jti) do nothing
	`, entry.JTI, nullIfEmpty(entry.AccountID), entry.ExpiresAt.UTC(), nullIfEmpty(entry.Reason), entry.CreatedAt.UTC())
	return mapWriteError(err)
}

func (s *Store) IsTokenDenylisted(ctx context.Context, jti string, now time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from token_denylist where jti = $1 and expires_at > $2)
	`, jti, now.UTC()).Scan(&exists)
	return exists, err
}

func (s *Store) PurgeExpiredDenylist(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from token_denylist where expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
