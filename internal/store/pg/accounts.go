package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"afiliados.org/internal/auth"
)

const accountColumns = `
	id, handle, coalesce(email, ''), password_hash, hash_algorithm, display_name, status,
	coalesce(org_level1, ''), coalesce(org_level2, ''), coalesce(org_level3, ''), coalesce(org_level4, ''),
	failed_attempts, last_failed_at, lockout_end_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*auth.Account, error) {
	var a auth.Account
	var lastFailed, lockEnds sql.NullTime
	err := row.Scan(&a.ID, &a.Handle, &a.Email, &a.PasswordHash, &a.HashAlgorithm, &a.DisplayName, &a.Status,
		&a.Org.Level1, &a.Org.Level2, &a.Org.Level3, &a.Org.Level4,
		&a.FailedAttempts, &lastFailed, &lockEnds, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.LastFailedAt = timePtr(lastFailed)
	a.LockoutEndAt = timePtr(lockEnds)
	return &a, nil
}

func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*auth.Account, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return nil, auth.ErrNotFound
	}
	return scanAccount(s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where lower(handle) = $1 or lower(email) = $1
		order by (lower(handle) = $1) desc
		limit 1
	`, identifier))
}

func (s *Store) FindByID(ctx context.Context, id string) (*auth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		select `+accountColumns+`
		from accounts
		where id = $1
	`, id))
}

func (s *Store) CreateAccount(ctx context.Context, acct *auth.Account, roles []auth.RoleAssignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into accounts (id, handle, email, password_hash, hash_algorithm, display_name, status,
			org_level1, org_level2, org_level3, org_level4, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, acct.ID, acct.Handle, nullIfEmpty(acct.Email), acct.PasswordHash, acct.HashAlgorithm, acct.DisplayName, acct.Status,
		nullIfEmpty(acct.Org.Level1), nullIfEmpty(acct.Org.Level2), nullIfEmpty(acct.Org.Level3), nullIfEmpty(acct.Org.Level4),
		acct.CreatedAt); err != nil {
		return mapWriteError(err)
	}
	for _, r := range roles {
		if _, err := tx.ExecContext(ctx, `
			insert into account_roles (account_id, role, is_entity)
			values ($1, $2, $3)
			on conflict (account_id, role) do update set is_entity = excluded.is_entity
		`, acct.ID, r.Name, r.IsEntity); err != nil {
			return mapWriteError(err)
		}
	}
	return tx.Commit()
}

func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, digest, algorithm string) error {
	res, err := s.db.ExecContext(ctx, `
		update accounts
		set password_hash = $2, hash_algorithm = $3, updated_at = now()
		where id = $1
	`, accountID, digest, algorithm)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) RolesForAccount(ctx context.Context, accountID string) ([]auth.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select role, is_entity
		from account_roles
		where account_id = $1
		order by role
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.RoleAssignment
	for rows.Next() {
		var r auth.RoleAssignment
		if err := rows.Scan(&r.Name, &r.IsEntity); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// RegisterFailedLogin applies the lockout policy inside one UPDATE so that
// concurrent failures for the same account serialize on the row lock. The
// CASE branches follow auth.LockoutPolicy.OnFailure in order:
//
//	held:      lockout_end_at > now (Remaining > 0), state unchanged
//	restart:   no prior failure, prior failure before the window start, or an
//	           elapsed lockout (restarts), count = 1
//	increment: otherwise, count = failed_attempts + 1
//
// A lock until now+Duration is set when the new count reaches a positive
// threshold. $2 now, $3 window start, $4 lock end, $5 threshold.
func (s *Store) RegisterFailedLogin(ctx context.Context, accountID string, policy auth.LockoutPolicy, now time.Time) (auth.LockoutState, error) {
	var lastFailed, lockEnds sql.NullTime
	var st auth.LockoutState
	err := s.db.QueryRowContext(ctx, `
		update accounts set
			failed_attempts = case
				when lockout_end_at > $2::timestamptz then failed_attempts -- held
				when last_failed_at is null or last_failed_at < $3::timestamptz or lockout_end_at <= $2::timestamptz then 1 -- restart
				else failed_attempts + 1 -- increment
			end,
			lockout_end_at = case
				when lockout_end_at > $2::timestamptz then lockout_end_at -- held
				when last_failed_at is null or last_failed_at < $3::timestamptz or lockout_end_at <= $2::timestamptz then
					case when $5::int > 0 and 1 >= $5::int then $4::timestamptz end -- restart
				when $5::int > 0 and failed_attempts + 1 >= $5::int then $4::timestamptz -- increment
			end,
			last_failed_at = case when lockout_end_at > $2::timestamptz then last_failed_at else $2::timestamptz end,
			updated_at = $2::timestamptz
		where id = $1
		returning failed_attempts, last_failed_at, lockout_end_at
	`, accountID, now.UTC(), policy.WindowStart(now).UTC(), now.Add(policy.Duration).UTC(), policy.Threshold).
		Scan(&st.FailedAttempts, &lastFailed, &lockEnds)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.LockoutState{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.LockoutState{}, err
	}
	st.LastFailedAt = timePtr(lastFailed)
	st.LockoutEndAt = timePtr(lockEnds)
	return st, nil
}

func (s *Store) RegisterSuccessfulLogin(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		update accounts
		set failed_attempts = 0, last_failed_at = null, lockout_end_at = null, updated_at = now()
		where id = $1 and (failed_attempts <> 0 or lockout_end_at is not null)
	`, accountID)
	return err
}
