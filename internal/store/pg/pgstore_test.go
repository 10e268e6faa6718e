package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"afiliados.org/internal/auth"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

var accountCols = []string{
	"id", "handle", "email", "password_hash", "hash_algorithm", "display_name", "status",
	"org_level1", "org_level2", "org_level3", "org_level4",
	"failed_attempts", "last_failed_at", "lockout_end_at", "created_at", "updated_at",
}

func TestFindByIdentifierLowercases(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(accountCols).AddRow(
		"acct-1", "Ana", "ana@example.org", "$argon2id$x", "argon2id", "Ana", "active",
		"br", "sp", "", "", 2, now, nil, now, now,
	)
	mock.ExpectQuery("from accounts\\s+where lower\\(handle\\) = \\$1 or lower\\(email\\) = \\$1").
		WithArgs("ana@example.org").
		WillReturnRows(rows)

	acct, err := s.FindByIdentifier(context.Background(), "  ANA@example.org ")
	if err != nil {
		t.Fatalf("FindByIdentifier: %v", err)
	}
	if acct.ID != "acct-1" || acct.Org.Level1 != "br" || acct.FailedAttempts != 2 {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if acct.LastFailedAt == nil || !acct.LastFailedAt.Equal(now) {
		t.Fatalf("last failure not scanned: %v", acct.LastFailedAt)
	}
	if acct.LockoutEndAt != nil {
		t.Fatalf("expected no lockout, got %v", acct.LockoutEndAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from accounts\\s+where id = \\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := s.FindByID(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAccountConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into accounts").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := s.CreateAccount(context.Background(), &auth.Account{ID: "a", Handle: "ana", CreatedAt: time.Now()}, nil)
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateAccountWithRoles(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into accounts").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into account_roles").WithArgs("a", "affiliate", true).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into account_roles").WithArgs("a", "viewer", false).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.CreateAccount(context.Background(), &auth.Account{ID: "a", Handle: "ana", CreatedAt: time.Now()}, []auth.RoleAssignment{
		{Name: "affiliate", IsEntity: true},
		{Name: "viewer"},
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterFailedLoginPassesPolicy(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := auth.LockoutPolicy{Threshold: 3, Window: 10 * time.Minute, Duration: 30 * time.Minute}
	until := now.Add(policy.Duration)

	mock.ExpectQuery("update accounts set").
		WithArgs("acct-1", now, now.Add(-policy.Window), until, 3).
		WillReturnRows(sqlmock.NewRows([]string{"failed_attempts", "last_failed_at", "lockout_end_at"}).AddRow(3, now, until))

	st, err := s.RegisterFailedLogin(context.Background(), "acct-1", policy, now)
	if err != nil {
		t.Fatalf("RegisterFailedLogin: %v", err)
	}
	if st.FailedAttempts != 3 || st.LockoutEndAt == nil || !st.LockoutEndAt.Equal(until) {
		t.Fatalf("unexpected state: %+v", st)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRotateRefreshSingleStatement(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := &auth.RefreshRecord{ID: "new", Fingerprint: "fp-new", IssuedAt: now, ExpiresAt: now.Add(time.Hour), ClientIP: "10.0.0.1"}

	mock.ExpectQuery("with old as \\(\\s+update refresh_tokens").
		WithArgs("fp-old", now, "new", "fp-new", now, now.Add(time.Hour), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"rotated_from", "account_id", "chain_id"}).AddRow("old", "acct-1", "chain-1"))

	old, err := s.RotateRefresh(context.Background(), "fp-old", next, now)
	if err != nil {
		t.Fatalf("RotateRefresh: %v", err)
	}
	if old.ID != "old" || old.AccountID != "acct-1" || old.ReplacedBy != "new" || old.RevokedAt == nil {
		t.Fatalf("unexpected consumed record: %+v", old)
	}
	if next.ChainID != "chain-1" || next.RotatedFrom != "old" || next.AccountID != "acct-1" {
		t.Fatalf("successor not linked: %+v", next)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRotateRefreshLostRace(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("with old as").WillReturnError(sql.ErrNoRows)

	_, err := s.RotateRefresh(context.Background(), "fp", &auth.RefreshRecord{ID: "n"}, now)
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeRefreshUnknown(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update refresh_tokens\\s+set revoked_at = coalesce").
		WithArgs("fp", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.RevokeRefresh(context.Background(), "fp", time.Now()); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeAllForAccountCounts(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update refresh_tokens\\s+set revoked_at = \\$2\\s+where account_id = \\$1").
		WithArgs("acct-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.RevokeAllForAccount(context.Background(), "acct-1", time.Now())
	if err != nil {
		t.Fatalf("RevokeAllForAccount: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 revoked, got %d", n)
	}
}

func TestFindRefreshNullables(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "account_id", "chain_id", "fingerprint", "issued_at", "expires_at",
		"client_ip", "user_agent", "revoked_at", "replaced_by", "rotated_from"}
	mock.ExpectQuery("from refresh_tokens\\s+where fingerprint = \\$1").
		WithArgs("fp").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("r1", "acct-1", "c1", "fp", now, now.Add(time.Hour), nil, nil, now, "r2", nil))

	rec, err := s.FindRefresh(context.Background(), "fp")
	if err != nil {
		t.Fatalf("FindRefresh: %v", err)
	}
	if rec.ClientIP != "" || rec.ReplacedBy != "r2" || rec.RevokedAt == nil {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Live(now) {
		t.Fatalf("revoked record reported live")
	}
}

func TestDenylistRoundTrip(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := auth.DenylistEntry{JTI: "j1", AccountID: "acct-1", ExpiresAt: now.Add(time.Minute), Reason: "logout", CreatedAt: now}

	mock.ExpectExec("insert into token_denylist.*on conflict \\(jti\\) do nothing").
		WithArgs("j1", sqlmock.AnyArg(), entry.ExpiresAt, sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("j1", now).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("delete from token_denylist where expires_at < \\$1").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 7))

	ctx := context.Background()
	if err := s.DenylistToken(ctx, entry); err != nil {
		t.Fatalf("DenylistToken: %v", err)
	}
	ok, err := s.IsTokenDenylisted(ctx, "j1", now)
	if err != nil || !ok {
		t.Fatalf("IsTokenDenylisted: ok=%v err=%v", ok, err)
	}
	n, err := s.PurgeExpiredDenylist(ctx, now)
	if err != nil || n != 7 {
		t.Fatalf("PurgeExpiredDenylist: n=%d err=%v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
