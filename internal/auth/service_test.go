package auth_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"afiliados.org/internal/auth"
	"afiliados.org/internal/store/memstore"
)

const testPassword = "correct horse battery"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *auth.Service
	store *memstore.Store
	codec *auth.TokenCodec
	clock *testClock
	acct  *auth.Account
}

func fastHasher() *auth.Hasher {
	return auth.NewHasher(
		auth.WithArgon2Params(auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}),
		auth.WithBcryptCost(bcrypt.MinCost),
	)
}

func newFixture(t *testing.T, store auth.Store, opts ...auth.ServiceOption) *fixture {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	codec, err := auth.NewTokenCodec(
		auth.WithHMACSecret("test-secret-test-secret-test-secret"),
		auth.WithIssuer("afiliados-test"),
		auth.WithAudience("backoffice"),
		auth.WithRefreshPepper("pepper"),
		auth.WithCodecClock(clk.Now),
	)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	mem := memstore.New()
	if store == nil {
		store = mem
	}
	base := []auth.ServiceOption{auth.WithClock(clk.Now), auth.WithHasher(fastHasher())}
	svc, err := auth.NewService(store, codec, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	acct, err := svc.Register(context.Background(), auth.RegisterRequest{
		Handle:   "jdoe",
		Email:    "jdoe@example.com",
		Password: testPassword,
		Org:      auth.OrgHierarchy{Level1: "org-1", Level2: "div-2"},
		Roles:    []auth.RoleAssignment{{Name: "Admin", IsEntity: true}, {Name: "viewer"}},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return &fixture{svc: svc, store: mem, codec: codec, clock: clk, acct: acct}
}

func (f *fixture) login(t *testing.T, password string) (*auth.Session, error) {
	t.Helper()
	return f.svc.Login(context.Background(), auth.LoginRequest{
		Identifier: "jdoe",
		Password:   password,
		Client:     auth.ClientInfo{IP: "203.0.113.7", UserAgent: "test"},
	})
}

func (f *fixture) mustLogin(t *testing.T) *auth.Session {
	t.Helper()
	sess, err := f.login(t, testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return sess
}

func TestLoginIssuesSession(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.mustLogin(t)

	if sess.AccountID != f.acct.ID {
		t.Fatalf("unexpected account id %s", sess.AccountID)
	}
	claims, err := f.codec.VerifyAccess(sess.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Subject != f.acct.ID {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	wantExp := f.clock.Now().Add(f.codec.AccessTTL())
	if !claims.ExpiresAt.Time.Equal(wantExp) || !sess.AccessExpiresAt.Equal(wantExp) {
		t.Fatalf("expiry %v, want %v", claims.ExpiresAt.Time, wantExp)
	}
	if claims.ID != sess.AccessJTI {
		t.Fatalf("jti mismatch %s != %s", claims.ID, sess.AccessJTI)
	}
	p := auth.PrincipalFromClaims(claims)
	if !p.HasRole("admin") || !p.HasRole("viewer") || !p.IsEntity("admin") || p.IsEntity("viewer") {
		t.Fatalf("roles not preserved: %+v", p.Roles)
	}
	if p.Org.Level1 != "org-1" || p.Org.Level2 != "div-2" {
		t.Fatalf("org not preserved: %+v", p.Org)
	}
	if sess.RefreshToken == "" || !sess.RefreshExpiresAt.Equal(f.clock.Now().Add(f.codec.RefreshTTL())) {
		t.Fatalf("unexpected refresh %q exp %v", sess.RefreshToken, sess.RefreshExpiresAt)
	}

	again := f.mustLogin(t)
	if again.RefreshToken == sess.RefreshToken || again.AccessJTI == sess.AccessJTI {
		t.Fatal("expected fresh secrets per login")
	}
}

func TestLoginByEmailIsCaseInsensitive(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Login(context.Background(), auth.LoginRequest{Identifier: "  JDoe@Example.com ", Password: testPassword})
	if err != nil {
		t.Fatalf("login by email: %v", err)
	}
}

func TestUnknownAccountIsInvalidCredentials(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Login(context.Background(), auth.LoginRequest{Identifier: "nobody", Password: testPassword})
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	_, err = f.login(t, "wrong password")
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestLockoutAfterThreshold(t *testing.T) {
	logger, hook := test.NewNullLogger()
	f := newFixture(t, nil, auth.WithLogger(logger))

	for i := 0; i < 5; i++ {
		if _, err := f.login(t, "wrong password"); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i+1, err)
		}
	}
	_, err := f.login(t, testPassword)
	if !errors.Is(err, auth.ErrAccountLocked) {
		t.Fatalf("expected account locked, got %v", err)
	}
	if errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatal("locked must be distinct from invalid credentials")
	}
	remaining, ok := auth.LockRemaining(err)
	if !ok || remaining <= 0 {
		t.Fatalf("expected remaining time, got %v %v", remaining, ok)
	}
	if auth.Classify(err) != auth.OutcomeAccountLocked {
		t.Fatalf("unexpected outcome %v", auth.Classify(err))
	}

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "account locked after repeated failures" {
			warned = true
		}
		if s, _ := e.String(); strings.Contains(s, testPassword) || strings.Contains(s, "wrong password") {
			t.Fatalf("password leaked into log: %s", s)
		}
	}
	if !warned {
		t.Fatal("expected lockout warning")
	}

	f.clock.Advance(16 * time.Minute)
	if _, err := f.login(t, testPassword); err != nil {
		t.Fatalf("expected login after lockout elapsed, got %v", err)
	}
	acct, err := f.store.FindByID(context.Background(), f.acct.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if acct.FailedAttempts != 0 || acct.LockoutEndAt != nil {
		t.Fatalf("expected cleared lockout, got %d %v", acct.FailedAttempts, acct.LockoutEndAt)
	}
}

func TestSuccessfulLoginResetsCounter(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 4; i++ {
		_, _ = f.login(t, "wrong password")
	}
	acct, _ := f.store.FindByID(context.Background(), f.acct.ID)
	if acct.FailedAttempts != 4 {
		t.Fatalf("expected 4 failures recorded, got %d", acct.FailedAttempts)
	}
	f.mustLogin(t)
	acct, _ = f.store.FindByID(context.Background(), f.acct.ID)
	if acct.FailedAttempts != 0 {
		t.Fatalf("expected counter reset, got %d", acct.FailedAttempts)
	}
	for i := 0; i < 4; i++ {
		_, _ = f.login(t, "wrong password")
	}
	f.mustLogin(t)
}

func TestFailuresOutsideWindowDoNotLock(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 4; i++ {
		_, _ = f.login(t, "wrong password")
	}
	f.clock.Advance(20 * time.Minute)
	_, _ = f.login(t, "wrong password")
	if _, err := f.login(t, testPassword); err != nil {
		t.Fatalf("window should have restarted the count, got %v", err)
	}
}

func TestRefreshRotationReplayFails(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.mustLogin(t)
	ctx := context.Background()

	first, err := f.svc.Refresh(ctx, sess.RefreshToken, auth.ClientInfo{})
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if first.RefreshToken == sess.RefreshToken || first.AccountID != f.acct.ID {
		t.Fatalf("unexpected rotation result %+v", first)
	}
	if _, err := f.svc.Refresh(ctx, sess.RefreshToken, auth.ClientInfo{}); !errors.Is(err, auth.ErrRevokedToken) {
		t.Fatalf("expected revoked token on replay, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, first.RefreshToken, auth.ClientInfo{}); err != nil {
		t.Fatalf("successor should rotate: %v", err)
	}
}

func TestRefreshUnknownSecretCreatesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.mustLogin(t)
	before := f.store.RefreshCount()

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Refresh(context.Background(), hex.EncodeToString(buf), auth.ClientInfo{})
	if !errors.Is(err, auth.ErrRevokedToken) {
		t.Fatalf("expected revoked token, got %v", err)
	}
	if after := f.store.RefreshCount(); after != before {
		t.Fatalf("record count changed %d -> %d", before, after)
	}
	if _, err := f.svc.Refresh(context.Background(), "  ", auth.ClientInfo{}); !errors.Is(err, auth.ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
}

func TestRefreshExpiredSecret(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.mustLogin(t)
	f.clock.Advance(f.codec.RefreshTTL() + time.Second)
	if _, err := f.svc.Refresh(context.Background(), sess.RefreshToken, auth.ClientInfo{}); !errors.Is(err, auth.ErrRevokedToken) {
		t.Fatalf("expected revoked token, got %v", err)
	}
}

func TestReusePolicy(t *testing.T) {
	cases := []struct {
		name          string
		policy        auth.ReusePolicy
		siblingRevoke bool
	}{
		{"ignore", auth.ReuseIgnore, false},
		{"revoke-account", auth.ReuseRevokeAccount, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil, auth.WithReusePolicy(tc.policy))
			ctx := context.Background()
			a := f.mustLogin(t)
			b := f.mustLogin(t)

			rotated, err := f.svc.Refresh(ctx, a.RefreshToken, auth.ClientInfo{})
			if err != nil {
				t.Fatalf("refresh: %v", err)
			}
			if _, err := f.svc.Refresh(ctx, a.RefreshToken, auth.ClientInfo{}); !errors.Is(err, auth.ErrRevokedToken) {
				t.Fatalf("expected replay rejected, got %v", err)
			}

			_, errB := f.svc.Refresh(ctx, b.RefreshToken, auth.ClientInfo{})
			_, errRotated := f.svc.Refresh(ctx, rotated.RefreshToken, auth.ClientInfo{})
			if tc.siblingRevoke {
				if !errors.Is(errB, auth.ErrRevokedToken) || !errors.Is(errRotated, auth.ErrRevokedToken) {
					t.Fatalf("expected cascade, got %v / %v", errB, errRotated)
				}
			} else if errB != nil || errRotated != nil {
				t.Fatalf("expected no cascade, got %v / %v", errB, errRotated)
			}
		})
	}
}

type failingCascade struct {
	*memstore.Store
}

func (failingCascade) RevokeAllForAccount(context.Context, string, time.Time) (int64, error) {
	return 0, errors.New("dial tcp 10.0.0.3:5432: connection reset by peer")
}

func TestReplayStaysRevokedWhenCascadeFails(t *testing.T) {
	log, hook := test.NewNullLogger()
	f := newFixture(t, failingCascade{memstore.New()}, auth.WithReusePolicy(auth.ReuseRevokeAccount), auth.WithLogger(log))
	ctx := context.Background()
	sess := f.mustLogin(t)

	if _, err := f.svc.Refresh(ctx, sess.RefreshToken, auth.ClientInfo{}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	_, err := f.svc.Refresh(ctx, sess.RefreshToken, auth.ClientInfo{})
	if !errors.Is(err, auth.ErrRevokedToken) || errors.Is(err, auth.ErrSystem) {
		t.Fatalf("expected revoked token, got %v", err)
	}
	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && strings.Contains(e.Message, "revoking sessions failed") {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("expected cascade failure to be logged")
	}
}

func TestUnknownSecretNeverCascades(t *testing.T) {
	f := newFixture(t, nil, auth.WithReusePolicy(auth.ReuseRevokeAccount))
	sess := f.mustLogin(t)
	if _, err := f.svc.Refresh(context.Background(), "forged-secret", auth.ClientInfo{}); !errors.Is(err, auth.ErrRevokedToken) {
		t.Fatalf("expected revoked, got %v", err)
	}
	if _, err := f.svc.Refresh(context.Background(), sess.RefreshToken, auth.ClientInfo{}); err != nil {
		t.Fatalf("live session should survive unknown secret: %v", err)
	}
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.mustLogin(t)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		revoked int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Refresh(context.Background(), sess.RefreshToken, auth.ClientInfo{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, auth.ErrRevokedToken):
				revoked++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins != 1 || revoked != workers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d revoked=%d", wins, revoked)
	}
}

func TestExchangeAccessDoesNotConsume(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.mustLogin(t)
	ctx := context.Background()

	tok, err := f.svc.ExchangeAccess(ctx, sess.RefreshToken)
	if err != nil {
		t.Fatalf("ExchangeAccess: %v", err)
	}
	p, err := f.svc.Authenticate(ctx, tok.Token)
	if err != nil || p.AccountID != f.acct.ID {
		t.Fatalf("Authenticate: %v %+v", err, p)
	}
	if _, err := f.svc.Refresh(ctx, sess.RefreshToken, auth.ClientInfo{}); err != nil {
		t.Fatalf("secret should still rotate: %v", err)
	}
	if _, err := f.svc.ExchangeAccess(ctx, sess.RefreshToken); !errors.Is(err, auth.ErrRevokedToken) {
		t.Fatalf("consumed secret must not mint access, got %v", err)
	}
}

func TestLogoutAllRejectsMalformedAccountID(t *testing.T) {
	f := newFixture(t, nil)
	sess := f.mustLogin(t)
	for _, id := range []string{"", "  ", "jdoe", strings.ToLower(f.acct.ID) + "x"} {
		if _, err := f.svc.LogoutAll(context.Background(), id); !errors.Is(err, auth.ErrInvalidInput) {
			t.Fatalf("LogoutAll(%q): expected invalid input, got %v", id, err)
		}
	}
	if _, err := f.svc.Refresh(context.Background(), sess.RefreshToken, auth.ClientInfo{}); err != nil {
		t.Fatalf("session should survive rejected logout-all: %v", err)
	}
}

func TestLogoutAllRevokesRefreshOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.mustLogin(t)
	b := f.mustLogin(t)

	n, err := f.svc.LogoutAll(ctx, f.acct.ID)
	if err != nil || n != 2 {
		t.Fatalf("LogoutAll: n=%d err=%v", n, err)
	}
	for _, s := range []*auth.Session{a, b} {
		if _, err := f.svc.Refresh(ctx, s.RefreshToken, auth.ClientInfo{}); !errors.Is(err, auth.ErrRevokedToken) {
			t.Fatalf("expected revoked after logout-all, got %v", err)
		}
	}
	if _, err := f.svc.Authenticate(ctx, a.AccessToken); err != nil {
		t.Fatalf("access tokens are not retroactively revoked: %v", err)
	}
}

func TestLogoutDenylistsAccessToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sess := f.mustLogin(t)

	p, err := f.svc.Authenticate(ctx, sess.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := f.svc.Logout(ctx, p, sess.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, sess.AccessToken); !errors.Is(err, auth.ErrRevokedToken) {
		t.Fatalf("expected revoked token, got %v", err)
	}
	denied, err := f.svc.IsDenylisted(ctx, p.TokenID)
	if err != nil || !denied {
		t.Fatalf("expected denylisted, got %v %v", denied, err)
	}
	if _, err := f.svc.Refresh(ctx, sess.RefreshToken, auth.ClientInfo{}); !errors.Is(err, auth.ErrRevokedToken) {
		t.Fatalf("expected session refresh revoked, got %v", err)
	}

	f.clock.Advance(f.codec.AccessTTL() + time.Second)
	denied, err = f.svc.IsDenylisted(ctx, p.TokenID)
	if err != nil || denied {
		t.Fatalf("expired entry should be moot, got %v %v", denied, err)
	}
}

func TestIsDenylistedMalformedInput(t *testing.T) {
	f := newFixture(t, nil)
	for _, jti := range []string{"", "   ", "not-a-uuid", "'; drop table token_denylist; --"} {
		denied, err := f.svc.IsDenylisted(context.Background(), jti)
		if err != nil || denied {
			t.Fatalf("IsDenylisted(%q) = %v, %v", jti, denied, err)
		}
	}
}

func TestRevokeValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := f.clock.Now()

	err := f.svc.Revoke(ctx, auth.RevokeRequest{JTI: "", ExpiresAt: now.Add(time.Minute)})
	if !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty jti, got %v", err)
	}
	jti := "4a1f8f1e-2b5d-4c3a-9f0e-0d6b7c8e9a10"
	if err := f.svc.Revoke(ctx, auth.RevokeRequest{JTI: jti, ExpiresAt: now}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected invalid input for non-future expiry, got %v", err)
	}
	if err := f.svc.Revoke(ctx, auth.RevokeRequest{JTI: jti, ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := f.svc.Revoke(ctx, auth.RevokeRequest{JTI: jti, ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("duplicate Revoke should be idempotent: %v", err)
	}
	denied, _ := f.svc.IsDenylisted(ctx, jti)
	if !denied {
		t.Fatal("expected denylisted")
	}
}

func TestRegisterUniqueness(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cases := []auth.RegisterRequest{
		{Handle: "JDOE", Password: testPassword},
		{Handle: "other", Email: "jdoe@example.com", Password: testPassword},
		{Handle: "jdoe@example.com", Password: testPassword},
	}
	for _, req := range cases {
		if _, err := f.svc.Register(ctx, req); !errors.Is(err, auth.ErrConflict) {
			t.Fatalf("Register(%+v): expected conflict, got %v", req, err)
		}
	}
	if _, err := f.svc.Register(ctx, auth.RegisterRequest{Handle: "short", Password: "abc"}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected invalid input for short password, got %v", err)
	}
}

func TestLegacyCredentialIsUpgraded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	hasher := fastHasher()
	digest, alg, err := hasher.HashLegacy("legacy-pass")
	if err != nil {
		t.Fatalf("HashLegacy: %v", err)
	}
	legacy := &auth.Account{ID: "legacy-1", Handle: "old", PasswordHash: digest, HashAlgorithm: alg, Status: auth.StatusActive}
	if err := f.store.CreateAccount(ctx, legacy, nil); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := f.svc.Login(ctx, auth.LoginRequest{Identifier: "old", Password: "legacy-pass"}); err != nil {
		t.Fatalf("legacy login: %v", err)
	}
	acct, _ := f.store.FindByID(ctx, "legacy-1")
	if acct.HashAlgorithm != auth.AlgArgon2id {
		t.Fatalf("expected upgraded hash, got %s", acct.HashAlgorithm)
	}
	if _, err := f.svc.Login(ctx, auth.LoginRequest{Identifier: "old", Password: "legacy-pass"}); err != nil {
		t.Fatalf("login after upgrade: %v", err)
	}
}

func TestDisabledAccountIsInvalidCredentials(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	digest, alg, _ := fastHasher().Hash(testPassword)
	off := &auth.Account{ID: "off-1", Handle: "off", PasswordHash: digest, HashAlgorithm: alg, Status: auth.StatusDisabled}
	if err := f.store.CreateAccount(ctx, off, nil); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := f.svc.Login(ctx, auth.LoginRequest{Identifier: "off", Password: testPassword}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixture(t, nil, auth.WithLoginLimiter(auth.NewAttemptLimiter(1, 2)))
	for i := 0; i < 2; i++ {
		if _, err := f.login(t, testPassword); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	_, err := f.login(t, testPassword)
	if !errors.Is(err, auth.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

type failingRoles struct {
	*memstore.Store
}

func (failingRoles) RolesForAccount(context.Context, string) ([]auth.RoleAssignment, error) {
	return nil, errors.New("dial tcp 10.0.0.3:5432: connection reset by peer")
}

func TestSystemErrorsAreOpaque(t *testing.T) {
	var outcomes []auth.Outcome
	observer := auth.WithOutcomeObserver(func(op string, o auth.Outcome) {
		if op == "login" {
			outcomes = append(outcomes, o)
		}
	})
	mem := memstore.New()
	f := newFixture(t, failingRoles{mem}, observer)

	_, err := f.login(t, testPassword)
	if !errors.Is(err, auth.ErrSystem) {
		t.Fatalf("expected system error, got %v", err)
	}
	if err.Error() != "auth: login failed" {
		t.Fatalf("internal detail leaked: %q", err.Error())
	}
	if len(outcomes) != 1 || outcomes[0] != auth.OutcomeSystemError {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}
}
