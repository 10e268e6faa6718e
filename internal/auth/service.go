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

// Auditor receives security-relevant events.
type Auditor interface {
	Record(ctx context.Context, event string, fields map[string]any)
}

// Service composes credential verification, session issuance, refresh
// rotation and revocation into the operations exposed to transports.
type Service struct {
	store    Store
	deny     DenylistStore
	codec    *TokenCodec
	hasher   *Hasher
	policy   LockoutPolicy
	reuse    ReusePolicy
	limiter  *AttemptLimiter
	now      func() time.Time
	log      logrus.FieldLogger
	auditor  Auditor
	observer func(op string, outcome Outcome)

	verifier *Verifier
	issuer   *Issuer
	rotator  *Rotator
	registry *Registry
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithHasher overrides the password hasher.
func WithHasher(h *Hasher) ServiceOption {
	return func(s *Service) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

// WithLockoutPolicy overrides the lockout thresholds.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) error {
		if p.Threshold <= 0 || p.Window <= 0 || p.Duration <= 0 {
			return errors.New("auth: lockout policy requires positive threshold, window and duration")
		}
		s.policy = p
		return nil
	}
}

// WithReusePolicy selects what a replayed refresh secret triggers.
func WithReusePolicy(p ReusePolicy) ServiceOption {
	return func(s *Service) error {
		s.reuse = p
		return nil
	}
}

// WithLoginLimiter rate limits login attempts per client ip and identifier.
func WithLoginLimiter(l *AttemptLimiter) ServiceOption {
	return func(s *Service) error {
		s.limiter = l
		return nil
	}
}

// WithDenylistStore replaces the denylist backend, e.g. with a cache in front
// of the primary store.
func WithDenylistStore(d DenylistStore) ServiceOption {
	return func(s *Service) error {
		if d != nil {
			s.deny = d
		}
		return nil
	}
}

// WithLogger injects the logger.
func WithLogger(log logrus.FieldLogger) ServiceOption {
	return func(s *Service) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// WithAuditor injects the audit sink.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		s.auditor = a
		return nil
	}
}

// WithOutcomeObserver is called once per operation with its outcome.
func WithOutcomeObserver(fn func(op string, outcome Outcome)) ServiceOption {
	return func(s *Service) error {
		s.observer = fn
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, codec *TokenCodec, opts ...ServiceOption) (*Service, error) {
	if store == nil || codec == nil {
		return nil, errors.New("auth: store and codec are required")
	}
	svc := &Service{
		store:  store,
		deny:   store,
		codec:  codec,
		policy: DefaultLockoutPolicy(),
		now:    time.Now,
		log:    discardLogger(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.hasher == nil {
		svc.hasher = NewHasher()
	}
	log := svc.log.WithField("component", "auth")
	svc.log = log

	svc.verifier = NewVerifier(store, store, svc.hasher, svc.policy, log)
	svc.verifier.now = svc.now
	svc.issuer = NewIssuer(codec, store, store)
	svc.issuer.now = svc.now
	svc.rotator = NewRotator(codec, store, svc.reuse, log)
	svc.rotator.now = svc.now
	svc.rotator.OnReuse = func(accountID string, revoked int64) {
		svc.record(context.Background(), "auth.refresh.reuse", map[string]any{"account_id": accountID, "revoked": revoked})
	}
	svc.registry = NewRegistry(svc.deny, store)
	svc.registry.now = svc.now
	return svc, nil
}

// Codec exposes the token codec.
func (s *Service) Codec() *TokenCodec { return s.codec }

// LoginRequest carries the credentials of a login attempt.
type LoginRequest struct {
	Identifier string
	Password   string
	Client     ClientInfo
}

// Login verifies credentials and opens a new session.
func (s *Service) Login(ctx context.Context, req LoginRequest) (sess *Session, err error) {
	defer func() { s.observe("login", err) }()

	if !s.allowLogin(req) {
		s.log.WithField("client_ip", req.Client.IP).Warn("login rate limited")
		return nil, ErrRateLimited
	}
	acct, err := s.verifier.Verify(ctx, req.Identifier, req.Password)
	if err != nil {
		return nil, s.wrap("login", err)
	}
	sess, err = s.issuer.Issue(ctx, acct, req.Client)
	if err != nil {
		return nil, s.wrap("login", err)
	}
	s.upgradeHash(ctx, acct, req.Password)
	s.record(ctx, "auth.login", map[string]any{
		"account_id": acct.ID,
		"jti":        sess.AccessJTI,
		"client_ip":  req.Client.IP,
	})
	return sess, nil
}

// Refresh rotates a refresh secret. The caller must request a new access
// token separately through ExchangeAccess.
func (s *Service) Refresh(ctx context.Context, presented string, client ClientInfo) (res *RefreshResult, err error) {
	defer func() { s.observe("refresh", err) }()

	res, err = s.rotator.Rotate(ctx, presented, client)
	if err != nil {
		return nil, s.wrap("refresh", err)
	}
	return res, nil
}

// ExchangeAccess signs a new access token for the owner of a live refresh
// secret without consuming it.
func (s *Service) ExchangeAccess(ctx context.Context, presented string) (tok AccessToken, err error) {
	defer func() { s.observe("token", err) }()

	rec, err := s.rotator.Lookup(ctx, presented)
	if err != nil {
		return AccessToken{}, s.wrap("token", err)
	}
	acct, err := s.store.FindByID(ctx, rec.AccountID)
	if errors.Is(err, ErrNotFound) {
		return AccessToken{}, ErrRevokedToken
	}
	if err != nil {
		return AccessToken{}, s.wrap("token", err)
	}
	if acct.Status != StatusActive {
		return AccessToken{}, ErrRevokedToken
	}
	tok, _, err = s.issuer.IssueAccess(ctx, acct)
	if err != nil {
		return AccessToken{}, s.wrap("token", err)
	}
	return tok, nil
}

// Authenticate verifies a bearer token and rejects denylisted ones.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.codec.VerifyAccess(token)
	if err != nil {
		return Principal{}, err
	}
	denied, err := s.registry.IsDenylisted(ctx, claims.ID)
	if err != nil {
		return Principal{}, s.wrap("authenticate", err)
	}
	if denied {
		return Principal{}, ErrRevokedToken
	}
	return PrincipalFromClaims(claims), nil
}

// Logout revokes the principal's access token and, when given, the refresh
// secret of the same session.
func (s *Service) Logout(ctx context.Context, p Principal, presentedRefresh string) (err error) {
	defer func() { s.observe("logout", err) }()

	if p.TokenID != "" && p.ExpiresAt.After(s.now()) {
		if err := s.registry.Denylist(ctx, p.TokenID, p.AccountID, p.ExpiresAt, "logout"); err != nil {
			return s.wrap("logout", err)
		}
	}
	if presentedRefresh = strings.TrimSpace(presentedRefresh); presentedRefresh != "" {
		fingerprint := s.codec.Fingerprint(presentedRefresh)
		rec, err := s.store.FindRefresh(ctx, fingerprint)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return s.wrap("logout", err)
		case rec.AccountID == p.AccountID:
			if err := s.store.RevokeRefresh(ctx, fingerprint, s.now().UTC()); err != nil {
				return s.wrap("logout", err)
			}
		}
	}
	s.record(ctx, "auth.logout", map[string]any{"account_id": p.AccountID, "jti": p.TokenID})
	return nil
}

// LogoutAll revokes every refresh chain of accountID.
func (s *Service) LogoutAll(ctx context.Context, accountID string) (n int64, err error) {
	defer func() { s.observe("logout_all", err) }()

	n, err = s.registry.RevokeAllForAccount(ctx, accountID)
	if err != nil {
		return 0, s.wrap("logout_all", err)
	}
	s.record(ctx, "auth.logout_all", map[string]any{"account_id": accountID, "revoked": n})
	return n, nil
}

// IsDenylisted reports whether jti has been revoked.
func (s *Service) IsDenylisted(ctx context.Context, jti string) (bool, error) {
	denied, err := s.registry.IsDenylisted(ctx, jti)
	if err != nil {
		return false, s.wrap("denylist", err)
	}
	return denied, nil
}

// RevokeRequest revokes a single access token ahead of its expiry.
type RevokeRequest struct {
	JTI       string
	AccountID string
	ExpiresAt time.Time
	Reason    string
}

// Revoke denylists an access token on behalf of an administrator.
func (s *Service) Revoke(ctx context.Context, req RevokeRequest) (err error) {
	defer func() { s.observe("revoke", err) }()

	if req.Reason == "" {
		req.Reason = "admin"
	}
	if err := s.registry.Denylist(ctx, req.JTI, req.AccountID, req.ExpiresAt, req.Reason); err != nil {
		return s.wrap("revoke", err)
	}
	s.record(ctx, "auth.revoke", map[string]any{"jti": req.JTI, "account_id": req.AccountID, "reason": req.Reason})
	return nil
}

// RegisterRequest creates an account.
type RegisterRequest struct {
	Handle      string
	Email       string
	Password    string
	DisplayName string
	Org         OrgHierarchy
	Roles       []RoleAssignment
}

// Register creates an account after checking handle and email are unused.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (acct *Account, err error) {
	defer func() { s.observe("register", err) }()

	handle := normalizeIdentifier(req.Handle)
	email := normalizeIdentifier(req.Email)
	if handle == "" {
		return nil, fmt.Errorf("%w: handle is required", ErrInvalidInput)
	}
	for _, ident := range []string{handle, email} {
		if ident == "" {
			continue
		}
		_, err := s.store.FindByIdentifier(ctx, ident)
		if err == nil {
			return nil, ErrConflict
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, s.wrap("register", err)
		}
	}
	digest, alg, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, s.wrap("register", err)
	}
	now := s.now().UTC()
	acct = &Account{
		ID:            ids.New(),
		Handle:        handle,
		Email:         email,
		PasswordHash:  digest,
		HashAlgorithm: alg,
		DisplayName:   strings.TrimSpace(req.DisplayName),
		Status:        StatusActive,
		Org:           req.Org,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	roles := make([]RoleAssignment, 0, len(req.Roles))
	for _, name := range roleNames(req.Roles) {
		roles = append(roles, RoleAssignment{Name: name, IsEntity: entityFlag(req.Roles, name)})
	}
	if err := s.store.CreateAccount(ctx, acct, roles); err != nil {
		return nil, s.wrap("register", err)
	}
	s.record(ctx, "auth.register", map[string]any{"account_id": acct.ID, "handle": handle})
	return acct, nil
}

func (s *Service) allowLogin(req LoginRequest) bool {
	if s.limiter == nil {
		return true
	}
	if ip := strings.TrimSpace(req.Client.IP); ip != "" && !s.limiter.Allow("ip:"+ip) {
		return false
	}
	if id := normalizeIdentifier(req.Identifier); id != "" && !s.limiter.Allow("id:"+id) {
		return false
	}
	return true
}

func (s *Service) upgradeHash(ctx context.Context, acct *Account, plaintext string) {
	if !s.hasher.NeedsRehash(acct.PasswordHash, acct.HashAlgorithm) {
		return
	}
	log := s.log.WithField("account_id", acct.ID)
	digest, alg, err := s.hasher.Hash(plaintext)
	if err != nil {
		log.WithError(err).Debug("credential rehash skipped")
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, acct.ID, digest, alg); err != nil {
		log.WithError(err).Warn("credential rehash failed")
		return
	}
	log.WithField("algorithm", alg).Info("credential rehashed")
}

// wrap lets taxonomy errors through and hides everything else.
func (s *Service) wrap(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return err
	}
	s.log.WithError(err).WithField("op", op).Error("auth operation failed")
	return opError(op, err)
}

func (s *Service) observe(op string, err error) {
	if s.observer != nil {
		s.observer(op, Classify(err))
	}
}

func (s *Service) record(ctx context.Context, event string, fields map[string]any) {
	if s.auditor != nil {
		s.auditor.Record(ctx, event, fields)
	}
}

func entityFlag(roles []RoleAssignment, name string) bool {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r.Name), name) && r.IsEntity {
			return true
		}
	}
	return false
}
