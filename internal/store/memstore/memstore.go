// Package memstore keeps every auth collaborator in process memory. It backs
// development runs and tests; it is not shared across instances.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"afiliados.org/internal/auth"
)

// Store implements auth.Store with a single mutex.
type Store struct {
	mu sync.RWMutex

	accounts map[string]*auth.Account
	byHandle map[string]string
	byEmail  map[string]string
	roles    map[string][]auth.RoleAssignment
	refresh  map[string]*auth.RefreshRecord // fingerprint -> record
	denylist map[string]auth.DenylistEntry
}

var _ auth.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*auth.Account),
		byHandle: make(map[string]string),
		byEmail:  make(map[string]string),
		roles:    make(map[string][]auth.RoleAssignment),
		refresh:  make(map[string]*auth.RefreshRecord),
		denylist: make(map[string]auth.DenylistEntry),
	}
}

func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*auth.Account, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHandle[identifier]
	if !ok {
		id, ok = s.byEmail[identifier]
	}
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneAccount(s.accounts[id]), nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneAccount(acct), nil
}

func (s *Store) CreateAccount(ctx context.Context, acct *auth.Account, roles []auth.RoleAssignment) error {
	handle := strings.ToLower(acct.Handle)
	email := strings.ToLower(acct.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acct.ID]; ok {
		return auth.ErrConflict
	}
	if _, ok := s.byHandle[handle]; ok {
		return auth.ErrConflict
	}
	if email != "" {
		if _, ok := s.byEmail[email]; ok {
			return auth.ErrConflict
		}
	}
	s.accounts[acct.ID] = cloneAccount(acct)
	s.byHandle[handle] = acct.ID
	if email != "" {
		s.byEmail[email] = acct.ID
	}
	s.roles[acct.ID] = append([]auth.RoleAssignment(nil), roles...)
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, digest, algorithm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return auth.ErrNotFound
	}
	acct.PasswordHash = digest
	acct.HashAlgorithm = algorithm
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) RolesForAccount(ctx context.Context, accountID string) ([]auth.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]auth.RoleAssignment(nil), s.roles[accountID]...), nil
}

func (s *Store) RegisterFailedLogin(ctx context.Context, accountID string, policy auth.LockoutPolicy, now time.Time) (auth.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return auth.LockoutState{}, auth.ErrNotFound
	}
	next := policy.OnFailure(acct.Lockout(), now)
	acct.FailedAttempts = next.FailedAttempts
	acct.LastFailedAt = next.LastFailedAt
	acct.LockoutEndAt = next.LockoutEndAt
	return next, nil
}

func (s *Store) RegisterSuccessfulLogin(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return auth.ErrNotFound
	}
	acct.FailedAttempts = 0
	acct.LastFailedAt = nil
	acct.LockoutEndAt = nil
	return nil
}

func (s *Store) IssueRefresh(ctx context.Context, rec *auth.RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refresh[rec.Fingerprint]; ok {
		return auth.ErrConflict
	}
	cp := *rec
	s.refresh[rec.Fingerprint] = &cp
	return nil
}

func (s *Store) RotateRefresh(ctx context.Context, oldFingerprint string, next *auth.RefreshRecord, now time.Time) (*auth.RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.refresh[oldFingerprint]
	if !ok || !old.Live(now) {
		return nil, auth.ErrNotFound
	}
	if _, ok := s.refresh[next.Fingerprint]; ok {
		return nil, auth.ErrConflict
	}
	revokedAt := now
	old.RevokedAt = &revokedAt
	old.ReplacedBy = next.ID

	cp := *next
	cp.AccountID = old.AccountID
	cp.ChainID = old.ChainID
	cp.RotatedFrom = old.ID
	s.refresh[cp.Fingerprint] = &cp

	consumed := *old
	return &consumed, nil
}

func (s *Store) FindRefresh(ctx context.Context, fingerprint string) (*auth.RefreshRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.refresh[fingerprint]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) RevokeRefresh(ctx context.Context, fingerprint string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[fingerprint]
	if !ok {
		return auth.ErrNotFound
	}
	if rec.RevokedAt == nil {
		revokedAt := now
		rec.RevokedAt = &revokedAt
	}
	return nil
}

func (s *Store) RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.refresh {
		if rec.AccountID == accountID && rec.Live(now) {
			revokedAt := now
			rec.RevokedAt = &revokedAt
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeExpiredRefresh(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for fp, rec := range s.refresh {
		if rec.ExpiresAt.Before(before) {
			delete(s.refresh, fp)
			n++
		}
	}
	return n, nil
}

func (s *Store) DenylistToken(ctx context.Context, entry auth.DenylistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.denylist[entry.JTI]; ok {
		return nil
	}
	s.denylist[entry.JTI] = entry
	return nil
}

func (s *Store) IsTokenDenylisted(ctx context.Context, jti string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.denylist[jti]
	return ok && entry.ExpiresAt.After(now), nil
}

func (s *Store) PurgeExpiredDenylist(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for jti, entry := range s.denylist {
		if entry.ExpiresAt.Before(before) {
			delete(s.denylist, jti)
			n++
		}
	}
	return n, nil
}

func cloneAccount(a *auth.Account) *auth.Account {
	cp := *a
	if a.LastFailedAt != nil {
		t := *a.LastFailedAt
		cp.LastFailedAt = &t
	}
	if a.LockoutEndAt != nil {
		t := *a.LockoutEndAt
		cp.LockoutEndAt = &t
	}
	return &cp
}

// RefreshCount returns the number of stored refresh records in any state.
func (s *Store) RefreshCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refresh)
}
