package auth

import (
	"strings"
	"time"
)

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// OrgHierarchy holds up to four organizational unit ids, outermost first.
type OrgHierarchy struct {
	Level1 string `json:"l1,omitempty"`
	Level2 string `json:"l2,omitempty"`
	Level3 string `json:"l3,omitempty"`
	Level4 string `json:"l4,omitempty"`
}

// Account is an identity that can log in.
type Account struct {
	ID            string
	Handle        string
	Email         string
	PasswordHash  string
	HashAlgorithm string
	DisplayName   string
	Status        string
	Org           OrgHierarchy

	FailedAttempts int
	LastFailedAt   *time.Time
	LockoutEndAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lockout returns the lockout bookkeeping stored on the account.
func (a *Account) Lockout() LockoutState {
	return LockoutState{
		FailedAttempts: a.FailedAttempts,
		LastFailedAt:   a.LastFailedAt,
		LockoutEndAt:   a.LockoutEndAt,
	}
}

// IsLockedOut reports whether the account is locked at now.
func (a *Account) IsLockedOut(now time.Time) bool {
	return a.LockoutEndAt != nil && a.LockoutEndAt.After(now)
}

// RoleAssignment is a named role with its entity flag.
type RoleAssignment struct {
	Name     string `json:"name"`
	IsEntity bool   `json:"is_entity"`
}

// ClientInfo is the optional caller metadata stored with refresh records.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// RefreshRecord is the persisted half of a refresh token. The secret itself is
// never stored, only its fingerprint.
type RefreshRecord struct {
	ID          string
	AccountID   string
	ChainID     string
	Fingerprint string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	ClientIP    string
	UserAgent   string
	RevokedAt   *time.Time
	ReplacedBy  string
	RotatedFrom string
}

// Live reports whether the record can still be exchanged at now.
func (r *RefreshRecord) Live(now time.Time) bool {
	return r.RevokedAt == nil && r.ExpiresAt.After(now)
}

// DenylistEntry revokes a single access token until ExpiresAt.
type DenylistEntry struct {
	JTI       string
	AccountID string
	ExpiresAt time.Time
	Reason    string
	CreatedAt time.Time
}

// Session is returned by a successful login.
type Session struct {
	AccountID        string
	AccessToken      string
	AccessJTI        string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Roles            []RoleAssignment
}

// RefreshResult is returned by a successful rotation.
type RefreshResult struct {
	AccountID    string
	RefreshToken string
	ExpiresAt    time.Time
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func roleNames(roles []RoleAssignment) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return dedupeRoles(names)
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
