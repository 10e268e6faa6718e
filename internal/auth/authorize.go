package auth

import (
	"strings"
	"time"
)

// Principal is the identity carried by a verified, non-revoked access token.
type Principal struct {
	AccountID string
	Roles     []RoleAssignment
	Org       OrgHierarchy
	TokenID   string
	ExpiresAt time.Time
}

// PrincipalFromClaims builds a principal from verified claims.
func PrincipalFromClaims(c *Claims) Principal {
	p := Principal{
		AccountID: c.Subject,
		Roles:     c.RoleAssignments(),
		Org:       c.Org,
		TokenID:   c.ID,
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range p.Roles {
		if r.Name == role {
			return true
		}
	}
	return false
}

// IsEntity reports whether role is held with the entity flag set.
func (p Principal) IsEntity(role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	for _, r := range p.Roles {
		if r.Name == role {
			return r.IsEntity
		}
	}
	return false
}

// RoleNames lists role names in token order.
func (p Principal) RoleNames() []string {
	out := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		out = append(out, r.Name)
	}
	return out
}
