package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultIssuer     = "afiliados"
	refreshSecretLen  = 32
)

// Claims are the access token claims.
type Claims struct {
	Roles    []string        `json:"roles,omitempty"`
	Entities map[string]bool `json:"ent,omitempty"`
	Org      OrgHierarchy    `json:"org"`
	jwt.RegisteredClaims
}

// RoleAssignments rebuilds the role list with entity flags.
func (c *Claims) RoleAssignments() []RoleAssignment {
	out := make([]RoleAssignment, 0, len(c.Roles))
	for _, r := range c.Roles {
		out = append(out, RoleAssignment{Name: r, IsEntity: c.Entities[r]})
	}
	return out
}

// AccessToken is a signed access token and its identifying metadata.
type AccessToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// RefreshSecret is a freshly generated opaque refresh token. Only Fingerprint
// may be persisted.
type RefreshSecret struct {
	Token       string
	Fingerprint string
	TTL         time.Duration
}

// TokenCodec signs and verifies access tokens and mints refresh secrets.
type TokenCodec struct {
	method     jwt.SigningMethod
	signKey    any
	verifyKey  any
	keyID      string
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	pepper     []byte
	now        func() time.Time
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec) error

// WithHMACSecret signs access tokens with HS256.
func WithHMACSecret(secret string) CodecOption {
	return func(c *TokenCodec) error {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return errors.New("auth: hmac secret is empty")
		}
		c.method = jwt.SigningMethodHS256
		c.signKey = []byte(secret)
		c.verifyKey = []byte(secret)
		return nil
	}
}

// WithRS256Keys configures RSA keys used for signing and verifying JWTs.
func WithRS256Keys(privatePEM, publicPEM string) CodecOption {
	return func(c *TokenCodec) error {
		privatePEM = strings.TrimSpace(privatePEM)
		publicPEM = strings.TrimSpace(publicPEM)
		if privatePEM == "" || publicPEM == "" {
			return errors.New("auth: both private and public keys are required")
		}
		priv, err := parseRSAPrivateKey(privatePEM)
		if err != nil {
			return fmt.Errorf("auth: parse private key: %w", err)
		}
		pub, err := parseRSAPublicKey(publicPEM)
		if err != nil {
			return fmt.Errorf("auth: parse public key: %w", err)
		}
		c.method = jwt.SigningMethodRS256
		c.signKey = priv
		c.verifyKey = pub
		return nil
	}
}

// WithKeyID sets the key identifier embedded into JWT headers.
func WithKeyID(kid string) CodecOption {
	return func(c *TokenCodec) error {
		c.keyID = strings.TrimSpace(kid)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
		return nil
	}
}

// WithAudience sets the audience claim. Verification requires it when set.
func WithAudience(aud string) CodecOption {
	return func(c *TokenCodec) error {
		c.audience = strings.TrimSpace(aud)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) CodecOption {
	return func(c *TokenCodec) error {
		if ttl > 0 {
			c.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) CodecOption {
	return func(c *TokenCodec) error {
		if ttl > 0 {
			c.refreshTTL = ttl
		}
		return nil
	}
}

// WithLeeway tolerates clock skew when checking time-based claims.
func WithLeeway(d time.Duration) CodecOption {
	return func(c *TokenCodec) error {
		if d >= 0 {
			c.leeway = d
		}
		return nil
	}
}

// WithRefreshPepper sets the server-side key mixed into refresh fingerprints.
func WithRefreshPepper(pepper string) CodecOption {
	return func(c *TokenCodec) error {
		c.pepper = []byte(pepper)
		return nil
	}
}

// WithCodecClock overrides time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *TokenCodec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewTokenCodec builds a codec. A signing key option is required.
func NewTokenCodec(opts ...CodecOption) (*TokenCodec, error) {
	c := &TokenCodec{
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		leeway:     5 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.method == nil {
		return nil, errors.New("auth: no signing key configured")
	}
	return c, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// SignAccess issues an access token for accountID with a fresh jti.
func (c *TokenCodec) SignAccess(accountID string, roles []RoleAssignment, org OrgHierarchy) (AccessToken, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return AccessToken{}, errors.New("auth: account id is required")
	}
	now := c.now().UTC().Truncate(time.Second)
	exp := now.Add(c.accessTTL)
	jti := uuid.NewString()

	claims := Claims{
		Roles: roleNames(roles),
		Org:   org,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	if c.audience != "" {
		claims.Audience = jwt.ClaimStrings{c.audience}
	}
	for _, r := range roles {
		if r.IsEntity {
			if claims.Entities == nil {
				claims.Entities = make(map[string]bool)
			}
			claims.Entities[strings.ToLower(strings.TrimSpace(r.Name))] = true
		}
	}

	token := jwt.NewWithClaims(c.method, claims)
	if c.keyID != "" {
		token.Header["kid"] = c.keyID
	}
	signed, err := token.SignedString(c.signKey)
	if err != nil {
		return AccessToken{}, fmt.Errorf("sign token: %w", err)
	}
	return AccessToken{Token: signed, JTI: jti, ExpiresAt: exp}, nil
}

// VerifyAccess checks signature, issuer, audience and time claims.
func (c *TokenCodec) VerifyAccess(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	}
	if c.audience != "" {
		opts = append(opts, jwt.WithAudience(c.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return c.verifyKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	claims.Roles = dedupeRoles(claims.Roles)
	return claims, nil
}

// NewRefreshSecret returns a random opaque secret and its fingerprint.
func (c *TokenCodec) NewRefreshSecret() (RefreshSecret, error) {
	buf := make([]byte, refreshSecretLen)
	if _, err := rand.Read(buf); err != nil {
		return RefreshSecret{}, err
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	return RefreshSecret{Token: secret, Fingerprint: c.Fingerprint(secret), TTL: c.refreshTTL}, nil
}

// Fingerprint is the hex HMAC-SHA256 of secret keyed with the pepper.
func (c *TokenCodec) Fingerprint(secret string) string {
	mac := hmac.New(sha256.New, c.pepper)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("unsupported private key type")
	default:
		return nil, fmt.Errorf("unsupported private key type %s", block.Type)
	}
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported public key type %s", block.Type)
	}
}
