package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hash algorithm tags stored next to each digest.
const (
	AlgArgon2id = "argon2id"
	AlgBcrypt   = "bcrypt"
)

const minPasswordLength = 8

var errUnknownAlgorithm = errors.New("auth: unknown hash algorithm")

// Argon2Params configures argon2id hashing.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params are the parameters new hashes are created with.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  1,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// Hasher computes argon2id digests and verifies argon2id and legacy bcrypt
// digests.
type Hasher struct {
	params     Argon2Params
	bcryptCost int
	dummy      string
}

// HasherOption configures a Hasher.
type HasherOption func(*Hasher)

// WithArgon2Params overrides the argon2id parameters used for new digests.
func WithArgon2Params(p Argon2Params) HasherOption {
	return func(h *Hasher) {
		if p.Memory > 0 && p.Iterations > 0 && p.Parallelism > 0 && p.SaltLength > 0 && p.KeyLength > 0 {
			h.params = p
		}
	}
}

// WithBcryptCost sets the cost used by HashLegacy.
func WithBcryptCost(cost int) HasherOption {
	return func(h *Hasher) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			h.bcryptCost = cost
		}
	}
}

// NewHasher returns a Hasher with argon2id as the current algorithm.
func NewHasher(opts ...HasherOption) *Hasher {
	h := &Hasher{params: DefaultArgon2Params, bcryptCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(h)
	}
	h.dummy = h.encode(make([]byte, h.params.SaltLength), []byte("dummy-password"))
	return h
}

// Hash returns the argon2id digest of plaintext and its algorithm tag.
func (h *Hasher) Hash(plaintext string) (string, string, error) {
	if len(plaintext) < minPasswordLength {
		return "", "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", "", err
	}
	return h.encode(salt, []byte(plaintext)), AlgArgon2id, nil
}

// HashLegacy produces a bcrypt digest. Only used to seed old-style accounts.
func (h *Hasher) HashLegacy(plaintext string) (string, string, error) {
	if len(plaintext) == 0 {
		return "", "", errors.New("password is empty")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.bcryptCost)
	if err != nil {
		return "", "", err
	}
	return string(digest), AlgBcrypt, nil
}

// Verify compares plaintext against digest. An empty tag is inferred from the
// digest format.
func (h *Hasher) Verify(digest, plaintext, algorithm string) (bool, error) {
	if digest == "" {
		return false, errors.New("password hash is empty")
	}
	if algorithm == "" {
		algorithm = detectAlgorithm(digest)
	}
	switch algorithm {
	case AlgArgon2id:
		p, salt, key, err := parseArgon2(digest)
		if err != nil {
			return false, err
		}
		computed := argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(key)))
		return subtle.ConstantTimeCompare(computed, key) == 1, nil
	case AlgBcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, errUnknownAlgorithm
	}
}

// NeedsRehash reports whether a digest was produced by a legacy algorithm or
// weaker argon2id parameters than the current ones.
func (h *Hasher) NeedsRehash(digest, algorithm string) bool {
	if algorithm == "" {
		algorithm = detectAlgorithm(digest)
	}
	if algorithm != AlgArgon2id {
		return true
	}
	p, _, key, err := parseArgon2(digest)
	if err != nil {
		return true
	}
	return p.Memory < h.params.Memory ||
		p.Iterations < h.params.Iterations ||
		p.Parallelism < h.params.Parallelism ||
		uint32(len(key)) != h.params.KeyLength
}

// burn spends roughly the cost of a real verification.
func (h *Hasher) burn(plaintext string) {
	_, _ = h.Verify(h.dummy, plaintext, AlgArgon2id)
}

func (h *Hasher) encode(salt, plaintext []byte) string {
	key := argon2.IDKey(plaintext, salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

func detectAlgorithm(digest string) string {
	switch {
	case strings.HasPrefix(digest, "$argon2id$"):
		return AlgArgon2id
	case strings.HasPrefix(digest, "$2a$"), strings.HasPrefix(digest, "$2b$"), strings.HasPrefix(digest, "$2y$"):
		return AlgBcrypt
	default:
		return ""
	}
}

func parseArgon2(digest string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != AlgArgon2id {
		return p, nil, nil, errors.New("auth: invalid argon2id digest")
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return p, nil, nil, errors.New("auth: unsupported argon2 version")
	}
	var parallelism uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &parallelism); err != nil {
		return p, nil, nil, fmt.Errorf("auth: invalid argon2 params: %w", err)
	}
	if p.Memory == 0 || p.Iterations == 0 || parallelism == 0 || parallelism > 255 {
		return p, nil, nil, errors.New("auth: invalid argon2 params")
	}
	p.Parallelism = uint8(parallelism)
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, errors.New("auth: invalid salt encoding")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, errors.New("auth: invalid hash encoding")
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
