// Package config loads process settings from AFILIADOS_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"afiliados.org/internal/auth"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	defaultJWTSecret     = "change-me-jwt-secret"
	defaultRefreshPepper = "change-me-refresh-pepper"
)

type Config struct {
	Env string

	HTTPAddr string
	GRPCAddr string

	PGDSN         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTIssuer         string
	JWTAudience       string
	JWTSecret         string
	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTKeyID          string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	RefreshPepper     string

	Lockout     auth.LockoutPolicy
	ReusePolicy auth.ReusePolicy

	LoginRatePerMinute float64
	LoginBurst         int
	HTTPRatePerSecond  float64
	HTTPBurst          int
	CORSOrigins        []string
	// TrustedProxies are the peers whose X-Forwarded-For is honoured.
	TrustedProxies []netip.Prefix

	JanitorSchedule string

	LogLevel  string
	LogFormat string
}

// Load reads .env (or AFILIADOS_ENV_FILE) when present, then the
// environment. Variables already set in the environment win over the file.
func Load() (*Config, error) {
	file := strings.TrimSpace(os.Getenv("AFILIADOS_ENV_FILE"))
	if file == "" {
		file = ".env"
	}
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", file, err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	var err error
	cfg := &Config{
		Env:               strings.ToLower(getEnv("AFILIADOS_ENV", EnvDevelopment)),
		HTTPAddr:          getEnv("AFILIADOS_HTTP_ADDR", ":8080"),
		GRPCAddr:          getEnv("AFILIADOS_GRPC_ADDR", ":9090"),
		PGDSN:             getEnv("AFILIADOS_PG_DSN", ""),
		RedisAddr:         getEnv("AFILIADOS_REDIS_ADDR", ""),
		RedisPassword:     getEnv("AFILIADOS_REDIS_PASSWORD", ""),
		JWTIssuer:         getEnv("AFILIADOS_JWT_ISSUER", "afiliados"),
		JWTAudience:       getEnv("AFILIADOS_JWT_AUDIENCE", ""),
		JWTSecret:         getEnv("AFILIADOS_JWT_SECRET", defaultJWTSecret),
		JWTPrivateKeyPath: getEnv("AFILIADOS_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:  getEnv("AFILIADOS_JWT_PUBLIC_KEY", ""),
		JWTKeyID:          getEnv("AFILIADOS_JWT_KID", ""),
		RefreshPepper:     getEnv("AFILIADOS_REFRESH_PEPPER", defaultRefreshPepper),
		JanitorSchedule:   getEnv("AFILIADOS_JANITOR_SCHEDULE", "@every 1h"),
		LogLevel:          getEnv("AFILIADOS_LOG_LEVEL", "info"),
		LogFormat:         getEnv("AFILIADOS_LOG_FORMAT", "json"),
		CORSOrigins:       splitList(getEnv("AFILIADOS_CORS_ORIGINS", "")),
	}

	if cfg.RedisDB, err = intEnv("AFILIADOS_REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.AccessTTL, err = durationEnv("AFILIADOS_ACCESS_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshTTL, err = durationEnv("AFILIADOS_REFRESH_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}

	def := auth.DefaultLockoutPolicy()
	if cfg.Lockout.Threshold, err = intEnv("AFILIADOS_LOCKOUT_THRESHOLD", def.Threshold); err != nil {
		return nil, err
	}
	if cfg.Lockout.Window, err = durationEnv("AFILIADOS_LOCKOUT_WINDOW", def.Window); err != nil {
		return nil, err
	}
	if cfg.Lockout.Duration, err = durationEnv("AFILIADOS_LOCKOUT_DURATION", def.Duration); err != nil {
		return nil, err
	}
	if cfg.ReusePolicy, err = auth.ParseReusePolicy(getEnv("AFILIADOS_REFRESH_REUSE_POLICY", "ignore")); err != nil {
		return nil, err
	}

	if cfg.LoginRatePerMinute, err = floatEnv("AFILIADOS_LOGIN_RATE_PER_MINUTE", 10); err != nil {
		return nil, err
	}
	if cfg.LoginBurst, err = intEnv("AFILIADOS_LOGIN_BURST", 5); err != nil {
		return nil, err
	}
	if cfg.HTTPRatePerSecond, err = floatEnv("AFILIADOS_HTTP_RATE_PER_SECOND", 50); err != nil {
		return nil, err
	}
	if cfg.HTTPBurst, err = intEnv("AFILIADOS_HTTP_BURST", 100); err != nil {
		return nil, err
	}

	if cfg.TrustedProxies, err = prefixListEnv("AFILIADOS_TRUSTED_PROXIES"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction || c.Env == "prod"
}

// UsesRSA reports whether RS256 key files are configured.
func (c *Config) UsesRSA() bool {
	return c.JWTPrivateKeyPath != "" || c.JWTPublicKeyPath != ""
}

func (c *Config) Validate() error {
	switch c.Env {
	case EnvDevelopment, EnvProduction, "prod", "test":
	default:
		return fmt.Errorf("AFILIADOS_ENV must be development or production, got %q", c.Env)
	}
	if c.AccessTTL <= 0 {
		return errors.New("AFILIADOS_ACCESS_TTL must be > 0")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("AFILIADOS_REFRESH_TTL must be longer than AFILIADOS_ACCESS_TTL")
	}
	if c.Lockout.Threshold <= 0 || c.Lockout.Window <= 0 || c.Lockout.Duration <= 0 {
		return errors.New("lockout threshold, window and duration must be > 0")
	}
	if c.LoginBurst < 0 || c.HTTPBurst < 0 {
		return errors.New("rate limit bursts must not be negative")
	}
	if c.UsesRSA() && (c.JWTPrivateKeyPath == "" || c.JWTPublicKeyPath == "") {
		return errors.New("AFILIADOS_JWT_PRIVATE_KEY and AFILIADOS_JWT_PUBLIC_KEY must be set together")
	}
	if strings.TrimSpace(c.JanitorSchedule) == "" {
		return errors.New("AFILIADOS_JANITOR_SCHEDULE must not be empty")
	}

	if c.IsProduction() {
		if !c.UsesRSA() && (c.JWTSecret == defaultJWTSecret || len(c.JWTSecret) < 32) {
			return errors.New("in production AFILIADOS_JWT_SECRET must be set to at least 32 characters")
		}
		if c.RefreshPepper == defaultRefreshPepper || len(c.RefreshPepper) < 16 {
			return errors.New("in production AFILIADOS_REFRESH_PEPPER must be set and not default")
		}
		if c.PGDSN == "" {
			return errors.New("in production AFILIADOS_PG_DSN is required")
		}
	}
	return nil
}

// CodecOptions builds token codec options, reading key files when RS256 is
// configured.
func (c *Config) CodecOptions() ([]auth.CodecOption, error) {
	opts := []auth.CodecOption{
		auth.WithIssuer(c.JWTIssuer),
		auth.WithAccessTTL(c.AccessTTL),
		auth.WithRefreshTTL(c.RefreshTTL),
		auth.WithRefreshPepper(c.RefreshPepper),
	}
	if c.JWTAudience != "" {
		opts = append(opts, auth.WithAudience(c.JWTAudience))
	}
	if c.JWTKeyID != "" {
		opts = append(opts, auth.WithKeyID(c.JWTKeyID))
	}
	if !c.UsesRSA() {
		return append(opts, auth.WithHMACSecret(c.JWTSecret)), nil
	}
	priv, err := os.ReadFile(c.JWTPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	pub, err := os.ReadFile(c.JWTPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return append(opts, auth.WithRS256Keys(string(priv), string(pub))), nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

// prefixListEnv parses a comma separated list of CIDR networks. A bare
// address is taken as a single-host network.
func prefixListEnv(key string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range splitList(getEnv(key, "")) {
		if !strings.Contains(part, "/") {
			addr, err := netip.ParseAddr(part)
			if err != nil {
				return nil, fmt.Errorf("invalid %s entry %q: %w", key, part, err)
			}
			addr = addr.Unmap()
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", key, part, err)
		}
		out = append(out, prefix.Masked())
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
