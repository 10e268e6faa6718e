// Package app wires configuration into stores and the auth service for the
// binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"afiliados.org/internal/audit"
	"afiliados.org/internal/auth"
	"afiliados.org/internal/config"
	"afiliados.org/internal/obs"
	"afiliados.org/internal/store/memstore"
	"afiliados.org/internal/store/pg"
	"afiliados.org/internal/store/rediscache"
)

// Deps holds the opened backends. Close releases them.
type Deps struct {
	Store auth.Store
	// Deny is Store, optionally fronted by Redis.
	Deny auth.DenylistStore

	PG    *pg.Store
	Cache *rediscache.Denylist

	closers []func() error
}

// Open connects to Postgres (or an in-memory store when no DSN is set outside
// production) and Redis when configured.
func Open(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Deps, error) {
	d := &Deps{}
	if cfg.PGDSN == "" {
		if cfg.IsProduction() {
			return nil, errors.New("postgres DSN required in production")
		}
		log.Warn("AFILIADOS_PG_DSN not set, using in-memory store")
		d.Store = memstore.New()
	} else {
		st, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = st.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		d.PG = st
		d.Store = st
		d.closers = append(d.closers, st.Close)
	}
	d.Deny = d.Store

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		d.Cache = rediscache.New(rdb, d.Store, rediscache.WithLogger(log.WithField("component", "denylist_cache")))
		d.Deny = d.Cache
		d.closers = append(d.closers, rdb.Close)
	}
	return d, nil
}

func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewService builds the auth service from cfg over d.
func NewService(cfg *config.Config, d *Deps, log logrus.FieldLogger) (*auth.Service, error) {
	codecOpts, err := cfg.CodecOptions()
	if err != nil {
		return nil, err
	}
	codec, err := auth.NewTokenCodec(codecOpts...)
	if err != nil {
		return nil, err
	}
	return auth.NewService(d.Store, codec,
		auth.WithLockoutPolicy(cfg.Lockout),
		auth.WithReusePolicy(cfg.ReusePolicy),
		auth.WithLoginLimiter(auth.NewAttemptLimiter(cfg.LoginRatePerMinute, cfg.LoginBurst)),
		auth.WithDenylistStore(d.Deny),
		auth.WithLogger(log.WithField("component", "auth")),
		auth.WithAuditor(audit.New(log.WithField("component", "audit"))),
		auth.WithOutcomeObserver(func(op string, o auth.Outcome) {
			obs.ObserveAuth(op, o.String())
		}),
	)
}
