// Package rediscache fronts a durable denylist with Redis so hot lookups
// skip the database.
package rediscache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"afiliados.org/internal/auth"
	"afiliados.org/internal/obs"
)

const defaultPrefix = "afiliados:deny"

// Denylist writes through to next and answers positive lookups from Redis.
// Negative answers are never cached, so a revocation made by another process
// is visible on the next check. Redis failures degrade to next.
type Denylist struct {
	rdb    redis.UniversalClient
	next   auth.DenylistStore
	prefix string
	log    logrus.FieldLogger
}

var _ auth.DenylistStore = (*Denylist)(nil)

type Option func(*Denylist)

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) Option {
	return func(d *Denylist) {
		if prefix != "" {
			d.prefix = prefix
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Denylist) {
		if log != nil {
			d.log = log
		}
	}
}

func New(rdb redis.UniversalClient, next auth.DenylistStore, opts ...Option) *Denylist {
	d := &Denylist{rdb: rdb, next: next, prefix: defaultPrefix, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Denylist) key(jti string) string {
	return d.prefix + ":" + jti
}

func (d *Denylist) DenylistToken(ctx context.Context, entry auth.DenylistEntry) error {
	if err := d.next.DenylistToken(ctx, entry); err != nil {
		return err
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := d.rdb.Set(ctx, d.key(entry.JTI), entry.AccountID, ttl).Err(); err != nil {
		d.log.WithError(err).WithField("jti", entry.JTI).Warn("denylist cache write failed")
	}
	return nil
}

func (d *Denylist) IsTokenDenylisted(ctx context.Context, jti string, now time.Time) (bool, error) {
	n, err := d.rdb.Exists(ctx, d.key(jti)).Result()
	switch {
	case err != nil:
		obs.ObserveDenylist("error")
		d.log.WithError(err).Warn("denylist cache read failed, using database")
	case n > 0:
		obs.ObserveDenylist("cache_hit")
		return true, nil
	}

	denied, err := d.next.IsTokenDenylisted(ctx, jti, now)
	if err != nil {
		return false, err
	}
	if denied {
		obs.ObserveDenylist("hit")
	} else {
		obs.ObserveDenylist("miss")
	}
	return denied, nil
}

// PurgeExpiredDenylist only touches next; cached keys expire on their own.
func (d *Denylist) PurgeExpiredDenylist(ctx context.Context, before time.Time) (int64, error) {
	return d.next.PurgeExpiredDenylist(ctx, before)
}

// Ping checks the Redis connection.
func (d *Denylist) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}
