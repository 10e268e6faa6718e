// Package janitor removes expired refresh records and denylist entries on a
// cron schedule.
package janitor

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"afiliados.org/internal/obs"
)

const (
	defaultRetryDelay = 3 * time.Second
	defaultRetention  = 24 * time.Hour
)

type RefreshPurger interface {
	PurgeExpiredRefresh(ctx context.Context, before time.Time) (int64, error)
}

type DenylistPurger interface {
	PurgeExpiredDenylist(ctx context.Context, before time.Time) (int64, error)
}

// Result holds the row counts of one sweep.
type Result struct {
	Refresh  int64
	Denylist int64
}

type Janitor struct {
	refresh    RefreshPurger
	deny       DenylistPurger
	log        logrus.FieldLogger
	retention  time.Duration
	retryDelay time.Duration
	timeout    time.Duration
	now        func() time.Time

	cron *cron.Cron
}

type Option func(*Janitor)

// WithRetention keeps expired refresh records this long so replays of recently
// expired secrets can still be traced.
func WithRetention(d time.Duration) Option {
	return func(j *Janitor) {
		if d >= 0 {
			j.retention = d
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(j *Janitor) { j.retryDelay = d }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(j *Janitor) {
		if log != nil {
			j.log = log
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(j *Janitor) {
		if fn != nil {
			j.now = fn
		}
	}
}

func New(refresh RefreshPurger, deny DenylistPurger, opts ...Option) *Janitor {
	j := &Janitor{
		refresh:    refresh,
		deny:       deny,
		log:        logrus.StandardLogger(),
		retention:  defaultRetention,
		retryDelay: defaultRetryDelay,
		timeout:    time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// RunOnce purges both stores. A failure in one store does not skip the other.
func (j *Janitor) RunOnce(ctx context.Context) (Result, error) {
	now := j.now().UTC()
	var res Result
	var errs []error

	if j.refresh != nil {
		err := j.withRetry(ctx, "refresh", func(ctx context.Context) error {
			n, err := j.refresh.PurgeExpiredRefresh(ctx, now.Add(-j.retention))
			res.Refresh = n
			return err
		})
		if err != nil {
			j.log.WithError(err).Error("purge expired refresh tokens failed")
			errs = append(errs, err)
		}
		obs.ObservePurge("refresh", res.Refresh)
	}
	if j.deny != nil {
		err := j.withRetry(ctx, "denylist", func(ctx context.Context) error {
			n, err := j.deny.PurgeExpiredDenylist(ctx, now)
			res.Denylist = n
			return err
		})
		if err != nil {
			j.log.WithError(err).Error("purge expired denylist entries failed")
			errs = append(errs, err)
		}
		obs.ObservePurge("denylist", res.Denylist)
	}

	if err := errors.Join(errs...); err != nil {
		return res, err
	}
	j.log.WithFields(logrus.Fields{
		"refresh":  res.Refresh,
		"denylist": res.Denylist,
	}).Info("expired credentials purged")
	return res, nil
}

// withRetry runs op and retries it once on a transient connection error.
func (j *Janitor) withRetry(ctx context.Context, kind string, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil || !transient(err) {
		return err
	}
	j.log.WithError(err).WithField("kind", kind).Warn("purge hit transient DB error; retrying once")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(j.retryDelay):
	}
	return op(ctx)
}

func transient(err error) bool {
	return errors.Is(err, io.EOF) || pgconn.SafeToRetry(err) ||
		strings.Contains(err.Error(), "connection was closed")
}

// Start schedules RunOnce with a standard cron spec such as "@every 1h".
func (j *Janitor) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		_, _ = j.RunOnce(ctx)
	}); err != nil {
		return err
	}
	j.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}
