// Package leaselock implements TTL leases on the app_locks table so that
// merges and repair runs touching the same spans are serialised across
// processes.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ErrLost is the cancel cause of a critical section whose leases could not
// be renewed.
var ErrLost = errors.New("lease lock lost")

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	WaitInterval time.Duration
	WaitJitter   time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL < time.Millisecond {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = o.TTL / 2
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	if o.WaitJitter < 0 {
		o.WaitJitter = 0
	}
	return o
}

// Locker holds leases on sets of keys for the duration of a callback.
type Locker struct {
	db     dbConn
	opts   Options
	prefix string
}

// NewLocker returns a Locker over pool. Keys are prefixed with prefix so
// several subsystems can share the table.
func NewLocker(pool *pgxpool.Pool, prefix string, opts Options) *Locker {
	return newLocker(pool, prefix, opts)
}

func newLocker(db dbConn, prefix string, opts Options) *Locker {
	return &Locker{db: db, opts: opts.withDefaults(), prefix: prefix}
}

// WithLocks holds a lease on every key while fn runs, waiting for busy
// keys. Keys are deduplicated and acquired in sorted order so overlapping
// callers cannot deadlock. All leases of one call share a token and are
// renewed together; fn's context is cancelled with ErrLost when renewal
// fails.
func (l *Locker) WithLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	ordered := lockOrder(l.prefix, keys)
	if len(ordered) == 0 {
		return fn(ctx)
	}

	token, err := gonanoid.New()
	if err != nil {
		return err
	}

	held := make([]string, 0, len(ordered))
	defer func() {
		if len(held) > 0 {
			_, _ = l.db.Exec(context.WithoutCancel(ctx), releaseSQL, held, token)
		}
	}()
	for _, key := range ordered {
		if err := l.acquire(ctx, key, token); err != nil {
			return err
		}
		held = append(held, key)
	}

	lockCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)
	stop := make(chan struct{})
	defer close(stop)
	go l.renewLoop(lockCtx, cancel, stop, held, token)

	return fn(lockCtx)
}

func (l *Locker) acquire(ctx context.Context, key, token string) error {
	ttlMs := l.opts.TTL.Milliseconds()
	for {
		var got string
		err := l.db.QueryRow(ctx, tryAcquireSQL, key, token, ttlMs).Scan(&got)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if err := sleepWithJitter(ctx, l.opts.WaitInterval, l.opts.WaitJitter); err != nil {
			return err
		}
	}
}

func (l *Locker) renewLoop(ctx context.Context, cancel context.CancelCauseFunc, stop <-chan struct{}, keys []string, token string) {
	t := time.NewTicker(l.opts.RenewEvery)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			if err := l.renew(ctx, keys, token); err != nil {
				cancel(err)
				return
			}
		}
	}
}

func (l *Locker) renew(ctx context.Context, keys []string, token string) error {
	renewCtx, cancel := context.WithTimeout(ctx, l.opts.RenewEvery)
	defer cancel()

	var renewed int64
	if err := l.db.QueryRow(renewCtx, renewSQL, keys, token, l.opts.TTL.Milliseconds()).Scan(&renewed); err != nil {
		return fmt.Errorf("%w: %v", ErrLost, err)
	}
	if renewed < int64(len(keys)) {
		return ErrLost
	}
	return nil
}

func lockOrder(prefix string, keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		out = append(out, prefix+k)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const tryAcquireSQL = `
INSERT INTO app_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE app_locks.expires_at < now()
   OR app_locks.locked_by = EXCLUDED.locked_by
RETURNING lock_key;
`

const renewSQL = `
WITH renewed AS (
    UPDATE app_locks
    SET expires_at = now() + ($3::bigint * interval '1 millisecond')
    WHERE lock_key = ANY($1) AND locked_by = $2
    RETURNING lock_key
)
SELECT count(*) FROM renewed;
`

const releaseSQL = `
DELETE FROM app_locks
WHERE lock_key = ANY($1) AND locked_by = $2;
`
