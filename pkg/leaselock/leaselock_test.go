package leaselock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	key   string
	count int64
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	switch d := dest[0].(type) {
	case *string:
		*d = r.key
	case *int64:
		*d = r.count
	}
	return nil
}

type fakeDB struct {
	mu       sync.Mutex
	held     map[string]string
	acquired []string
	released []string
	renewals int
}

func newFakeDB() *fakeDB {
	return &fakeDB{held: map[string]string{}}
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := args[1].(string)
	switch sql {
	case tryAcquireSQL:
		key := args[0].(string)
		if owner, ok := f.held[key]; ok && owner != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		f.held[key] = token
		f.acquired = append(f.acquired, key)
		return fakeRow{key: key}
	case renewSQL:
		f.renewals++
		var n int64
		for _, key := range args[0].([]string) {
			if f.held[key] == token {
				n++
			}
		}
		return fakeRow{count: n}
	}
	return fakeRow{err: errors.New("unexpected query")}
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sql != releaseSQL {
		return pgconn.CommandTag{}, errors.New("unexpected statement")
	}
	token := args[1].(string)
	for _, key := range args[0].([]string) {
		if f.held[key] == token {
			delete(f.held, key)
			f.released = append(f.released, key)
		}
	}
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func (f *fakeDB) holders() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}

func TestLockOrder(t *testing.T) {
	got := lockOrder("merge:", []string{"b", "a", "", "b"})
	assert.Equal(t, []string{"merge:a", "merge:b"}, got)
	assert.Empty(t, lockOrder("x:", nil))
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, 5*time.Minute, o.TTL)
	assert.Equal(t, o.TTL/2, o.RenewEvery)
	assert.Equal(t, 250*time.Millisecond, o.WaitInterval)

	o = Options{TTL: time.Minute, RenewEvery: 2 * time.Minute, WaitJitter: -1}.withDefaults()
	assert.Equal(t, 30*time.Second, o.RenewEvery)
	assert.Zero(t, o.WaitJitter)
}

func TestLocker_WithLocks(t *testing.T) {
	db := newFakeDB()
	locker := newLocker(db, "span:", Options{TTL: time.Minute})

	var held int
	err := locker.WithLocks(context.Background(), []string{"z", "a", "z"}, func(ctx context.Context) error {
		held = db.holders()
		return ctx.Err()
	})
	require.NoError(t, err)

	assert.Equal(t, 2, held)
	assert.Equal(t, []string{"span:a", "span:z"}, db.acquired)
	assert.ElementsMatch(t, []string{"span:a", "span:z"}, db.released)
	assert.Zero(t, db.holders())
}

func TestLocker_WithoutKeysRunsDirectly(t *testing.T) {
	db := newFakeDB()
	locker := newLocker(db, "span:", Options{})

	called := false
	require.NoError(t, locker.WithLocks(context.Background(), []string{""}, func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	assert.Empty(t, db.acquired)
}

func TestLocker_WithLocksPropagatesError(t *testing.T) {
	db := newFakeDB()
	locker := newLocker(db, "", Options{TTL: time.Minute})
	boom := errors.New("boom")

	err := locker.WithLocks(context.Background(), []string{"a"}, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, db.holders())
}

func TestLocker_WaitsForBusyKey(t *testing.T) {
	db := newFakeDB()
	db.held["a"] = "other"
	locker := newLocker(db, "", Options{TTL: time.Minute, WaitInterval: 5 * time.Millisecond})

	t.Run("gives up with the context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		err := locker.WithLocks(ctx, []string{"a"}, func(context.Context) error {
			t.Fatal("callback ran without the lease")
			return nil
		})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, "other", db.held["a"])
	})

	t.Run("acquires once released", func(t *testing.T) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			db.mu.Lock()
			delete(db.held, "a")
			db.mu.Unlock()
		}()
		err := locker.WithLocks(context.Background(), []string{"a"}, func(context.Context) error {
			return nil
		})
		require.NoError(t, err)
		assert.Zero(t, db.holders())
	})
}

func TestLocker_LostLeaseCancelsCallback(t *testing.T) {
	db := newFakeDB()
	locker := newLocker(db, "", Options{TTL: time.Second, RenewEvery: 10 * time.Millisecond})

	err := locker.WithLocks(context.Background(), []string{"a", "b"}, func(ctx context.Context) error {
		db.mu.Lock()
		db.held["b"] = "thief"
		db.mu.Unlock()

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-time.After(2 * time.Second):
			return errors.New("lease loss not noticed")
		}
	})
	require.ErrorIs(t, err, ErrLost)

	db.mu.Lock()
	defer db.mu.Unlock()
	assert.GreaterOrEqual(t, db.renewals, 1)
	assert.Equal(t, "thief", db.held["b"])
	assert.NotContains(t, db.held, "a")
}
