package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// A Redis lock is SET key token NX PX ttl. The token names the holder; release
// is a Lua compare-and-delete so a holder whose ttl already ran out cannot
// delete the lock the next holder took.

var (
	ErrLockFailed  = errors.New("failed to obtain lock")
	ErrLockExpired = errors.New("lock expired before release")
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DistributedLock is one Redis key held under a holder token.
type DistributedLock struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

func NewDistributedLock(rdb *redis.Client, key, token string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{rdb: rdb, key: key, token: token, ttl: ttl}
}

// TryLock makes a single non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// Lock makes up to attempts tries, backoff apart. It gives up with
// ErrLockFailed, or with ctx's error if ctx ends first.
func (l *DistributedLock) Lock(ctx context.Context, backoff time.Duration, attempts int) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		ok, err := l.TryLock(ctx)
		switch {
		case err != nil:
			return err
		case ok:
			return nil
		}
		timer.Reset(backoff)
	}
	return ErrLockFailed
}

// Unlock deletes the key if it still carries our token. ErrLockExpired means
// the ttl ran out while we held it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLockExpired
	}
	return nil
}
