package cache

import (
	"context"
	"fmt"
	"time"
)

// ErrLockBusy is returned by WithLock when the lock could not be taken before ctx ended.
var ErrLockBusy = fmt.Errorf("cache lock busy")

const lockRetryInterval = 5 * time.Millisecond

// WithLock runs fn while holding the lock key. It retries until the lock is
// acquired or ctx is done. The ttl bounds how long a crashed holder blocks others.
func WithLock(ctx context.Context, locker LockOps, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	for {
		ok, err := locker.TryLock(ctx, key, ttl)
		if err != nil {
			return fmt.Errorf("acquire lock %s failed: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrLockBusy, key)
		case <-time.After(lockRetryInterval):
		}
	}
	defer func() { _ = locker.Unlock(context.WithoutCancel(ctx), key) }()
	return fn(ctx)
}
