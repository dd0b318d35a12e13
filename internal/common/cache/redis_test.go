package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	c, err := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, server
}

func TestBasicOps(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	value, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	value, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	ok, err := c.SetNX(ctx, "k", "other", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := c.Incr(ctx, "seq")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	id, err = c.Incr(ctx, "seq")
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestSortedSetOrder(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.ZAdd(ctx, "z", ZMember{Score: 3, Member: "c"}, ZMember{Score: 1, Member: "a"}, ZMember{Score: 2, Member: "b"}))
	members, err := c.ZRange(ctx, "z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, members)

	members, err = c.ZRange(ctx, "z", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)

	count, err := c.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestLockExpires(t *testing.T) {
	c, server := newTestCache(t)
	ctx := context.Background()

	ok, err := c.TryLock(ctx, "lock", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.TryLock(ctx, "lock", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	server.FastForward(2 * time.Second)
	ok, err = c.TryLock(ctx, "lock", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWithLockSerializes(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "counter", "0", 0))

	// each holder appends one character; a lost update would shorten the result
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(ctx, c, "counter:lock", time.Second, func(ctx context.Context) error {
				value, err := c.Get(ctx, "counter")
				if err != nil {
					return err
				}
				return c.Set(ctx, "counter", value+"0", 0)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	value, err := c.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Len(t, value, 11)
}

func TestWithLockGivesUpWhenContextEnds(t *testing.T) {
	c, _ := newTestCache(t)
	ok, err := c.TryLock(context.Background(), "busy", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err = WithLock(ctx, c, "busy", time.Second, func(context.Context) error {
		called = true
		return nil
	})
	assert.True(t, errors.Is(err, ErrLockBusy))
	assert.False(t, called)
}
