package hierarchy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	opts, err := redis.ParseURL("redis://" + mr.Addr())
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLocker(client, "noted:", time.Second)
	l.poll = 5 * time.Millisecond
	return l, mr
}

func lockers(t *testing.T) map[string]Locker {
	rl, _ := newRedisLocker(t)
	return map[string]Locker{"memory": NewMemoryLocker(), "redis": rl}
}

func TestLocker_MutualExclusion(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			var inside, maxInside atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := l.Lock(context.Background(), "ws/root/Noted Dashboard")
					if !assert.NoError(t, err) {
						return
					}
					n := inside.Add(1)
					for {
						m := maxInside.Load()
						if n <= m || maxInside.CompareAndSwap(m, n) {
							break
						}
					}
					time.Sleep(2 * time.Millisecond)
					inside.Add(-1)
					unlock()
				}()
			}
			wg.Wait()
			assert.EqualValues(t, 1, maxInside.Load())
		})
	}
}

func TestLocker_DistinctKeysDoNotBlock(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			unlockA, err := l.Lock(context.Background(), "a")
			require.NoError(t, err)
			defer unlockA()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			unlockB, err := l.Lock(ctx, "b")
			require.NoError(t, err)
			unlockB()
		})
	}
}

func TestLocker_ContextCancelWhileWaiting(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := l.Lock(context.Background(), "k")
			require.NoError(t, err)
			defer unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			_, err = l.Lock(ctx, "k")
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestMemoryLocker_ReleasesSlots(t *testing.T) {
	l := NewMemoryLocker()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 1, l.held())

	unlock()
	unlock()
	assert.Equal(t, 0, l.held())
}

func TestRedisLocker_ReleaseOnlyOwnToken(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	// Simulate the reservation expiring and another holder taking over.
	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("noted:lock:k"))
	require.NoError(t, mr.Set("noted:lock:k", "someone-else"))

	unlock()
	got, err := mr.Get("noted:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLocker_HolderExcludesOthers(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	assert.True(t, mr.Exists("noted:lock:k"))
	assert.Greater(t, mr.TTL("noted:lock:k"), time.Duration(0))

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "k")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the released lock")
	}
}
