package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soltrade-core/internal/errors"
)

func setupLockTest(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return NewManager(client, "lock"), mr
}

func TestManager_TryAcquire(t *testing.T) {
	mgr, _ := setupLockTest(t)
	ctx := context.Background()

	t.Run("acquires free lock", func(t *testing.T) {
		lock, err := mgr.TryAcquire(ctx, "wallet:abc", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, lock)

		require.NoError(t, lock.Release(ctx))
	})

	t.Run("returns nil when held", func(t *testing.T) {
		first, err := mgr.TryAcquire(ctx, "wallet:held", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, first)
		defer func() { _ = first.Release(ctx) }()

		second, err := mgr.TryAcquire(ctx, "wallet:held", time.Minute)
		require.NoError(t, err)
		assert.Nil(t, second)
	})
}

func TestManager_Acquire_Timeout(t *testing.T) {
	mgr, _ := setupLockTest(t)
	ctx := context.Background()

	lock, err := mgr.TryAcquire(ctx, "wallet:busy", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lock)
	defer func() { _ = lock.Release(ctx) }()

	start := time.Now()
	_, err = mgr.Acquire(ctx, "wallet:busy", time.Minute, 300*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeLockTimeout), "expected LOCK_TIMEOUT, got %v", err)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
}

func TestManager_Acquire_BlocksUntilReleased(t *testing.T) {
	mgr, _ := setupLockTest(t)
	ctx := context.Background()

	lock, err := mgr.TryAcquire(ctx, "withdraw:w1", time.Minute)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(150 * time.Millisecond)
		_ = lock.Release(ctx)
	}()

	acquired, err := mgr.Acquire(ctx, "withdraw:w1", time.Minute, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, acquired)
	_ = acquired.Release(ctx)

	wg.Wait()
}

func TestLock_Release_OnlyOwnToken(t *testing.T) {
	mgr, mr := setupLockTest(t)
	ctx := context.Background()

	lock, err := mgr.TryAcquire(ctx, "wallet:x", time.Minute)
	require.NoError(t, err)

	// Simulate TTL expiry followed by another holder taking the key.
	mr.Del(lock.Key())
	require.NoError(t, mr.Set(lock.Key(), "other-token"))

	require.NoError(t, lock.Release(ctx))

	val, err := mr.Get(lock.Key())
	require.NoError(t, err)
	assert.Equal(t, "other-token", val, "release must not delete another holder's lock")
}

func TestLock_ExpiresAfterTTL(t *testing.T) {
	mgr, mr := setupLockTest(t)
	ctx := context.Background()

	lock, err := mgr.TryAcquire(ctx, "wallet:ttl", 200*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, lock)

	mr.FastForward(250 * time.Millisecond)

	second, err := mgr.TryAcquire(ctx, "wallet:ttl", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second, "lock should be reacquirable after TTL expiry")
	_ = second.Release(ctx)
}

func TestManager_WithLock(t *testing.T) {
	mgr, mr := setupLockTest(t)
	ctx := context.Background()

	t.Run("runs fn and releases", func(t *testing.T) {
		ran := false
		err := mgr.WithLock(ctx, "wallet:fn", time.Minute, time.Second, func(ctx context.Context) error {
			ran = true
			assert.True(t, mr.Exists("lock:wallet:fn"))
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
		assert.False(t, mr.Exists("lock:wallet:fn"))
	})

	t.Run("releases on fn error", func(t *testing.T) {
		wantErr := errors.New("boom")
		err := mgr.WithLock(ctx, "wallet:fnerr", time.Minute, time.Second, func(ctx context.Context) error {
			return wantErr
		})
		require.ErrorIs(t, err, wantErr)
		assert.False(t, mr.Exists("lock:wallet:fnerr"))
	})

	t.Run("releases on panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = mgr.WithLock(ctx, "wallet:fnpanic", time.Minute, time.Second, func(ctx context.Context) error {
				panic("handler blew up")
			})
		})
		assert.False(t, mr.Exists("lock:wallet:fnpanic"))
	})
}
