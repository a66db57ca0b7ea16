package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	apperrors "github.com/soltrade-core/internal/errors"
	"github.com/soltrade-core/internal/logging"
)

// releaseScript deletes the lock key only if it still holds our token, so an
// expired lock reacquired by another worker is never released by us.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// acquirePollInterval is how often a blocked waiter re-attempts SET NX.
const acquirePollInterval = 100 * time.Millisecond

// Manager acquires distributed locks backed by Redis SET NX with a TTL.
type Manager struct {
	client *redis.Client
	prefix string
}

// NewManager creates a lock manager. All keys are namespaced under prefix.
func NewManager(client *redis.Client, prefix string) *Manager {
	if prefix == "" {
		prefix = "lock"
	}
	return &Manager{client: client, prefix: prefix}
}

// Lock is a held distributed lock. Release must be called exactly once.
type Lock struct {
	manager *Manager
	key     string
	token   string
}

// Key returns the full Redis key the lock holds.
func (l *Lock) Key() string {
	return l.key
}

func (m *Manager) fullKey(key string) string {
	return fmt.Sprintf("%s:%s", m.prefix, key)
}

// TryAcquire makes a single acquisition attempt without blocking.
func (m *Manager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	fullKey := m.fullKey(key)
	token := uuid.New().String()

	ok, err := m.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, nil
	}

	return &Lock{manager: m, key: fullKey, token: token}, nil
}

// Acquire blocks until the lock is obtained or wait elapses. A waiter that
// exhausts its wait gets a LOCK_TIMEOUT contention error, never silent
// failure.
func (m *Manager) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Lock, error) {
	deadline := time.Now().Add(wait)

	for {
		lock, err := m.TryAcquire(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if lock != nil {
			return lock, nil
		}

		if time.Now().After(deadline) {
			return nil, apperrors.NewLockTimeoutError(key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

// Release frees the lock if it is still held by this holder.
func (l *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.manager.client, []string{l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}

	if n, ok := result.(int64); ok && n == 0 {
		logging.WithField("key", l.key).Warn("Lock already expired at release")
	}

	return nil
}

// WithLock runs fn while holding the lock and guarantees release on every
// code path, including panics in fn.
func (m *Manager) WithLock(ctx context.Context, key string, ttl, wait time.Duration, fn func(ctx context.Context) error) error {
	lock, err := m.Acquire(ctx, key, ttl, wait)
	if err != nil {
		return err
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logging.WithError(err).WithField("key", lock.key).Error("Failed to release lock")
		}
	}()

	return fn(ctx)
}
