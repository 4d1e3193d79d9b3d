package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/95percent-ai/butt-dial-sub003/pkg/utils"
)

// RedisGuard implements Guard on Redis so lockout state is shared across
// gateway replicas. Failure counters and lock flags both expire after the
// lockout window.
type RedisGuard struct {
	rdb       *redis.Client
	threshold int64
	window    time.Duration
}

func NewRedisGuard(rdb *redis.Client, threshold int, window time.Duration) *RedisGuard {
	return &RedisGuard{rdb: rdb, threshold: int64(threshold), window: window}
}

func failKey(source string) string { return "auth:fail:" + source }
func lockKey(source string) string { return "auth:lock:" + source }

func (g *RedisGuard) Locked(ctx context.Context, source string) (bool, error) {
	n, err := g.rdb.Exists(ctx, lockKey(source)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *RedisGuard) RecordFailure(ctx context.Context, source string) (int64, error) {
	count, err := utils.BumpFailureCounter(ctx, g.rdb, failKey(source), g.window)
	if err != nil {
		return 0, err
	}
	if count >= g.threshold {
		if err := g.rdb.Set(ctx, lockKey(source), 1, g.window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (g *RedisGuard) RecordSuccess(ctx context.Context, source string) error {
	return utils.ClearFailureCounter(ctx, g.rdb, failKey(source))
}

// MemoryGuard is a single-process Guard for tests and local development.
type MemoryGuard struct {
	mu        sync.Mutex
	threshold int64
	window    time.Duration
	clock     func() time.Time

	failures map[string]*sourceState
}

type sourceState struct {
	count       int64
	firstFail   time.Time
	lockedUntil time.Time
}

func NewMemoryGuard(threshold int, window time.Duration) *MemoryGuard {
	return &MemoryGuard{
		threshold: int64(threshold),
		window:    window,
		clock:     time.Now,
		failures:  make(map[string]*sourceState),
	}
}

// SetClock overrides the time source for deterministic tests.
func (g *MemoryGuard) SetClock(clock func() time.Time) { g.clock = clock }

func (g *MemoryGuard) Locked(_ context.Context, source string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.failures[source]
	if !ok {
		return false, nil
	}
	return g.clock().Before(st.lockedUntil), nil
}

func (g *MemoryGuard) RecordFailure(_ context.Context, source string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock()

	st, ok := g.failures[source]
	if !ok || now.Sub(st.firstFail) > g.window {
		st = &sourceState{firstFail: now}
		g.failures[source] = st
	}
	st.count++
	if st.count >= g.threshold {
		st.lockedUntil = now.Add(g.window)
	}
	return st.count, nil
}

func (g *MemoryGuard) RecordSuccess(_ context.Context, source string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, source)
	return nil
}
