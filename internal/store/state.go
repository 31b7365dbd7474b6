package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teresa-solution/fiscal-compliance-service/internal/clock"
)

// RedisClient is the subset of go-redis used for authorization state and
// the notification stream.
type RedisClient interface {
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

const statePrefix = "fiscal:oauth_state:"

// RedisState keeps authorization state in Redis. GETDEL makes Take atomic
// across service instances.
type RedisState struct {
	redis RedisClient
}

func NewRedisState(rdb RedisClient) *RedisState {
	return &RedisState{redis: rdb}
}

func (s *RedisState) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.redis.SetEx(ctx, statePrefix+key, value, ttl).Err()
}

func (s *RedisState) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *RedisState) Take(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.redis.GetDel(ctx, statePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// MemoryState is a process-local StateStore. Expired entries are dropped
// on access.
type MemoryState struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]stateEntry
}

type stateEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryState(clk clock.Clock) *MemoryState {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryState{clock: clk, entries: make(map[string]stateEntry)}
}

func (s *MemoryState) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = stateEntry{value: append([]byte(nil), value...), expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryState) Take(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	delete(s.entries, key)
	if !s.clock.Now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}
