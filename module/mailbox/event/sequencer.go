package event

import (
	"context"
	"sync"

	"GotMail/tools/errs"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Sequencer hands out per-user sequence numbers. Next must be
// linearizable across every process publishing for the same user;
// Current reads the newest assigned value without consuming one.
type Sequencer interface {
	Next(ctx context.Context, userID string) (int64, error)
	Current(ctx context.Context, userID string) (int64, error)
}

// ----- Redis 实现 -----
// One INCR per publish. Segmented allocation would be cheaper per call
// but leaks the unused tail of a segment on crash, and a sequence gap
// is indistinguishable from a lost event on the client side.

type RedisSequencer struct {
	rdb *redis.Client
}

func NewRedisSequencer(rdb *redis.Client) *RedisSequencer {
	return &RedisSequencer{rdb: rdb}
}

func seqKey(userID string) string { return "mail:seq:" + userID }

func (s *RedisSequencer) Next(ctx context.Context, userID string) (int64, error) {
	n, err := s.rdb.Incr(ctx, seqKey(userID)).Result()
	if err != nil {
		return 0, errs.WrapMsg(err, "alloc sequence", "user", userID)
	}
	return n, nil
}

func (s *RedisSequencer) Current(ctx context.Context, userID string) (int64, error) {
	n, err := s.rdb.Get(ctx, seqKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.WrapMsg(err, "read sequence", "user", userID)
	}
	return n, nil
}

// ----- 内存实现 -----

type MemorySequencer struct {
	mu   sync.Mutex
	last map[string]int64
}

func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{last: make(map[string]int64)}
}

func (s *MemorySequencer) Next(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[userID]++
	return s.last[userID], nil
}

func (s *MemorySequencer) Current(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[userID], nil
}
