package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"GotMail/tools/errs"
)

// ----- 抽象存储 -----
// SeenOnce 查即记: 第一次见这个 key 返回 false 并占位 ttl。
type IdemStore interface {
	SeenOnce(ctx context.Context, key string, ttl time.Duration) (seen bool, err error)
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu  sync.Mutex
	m   map[string]int64 // key -> expireUnix
	ttl time.Duration
}

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	mi := &memIdem{m: make(map[string]int64), ttl: defaultTTL}
	// 清理协程
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for range t.C {
			now := time.Now().Unix()
			mi.mu.Lock()
			for k, exp := range mi.m {
				if exp <= now {
					delete(mi.m, k)
				}
			}
			mi.mu.Unlock()
		}
	}()
	return mi
}

func (mi *memIdem) SeenOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	exp := time.Now().Add(ttl).Unix()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if old, ok := mi.m[key]; ok && old > time.Now().Unix() {
		return true, nil // 已见过
	}
	mi.m[key] = exp
	return false, nil
}

// ----- Redis 实现（跨 worker 进程） -----
type redisIdem struct {
	cli *redis.Client
}

func NewRedisIdem(cli *redis.Client) IdemStore {
	return &redisIdem{cli: cli}
}

func (r *redisIdem) SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.cli.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, errs.WrapMsg(err, "idem setnx", "key", key)
	}
	return !ok, nil // SETNX 成功 = 第一次见
}
