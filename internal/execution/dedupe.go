package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// Deduper 信号去重：同一个key在窗口内只放行一次
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// DedupeKey 去重键：交易对 + 方向 + 触发K线时间
func DedupeKey(sig *types.Signal) string {
	return fmt.Sprintf("%s|%s|%v", sig.Pair, sig.Side, sig.Metadata["tap_time"])
}

// MemoryDeduper 进程内去重
type MemoryDeduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewMemoryDeduper 创建进程内去重器
func NewMemoryDeduper(window time.Duration, now func() time.Time) *MemoryDeduper {
	if now == nil {
		now = time.Now
	}
	return &MemoryDeduper{
		window: window,
		seen:   make(map[string]time.Time),
		now:    now,
	}
}

// Claim 首次出现返回true
func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now.Add(d.window)
	return true, nil
}

// RedisDeduper 基于SET NX的跨进程去重
type RedisDeduper struct {
	client *redis.Client
	window time.Duration
}

// NewRedisDeduper 创建Redis去重器
func NewRedisDeduper(client *redis.Client, window time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, window: window}
}

// Claim 首次出现返回true
func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	ctx, cancel := utils.WithShortTimeout(ctx)
	defer cancel()

	ok, err := d.client.SetNX(ctx, config.GetRedisKey("dedupe:"+key), "1", d.window).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe claim: %w", err)
	}
	return ok, nil
}

var (
	_ Deduper = (*MemoryDeduper)(nil)
	_ Deduper = (*RedisDeduper)(nil)
)
