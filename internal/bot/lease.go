package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/utils"
)

// Lease 多副本部署时保证同一组合只有一个进程在跑tick
type Lease interface {
	// Acquire 获取或续期；被他人持有时返回false
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// 仅续期/释放自己持有的租约
var (
	renewScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
)

// RedisLease 基于SET NX PX的分布式租约
type RedisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisLease 创建租约，name区分不同组合
func NewRedisLease(client *redis.Client, name string, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLease{
		client: client,
		key:    config.GetRedisKey("engine:lease:" + name),
		token:  utils.GenerateToken(16),
		ttl:    ttl,
	}
}

// Key 租约键名
func (l *RedisLease) Key() string {
	return l.key
}

// Acquire 获取或续期
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ctx, cancel := utils.WithShortTimeout(ctx)
	defer cancel()

	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if ok {
		return true, nil
	}

	renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return renewed == 1, nil
}

// Release 释放租约
func (l *RedisLease) Release(ctx context.Context) error {
	ctx, cancel := utils.WithShortTimeout(ctx)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

var _ Lease = (*RedisLease)(nil)
