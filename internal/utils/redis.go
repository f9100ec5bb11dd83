package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient Redis客户端类型别名（供其他包使用）
type RedisClient = *redis.Client

// RedisOptions Redis连接参数
type RedisOptions struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisClient 创建Redis客户端并测试连接
//
// 连接失败时仍返回客户端，由调用方决定是否降级。
func NewRedisClient(opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := WithShortTimeout(context.Background())
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		GetLogger("redis").Errorw("Redis连接失败",
			"host", opts.Host,
			"port", opts.Port,
			"error", err,
		)
		return client, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// WithShortTimeout 短超时（Redis等本地依赖）
func WithShortTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

// WithMediumTimeout 中等超时（交易所HTTP请求）
func WithMediumTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 15*time.Second)
}
