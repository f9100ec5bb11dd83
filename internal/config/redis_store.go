package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yuechangmingzou/nofx-engine/internal/utils"
)

// ErrWriteDisabled 运行时配置写入被禁用
var ErrWriteDisabled = errors.New("runtime config write disabled")

// RedisStore 将运行时覆盖持久化到Redis并记录审计
type RedisStore struct {
	holder       *Holder
	redis        *redis.Client
	writeEnabled bool
	auditMaxLen  int

	mu        sync.Mutex
	overrides Partial
}

// NewRedisStore 创建Redis配置存储
func NewRedisStore(holder *Holder, client *redis.Client, writeEnabled bool, auditMaxLen int) *RedisStore {
	if auditMaxLen <= 0 {
		auditMaxLen = 2000
	}
	return &RedisStore{
		holder:       holder,
		redis:        client,
		writeEnabled: writeEnabled,
		auditMaxLen:  auditMaxLen,
		overrides:    Partial{},
	}
}

type persistedOverrides struct {
	Overrides Partial `json:"overrides"`
	Timestamp int64   `json:"timestamp"`
}

// Load 启动时读取已保存的覆盖并应用
func (s *RedisStore) Load(ctx context.Context) error {
	logger := utils.GetLogger("config")

	raw, err := s.redis.Get(ctx, GetRedisKey("runtime_config")).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read runtime config: %w", err)
	}

	var data persistedOverrides
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return fmt.Errorf("parse runtime config: %w", err)
	}
	if len(data.Overrides) == 0 {
		return nil
	}

	if _, err := s.holder.Update(ctx, data.Overrides); err != nil {
		// 旧的覆盖可能已不合法，忽略并保留默认值
		logger.Warnw("已保存的运行时配置无效，已忽略", "error", err)
		return nil
	}

	s.mu.Lock()
	s.overrides = data.Overrides
	s.mu.Unlock()

	logger.Infow("运行时配置已加载", "keys", data.Overrides.Keys())
	return nil
}

// Snapshot 获取当前快照
func (s *RedisStore) Snapshot() *Snapshot {
	return s.holder.Snapshot()
}

// Update 应用覆盖、持久化并记录审计
func (s *RedisStore) Update(ctx context.Context, p Partial) (*Snapshot, error) {
	if !s.writeEnabled {
		return nil, ErrWriteDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.holder.Update(ctx, p)
	if err != nil {
		return nil, err
	}
	s.overrides = s.overrides.Merge(p)

	// 持久化失败不回滚内存中的配置
	logger := utils.GetLogger("config")
	now := time.Now().Unix()
	payload, _ := json.Marshal(persistedOverrides{Overrides: s.overrides, Timestamp: now})
	if err := s.redis.Set(ctx, GetRedisKey("runtime_config"), payload, 0).Err(); err != nil {
		logger.Warnw("保存运行时配置失败", "error", err)
	}

	audit, _ := json.Marshal(map[string]interface{}{
		"ts":      now,
		"keys":    p.Keys(),
		"changes": p,
		"version": next.Version,
	})
	key := GetRedisKey("runtime_config_audit")
	if err := s.redis.LPush(ctx, key, audit).Err(); err != nil {
		logger.Warnw("写入配置审计失败", "error", err)
	} else {
		s.redis.LTrim(ctx, key, 0, int64(s.auditMaxLen-1))
	}

	return next, nil
}

// Audit 读取最近的配置变更
func (s *RedisStore) Audit(ctx context.Context, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 || limit > s.auditMaxLen {
		limit = 100
	}
	items, err := s.redis.LRange(ctx, GetRedisKey("runtime_config_audit"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read config audit: %w", err)
	}
	results := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(item), &entry); err == nil {
			results = append(results, entry)
		}
	}
	return results, nil
}

var _ Store = (*RedisStore)(nil)
