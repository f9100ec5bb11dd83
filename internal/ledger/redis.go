package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// RedisOptions Redis账本参数
type RedisOptions struct {
	HistoryMaxLen  int
	AuditMaxLen    int
	AuditMaxChars  int
	HistoryKeyName string
	AuditKeyName   string
}

// Redis 交易历史 + 订单审计（Redis列表，LPush/LTrim限长）
type Redis struct {
	client *redis.Client
	opts   RedisOptions
}

// NewRedis 创建Redis账本
func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	if opts.HistoryMaxLen <= 0 {
		opts.HistoryMaxLen = 500
	}
	if opts.AuditMaxLen <= 0 {
		opts.AuditMaxLen = 2000
	}
	if opts.AuditMaxChars <= 0 {
		opts.AuditMaxChars = 2000
	}
	if opts.HistoryKeyName == "" {
		opts.HistoryKeyName = "trade_history"
	}
	if opts.AuditKeyName == "" {
		opts.AuditKeyName = "order_audit"
	}
	return &Redis{client: client, opts: opts}
}

// HistoryKey 交易历史键
func (r *Redis) HistoryKey() string {
	return config.GetRedisKey(r.opts.HistoryKeyName)
}

// AuditKey 审计键
func (r *Redis) AuditKey() string {
	return config.GetRedisKey(r.opts.AuditKeyName)
}

// Append 所有事件写审计；成交相关事件同时写交易历史
func (r *Redis) Append(ctx context.Context, event types.LedgerEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}

	// 限制事件大小
	auditStr := utils.Truncate(string(eventJSON), r.opts.AuditMaxChars)

	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.AuditKey(), auditStr)
		pipe.LTrim(ctx, r.AuditKey(), 0, int64(r.opts.AuditMaxLen-1))
		if event.Event != EventOrderFailed {
			pipe.LPush(ctx, r.HistoryKey(), string(eventJSON))
			pipe.LTrim(ctx, r.HistoryKey(), 0, int64(r.opts.HistoryMaxLen-1))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis ledger append: %w", err)
	}
	return nil
}

// History 最近的交易历史（最新在前）
func (r *Redis) History(ctx context.Context, limit int) ([]types.LedgerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := r.client.LRange(ctx, r.HistoryKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read trade history: %w", err)
	}
	events := make([]types.LedgerEvent, 0, len(raw))
	for _, item := range raw {
		var ev types.LedgerEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
