package strategies

import (
	"time"

	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// Strategy 信号策略接口
type Strategy interface {
	Name() string
	Generate(pair string, htf, ltf []types.Candle, now time.Time) (*types.Signal, string)
}

// Factory 按配置快照构建策略
type Factory func(cfg config.StrategyConfig) Strategy

// DefaultFactory 默认策略：区间斐波那契
func DefaultFactory(cfg config.StrategyConfig) Strategy {
	return NewRangeFib(cfg)
}

var _ Strategy = (*RangeFib)(nil)
