package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// RiskConfig 风控参数
type RiskConfig struct {
	DailyLossCap          float64 `json:"daily_loss_cap"`
	MaxConcurrentTrades   int     `json:"max_concurrent_trades"`
	MaxPositionNotional   float64 `json:"max_position_notional"`
	MaxRiskPerTrade       float64 `json:"max_risk_per_trade"`
	EmergencyDrawdownStop float64 `json:"emergency_drawdown_stop"`
	CorrelationLimit      float64 `json:"correlation_limit"`
	MinPositionNotional   float64 `json:"min_position_notional"`
}

// StrategyConfig 区间斐波那契策略参数
type StrategyConfig struct {
	TapTolerancePct float64   `json:"tap_tolerance_pct"` // 区间高度的百分比
	StopBufferPct   float64   `json:"stop_buffer_pct"`   // 区间高度的比例
	MinDelta        float64   `json:"min_delta"`
	LookbackBars    int       `json:"lookback_bars"`
	NormalizeDelta  bool      `json:"normalize_delta"`
	MinVolatility   float64   `json:"min_volatility"`
	MaxVolatility   float64   `json:"max_volatility"`
	MajorFibLevels  []float64 `json:"major_fib_levels"`
	MinorFibLevels  []float64 `json:"minor_fib_levels"`
	MajorPairs      []string  `json:"major_pairs"`
	RiskPerTrade    float64   `json:"risk_per_trade"`
	TPPartialRatio  float64   `json:"tp_partial_ratio"` // 0 表示首个止盈位全平
}

// EngineConfig 调度与执行参数
type EngineConfig struct {
	Mode             types.TradingMode `json:"mode"`
	Pairs            []string          `json:"pairs"`
	HTFTimeframe     string            `json:"htf_timeframe"`
	LTFTimeframe     string            `json:"ltf_timeframe"`
	HTFLimit         int               `json:"htf_limit"`
	LTFLimit         int               `json:"ltf_limit"`
	CooldownSec      float64           `json:"cooldown_sec"`
	Concurrency      int               `json:"concurrency"`
	PaperSlippagePct float64           `json:"paper_slippage_pct"` // 百分比
	PaperFeeRate     float64           `json:"paper_fee_rate"`
	SimSlippagePct   float64           `json:"sim_slippage_pct"`
	SimFeeRate       float64           `json:"sim_fee_rate"`
	StartingEquity   float64           `json:"starting_equity"`
	ArchiveMaxLen    int               `json:"archive_max_len"`
}

// Cooldown 冷却时间
func (e EngineConfig) Cooldown() time.Duration {
	return time.Duration(e.CooldownSec * float64(time.Second))
}

// Snapshot 不可变的运行时配置快照
type Snapshot struct {
	Risk      RiskConfig     `json:"risk"`
	Strategy  StrategyConfig `json:"strategy"`
	Engine    EngineConfig   `json:"engine"`
	Version   int64          `json:"version"`
	UpdatedAt int64          `json:"updated_at"`
}

// Defaults 默认运行时配置
func Defaults() Snapshot {
	return Snapshot{
		Risk: RiskConfig{
			DailyLossCap:          0.05,
			MaxConcurrentTrades:   3,
			MaxPositionNotional:   5000,
			MaxRiskPerTrade:       0.02,
			EmergencyDrawdownStop: 0.2,
			CorrelationLimit:      0.7,
			MinPositionNotional:   10,
		},
		Strategy: StrategyConfig{
			TapTolerancePct: 0.25,
			StopBufferPct:   0.05,
			MinDelta:        1000,
			LookbackBars:    10,
			MinVolatility:   0.001,
			MaxVolatility:   0.5,
			MajorFibLevels:  []float64{0.382, 0.5, 0.618},
			MinorFibLevels:  []float64{0.236, 0.382, 0.5},
			MajorPairs:      []string{"BTCUSDT", "ETHUSDT"},
			RiskPerTrade:    0.01,
		},
		Engine: EngineConfig{
			Mode:             types.ModePaper,
			Pairs:            []string{"BTCUSDT", "ETHUSDT"},
			HTFTimeframe:     "1h",
			LTFTimeframe:     "5m",
			HTFLimit:         48,
			LTFLimit:         100,
			CooldownSec:      30,
			Concurrency:      4,
			PaperSlippagePct: 0.05,
			PaperFeeRate:     0.001,
			SimSlippagePct:   0.01,
			SimFeeRate:       0.0004,
			StartingEquity:   10000,
			ArchiveMaxLen:    500,
		},
	}
}

// Partial 运行时覆盖：section -> field -> value（字段名同JSON标签）
type Partial map[string]map[string]interface{}

// Keys 按 section.field 排序的键列表（用于审计）
func (p Partial) Keys() []string {
	keys := make([]string, 0)
	for section, fields := range p {
		for field := range fields {
			keys = append(keys, section+"."+field)
		}
	}
	sort.Strings(keys)
	return keys
}

// Merge 将other叠加到p上，返回新的Partial
func (p Partial) Merge(other Partial) Partial {
	out := make(Partial, len(p))
	for section, fields := range p {
		out[section] = make(map[string]interface{}, len(fields))
		for k, v := range fields {
			out[section][k] = v
		}
	}
	for section, fields := range other {
		if out[section] == nil {
			out[section] = make(map[string]interface{}, len(fields))
		}
		for k, v := range fields {
			out[section][k] = v
		}
	}
	return out
}

// Apply 在base上应用覆盖，返回校验后的新快照（base不变）
func Apply(base *Snapshot, p Partial) (*Snapshot, error) {
	raw, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	for section, fields := range p {
		target, ok := doc[section].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unknown config section: %s", section)
		}
		for field, value := range fields {
			if _, ok := target[field]; !ok {
				return nil, fmt.Errorf("unknown config field: %s.%s", section, field)
			}
			target[field] = value
		}
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal merged config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	next := &Snapshot{}
	if err := dec.Decode(next); err != nil {
		return nil, fmt.Errorf("invalid config value: %w", err)
	}
	normalize(next)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

func normalize(s *Snapshot) {
	s.Engine.Mode = types.TradingMode(strings.ToLower(string(s.Engine.Mode)))
	for i, p := range s.Engine.Pairs {
		s.Engine.Pairs[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	for i, p := range s.Strategy.MajorPairs {
		s.Strategy.MajorPairs[i] = strings.ToUpper(strings.TrimSpace(p))
	}
}

// Store 配置存储（引擎只读快照，更新走Update）
type Store interface {
	Snapshot() *Snapshot
	Update(ctx context.Context, p Partial) (*Snapshot, error)
}

// Holder 原子替换的配置持有者
type Holder struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // 串行化写
}

// NewHolder 创建配置持有者
func NewHolder(initial Snapshot) (*Holder, error) {
	s := initial
	normalize(&s)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.Version == 0 {
		s.Version = 1
	}
	if s.UpdatedAt == 0 {
		s.UpdatedAt = time.Now().Unix()
	}
	h := &Holder{}
	h.current.Store(&s)
	return h, nil
}

// Snapshot 获取当前快照（调用方不得修改）
func (h *Holder) Snapshot() *Snapshot {
	return h.current.Load()
}

// Update 应用覆盖并整体替换快照
func (h *Holder) Update(_ context.Context, p Partial) (*Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.current.Load()
	next, err := Apply(cur, p)
	if err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now().Unix()
	h.current.Store(next)
	return next, nil
}

var _ Store = (*Holder)(nil)
