package strategies

import (
	"math"
	"slices"
	"time"

	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/indicators"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

const (
	minHTFCandles = 20
	minLTFCandles = 50

	// 置信度构成
	gapWeight      = 0.3
	zoneWeight     = 0.3
	deltaWeight    = 0.25
	deltaCapRatio  = 3.0
	moderateBonus  = 0.15
	baseVolBonus   = 0.05
	moderateRelLow = 0.02
	moderateRelHi  = 0.08
)

// 无信号原因
const (
	ReasonInsufficientHTF = "insufficient higher timeframe candles"
	ReasonInsufficientLTF = "insufficient lower timeframe candles"
	ReasonVolatility      = "volatility outside band"
	ReasonDegenerateRange = "degenerate range"
	ReasonNoTap           = "range not tapped"
	ReasonNoGap           = "no confirming fair value gap"
	ReasonNoZone          = "no confirming order zone"
	ReasonWeakOrderFlow   = "order flow delta below threshold"
)

// RangeFib 区间触碰 + FVG/订单区/订单流确认 + 斐波那契止盈的信号合成器
type RangeFib struct {
	cfg config.StrategyConfig
}

// NewRangeFib 以配置快照创建合成器
func NewRangeFib(cfg config.StrategyConfig) *RangeFib {
	return &RangeFib{cfg: cfg}
}

// Name 策略名
func (s *RangeFib) Name() string {
	return "range_fib"
}

// Generate 生成信号；无信号时返回nil和原因
func (s *RangeFib) Generate(pair string, htf, ltf []types.Candle, now time.Time) (*types.Signal, string) {
	cfg := s.cfg

	if len(htf) < minHTFCandles {
		return nil, ReasonInsufficientHTF
	}
	if len(ltf) < minLTFCandles {
		return nil, ReasonInsufficientLTF
	}

	// 第一步：区间与触碰（主要过滤条件，先于检测器执行）
	rs, ok := AnalyzeRange(htf)
	if !ok {
		return nil, ReasonDegenerateRange
	}
	last := ltf[len(ltf)-1]
	bottom, top := TapTest(rs, last, cfg.TapTolerancePct)
	if !bottom && !top {
		return nil, ReasonNoTap
	}

	vol := indicators.Volatility(ltf)
	if vol < cfg.MinVolatility || vol > cfg.MaxVolatility {
		return nil, ReasonVolatility
	}

	// 第二步：方向，下沿优先
	side := types.SideShort
	if bottom {
		side = types.SideLong
	}

	// 第三步：最近的FVG与订单区必须存在且同向
	gap, ok := indicators.LatestGap(ltf)
	if !ok || gap.Direction != side {
		return nil, ReasonNoGap
	}
	zone, ok := indicators.LatestZone(ltf)
	if !ok || zone.Direction != side {
		return nil, ReasonNoZone
	}

	// 第四步：订单流
	delta := s.orderFlowDelta(ltf)
	if side == types.SideLong && delta < cfg.MinDelta {
		return nil, ReasonWeakOrderFlow
	}
	if side == types.SideShort && delta > -cfg.MinDelta {
		return nil, ReasonWeakOrderFlow
	}

	// 第五步：入场、止盈阶梯、止损
	ladder, class := s.fibLevels(pair)
	entry := rs.Low
	dir := 1.0
	if side == types.SideShort {
		entry = rs.High
		dir = -1.0
	}
	tps := make([]float64, 0, len(ladder))
	for _, f := range ladder {
		tps = append(tps, entry+dir*f*rs.Height)
	}
	stop := entry - dir*cfg.StopBufferPct*rs.Height

	// 第六步：置信度
	confidence := gapWeight + zoneWeight +
		deltaWeight*math.Min(math.Abs(delta)/cfg.MinDelta, deltaCapRatio)/deltaCapRatio
	rel := rs.Height / rs.Low
	if rel > moderateRelLow && rel < moderateRelHi {
		confidence += moderateBonus
	} else {
		confidence += baseVolBonus
	}
	confidence = math.Min(confidence, 1)

	return &types.Signal{
		Pair:         pair,
		Side:         side,
		Entry:        entry,
		TakeProfits:  tps,
		StopLoss:     stop,
		RiskFraction: cfg.RiskPerTrade,
		Confidence:   confidence,
		Timestamp:    now.UnixMilli(),
		Metadata: map[string]interface{}{
			"strategy":   s.Name(),
			"range_low":  rs.Low,
			"range_high": rs.High,
			"delta":      delta,
			"volatility": vol,
			"gap_low":    gap.Low,
			"gap_high":   gap.High,
			"zone_low":   zone.Low,
			"zone_high":  zone.High,
			"ladder":     class,
			"tap_time":   last.Time,
		},
	}, ""
}

// orderFlowDelta 回看窗口内的订单流变化；NormalizeDelta时以窗口均量为单位
func (s *RangeFib) orderFlowDelta(ltf []types.Candle) float64 {
	lookback := s.cfg.LookbackBars
	if lookback > len(ltf) {
		lookback = len(ltf)
	}
	delta := indicators.OrderFlowDelta(ltf, lookback)
	if s.cfg.NormalizeDelta {
		if mean := indicators.MeanVolume(ltf[len(ltf)-lookback:]); mean > 0 {
			delta /= mean
		}
	}
	return delta
}

func (s *RangeFib) fibLevels(pair string) ([]float64, string) {
	if slices.Contains(s.cfg.MajorPairs, pair) {
		return s.cfg.MajorFibLevels, "major"
	}
	return s.cfg.MinorFibLevels, "minor"
}
