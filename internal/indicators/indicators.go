package indicators

import (
	"math"

	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// 日内小时数，用于波动率年化口径
const hoursPerDay = 24

// CumulativeOrderFlow 计算累计成交量差（与输入逐一对齐）
func CumulativeOrderFlow(candles []types.Candle) []float64 {
	flow := make([]float64, 0, len(candles))
	cvd := 0.0
	for _, candle := range candles {
		if candle.Close > candle.Open {
			// 上涨，成交量计入买入
			cvd += candle.Volume
		} else {
			// 下跌或平盘计入卖出
			cvd -= candle.Volume
		}
		flow = append(flow, cvd)
	}
	return flow
}

// OrderFlowDelta 最近lookback根K线的累计成交量差变化 flow[last]-flow[first]
func OrderFlowDelta(candles []types.Candle, lookback int) float64 {
	if lookback <= 0 || len(candles) == 0 {
		return 0
	}
	if lookback > len(candles) {
		lookback = len(candles)
	}
	flow := CumulativeOrderFlow(candles[len(candles)-lookback:])
	return flow[len(flow)-1] - flow[0]
}

// MeanVolume 平均成交量
func MeanVolume(candles []types.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}

// Volatility 收盘价对数收益率的总体标准差 × sqrt(24)
func Volatility(candles []types.Candle) float64 {
	if len(candles) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Close, candles[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	// 计算标准差
	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance) * math.Sqrt(hoursPerDay)
}
