package indicators

import (
	"iter"

	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// ZoneVolumeMultiple 订单区成交量须严格高于窗口均量的倍数
const ZoneVolumeMultiple = 1.5

// DetectGaps 检测三K线价格失衡区（FVG），按K线顺序惰性产出
func DetectGaps(candles []types.Candle) iter.Seq[types.FairValueGap] {
	return func(yield func(types.FairValueGap) bool) {
		for i := 2; i < len(candles); i++ {
			first, middle, third := candles[i-2], candles[i-1], candles[i]

			// 看涨：第一根最高价低于第三根最低价，中间为阳线
			if first.High < third.Low && middle.Bullish() {
				gap := types.FairValueGap{
					Direction: types.SideLong,
					Low:       first.High,
					High:      third.Low,
					Timestamp: middle.Time,
				}
				if !yield(gap) {
					return
				}
				continue
			}

			// 看跌：第一根最低价高于第三根最高价，中间为阴线
			if first.Low > third.High && middle.Bearish() {
				gap := types.FairValueGap{
					Direction: types.SideShort,
					Low:       third.High,
					High:      first.Low,
					Timestamp: middle.Time,
				}
				if !yield(gap) {
					return
				}
			}
		}
	}
}

// DetectOrderZones 检测高成交量反转K线（订单区）
func DetectOrderZones(candles []types.Candle) iter.Seq[types.OrderZone] {
	return func(yield func(types.OrderZone) bool) {
		if len(candles) < 2 {
			return
		}
		threshold := MeanVolume(candles) * ZoneVolumeMultiple

		for i := 1; i < len(candles); i++ {
			prev, cur := candles[i-1], candles[i]
			if cur.Volume <= threshold {
				continue
			}

			var dir types.Side
			switch {
			case cur.Bullish() && prev.Bearish() && cur.Close > prev.High:
				dir = types.SideLong
			case cur.Bearish() && prev.Bullish() && cur.Close < prev.Low:
				dir = types.SideShort
			default:
				continue
			}

			zone := types.OrderZone{
				Direction: dir,
				Low:       cur.Low,
				High:      cur.High,
				Timestamp: cur.Time,
				Volume:    cur.Volume,
			}
			if !yield(zone) {
				return
			}
		}
	}
}

// LatestGap 最近一个FVG
func LatestGap(candles []types.Candle) (types.FairValueGap, bool) {
	var (
		last  types.FairValueGap
		found bool
	)
	for gap := range DetectGaps(candles) {
		last, found = gap, true
	}
	return last, found
}

// LatestZone 最近一个订单区
func LatestZone(candles []types.Candle) (types.OrderZone, bool) {
	var (
		last  types.OrderZone
		found bool
	)
	for zone := range DetectOrderZones(candles) {
		last, found = zone, true
	}
	return last, found
}
