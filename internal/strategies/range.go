package strategies

import (
	"errors"
	"fmt"
	"math"

	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// ErrDegenerateRange 区间高度不为正
var ErrDegenerateRange = errors.New("degenerate range")

// NewRangeState 构造区间，拒绝高度不为正的区间
func NewRangeState(low, high float64) (types.RangeState, error) {
	height := high - low
	if !(height > 0) {
		return types.RangeState{}, fmt.Errorf("%w: low=%v high=%v", ErrDegenerateRange, low, high)
	}
	return types.RangeState{Low: low, High: high, Height: height}, nil
}

// AnalyzeRange 由高周期K线计算交易区间，高度不为正时返回false
func AnalyzeRange(htf []types.Candle) (types.RangeState, bool) {
	if len(htf) == 0 {
		return types.RangeState{}, false
	}

	low, high := htf[0].Low, htf[0].High
	for _, c := range htf[1:] {
		low = math.Min(low, c.Low)
		high = math.Max(high, c.High)
	}

	rs, err := NewRangeState(low, high)
	if err != nil {
		return types.RangeState{}, false
	}
	return rs, true
}

// Tolerance 触碰容差：区间高度 × tolPct / 100
func Tolerance(rs types.RangeState, tolPct float64) float64 {
	return rs.Height * tolPct / 100
}

// TapTest 判断K线是否在容差内触碰区间下沿/上沿（边界包含）
func TapTest(rs types.RangeState, candle types.Candle, tolPct float64) (bottom, top bool) {
	tol := Tolerance(rs, tolPct)
	bottom = math.Abs(candle.Low-rs.Low) <= tol
	top = math.Abs(candle.High-rs.High) <= tol
	return bottom, top
}
