package risk

import (
	"fmt"
	"math"

	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// BalanceUsageCap 单笔名义价值最多占用可用余额的比例
const BalanceUsageCap = 0.8

// 拒绝原因
const (
	ReasonDailyLoss       = "daily loss limit exceeded"
	ReasonDrawdownStop    = "emergency drawdown stop triggered"
	ReasonMaxConcurrent   = "maximum concurrent trades reached"
	ReasonDegenerateStop  = "degenerate stop distance"
	ReasonBelowMinimum    = "position size below minimum"
	reasonInvalidInputFmt = "invalid input: %s"
)

// Gate 风控闸门：校验信号并计算仓位（纯计算，无状态）
type Gate struct{}

// NewGate 创建风控闸门
func NewGate() *Gate {
	return &Gate{}
}

func reject(reason string) types.PositionSizeResult {
	return types.PositionSizeResult{Approved: false, Reason: reason}
}

func invalidInput(msg string) types.PositionSizeResult {
	return reject(fmt.Sprintf(reasonInvalidInputFmt, msg))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Evaluate 按顺序执行风控检查，首个失败即返回原因
func (g *Gate) Evaluate(sig *types.Signal, pf types.PortfolioState, price float64, cfg config.RiskConfig) types.PositionSizeResult {
	// 1. 输入合法性
	switch {
	case sig == nil:
		return invalidInput("signal is nil")
	case !finite(price) || price <= 0:
		return invalidInput("price must be positive")
	case !finite(sig.Entry) || sig.Entry <= 0:
		return invalidInput("entry must be positive")
	case !finite(pf.Equity) || pf.Equity <= 0:
		return invalidInput("equity must be positive")
	case sig.RiskFraction <= 0:
		return invalidInput("risk fraction must be positive")
	}

	// 2. 日亏损熔断
	if math.Abs(pf.TodayLossFraction) >= cfg.DailyLossCap {
		return reject(ReasonDailyLoss)
	}

	// 3. 回撤紧急停止
	if cfg.EmergencyDrawdownStop > 0 && pf.MaxDrawdown >= cfg.EmergencyDrawdownStop {
		return reject(ReasonDrawdownStop)
	}

	// 4. 并发持仓上限
	if pf.OpenPositions >= cfg.MaxConcurrentTrades {
		return reject(ReasonMaxConcurrent)
	}

	// 5. 风险金额与止损距离
	riskFraction := math.Min(sig.RiskFraction, cfg.MaxRiskPerTrade)
	riskAmount := pf.Equity * riskFraction
	stopDistance := math.Abs(sig.Entry-sig.StopLoss) / sig.Entry
	if stopDistance == 0 || !finite(stopDistance) {
		return reject(ReasonDegenerateStop)
	}

	// 6. 名义价值上限
	notional := riskAmount / stopDistance
	notional = math.Min(notional, math.Min(cfg.MaxPositionNotional, pf.AvailableBalance*BalanceUsageCap))

	// 7. 最小仓位
	if notional < cfg.MinPositionNotional || notional <= 0 {
		return types.PositionSizeResult{
			SizeNotional: notional,
			RiskAmount:   riskAmount,
			Approved:     false,
			Reason:       ReasonBelowMinimum,
		}
	}

	// 8. 通过
	return types.PositionSizeResult{
		SizeNotional: notional,
		SizeBase:     notional / price,
		RiskAmount:   riskAmount,
		Leverage:     notional / math.Min(notional, pf.AvailableBalance),
		Approved:     true,
	}
}
