package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// Book 组合账本：已实现盈亏、日切、权益峰值与最大回撤
type Book struct {
	mu sync.Mutex

	startingEquity float64
	balance        float64 // >0 时使用交易所余额代替本地现金
	realizedTotal  float64
	realizedToday  float64
	dayStartEquity float64
	day            string

	peakEquity  float64
	maxDrawdown float64
}

// NewBook 创建组合账本
func NewBook(startingEquity float64, now time.Time) *Book {
	return &Book{
		startingEquity: startingEquity,
		dayStartEquity: startingEquity,
		day:            utcDay(now),
		peakEquity:     startingEquity,
	}
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// RecordRealized 记录已实现盈亏
func (b *Book) RecordRealized(pnl float64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollLocked(at, b.cashLocked())
	b.realizedTotal += pnl
	b.realizedToday += pnl
}

// SetBalance 用交易所余额作为现金基准（实盘）
func (b *Book) SetBalance(balance float64) {
	b.mu.Lock()
	b.balance = balance
	b.mu.Unlock()
}

// RealizedTotal 累计已实现盈亏
func (b *Book) RealizedTotal() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.realizedTotal
}

func (b *Book) cashLocked() float64 {
	if b.balance > 0 {
		return b.balance
	}
	return b.startingEquity + b.realizedTotal
}

// rollLocked UTC日切：清零当日已实现盈亏并以当前权益作为日初权益
func (b *Book) rollLocked(now time.Time, equity float64) {
	day := utcDay(now)
	if day == b.day {
		return
	}
	b.day = day
	b.realizedToday = 0
	b.dayStartEquity = equity
}

// Recompute 由持仓和最新价格整体重算组合状态；缺少价格时返回错误
func (b *Book) Recompute(open []*types.TradeOrder, prices map[string]float64, cfg config.RiskConfig, now time.Time) (types.PortfolioState, error) {
	var unrealized, margin, openRisk float64
	for _, o := range open {
		price, ok := prices[o.Pair]
		if !ok || price <= 0 {
			return types.PortfolioState{}, fmt.Errorf("no price for %s", o.Pair)
		}
		qty := o.RemainingBase()
		dir := 1.0
		if o.Side == types.SideShort {
			dir = -1.0
		}
		unrealized += dir * (price - o.Entry) * qty

		lev := o.Leverage
		if lev < 1 {
			lev = 1
		}
		margin += qty * o.Entry / lev
		openRisk += qty * math.Abs(o.Entry-o.StopLoss)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cash := b.cashLocked()
	equity := cash + unrealized
	b.rollLocked(now, equity)

	if equity > b.peakEquity {
		b.peakEquity = equity
	}
	if b.peakEquity > 0 {
		if dd := (b.peakEquity - equity) / b.peakEquity; dd > b.maxDrawdown {
			b.maxDrawdown = dd
		}
	}

	daily := b.realizedToday + unrealized
	lossFraction := 0.0
	if daily < 0 && b.dayStartEquity > 0 {
		lossFraction = daily / b.dayStartEquity
	}

	utilization := 0.0
	if budget := equity * cfg.MaxRiskPerTrade * float64(cfg.MaxConcurrentTrades); budget > 0 {
		utilization = openRisk / budget
	}

	return types.PortfolioState{
		Equity:            equity,
		AvailableBalance:  equity - margin,
		UnrealizedPnL:     unrealized,
		DailyPnL:          daily,
		OpenPositions:     len(open),
		TodayLossFraction: lossFraction,
		MaxDrawdown:       b.maxDrawdown,
		RiskUtilization:   utilization,
		UpdatedAt:         now.Unix(),
	}, nil
}
