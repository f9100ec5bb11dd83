package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/ledger"
	"github.com/yuechangmingzou/nofx-engine/internal/metrics"
	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// 路由拒绝原因
const (
	ReasonMaxConcurrent = "maximum concurrent trades reached"
	ReasonPairBusy      = "pair already has an open order"
	ReasonNotApproved   = "position size not approved"
)

// PnLRecorder 接收已实现盈亏（组合账本）
type PnLRecorder interface {
	RecordRealized(pnl float64, at time.Time)
}

// Option Router可选项
type Option func(*Router)

// WithVenue 设置实盘执行场所
func WithVenue(v types.ExecutionVenue) Option {
	return func(r *Router) { r.venue = v }
}

// WithPnLRecorder 平仓盈亏回写
func WithPnLRecorder(p PnLRecorder) Option {
	return func(r *Router) { r.pnl = p }
}

// WithRandom 滑点随机源，返回[0,1)
func WithRandom(fn func() float64) Option {
	return func(r *Router) { r.random = fn }
}

// WithClock 时钟
func WithClock(fn func() time.Time) Option {
	return func(r *Router) { r.now = fn }
}

// Router 订单路由：按模式开仓、平仓并维护持仓登记表
type Router struct {
	mu       sync.Mutex // 串行化开平仓
	registry *Registry
	ledger   types.TradeLedger
	store    config.Store
	venue    types.ExecutionVenue
	pnl      PnLRecorder
	random   func() float64
	now      func() time.Time
}

// NewRouter 创建订单路由
func NewRouter(registry *Registry, tl types.TradeLedger, store config.Store, opts ...Option) *Router {
	if tl == nil {
		tl = ledger.Discard{}
	}
	r := &Router{
		registry: registry,
		ledger:   tl,
		store:    store,
		random:   rand.Float64,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry 持仓登记表
func (r *Router) Registry() *Registry {
	return r.registry
}

// Route 按模式执行已批准的信号
func (r *Router) Route(ctx context.Context, sig *types.Signal, size types.PositionSizeResult, mode types.TradingMode, price float64) (bool, string, *types.TradeOrder) {
	logger := utils.GetLogger("execution")
	snap := r.store.Snapshot()

	if !mode.Valid() {
		return false, fmt.Sprintf("unknown mode: %s", mode), nil
	}
	if !size.Approved || size.SizeNotional <= 0 {
		return false, ReasonNotApproved, nil
	}
	if price <= 0 || math.IsNaN(price) {
		return false, fmt.Sprintf("invalid market price: %v", price), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := snap.Risk.MaxConcurrentTrades
	if err := r.registry.CheckCapacity(sig.Pair, capacity); err != nil {
		return false, capacityReason(err), nil
	}

	base := size.SizeBase
	if base <= 0 {
		base = size.SizeNotional / price
	}

	now := r.now()
	order := &types.TradeOrder{
		ID:          uuid.NewString(),
		Pair:        sig.Pair,
		Side:        sig.Side,
		Type:        types.OrderTypeMarket,
		Mode:        mode,
		StopLoss:    sig.StopLoss,
		TakeProfits: append([]float64(nil), sig.TakeProfits...),
		SizeBase:    base,
		Leverage:    size.Leverage,
		Status:      types.StatusPending,
		Timestamp:   now.UnixMilli(),
	}
	if name, ok := sig.Metadata["strategy"].(string); ok && name != "" {
		order.Tags = append(order.Tags, name)
	}

	// 写账本不随调用方取消
	writeCtx := context.WithoutCancel(ctx)

	var fillPrice, qty, fee float64
	switch mode {
	case types.ModeLive:
		if r.venue == nil {
			return r.fail(writeCtx, order, price, "no execution venue configured")
		}
		vf, err := r.venue.SubmitOrder(writeCtx, order)
		if err != nil {
			logger.Warnw("实盘下单失败", "pair", sig.Pair, "side", sig.Side, "error", err)
			return r.fail(writeCtx, order, price, fmt.Sprintf("venue submit failed: %v", err))
		}
		fillPrice, qty, fee = vf.FilledPrice, vf.Quantity, vf.Fees
		if fillPrice <= 0 {
			fillPrice = price
		}
		if qty <= 0 {
			qty = base
		}
		order.VenueOrderID = vf.VenueOrderID
	case types.ModePaper:
		fillPrice = r.slipped(price, sig.Side, snap.Engine.PaperSlippagePct)
		qty = base
		fee = feeFor(fillPrice, qty, snap.Engine.PaperFeeRate)
	case types.ModeSimulation:
		fillPrice = r.slipped(price, sig.Side, snap.Engine.SimSlippagePct)
		qty = base
		fee = feeFor(fillPrice, qty, snap.Engine.SimFeeRate)
	}

	order.Entry = fillPrice
	order.SizeBase = qty
	order.SizeNotional = qty * fillPrice
	order.Fills = append(order.Fills, types.Fill{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		Price:     fillPrice,
		Quantity:  qty,
		Side:      order.Side,
		Timestamp: now.UnixMilli(),
		Fees:      fee,
		Kind:      types.FillEntry,
	})
	if err := Transition(order, types.StatusOpen); err != nil {
		return false, err.Error(), nil
	}
	if err := r.registry.Insert(order, capacity); err != nil {
		logger.Errorw("登记持仓失败", "order_id", order.ID, "pair", order.Pair, "error", err)
		metrics.RecordOrder(string(mode), false)
		return false, capacityReason(err), nil
	}

	if mode != types.ModeSimulation {
		r.appendLedger(writeCtx, types.LedgerEvent{
			Event:     ledger.EventOrderOpened,
			OrderID:   order.ID,
			Pair:      order.Pair,
			Side:      order.Side,
			Mode:      mode,
			Price:     fillPrice,
			Quantity:  qty,
			Fees:      fee,
			Timestamp: now.Unix(),
		})
	}
	metrics.RecordOrder(string(mode), true)

	logger.Infow("开仓成功",
		"order_id", order.ID,
		"pair", order.Pair,
		"side", order.Side,
		"mode", mode,
		"entry", fillPrice,
		"size_base", qty,
	)
	return true, "order opened", order.Clone()
}

func (r *Router) fail(ctx context.Context, order *types.TradeOrder, price float64, reason string) (bool, string, *types.TradeOrder) {
	_ = Transition(order, types.StatusFailed)
	r.appendLedger(ctx, types.LedgerEvent{
		Event:     ledger.EventOrderFailed,
		OrderID:   order.ID,
		Pair:      order.Pair,
		Side:      order.Side,
		Mode:      order.Mode,
		Price:     price,
		Quantity:  order.SizeBase,
		Reason:    reason,
		Timestamp: r.now().Unix(),
	})
	metrics.RecordOrder(string(order.Mode), false)
	return false, reason, order
}

func capacityReason(err error) string {
	switch {
	case errors.Is(err, ErrRegistryFull):
		return ReasonMaxConcurrent
	case errors.Is(err, ErrPairBusy):
		return ReasonPairBusy
	default:
		return err.Error()
	}
}

// slipped 对开仓方向不利的滑点，幅度在[0, pct]%
func (r *Router) slipped(price float64, side types.Side, pct float64) float64 {
	if pct <= 0 {
		return price
	}
	s := r.random() * pct / 100
	if side == types.SideShort {
		return price * (1 - s)
	}
	return price * (1 + s)
}

func feeFor(price, qty, rate float64) float64 {
	if rate <= 0 {
		return 0
	}
	return decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(qty)).
		Mul(decimal.NewFromFloat(rate)).
		InexactFloat64()
}

func (r *Router) feeRate(mode types.TradingMode) float64 {
	snap := r.store.Snapshot()
	switch mode {
	case types.ModePaper:
		return snap.Engine.PaperFeeRate
	case types.ModeSimulation:
		return snap.Engine.SimFeeRate
	default:
		// 实盘平仓手续费以交易所结算为准
		return 0
	}
}

// grossPnL 方向化的毛盈亏
func grossPnL(side types.Side, entry, exit, qty float64) decimal.Decimal {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if side == types.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromFloat(qty))
}

func entryFees(o *types.TradeOrder) decimal.Decimal {
	total := decimal.Zero
	for _, f := range o.Fills {
		if f.Kind == types.FillEntry {
			total = total.Add(decimal.NewFromFloat(f.Fees))
		}
	}
	return total
}

// nextTPKind 下一个未成交的止盈档位
func nextTPKind(o *types.TradeOrder) types.FillKind {
	return types.TPKind(min(o.TakenTPLevels(), len(o.TakeProfits)-1))
}

func exitKind(o *types.TradeOrder, reason types.CloseReason) types.FillKind {
	switch reason {
	case types.CloseSL:
		return types.FillSL
	case types.CloseTP:
		return nextTPKind(o)
	default:
		return types.FillManual
	}
}

// ClosePosition 按价格平掉剩余仓位
func (r *Router) ClosePosition(ctx context.Context, id string, exitPrice float64, reason types.CloseReason) (bool, string, *types.TradeOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked(ctx, id, exitPrice, 0, reason, exitKindAuto)
}

// ClosePartial 部分止盈平仓；数量不小于剩余仓位时等同全平
func (r *Router) ClosePartial(ctx context.Context, id string, exitPrice, qty float64, kind types.FillKind) (bool, string, *types.TradeOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked(ctx, id, exitPrice, qty, types.CloseTP, kind)
}

const exitKindAuto types.FillKind = ""

func (r *Router) closeLocked(ctx context.Context, id string, exitPrice, qty float64, reason types.CloseReason, kind types.FillKind) (bool, string, *types.TradeOrder) {
	logger := utils.GetLogger("execution")

	current, ok := r.registry.Get(id)
	if !ok {
		return false, fmt.Sprintf("order not found: %s", id), nil
	}
	if exitPrice <= 0 || math.IsNaN(exitPrice) {
		return false, fmt.Sprintf("invalid exit price: %v", exitPrice), current
	}

	remaining := current.RemainingBase()
	final := qty <= 0 || qty >= remaining
	if final {
		qty = remaining
	}
	if kind == exitKindAuto {
		kind = exitKind(current, reason)
	}

	writeCtx := context.WithoutCancel(ctx)
	if current.Mode == types.ModeLive {
		if r.venue == nil {
			return false, "no execution venue configured", current
		}
		if !final {
			return false, "partial close is not supported in live mode", current
		}
		if err := r.venue.CloseOrder(writeCtx, current.ID, exitPrice); err != nil {
			logger.Warnw("实盘平仓失败，保持持仓", "order_id", id, "error", err)
			return false, fmt.Sprintf("venue close failed: %v", err), current
		}
	}

	now := r.now()
	exitFee := feeFor(exitPrice, qty, r.feeRate(current.Mode))
	piece := grossPnL(current.Side, current.Entry, exitPrice, qty).Sub(decimal.NewFromFloat(exitFee))

	var closed *types.TradeOrder
	err := r.registry.Update(id, func(o *types.TradeOrder) error {
		if final {
			piece = piece.Sub(entryFees(o))
			if err := Transition(o, types.StatusClosed); err != nil {
				return err
			}
			o.ClosedAt = now.UnixMilli()
			o.CloseReason = reason
		}
		o.Fills = append(o.Fills, types.Fill{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			Price:     exitPrice,
			Quantity:  qty,
			Side:      o.Side.Opposite(),
			Timestamp: now.UnixMilli(),
			Fees:      exitFee,
			Kind:      kind,
		})
		o.RealizedPnL = decimal.NewFromFloat(o.RealizedPnL).Add(piece).InexactFloat64()
		closed = o.Clone()
		return nil
	})
	if err != nil {
		return false, err.Error(), current
	}
	if final {
		r.registry.Archive(id)
	}

	pieceF := piece.InexactFloat64()
	if r.pnl != nil {
		r.pnl.RecordRealized(pieceF, now)
	}

	event := ledger.EventOrderPartial
	pnl := pieceF
	if final {
		event = ledger.EventOrderClosed
		pnl = closed.RealizedPnL
	}
	if closed.Mode != types.ModeSimulation {
		r.appendLedger(writeCtx, types.LedgerEvent{
			Event:     event,
			OrderID:   closed.ID,
			Pair:      closed.Pair,
			Side:      closed.Side,
			Mode:      closed.Mode,
			Price:     exitPrice,
			Quantity:  qty,
			Fees:      exitFee,
			PnL:       pnl,
			Reason:    string(kind),
			Timestamp: now.Unix(),
		})
	}
	metrics.RecordExit(string(kind))

	logger.Infow("平仓成功",
		"order_id", closed.ID,
		"pair", closed.Pair,
		"kind", kind,
		"exit", exitPrice,
		"quantity", qty,
		"pnl", pieceF,
		"final", final,
	)
	if final {
		return true, "order closed", closed
	}
	return true, "order partially closed", closed
}

// Adopt 接管交易所已有持仓（实盘启动时）
func (r *Router) Adopt(orders []*types.TradeOrder) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := utils.GetLogger("execution")
	capacity := r.store.Snapshot().Risk.MaxConcurrentTrades
	adopted := 0
	for _, o := range orders {
		if o == nil || o.Pair == "" || o.SizeBase <= 0 {
			continue
		}
		if r.registry.HasPair(o.Pair) {
			continue
		}
		c := o.Clone()
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.Mode = types.ModeLive
		c.Status = types.StatusOpen
		if len(c.Fills) == 0 {
			c.Fills = []types.Fill{{
				ID:        uuid.NewString(),
				OrderID:   c.ID,
				Price:     c.Entry,
				Quantity:  c.SizeBase,
				Side:      c.Side,
				Timestamp: c.Timestamp,
				Kind:      types.FillEntry,
			}}
		}
		// 交易所已有敞口不受并发上限约束，超限只告警
		if r.registry.Count() >= capacity {
			logger.Warnw("接管持仓超出并发上限",
				"pair", c.Pair,
				"open", r.registry.Count(),
				"max_concurrent_trades", capacity,
			)
		}
		if err := r.registry.Insert(c, math.MaxInt32); err != nil {
			logger.Warnw("接管持仓失败", "pair", c.Pair, "error", err)
			continue
		}
		adopted++
	}
	if adopted > 0 {
		logger.Infow("已接管交易所持仓", "count", adopted)
	}
	return adopted
}

func (r *Router) appendLedger(ctx context.Context, event types.LedgerEvent) {
	if err := r.ledger.Append(ctx, event); err != nil {
		utils.GetLogger("execution").Warnw("写入交易账本失败",
			"event", event.Event,
			"order_id", event.OrderID,
			"error", err,
		)
	}
}
