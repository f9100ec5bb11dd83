package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/execution"
	"github.com/yuechangmingzou/nofx-engine/internal/metrics"
	"github.com/yuechangmingzou/nofx-engine/internal/risk"
	"github.com/yuechangmingzou/nofx-engine/internal/strategies"
	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrTickInProgress 上一轮tick尚未结束
	ErrTickInProgress = errors.New("tick already in progress")
	// ErrLeaseNotHeld 租约被其他进程持有
	ErrLeaseNotHeld = errors.New("engine lease held by another process")
)

// Option Engine可选项
type Option func(*Engine)

// WithBook 组合账本
func WithBook(b *risk.Book) Option {
	return func(e *Engine) { e.book = b }
}

// WithVenue 实盘场所（启动时接管持仓）
func WithVenue(v types.ExecutionVenue) Option {
	return func(e *Engine) { e.venue = v }
}

// WithBalanceReader 实盘账户权益
func WithBalanceReader(r types.BalanceReader) Option {
	return func(e *Engine) { e.balance = r }
}

// WithDeduper 单次触碰只出一个信号
func WithDeduper(d execution.Deduper) Option {
	return func(e *Engine) { e.deduper = d }
}

// WithLease 分布式租约
func WithLease(l Lease) Option {
	return func(e *Engine) { e.lease = l }
}

// WithInterval 调度间隔
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithClock 时钟
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// WithStrategyFactory 策略工厂
func WithStrategyFactory(f strategies.Factory) Option {
	return func(e *Engine) { e.factory = f }
}

// Engine 周期编排：组合重算 -> 逐交易对信号 -> 风控 -> 下单 -> 持仓监控
type Engine struct {
	store   config.Store
	feed    types.MarketDataFeed
	router  *execution.Router
	gate    *risk.Gate
	book    *risk.Book
	factory strategies.Factory
	venue   types.ExecutionVenue
	balance types.BalanceReader
	deduper execution.Deduper
	lease   Lease

	interval time.Duration
	now      func() time.Time

	tickMu sync.Mutex // 单飞

	stateMu     sync.RWMutex
	portfolio   types.PortfolioState
	assessment  risk.Assessment
	instruments *instruments
	lastTick    TickReport

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New 创建编排引擎
func New(store config.Store, feed types.MarketDataFeed, router *execution.Router, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		feed:        feed,
		router:      router,
		gate:        risk.NewGate(),
		factory:     strategies.DefaultFactory,
		interval:    10 * time.Second,
		now:         time.Now,
		instruments: newInstruments(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.book == nil {
		e.book = risk.NewBook(store.Snapshot().Engine.StartingEquity, e.now())
	}
	e.portfolio = types.PortfolioState{
		Equity:           store.Snapshot().Engine.StartingEquity,
		AvailableBalance: store.Snapshot().Engine.StartingEquity,
	}
	return e
}

// Book 组合账本
func (e *Engine) Book() *risk.Book {
	return e.book
}

// TickReport 单轮tick结果
type TickReport struct {
	StartedAt  int64             `json:"started_at"`
	DurationMS int64             `json:"duration_ms"`
	Evaluated  []string          `json:"evaluated"`
	Skipped    map[string]string `json:"skipped,omitempty"`
	Signals    int               `json:"signals"`
	Routed     []string          `json:"routed,omitempty"`
	Rejected   map[string]string `json:"rejected,omitempty"`
	Exits      []execution.Exit  `json:"exits,omitempty"`
	Errors     []string          `json:"errors,omitempty"`
}

type candidate struct {
	pair   string
	price  float64
	signal *types.Signal
	reason string
	err    error
}

// Tick 执行一轮完整流程；上一轮未结束时返回ErrTickInProgress
func (e *Engine) Tick(ctx context.Context) (TickReport, error) {
	if !e.tickMu.TryLock() {
		metrics.RecordTick("busy", 0)
		return TickReport{}, ErrTickInProgress
	}
	defer e.tickMu.Unlock()

	logger := utils.GetLogger("bot")
	started := e.now()

	if e.lease != nil {
		ok, err := e.lease.Acquire(ctx)
		if err != nil {
			metrics.RecordTick("error", 0)
			return TickReport{}, err
		}
		if !ok {
			metrics.RecordTick("lease_lost", 0)
			return TickReport{}, ErrLeaseNotHeld
		}
	}

	snap := e.store.Snapshot()
	report := TickReport{
		StartedAt: started.UnixMilli(),
		Skipped:   make(map[string]string),
		Rejected:  make(map[string]string),
	}

	open := e.router.Registry().Open()
	prices := e.fetchPrices(ctx, snap.Engine.Pairs, open, &report)

	if snap.Engine.Mode == types.ModeLive && e.balance != nil {
		if bal, err := e.balance.Balance(ctx); err != nil {
			logger.Warnw("获取账户权益失败", "error", err)
		} else {
			e.book.SetBalance(bal)
		}
	}

	pf, err := e.book.Recompute(open, prices, snap.Risk, started)
	if err != nil {
		// 保留上一次的组合快照
		logger.Warnw("组合重算失败，沿用上次快照", "error", err)
		report.Errors = append(report.Errors, err.Error())
		pf = e.Portfolio()
	} else {
		e.setPortfolio(pf, snap.Risk)
	}

	eligible := e.selectEligible(snap, pf, prices, started, &report)
	candidates := e.synthesize(ctx, snap, eligible, prices, started)

	for _, c := range candidates {
		e.handleCandidate(ctx, snap, &pf, c, started, &report)
	}

	report.Exits = e.router.GuardOnce(ctx, prices, snap.Strategy.TPPartialRatio)

	elapsed := e.now().Sub(started)
	report.DurationMS = elapsed.Milliseconds()
	e.stateMu.Lock()
	e.lastTick = report
	e.stateMu.Unlock()

	metrics.SetPortfolio(pf.Equity, e.router.Registry().Count())
	metrics.RecordTick("ok", elapsed)

	logger.Infow("tick完成",
		"evaluated", len(report.Evaluated),
		"signals", report.Signals,
		"routed", len(report.Routed),
		"exits", len(report.Exits),
		"duration_ms", report.DurationMS,
	)
	return report, nil
}

// fetchPrices 配置的交易对与持仓交易对的最新价格；失败的交易对不出现在结果中
func (e *Engine) fetchPrices(ctx context.Context, pairs []string, open []*types.TradeOrder, report *TickReport) map[string]float64 {
	want := make([]string, 0, len(pairs)+len(open))
	seen := make(map[string]bool)
	for _, p := range pairs {
		if !seen[p] {
			seen[p] = true
			want = append(want, p)
		}
	}
	for _, o := range open {
		if !seen[o.Pair] {
			seen[o.Pair] = true
			want = append(want, o.Pair)
		}
	}

	results := make([]float64, len(want))
	errs := make([]error, len(want))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, e.store.Snapshot().Engine.Concurrency))
	for i, pair := range want {
		i, pair := i, pair
		g.Go(func() error {
			price, err := e.feed.LastPrice(gctx, pair)
			if err != nil {
				errs[i] = fmt.Errorf("last price %s: %w", pair, err)
				return nil
			}
			results[i] = price
			return nil
		})
	}
	_ = g.Wait()

	prices := make(map[string]float64, len(want))
	for i, pair := range want {
		if errs[i] != nil {
			utils.GetLogger("bot").Warnw("获取价格失败", "pair", pair, "error", errs[i])
			report.Errors = append(report.Errors, errs[i].Error())
			continue
		}
		if results[i] > 0 {
			prices[pair] = results[i]
		}
	}
	return prices
}

// selectEligible 冷却、并发上限、已有持仓三道门全部通过才评估
func (e *Engine) selectEligible(snap *config.Snapshot, pf types.PortfolioState, prices map[string]float64, now time.Time, report *TickReport) []string {
	cooldown := snap.Engine.Cooldown()
	registry := e.router.Registry()

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	var eligible []string
	for _, pair := range snap.Engine.Pairs {
		st := e.instruments.get(pair)

		if last, ok := e.instruments.lastCheck(pair); ok && now.Sub(last) < cooldown {
			st.State = StateCoolingDown
			report.Skipped[pair] = "cooling down"
			continue
		}
		if pf.OpenPositions >= snap.Risk.MaxConcurrentTrades || registry.Count() >= snap.Risk.MaxConcurrentTrades {
			st.State = StateIdle
			report.Skipped[pair] = risk.ReasonMaxConcurrent
			continue
		}
		if registry.HasPair(pair) {
			st.State = StateIdle
			report.Skipped[pair] = execution.ReasonPairBusy
			continue
		}
		if _, ok := prices[pair]; !ok {
			e.instruments.settle(pair, now, "no price", true)
			report.Skipped[pair] = "no price"
			continue
		}

		st.State = StateEligible
		eligible = append(eligible, pair)
	}
	return eligible
}

// synthesize 并发拉取K线并生成信号（纯计算阶段）
func (e *Engine) synthesize(ctx context.Context, snap *config.Snapshot, pairs []string, prices map[string]float64, now time.Time) []candidate {
	strategy := e.factory(snap.Strategy)
	out := make([]candidate, len(pairs))

	e.stateMu.Lock()
	for _, pair := range pairs {
		e.instruments.get(pair).State = StateRunning
	}
	e.stateMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, snap.Engine.Concurrency))
	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			c := candidate{pair: pair, price: prices[pair]}
			htf, err := e.feed.FetchCandles(gctx, pair, snap.Engine.HTFTimeframe, snap.Engine.HTFLimit)
			if err != nil {
				c.err = fmt.Errorf("fetch %s %s candles: %w", pair, snap.Engine.HTFTimeframe, err)
				out[i] = c
				return nil
			}
			ltf, err := e.feed.FetchCandles(gctx, pair, snap.Engine.LTFTimeframe, snap.Engine.LTFLimit)
			if err != nil {
				c.err = fmt.Errorf("fetch %s %s candles: %w", pair, snap.Engine.LTFTimeframe, err)
				out[i] = c
				return nil
			}
			c.signal, c.reason = strategy.Generate(pair, htf, ltf, now)
			out[i] = c
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// handleCandidate 校验 -> 去重 -> 风控 -> 下单，按交易对顺序串行
func (e *Engine) handleCandidate(ctx context.Context, snap *config.Snapshot, pf *types.PortfolioState, c candidate, now time.Time, report *TickReport) {
	logger := utils.GetLogger("bot")
	report.Evaluated = append(report.Evaluated, c.pair)

	reason := c.reason
	failed := false
	defer func() {
		e.stateMu.Lock()
		e.instruments.settle(c.pair, now, reason, failed)
		e.stateMu.Unlock()
	}()

	if c.err != nil {
		failed = true
		reason = c.err.Error()
		logger.Warnw("交易对评估失败", "pair", c.pair, "error", c.err)
		report.Errors = append(report.Errors, reason)
		return
	}
	if c.signal == nil {
		metrics.RecordSignal("absent")
		logger.Debugw("无信号", "pair", c.pair, "reason", c.reason)
		return
	}
	report.Signals++
	metrics.RecordSignal("emitted")

	sig := c.signal
	if err := strategies.ValidateSignal(sig); err != nil {
		reason = err.Error()
		metrics.RecordSignal("invalid")
		metrics.RecordRejection("validation")
		report.Rejected[c.pair] = reason
		logger.Infow("信号校验未通过", "pair", c.pair, "reason", reason)
		return
	}

	if e.deduper != nil {
		ok, err := e.deduper.Claim(ctx, execution.DedupeKey(sig))
		if err != nil {
			logger.Warnw("信号去重失败，放行", "pair", c.pair, "error", err)
		} else if !ok {
			reason = "duplicate signal"
			metrics.RecordRejection("dedupe")
			report.Rejected[c.pair] = reason
			logger.Infow("重复信号，跳过", "pair", c.pair, "key", execution.DedupeKey(sig))
			return
		}
	}

	size := e.gate.Evaluate(sig, *pf, c.price, snap.Risk)
	if !size.Approved {
		reason = size.Reason
		metrics.RecordSignal("rejected")
		metrics.RecordRejection("risk")
		report.Rejected[c.pair] = reason
		logger.Infow("风控拒绝", "pair", c.pair, "reason", reason)
		return
	}

	// 下单不随tick取消
	ok, routeReason, order := e.router.Route(context.WithoutCancel(ctx), sig, size, snap.Engine.Mode, c.price)
	reason = routeReason
	if !ok {
		metrics.RecordRejection("router")
		report.Rejected[c.pair] = routeReason
		logger.Warnw("下单失败", "pair", c.pair, "reason", routeReason)
		return
	}

	metrics.RecordSignal("routed")
	report.Routed = append(report.Routed, order.ID)
	pf.OpenPositions++
	if order.Leverage > 0 {
		pf.AvailableBalance -= order.SizeNotional / order.Leverage
	}
}

func (e *Engine) setPortfolio(pf types.PortfolioState, cfg config.RiskConfig) {
	assessment := risk.Assess(pf, cfg)
	e.stateMu.Lock()
	e.portfolio = pf
	e.assessment = assessment
	e.stateMu.Unlock()
	metrics.SetRiskScore(assessment.Score)
}

// Portfolio 最近一次组合快照
func (e *Engine) Portfolio() types.PortfolioState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.portfolio
}

// Status 引擎状态
type Status struct {
	Running        bool                 `json:"running"`
	Config         *config.Snapshot     `json:"config"`
	Portfolio      types.PortfolioState `json:"portfolio"`
	OpenOrderCount int                  `json:"open_order_count"`
	Risk           risk.Assessment      `json:"risk"`
	Instruments    []InstrumentState    `json:"instruments"`
	LastTick       TickReport           `json:"last_tick"`
}

// Status 当前状态快照
func (e *Engine) Status() Status {
	e.runMu.Lock()
	running := e.running
	e.runMu.Unlock()

	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return Status{
		Running:        running,
		Config:         e.store.Snapshot(),
		Portfolio:      e.portfolio,
		OpenOrderCount: e.router.Registry().Count(),
		Risk:           e.assessment,
		Instruments:    e.instruments.snapshot(),
		LastTick:       e.lastTick,
	}
}

// UpdateConfig 原子替换运行时配置
func (e *Engine) UpdateConfig(ctx context.Context, p config.Partial) (*config.Snapshot, error) {
	snap, err := e.store.Update(ctx, p)
	if err != nil {
		return nil, err
	}
	utils.GetLogger("bot").Infow("运行时配置已更新", "keys", p.Keys(), "version", snap.Version)
	return snap, nil
}

// OpenOrders 持仓订单
func (e *Engine) OpenOrders() []*types.TradeOrder {
	return e.router.Registry().Open()
}

// CloseOrder 按最新价手动平仓
func (e *Engine) CloseOrder(ctx context.Context, id string) (*types.TradeOrder, error) {
	o, ok := e.router.Registry().Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", execution.ErrOrderNotFound, id)
	}
	price, err := e.feed.LastPrice(ctx, o.Pair)
	if err != nil {
		return nil, fmt.Errorf("last price %s: %w", o.Pair, err)
	}
	ok, reason, closed := e.router.ClosePosition(context.WithoutCancel(ctx), id, price, types.CloseManual)
	if !ok {
		return closed, errors.New(reason)
	}
	return closed, nil
}
