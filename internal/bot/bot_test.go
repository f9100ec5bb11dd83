package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/execution"
	"github.com/yuechangmingzou/nofx-engine/internal/ledger"
	"github.com/yuechangmingzou/nofx-engine/internal/risk"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// 区间 45600 - 48500
func rangeHTF() []types.Candle {
	candles := make([]types.Candle, 20)
	for i := range candles {
		candles[i] = types.Candle{Time: int64(i) * 3600000, Open: 47000, Close: 47050, High: 47600, Low: 46400, Volume: 1000}
	}
	candles[3].Low = 45600
	candles[12].High = 48500
	return candles
}

// 放量突破形成订单区与FVG，随后回落触碰区间下沿
func tapLTF() []types.Candle {
	candles := make([]types.Candle, 0, 70)
	for i := 0; i < 38; i++ {
		c := types.Candle{Time: int64(i) * 300000, Open: 47000, Close: 47010, High: 47015, Low: 46995, Volume: 100}
		if i%2 == 1 {
			c.Open, c.Close = 47010, 47000
		}
		candles = append(candles, c)
	}
	candles = append(candles,
		types.Candle{Time: 38 * 300000, Open: 47000, Close: 47080, High: 47085, Low: 46998, Volume: 1000},
		types.Candle{Time: 39 * 300000, Open: 47080, Close: 47117, High: 47120, Low: 47075, Volume: 200},
	)
	for j := 40; j < 70; j++ {
		o := 47057 - 50*float64(j-40)
		vol := 150.0
		if j == 69 {
			vol = 300
		}
		candles = append(candles, types.Candle{Time: int64(j) * 300000, Open: o, Close: o + 10, High: o + 12, Low: o - 2, Volume: vol})
	}
	return candles
}

type fakeFeed struct {
	mu       sync.Mutex
	price    float64
	priceErr error
	htf, ltf []types.Candle

	block   chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (f *fakeFeed) setPrice(p float64) {
	f.mu.Lock()
	f.price = p
	f.mu.Unlock()
}

func (f *fakeFeed) FetchCandles(_ context.Context, _ string, timeframe string, _ int) ([]types.Candle, error) {
	if timeframe == "1h" {
		return f.htf, nil
	}
	return f.ltf, nil
}

func (f *fakeFeed) LastPrice(_ context.Context, _ string) (float64, error) {
	if f.block != nil {
		f.once.Do(func() { close(f.entered) })
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.priceErr
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine *Engine
	router *execution.Router
	feed   *fakeFeed
	ledger *ledger.Memory
	clock  *clock
	store  *config.Holder
}

func newHarness(t *testing.T, mutate func(s *config.Snapshot), opts ...Option) *harness {
	t.Helper()
	s := config.Defaults()
	s.Engine.Pairs = []string{"BTCUSDT"}
	if mutate != nil {
		mutate(&s)
	}
	store, err := config.NewHolder(s)
	if err != nil {
		t.Fatalf("NewHolder failed: %v", err)
	}

	clk := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	feed := &fakeFeed{price: 45610, htf: rangeHTF(), ltf: tapLTF()}
	tl := ledger.NewMemory()
	router := execution.NewRouter(execution.NewRegistry(100), tl, store,
		execution.WithRandom(func() float64 { return 0 }),
		execution.WithClock(clk.Now),
	)
	opts = append([]Option{WithClock(clk.Now), WithInterval(time.Hour)}, opts...)
	engine := New(store, feed, router, opts...)
	return &harness{engine: engine, router: router, feed: feed, ledger: tl, clock: clk, store: store}
}

func TestTickEndToEndPaper(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	report, err := h.engine.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if report.Signals != 1 || len(report.Routed) != 1 {
		t.Fatalf("Expected one routed signal, got %+v", report)
	}

	open := h.engine.OpenOrders()
	if len(open) != 1 {
		t.Fatalf("Expected 1 open order, got %d", len(open))
	}
	o := open[0]
	if o.Pair != "BTCUSDT" || o.Side != types.SideLong || o.Status != types.StatusOpen {
		t.Errorf("Unexpected order %+v", o)
	}
	if o.Entry != 45610 || o.StopLoss != 45455 {
		t.Errorf("Expected entry 45610 and stop 45455, got %v / %v", o.Entry, o.StopLoss)
	}
	// 名义价值被上限5000截断
	if diff := o.SizeNotional - 5000; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("Expected notional 5000, got %v", o.SizeNotional)
	}
	events := h.ledger.Events()
	if len(events) != 1 || events[0].Event != ledger.EventOrderOpened {
		t.Fatalf("Expected order_opened, got %+v", events)
	}

	// 冷却期内不再评估
	report, _ = h.engine.Tick(ctx)
	if report.Skipped["BTCUSDT"] != "cooling down" {
		t.Errorf("Expected cooldown skip, got %+v", report.Skipped)
	}

	// 冷却结束后已有持仓
	h.clock.Advance(31 * time.Second)
	report, _ = h.engine.Tick(ctx)
	if report.Skipped["BTCUSDT"] != execution.ReasonPairBusy {
		t.Errorf("Expected pair busy skip, got %+v", report.Skipped)
	}

	// 跌破止损，监控平仓
	h.feed.setPrice(45400)
	report, _ = h.engine.Tick(ctx)
	if len(report.Exits) != 1 || report.Exits[0].Kind != types.FillSL || !report.Exits[0].OK {
		t.Fatalf("Expected stop-loss exit, got %+v", report.Exits)
	}
	if len(h.engine.OpenOrders()) != 0 {
		t.Error("Expected no open orders after stop-loss")
	}
	if h.engine.Book().RealizedTotal() >= 0 {
		t.Errorf("Expected realized loss, got %v", h.engine.Book().RealizedTotal())
	}

	st := h.engine.Status()
	if len(st.Instruments) != 1 || st.Instruments[0].Pair != "BTCUSDT" {
		t.Errorf("Unexpected instruments %+v", st.Instruments)
	}
}

func TestTickDailyLossRejection(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	book := risk.NewBook(10000, now)
	book.RecordRealized(-600, now)

	h := newHarness(t, nil, WithBook(book))
	report, err := h.engine.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if report.Rejected["BTCUSDT"] != risk.ReasonDailyLoss {
		t.Errorf("Expected daily loss rejection, got %+v", report.Rejected)
	}
	if len(h.engine.OpenOrders()) != 0 {
		t.Error("No order should be opened after the daily loss cap")
	}
	if pf := h.engine.Portfolio(); pf.TodayLossFraction > -0.05 {
		t.Errorf("Expected loss fraction <= -0.05, got %v", pf.TodayLossFraction)
	}
}

func TestTickConcurrencyCap(t *testing.T) {
	h := newHarness(t, func(s *config.Snapshot) { s.Risk.MaxConcurrentTrades = 1 })
	h.router.Adopt([]*types.TradeOrder{{Pair: "ETHUSDT", Side: types.SideLong, Entry: 45000, SizeBase: 0.01}})

	report, err := h.engine.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if report.Skipped["BTCUSDT"] != risk.ReasonMaxConcurrent {
		t.Errorf("Expected concurrency skip, got %+v", report.Skipped)
	}
	if len(report.Evaluated) != 0 {
		t.Errorf("Expected no evaluation, got %v", report.Evaluated)
	}
}

func TestTickSingleFlight(t *testing.T) {
	h := newHarness(t, nil)
	h.feed.block = make(chan struct{})
	h.feed.entered = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.Tick(context.Background())
		done <- err
	}()
	<-h.feed.entered

	if _, err := h.engine.Tick(context.Background()); !errors.Is(err, ErrTickInProgress) {
		t.Errorf("Expected ErrTickInProgress, got %v", err)
	}

	close(h.feed.block)
	if err := <-done; err != nil {
		t.Errorf("First tick failed: %v", err)
	}
}

func TestTickKeepsPortfolioOnPriceFailure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.engine.Tick(ctx); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	before := h.engine.Portfolio()

	h.feed.mu.Lock()
	h.feed.priceErr = errors.New("feed down")
	h.feed.mu.Unlock()
	h.clock.Advance(time.Minute)

	report, err := h.engine.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick should not fail on collaborator errors: %v", err)
	}
	if len(report.Errors) == 0 {
		t.Error("Expected errors to be reported")
	}
	if after := h.engine.Portfolio(); after != before {
		t.Errorf("Expected prior portfolio to be kept, got %+v vs %+v", after, before)
	}
}

func TestDedupeOneSignalPerTap(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.deduper = execution.NewMemoryDeduper(time.Hour, h.clock.Now)
	ctx := context.Background()

	if report, _ := h.engine.Tick(ctx); len(report.Routed) != 1 {
		t.Fatalf("Expected first tick to route, got %+v", report)
	}
	id := h.engine.OpenOrders()[0].ID
	closed, err := h.engine.CloseOrder(ctx, id)
	if err != nil {
		t.Fatalf("CloseOrder failed: %v", err)
	}
	if closed.CloseReason != types.CloseManual {
		t.Errorf("Expected manual close, got %s", closed.CloseReason)
	}

	h.clock.Advance(31 * time.Second)
	report, _ := h.engine.Tick(ctx)
	if report.Rejected["BTCUSDT"] != "duplicate signal" {
		t.Errorf("Expected duplicate rejection, got %+v", report.Rejected)
	}

	if _, err := h.engine.CloseOrder(ctx, "missing"); !errors.Is(err, execution.ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if !h.engine.Running() || !h.engine.Status().Running {
		t.Error("Expected engine to be running")
	}

	h.engine.Stop()
	h.engine.Stop()
	if h.engine.Running() {
		t.Error("Expected engine to be stopped")
	}

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	h.engine.Stop()
}

func TestStartAdoptsLivePositions(t *testing.T) {
	venue := &adoptVenue{positions: []*types.TradeOrder{{ID: "adopted-btcusdt", Pair: "BTCUSDT", Side: types.SideShort, Entry: 46000, SizeBase: 0.1}}}
	h := newHarness(t, func(s *config.Snapshot) { s.Engine.Mode = types.ModeLive }, WithVenue(venue))

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.engine.Stop()

	open := h.engine.OpenOrders()
	if len(open) != 1 || open[0].ID != "adopted-btcusdt" || open[0].Mode != types.ModeLive {
		t.Errorf("Expected adopted position, got %+v", open)
	}
}

type adoptVenue struct {
	positions []*types.TradeOrder
}

func (v *adoptVenue) SubmitOrder(context.Context, *types.TradeOrder) (*types.VenueFill, error) {
	return nil, errors.New("not implemented")
}

func (v *adoptVenue) FetchOpenPositions(context.Context) ([]*types.TradeOrder, error) {
	return v.positions, nil
}

func (v *adoptVenue) CloseOrder(context.Context, string, float64) error {
	return nil
}

type denyLease struct{}

func (denyLease) Acquire(context.Context) (bool, error) { return false, nil }
func (denyLease) Release(context.Context) error         { return nil }

func TestTickRequiresLease(t *testing.T) {
	h := newHarness(t, nil, WithLease(denyLease{}))
	if _, err := h.engine.Tick(context.Background()); !errors.Is(err, ErrLeaseNotHeld) {
		t.Errorf("Expected ErrLeaseNotHeld, got %v", err)
	}
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(t, nil)
	snap, err := h.engine.UpdateConfig(context.Background(), config.Partial{"risk": {"max_concurrent_trades": 5}})
	if err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	if snap.Risk.MaxConcurrentTrades != 5 || h.engine.Status().Config.Risk.MaxConcurrentTrades != 5 {
		t.Errorf("Expected new snapshot to be visible")
	}
	if _, err := h.engine.UpdateConfig(context.Background(), config.Partial{"risk": {"max_concurrent_trades": 0}}); err == nil {
		t.Error("Expected invalid update to be rejected")
	}
}
