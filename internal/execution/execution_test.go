package execution

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/ledger"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func newStore(t *testing.T, mutate func(s *config.Snapshot)) *config.Holder {
	t.Helper()
	s := config.Defaults()
	if mutate != nil {
		mutate(&s)
	}
	h, err := config.NewHolder(s)
	if err != nil {
		t.Fatalf("NewHolder failed: %v", err)
	}
	return h
}

func longSignal(pair string) *types.Signal {
	return &types.Signal{
		Pair:         pair,
		Side:         types.SideLong,
		Entry:        100,
		TakeProfits:  []float64{105, 110, 115},
		StopLoss:     95,
		RiskFraction: 0.01,
		Confidence:   0.8,
		Metadata:     map[string]interface{}{"strategy": "range_fib", "tap_time": int64(1700000000000)},
	}
}

func approved(base float64) types.PositionSizeResult {
	return types.PositionSizeResult{
		SizeNotional: base * 100,
		SizeBase:     base,
		RiskAmount:   50,
		Leverage:     1,
		Approved:     true,
	}
}

type fakeVenue struct {
	submitErr error
	closeErr  error
	submitted []*types.TradeOrder
	closed    []string
}

func (f *fakeVenue) SubmitOrder(_ context.Context, o *types.TradeOrder) (*types.VenueFill, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, o.Clone())
	return &types.VenueFill{VenueOrderID: "v-1", FilledPrice: 100.5, Quantity: o.SizeBase, Fees: 0.2}, nil
}

func (f *fakeVenue) FetchOpenPositions(context.Context) ([]*types.TradeOrder, error) {
	return nil, nil
}

func (f *fakeVenue) CloseOrder(_ context.Context, id string, _ float64) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = append(f.closed, id)
	return nil
}

type pnlSink struct {
	pieces []float64
}

func (p *pnlSink) RecordRealized(pnl float64, _ time.Time) {
	p.pieces = append(p.pieces, pnl)
}

func fixedRandom(v float64) Option {
	return WithRandom(func() float64 { return v })
}

func TestTransition(t *testing.T) {
	o := &types.TradeOrder{ID: "o1", Status: types.StatusPending}
	if err := Transition(o, types.StatusOpen); err != nil {
		t.Fatalf("pending -> open should be allowed: %v", err)
	}
	if err := Transition(o, types.StatusClosed); err != nil {
		t.Fatalf("open -> closed should be allowed: %v", err)
	}
	if err := Transition(o, types.StatusOpen); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("closed -> open should fail with ErrInvalidTransition, got %v", err)
	}
	if o.Status != types.StatusClosed {
		t.Errorf("Expected status to stay closed, got %s", o.Status)
	}
	if CanTransition(types.StatusPending, types.StatusClosed) {
		t.Error("pending -> closed should not be allowed")
	}
}

func TestRegistryCapacity(t *testing.T) {
	r := NewRegistry(2)
	if err := r.Insert(&types.TradeOrder{ID: "a", Pair: "BTCUSDT"}, 2); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := r.Insert(&types.TradeOrder{ID: "b", Pair: "BTCUSDT"}, 2); !errors.Is(err, ErrPairBusy) {
		t.Errorf("Expected ErrPairBusy, got %v", err)
	}
	if err := r.Insert(&types.TradeOrder{ID: "c", Pair: "ETHUSDT"}, 2); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := r.Insert(&types.TradeOrder{ID: "d", Pair: "SOLUSDT"}, 2); !errors.Is(err, ErrRegistryFull) {
		t.Errorf("Expected ErrRegistryFull, got %v", err)
	}

	open := r.Open()
	open[0].Pair = "MUTATED"
	if got, _ := r.Get("a"); got.Pair != "BTCUSDT" {
		t.Error("Open() should return copies")
	}

	for _, id := range []string{"a", "c"} {
		r.Archive(id)
	}
	if r.Count() != 0 || r.HasPair("BTCUSDT") {
		t.Error("Expected registry to be empty after archiving")
	}
	if err := r.Insert(&types.TradeOrder{ID: "e", Pair: "BTCUSDT"}, 2); err != nil {
		t.Fatalf("Insert after archive failed: %v", err)
	}
	r.Archive("e")
	if got := r.Archived(); len(got) != 2 || got[0].ID != "c" || got[1].ID != "e" {
		t.Errorf("Expected bounded archive [c e], got %d entries", len(got))
	}
}

func TestRoutePaper(t *testing.T) {
	store := newStore(t, nil)
	tl := ledger.NewMemory()
	router := NewRouter(NewRegistry(10), tl, store, fixedRandom(0.5))

	ok, reason, order := router.Route(context.Background(), longSignal("BTCUSDT"), approved(10), types.ModePaper, 100)
	if !ok {
		t.Fatalf("Expected route to succeed, got %q", reason)
	}
	if order.Status != types.StatusOpen {
		t.Errorf("Expected status open, got %s", order.Status)
	}
	// 0.5 * 0.05% 不利滑点
	if !near(order.Entry, 100.025) {
		t.Errorf("Expected entry 100.025, got %v", order.Entry)
	}
	if len(order.Fills) != 1 || order.Fills[0].Kind != types.FillEntry {
		t.Fatalf("Expected one entry fill, got %+v", order.Fills)
	}
	if !near(order.Fills[0].Fees, 1.00025) {
		t.Errorf("Expected entry fee 1.00025, got %v", order.Fills[0].Fees)
	}
	if len(order.Tags) != 1 || order.Tags[0] != "range_fib" {
		t.Errorf("Expected strategy tag, got %v", order.Tags)
	}
	if router.Registry().Count() != 1 {
		t.Errorf("Expected 1 open order, got %d", router.Registry().Count())
	}

	events := tl.Events()
	if len(events) != 1 || events[0].Event != ledger.EventOrderOpened {
		t.Fatalf("Expected one order_opened event, got %+v", events)
	}
	if events[0].OrderID != order.ID {
		t.Errorf("Ledger order id mismatch: %s vs %s", events[0].OrderID, order.ID)
	}
}

func TestRouteShortSlippageIsAdverse(t *testing.T) {
	router := NewRouter(NewRegistry(10), nil, newStore(t, nil), fixedRandom(1))
	sig := longSignal("ETHUSDT")
	sig.Side = types.SideShort

	ok, reason, order := router.Route(context.Background(), sig, approved(1), types.ModePaper, 100)
	if !ok {
		t.Fatalf("Expected route to succeed, got %q", reason)
	}
	if order.Entry >= 100 {
		t.Errorf("Short fill should be below market, got %v", order.Entry)
	}
}

func TestRouteSimulationWritesNoLedger(t *testing.T) {
	tl := ledger.NewMemory()
	router := NewRouter(NewRegistry(10), tl, newStore(t, nil), fixedRandom(0))

	ok, reason, order := router.Route(context.Background(), longSignal("BTCUSDT"), approved(2), types.ModeSimulation, 100)
	if !ok {
		t.Fatalf("Expected route to succeed, got %q", reason)
	}
	if ok, reason, _ := router.ClosePosition(context.Background(), order.ID, 101, types.CloseManual); !ok {
		t.Fatalf("Expected close to succeed, got %q", reason)
	}
	if n := len(tl.Events()); n != 0 {
		t.Errorf("Simulation should not write ledger events, got %d", n)
	}
}

func TestRouteLiveFailure(t *testing.T) {
	tl := ledger.NewMemory()
	venue := &fakeVenue{submitErr: errors.New("exchange down")}
	router := NewRouter(NewRegistry(10), tl, newStore(t, nil), WithVenue(venue))

	ok, reason, order := router.Route(context.Background(), longSignal("BTCUSDT"), approved(1), types.ModeLive, 100)
	if ok {
		t.Fatal("Expected live route to fail")
	}
	if reason == "" {
		t.Error("Expected a failure reason")
	}
	if order == nil || order.Status != types.StatusFailed {
		t.Errorf("Expected failed order, got %+v", order)
	}
	if router.Registry().Count() != 0 {
		t.Error("Failed submission must not create a registry entry")
	}
	events := tl.Events()
	if len(events) != 1 || events[0].Event != ledger.EventOrderFailed {
		t.Errorf("Expected one order_failed event, got %+v", events)
	}
}

func TestRouteLiveSuccessAndClose(t *testing.T) {
	venue := &fakeVenue{}
	router := NewRouter(NewRegistry(10), ledger.NewMemory(), newStore(t, nil), WithVenue(venue))

	ok, reason, order := router.Route(context.Background(), longSignal("BTCUSDT"), approved(1), types.ModeLive, 100)
	if !ok {
		t.Fatalf("Expected live route to succeed, got %q", reason)
	}
	if order.Entry != 100.5 || order.VenueOrderID != "v-1" {
		t.Errorf("Expected venue fill to be recorded, got entry=%v venue_id=%s", order.Entry, order.VenueOrderID)
	}

	venue.closeErr = errors.New("timeout")
	if ok, _, _ := router.ClosePosition(context.Background(), order.ID, 101, types.CloseManual); ok {
		t.Fatal("Expected close to fail when venue fails")
	}
	if _, still := router.Registry().Get(order.ID); !still {
		t.Fatal("Order must stay open when venue close fails")
	}

	venue.closeErr = nil
	if ok, reason, _ := router.ClosePosition(context.Background(), order.ID, 101, types.CloseManual); !ok {
		t.Fatalf("Expected close to succeed, got %q", reason)
	}
	if len(venue.closed) != 1 || venue.closed[0] != order.ID {
		t.Errorf("Expected venue close for %s, got %v", order.ID, venue.closed)
	}
}

func TestRouteRejections(t *testing.T) {
	store := newStore(t, func(s *config.Snapshot) { s.Risk.MaxConcurrentTrades = 1 })
	router := NewRouter(NewRegistry(10), nil, store, fixedRandom(0))
	ctx := context.Background()

	if ok, reason, _ := router.Route(ctx, longSignal("BTCUSDT"), approved(1), "margin", 100); ok || reason != "unknown mode: margin" {
		t.Errorf("Expected unknown mode rejection, got ok=%v reason=%q", ok, reason)
	}
	if ok, reason, _ := router.Route(ctx, longSignal("BTCUSDT"), types.PositionSizeResult{}, types.ModePaper, 100); ok || reason != ReasonNotApproved {
		t.Errorf("Expected not-approved rejection, got ok=%v reason=%q", ok, reason)
	}
	if ok, reason, _ := router.Route(ctx, longSignal("BTCUSDT"), approved(1), types.ModePaper, 100); !ok {
		t.Fatalf("Expected first route to succeed, got %q", reason)
	}
	if ok, reason, _ := router.Route(ctx, longSignal("BTCUSDT"), approved(1), types.ModePaper, 100); ok || reason != ReasonPairBusy {
		t.Errorf("Expected pair busy, got ok=%v reason=%q", ok, reason)
	}
	if ok, reason, _ := router.Route(ctx, longSignal("ETHUSDT"), approved(1), types.ModePaper, 100); ok || reason != ReasonMaxConcurrent {
		t.Errorf("Expected max concurrent, got ok=%v reason=%q", ok, reason)
	}
}

func TestClosePositionPnL(t *testing.T) {
	tl := ledger.NewMemory()
	sink := &pnlSink{}
	router := NewRouter(NewRegistry(10), tl, newStore(t, nil), fixedRandom(0), WithPnLRecorder(sink))
	ctx := context.Background()

	_, _, order := router.Route(ctx, longSignal("BTCUSDT"), approved(10), types.ModePaper, 100)
	ok, reason, closed := router.ClosePosition(ctx, order.ID, 110, types.CloseManual)
	if !ok {
		t.Fatalf("Expected close to succeed, got %q", reason)
	}
	// 毛利100，出场手续费1.1，入场手续费1.0
	if !near(closed.RealizedPnL, 97.9) {
		t.Errorf("Expected realized PnL 97.9, got %v", closed.RealizedPnL)
	}
	if closed.Status != types.StatusClosed || closed.CloseReason != types.CloseManual || closed.ClosedAt == 0 {
		t.Errorf("Unexpected closed order: %+v", closed)
	}
	if router.Registry().Count() != 0 || len(router.Registry().Archived()) != 1 {
		t.Error("Closed order should be archived")
	}
	if len(sink.pieces) != 1 || !near(sink.pieces[0], 97.9) {
		t.Errorf("Expected PnL recorder to receive 97.9, got %v", sink.pieces)
	}
	events := tl.Events()
	if last := events[len(events)-1]; last.Event != ledger.EventOrderClosed || !near(last.PnL, 97.9) {
		t.Errorf("Expected order_closed with PnL 97.9, got %+v", last)
	}

	if ok, reason, _ := router.ClosePosition(ctx, "missing", 1, types.CloseManual); ok || reason != "order not found: missing" {
		t.Errorf("Expected not found, got ok=%v reason=%q", ok, reason)
	}
}

func TestClosePositionShort(t *testing.T) {
	store := newStore(t, func(s *config.Snapshot) { s.Engine.PaperFeeRate = 0 })
	router := NewRouter(NewRegistry(10), nil, store, fixedRandom(0))
	sig := longSignal("ETHUSDT")
	sig.Side = types.SideShort

	_, _, order := router.Route(context.Background(), sig, approved(10), types.ModePaper, 100)
	_, _, closed := router.ClosePosition(context.Background(), order.ID, 90, types.CloseManual)
	if closed == nil || !near(closed.RealizedPnL, 100) {
		t.Errorf("Expected short PnL 100, got %+v", closed)
	}
}

func TestGuardOnceStopLoss(t *testing.T) {
	store := newStore(t, func(s *config.Snapshot) { s.Engine.PaperFeeRate = 0 })
	router := NewRouter(NewRegistry(10), nil, store, fixedRandom(0))
	ctx := context.Background()
	_, _, order := router.Route(ctx, longSignal("BTCUSDT"), approved(10), types.ModePaper, 100)

	if exits := router.GuardOnce(ctx, map[string]float64{"BTCUSDT": 96}, 0); len(exits) != 0 {
		t.Fatalf("Expected no exit above stop, got %+v", exits)
	}
	exits := router.GuardOnce(ctx, map[string]float64{"BTCUSDT": 95}, 0)
	if len(exits) != 1 || exits[0].Kind != types.FillSL || !exits[0].OK || !exits[0].Final {
		t.Fatalf("Expected stop-loss exit at the boundary, got %+v", exits)
	}
	archived := router.Registry().Archived()
	if len(archived) != 1 || archived[0].ID != order.ID || !near(archived[0].RealizedPnL, -50) {
		t.Errorf("Expected archived order with PnL -50, got %+v", archived)
	}
}

func TestGuardOnceFullTakeProfit(t *testing.T) {
	store := newStore(t, func(s *config.Snapshot) { s.Engine.PaperFeeRate = 0 })
	router := NewRouter(NewRegistry(10), nil, store, fixedRandom(0))
	ctx := context.Background()
	router.Route(ctx, longSignal("BTCUSDT"), approved(10), types.ModePaper, 100)

	exits := router.GuardOnce(ctx, map[string]float64{"BTCUSDT": 112}, 0)
	if len(exits) != 1 || exits[0].Kind != types.FillTP1 || !exits[0].Final {
		t.Fatalf("Expected full close at tp1, got %+v", exits)
	}
	if router.Registry().Count() != 0 {
		t.Error("Expected no open orders after full take-profit")
	}
}

func TestGuardOncePartialLadder(t *testing.T) {
	store := newStore(t, func(s *config.Snapshot) { s.Engine.PaperFeeRate = 0 })
	tl := ledger.NewMemory()
	router := NewRouter(NewRegistry(10), tl, store, fixedRandom(0))
	ctx := context.Background()
	_, _, order := router.Route(ctx, longSignal("BTCUSDT"), approved(10), types.ModePaper, 100)

	exits := router.GuardOnce(ctx, map[string]float64{"BTCUSDT": 106}, 0.5)
	if len(exits) != 1 || exits[0].Kind != types.FillTP1 || exits[0].Final || !near(exits[0].Quantity, 5) {
		t.Fatalf("Expected partial tp1 of 5, got %+v", exits)
	}
	if exits := router.GuardOnce(ctx, map[string]float64{"BTCUSDT": 106}, 0.5); len(exits) != 0 {
		t.Fatalf("tp1 already taken, expected no action, got %+v", exits)
	}

	exits = router.GuardOnce(ctx, map[string]float64{"BTCUSDT": 116}, 0.5)
	if len(exits) != 1 || exits[0].Kind != types.FillTP2 || !near(exits[0].Quantity, 2.5) {
		t.Fatalf("Expected one action per pass (tp2 of 2.5), got %+v", exits)
	}
	exits = router.GuardOnce(ctx, map[string]float64{"BTCUSDT": 116}, 0.5)
	if len(exits) != 1 || exits[0].Kind != types.FillTP3 || !exits[0].Final {
		t.Fatalf("Expected final close at tp3, got %+v", exits)
	}

	archived := router.Registry().Archived()
	if len(archived) != 1 || archived[0].ID != order.ID {
		t.Fatalf("Expected order to be archived")
	}
	// 5*6 + 2.5*16 + 2.5*16
	if !near(archived[0].RealizedPnL, 110) {
		t.Errorf("Expected realized PnL 110, got %v", archived[0].RealizedPnL)
	}
	var kinds []string
	for _, e := range tl.Events() {
		kinds = append(kinds, e.Event)
	}
	want := []string{ledger.EventOrderOpened, ledger.EventOrderPartial, ledger.EventOrderPartial, ledger.EventOrderClosed}
	if len(kinds) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestGuardOnceFourLevelLadderClosesAtLastLevel(t *testing.T) {
	store := newStore(t, func(s *config.Snapshot) { s.Engine.PaperFeeRate = 0 })
	router := NewRouter(NewRegistry(10), nil, store, fixedRandom(0))
	ctx := context.Background()
	sig := longSignal("BTCUSDT")
	sig.TakeProfits = []float64{105, 110, 115, 120}
	_, _, order := router.Route(ctx, sig, approved(10), types.ModePaper, 100)

	prices := map[string]float64{"BTCUSDT": 125}
	wantQty := []float64{5, 2.5, 1.25}
	for i, want := range wantQty {
		exits := router.GuardOnce(ctx, prices, 0.5)
		if len(exits) != 1 || exits[0].Final || !near(exits[0].Quantity, want) {
			t.Fatalf("pass %d: expected partial close of %v, got %+v", i, want, exits)
		}
	}

	exits := router.GuardOnce(ctx, prices, 0.5)
	if len(exits) != 1 || !exits[0].Final || !exits[0].OK || !near(exits[0].Quantity, 1.25) {
		t.Fatalf("Expected final close at the fourth level, got %+v", exits)
	}
	if router.Registry().Count() != 0 {
		t.Fatalf("Expected no open orders, got %d", router.Registry().Count())
	}
	archived := router.Registry().Archived()
	if len(archived) != 1 || archived[0].ID != order.ID || archived[0].Status != types.StatusClosed {
		t.Fatalf("Expected order to be closed and archived, got %+v", archived)
	}
	if exits := router.GuardOnce(ctx, prices, 0.5); len(exits) != 0 {
		t.Errorf("Expected no further actions, got %+v", exits)
	}
}

type failingLedger struct {
	calls int
}

func (f *failingLedger) Append(context.Context, types.LedgerEvent) error {
	f.calls++
	return errors.New("ledger unavailable")
}

func TestRouteLedgerFailureKeepsOrder(t *testing.T) {
	tl := &failingLedger{}
	router := NewRouter(NewRegistry(10), tl, newStore(t, nil), fixedRandom(0))
	ctx := context.Background()

	ok, reason, order := router.Route(ctx, longSignal("BTCUSDT"), approved(1), types.ModePaper, 100)
	if !ok || order == nil || order.Status != types.StatusOpen {
		t.Fatalf("Expected order to open despite ledger failure, got ok=%v reason=%q", ok, reason)
	}
	if router.Registry().Count() != 1 {
		t.Fatalf("Expected 1 open order, got %d", router.Registry().Count())
	}

	ok, reason, closed := router.ClosePosition(ctx, order.ID, 101, types.CloseManual)
	if !ok || closed == nil || closed.Status != types.StatusClosed {
		t.Fatalf("Expected close despite ledger failure, got ok=%v reason=%q", ok, reason)
	}
	if router.Registry().Count() != 0 {
		t.Errorf("Expected registry to be empty, got %d", router.Registry().Count())
	}
	if tl.calls != 2 {
		t.Errorf("Expected 2 ledger attempts, got %d", tl.calls)
	}
}

func TestGuardOnceSkipsMissingPrice(t *testing.T) {
	router := NewRouter(NewRegistry(10), nil, newStore(t, nil), fixedRandom(0))
	router.Route(context.Background(), longSignal("BTCUSDT"), approved(1), types.ModePaper, 100)
	if exits := router.GuardOnce(context.Background(), map[string]float64{}, 0); len(exits) != 0 {
		t.Errorf("Expected no exits without prices, got %+v", exits)
	}
}

func TestAdopt(t *testing.T) {
	router := NewRouter(NewRegistry(10), nil, newStore(t, nil))
	n := router.Adopt([]*types.TradeOrder{
		{Pair: "BTCUSDT", Side: types.SideLong, Entry: 100, SizeBase: 1},
		{Pair: "BTCUSDT", Side: types.SideLong, Entry: 100, SizeBase: 1},
		{Pair: "ETHUSDT", Side: types.SideShort, Entry: 10, SizeBase: 0},
	})
	if n != 1 {
		t.Fatalf("Expected 1 adopted position, got %d", n)
	}
	open := router.Registry().Open()
	if open[0].Mode != types.ModeLive || open[0].Status != types.StatusOpen || open[0].RemainingBase() != 1 {
		t.Errorf("Unexpected adopted order: %+v", open[0])
	}
}

func TestAdoptBeyondConcurrencyCap(t *testing.T) {
	store := newStore(t, func(s *config.Snapshot) { s.Risk.MaxConcurrentTrades = 1 })
	router := NewRouter(NewRegistry(10), nil, store)
	n := router.Adopt([]*types.TradeOrder{
		{Pair: "BTCUSDT", Side: types.SideLong, Entry: 100, SizeBase: 1},
		{Pair: "ETHUSDT", Side: types.SideShort, Entry: 10, SizeBase: 2},
	})
	if n != 2 || router.Registry().Count() != 2 {
		t.Fatalf("Expected both exchange positions adopted, got n=%d open=%d", n, router.Registry().Count())
	}

	// 超限时新信号仍被拒绝
	ok, reason, _ := router.Route(context.Background(), longSignal("SOLUSDT"), approved(1), types.ModePaper, 100)
	if ok || reason != ReasonMaxConcurrent {
		t.Errorf("Expected %q, got ok=%v reason=%q", ReasonMaxConcurrent, ok, reason)
	}
}

func TestAdoptedOrderOnlyClosesManually(t *testing.T) {
	router := NewRouter(NewRegistry(10), nil, newStore(t, nil))
	router.Adopt([]*types.TradeOrder{{ID: "adopted-btcusdt", Pair: "BTCUSDT", Side: types.SideLong, Entry: 100, SizeBase: 1}})

	for _, price := range []float64{1, 1000} {
		if exits := router.GuardOnce(context.Background(), map[string]float64{"BTCUSDT": price}, 0); len(exits) != 0 {
			t.Errorf("price %v: expected no automatic exit, got %+v", price, exits)
		}
	}
	if router.Registry().Count() != 1 {
		t.Fatalf("Expected adopted order to stay open")
	}
}

func TestMemoryDeduper(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := NewMemoryDeduper(time.Hour, func() time.Time { return now })
	ctx := context.Background()
	key := DedupeKey(longSignal("BTCUSDT"))

	if ok, _ := d.Claim(ctx, key); !ok {
		t.Fatal("First claim should succeed")
	}
	if ok, _ := d.Claim(ctx, key); ok {
		t.Fatal("Second claim within window should fail")
	}
	now = now.Add(time.Hour)
	if ok, _ := d.Claim(ctx, key); !ok {
		t.Error("Claim after window should succeed")
	}
	if key != "BTCUSDT|long|1700000000000" {
		t.Errorf("Unexpected dedupe key %q", key)
	}
}
