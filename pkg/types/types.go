package types

// Side 交易方向
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite 返回反方向
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Valid 是否为合法方向
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Candle K线数据
type Candle struct {
	Time   int64   `json:"time"` // 毫秒
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Bullish 收盘高于开盘
func (c Candle) Bullish() bool {
	return c.Close > c.Open
}

// Bearish 收盘低于开盘
func (c Candle) Bearish() bool {
	return c.Close < c.Open
}

// FairValueGap 三根K线形成的价格失衡区
type FairValueGap struct {
	Direction Side    `json:"direction"`
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
	Timestamp int64   `json:"timestamp"`
	Filled    bool    `json:"filled"`
}

// OrderZone 高成交量反转K线区域
type OrderZone struct {
	Direction Side    `json:"direction"`
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
	Timestamp int64   `json:"timestamp"`
	Volume    float64 `json:"volume"`
}

// RangeState 高周期交易区间
type RangeState struct {
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
	Height float64 `json:"height"`
}

// Signal 交易信号（创建后不可变）
type Signal struct {
	Pair         string                 `json:"pair"`
	Side         Side                   `json:"side"`
	Entry        float64                `json:"entry"`
	TakeProfits  []float64              `json:"take_profits"`
	StopLoss     float64                `json:"stop_loss"`
	RiskFraction float64                `json:"risk_fraction"`
	Confidence   float64                `json:"confidence"`
	Timestamp    int64                  `json:"timestamp"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// PortfolioState 组合状态快照
type PortfolioState struct {
	Equity            float64 `json:"equity"`
	AvailableBalance  float64 `json:"available_balance"`
	UnrealizedPnL     float64 `json:"unrealized_pnl"`
	DailyPnL          float64 `json:"daily_pnl"`
	OpenPositions     int     `json:"open_positions"`
	TodayLossFraction float64 `json:"today_loss_fraction"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	RiskUtilization   float64 `json:"risk_utilization"`
	UpdatedAt         int64   `json:"updated_at"`
}

// PositionSizeResult 风控仓位计算结果
type PositionSizeResult struct {
	SizeNotional float64 `json:"size_notional"`
	SizeBase     float64 `json:"size_base"`
	RiskAmount   float64 `json:"risk_amount"`
	Leverage     float64 `json:"leverage"`
	Approved     bool    `json:"approved"`
	Reason       string  `json:"reason,omitempty"`
}

// TradingMode 执行模式
type TradingMode string

const (
	ModePaper      TradingMode = "paper"
	ModeLive       TradingMode = "live"
	ModeSimulation TradingMode = "simulation"
)

// Valid 是否为已知模式
func (m TradingMode) Valid() bool {
	return m == ModePaper || m == ModeLive || m == ModeSimulation
}

// OrderStatus 订单状态
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusOpen      OrderStatus = "open"
	StatusClosed    OrderStatus = "closed"
	StatusCancelled OrderStatus = "cancelled"
	StatusFailed    OrderStatus = "failed"
)

// Terminal 是否为终态
func (s OrderStatus) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled || s == StatusFailed
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// FillKind 成交类型
type FillKind string

const (
	FillEntry  FillKind = "entry"
	FillTP1    FillKind = "tp1"
	FillTP2    FillKind = "tp2"
	FillTP3    FillKind = "tp3"
	FillSL     FillKind = "sl"
	FillManual FillKind = "manual"
)

// TPKind 第level档止盈（从0开始）对应的成交类型
func TPKind(level int) FillKind {
	switch level {
	case 0:
		return FillTP1
	case 1:
		return FillTP2
	default:
		return FillTP3
	}
}

// CloseReason 平仓原因
type CloseReason string

const (
	CloseTP     CloseReason = "tp"
	CloseSL     CloseReason = "sl"
	CloseManual CloseReason = "manual"
)

// Fill 成交记录（追加后不可变）
type Fill struct {
	ID        string   `json:"id"`
	OrderID   string   `json:"order_id"`
	Price     float64  `json:"price"`
	Quantity  float64  `json:"quantity"`
	Side      Side     `json:"side"`
	Timestamp int64    `json:"timestamp"`
	Fees      float64  `json:"fees"`
	Kind      FillKind `json:"kind"`
}

// TradeOrder 引擎管理的订单
type TradeOrder struct {
	ID           string      `json:"id"`
	Pair         string      `json:"pair"`
	Side         Side        `json:"side"`
	Type         OrderType   `json:"type"`
	Mode         TradingMode `json:"mode"`
	Entry        float64     `json:"entry"`
	StopLoss     float64     `json:"stop_loss"`
	TakeProfits  []float64   `json:"take_profits"`
	SizeNotional float64     `json:"size_notional"`
	SizeBase     float64     `json:"size_base"`
	Leverage     float64     `json:"leverage"`
	Status       OrderStatus `json:"status"`
	Tags         []string    `json:"tags,omitempty"`
	Timestamp    int64       `json:"timestamp"`
	Fills        []Fill      `json:"fills"`
	RealizedPnL  float64     `json:"realized_pnl"`
	ClosedAt     int64       `json:"closed_at,omitempty"`
	CloseReason  CloseReason `json:"close_reason,omitempty"`
	VenueOrderID string      `json:"venue_order_id,omitempty"`
}

// RemainingBase 未平仓数量
func (o *TradeOrder) RemainingBase() float64 {
	remaining := o.SizeBase
	for _, f := range o.Fills {
		if f.Kind != FillEntry {
			remaining -= f.Quantity
		}
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TakenTPLevels 已成交的止盈档数（按档位顺序成交）
func (o *TradeOrder) TakenTPLevels() int {
	n := 0
	for _, f := range o.Fills {
		switch f.Kind {
		case FillTP1, FillTP2, FillTP3:
			n++
		}
	}
	return n
}

// Clone 深拷贝（对外暴露时使用，避免共享切片）
func (o *TradeOrder) Clone() *TradeOrder {
	if o == nil {
		return nil
	}
	c := *o
	c.TakeProfits = append([]float64(nil), o.TakeProfits...)
	c.Tags = append([]string(nil), o.Tags...)
	c.Fills = append([]Fill(nil), o.Fills...)
	return &c
}

// VenueFill 交易所成交回报
type VenueFill struct {
	VenueOrderID string  `json:"venue_order_id"`
	FilledPrice  float64 `json:"filled_price"`
	Quantity     float64 `json:"quantity"`
	Fees         float64 `json:"fees"`
}

// LedgerEvent 交易账本事件
type LedgerEvent struct {
	Event     string      `json:"event"` // order_opened, order_failed, order_partial, order_closed
	OrderID   string      `json:"order_id"`
	Pair      string      `json:"pair"`
	Side      Side        `json:"side"`
	Mode      TradingMode `json:"mode"`
	Price     float64     `json:"price"`
	Quantity  float64     `json:"quantity"`
	Fees      float64     `json:"fees"`
	PnL       float64     `json:"pnl,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp int64       `json:"ts"`
}
