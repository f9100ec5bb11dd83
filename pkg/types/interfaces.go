package types

import "context"

// MarketDataFeed 行情数据源
type MarketDataFeed interface {
	// 获取K线（按时间升序，可能少于limit）
	FetchCandles(ctx context.Context, pair, timeframe string, limit int) ([]Candle, error)

	// 获取最新价格
	LastPrice(ctx context.Context, pair string) (float64, error)
}

// ExecutionVenue 实盘执行场所
type ExecutionVenue interface {
	// 提交订单
	SubmitOrder(ctx context.Context, order *TradeOrder) (*VenueFill, error)

	// 查询当前持仓
	FetchOpenPositions(ctx context.Context) ([]*TradeOrder, error)

	// 平仓
	CloseOrder(ctx context.Context, id string, price float64) error
}

// BalanceReader 可选：提供账户权益（实盘模式用于组合计算）
type BalanceReader interface {
	Balance(ctx context.Context) (float64, error)
}

// TradeLedger 交易账本（只追加）
type TradeLedger interface {
	Append(ctx context.Context, event LedgerEvent) error
}
