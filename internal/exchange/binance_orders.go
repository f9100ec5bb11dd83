package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Status      string `json:"status"`
	ExecutedQty string `json:"executedQty"`
	AvgPrice    string `json:"avgPrice"`
	CumQuote    string `json:"cumQuote"`
}

func orderSide(side types.Side) string {
	if side == types.SideShort {
		return "SELL"
	}
	return "BUY"
}

// SubmitOrder 市价开仓
func (b *Binance) SubmitOrder(ctx context.Context, order *types.TradeOrder) (*types.VenueFill, error) {
	if order.SizeBase <= 0 {
		return nil, fmt.Errorf("order %s has no size", order.ID)
	}
	symbol := utils.NormalizeSymbol(order.Pair)

	params := map[string]string{
		"symbol":           symbol,
		"side":             orderSide(order.Side),
		"type":             "MARKET",
		"quantity":         formatFloat(order.SizeBase),
		"newClientOrderId": clientOrderID(order.ID),
		"newOrderRespType": "RESULT",
	}

	var resp orderResponse
	if err := b.client.Do(ctx, http.MethodPost, "/fapi/v1/order", params, true, &resp); err != nil {
		return nil, fmt.Errorf("place order %s: %w", symbol, err)
	}

	qty, _ := parseNumber(resp.ExecutedQty)
	avg, _ := parseNumber(resp.AvgPrice)
	if qty <= 0 {
		qty = order.SizeBase
	}
	b.remember(order.ID, positionRef{symbol: symbol, side: order.Side, quantity: qty})

	utils.GetLogger("exchange").Infow("交易所下单成功",
		"symbol", symbol,
		"side", order.Side,
		"venue_order_id", resp.OrderID,
		"status", resp.Status,
		"executed_qty", qty,
		"avg_price", avg,
	)

	return &types.VenueFill{
		VenueOrderID: fmt.Sprintf("%d", resp.OrderID),
		FilledPrice:  avg,
		Quantity:     qty,
	}, nil
}

// CloseOrder reduceOnly市价平仓
func (b *Binance) CloseOrder(ctx context.Context, id string, _ float64) error {
	ref, ok := b.lookup(id)
	if !ok {
		return fmt.Errorf("no venue position tracked for order %s", id)
	}

	params := map[string]string{
		"symbol":     ref.symbol,
		"side":       orderSide(ref.side.Opposite()),
		"type":       "MARKET",
		"quantity":   formatFloat(ref.quantity),
		"reduceOnly": "true",
	}

	var resp orderResponse
	if err := b.client.Do(ctx, http.MethodPost, "/fapi/v1/order", params, true, &resp); err != nil {
		return fmt.Errorf("close order %s: %w", id, err)
	}
	b.forget(id)
	return nil
}

// clientOrderID 交易所限制36个字符
func clientOrderID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 32 {
		id = id[:32]
	}
	return "nofx" + id
}
