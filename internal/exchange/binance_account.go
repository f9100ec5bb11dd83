package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// Balance USDT钱包权益
func (b *Binance) Balance(ctx context.Context) (float64, error) {
	var balances []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
		CrossUnPnl       string `json:"crossUnPnl"`
	}
	if err := b.client.Do(ctx, http.MethodGet, "/fapi/v2/balance", nil, true, &balances); err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}

	for _, bal := range balances {
		if bal.Asset != "USDT" {
			continue
		}
		total, err := parseNumber(bal.Balance)
		if err != nil {
			return 0, fmt.Errorf("parse USDT balance %q: %w", bal.Balance, err)
		}
		return total, nil
	}
	return 0, fmt.Errorf("USDT balance not found")
}

// FetchOpenPositions 当前持仓（映射为引擎订单，用于启动接管）
func (b *Binance) FetchOpenPositions(ctx context.Context) ([]*types.TradeOrder, error) {
	var raw []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
		Leverage    string `json:"leverage"`
		UpdateTime  int64  `json:"updateTime"`
	}
	if err := b.client.Do(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil, true, &raw); err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	out := make([]*types.TradeOrder, 0)
	for _, p := range raw {
		size, err := parseNumber(p.PositionAmt)
		if err != nil || size == 0 {
			continue // 跳过空仓
		}
		entry, _ := parseNumber(p.EntryPrice)
		leverage, _ := parseNumber(p.Leverage)

		side := types.SideLong
		if size < 0 {
			side = types.SideShort
			size = -size
		}
		ts := p.UpdateTime
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}

		id := "adopted-" + strings.ToLower(p.Symbol)
		out = append(out, &types.TradeOrder{
			ID:           id,
			Pair:         p.Symbol,
			Side:         side,
			Type:         types.OrderTypeMarket,
			Mode:         types.ModeLive,
			Entry:        entry,
			SizeBase:     size,
			SizeNotional: size * entry,
			Leverage:     leverage,
			Status:       types.StatusOpen,
			Timestamp:    ts,
			Tags:         []string{"adopted"},
		})
		b.remember(id, positionRef{symbol: p.Symbol, side: side, quantity: size})
	}
	return out, nil
}

func (b *Binance) remember(id string, ref positionRef) {
	b.positionsMu.Lock()
	b.positions[id] = ref
	b.positionsMu.Unlock()
}

func (b *Binance) lookup(id string) (positionRef, bool) {
	b.positionsMu.Lock()
	defer b.positionsMu.Unlock()
	ref, ok := b.positions[id]
	return ref, ok
}

func (b *Binance) forget(id string) {
	b.positionsMu.Lock()
	delete(b.positions, id)
	b.positionsMu.Unlock()
}
