package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// Binance USDT永续合约适配器：行情、下单、持仓与余额
type Binance struct {
	client   *HTTPClient
	cacheTTL time.Duration
	cache    map[string]cacheEntry
	cacheMu  sync.RWMutex

	// 引擎订单ID -> 交易所持仓
	positions   map[string]positionRef
	positionsMu sync.Mutex
}

type cacheEntry struct {
	candles   []types.Candle
	timestamp time.Time
}

type positionRef struct {
	symbol   string
	side     types.Side
	quantity float64
}

// NewBinance 创建适配器
func NewBinance(client *HTTPClient, cacheTTL time.Duration) *Binance {
	return &Binance{
		client:    client,
		cacheTTL:  cacheTTL,
		cache:     make(map[string]cacheEntry),
		positions: make(map[string]positionRef),
	}
}

// NewBinanceFromConfig 由进程配置创建适配器
func NewBinanceFromConfig(cfg *config.Config) *Binance {
	client := NewHTTPClient(HTTPOptions{
		BaseURL:   cfg.BinanceFAPIBaseURL,
		APIKey:    cfg.BinanceAPIKey,
		SecretKey: cfg.BinanceSecretKey,
		Timeout:   time.Duration(cfg.BinanceHTTPTimeoutSec * float64(time.Second)),
		RateRPS:   cfg.BinanceRateLimitRPS,
		RateBurst: cfg.BinanceRateLimitBurst,
	})
	return NewBinance(client, time.Duration(cfg.ExchangeCacheTTLSec*float64(time.Second)))
}

// FetchCandles 获取K线（按时间升序）
func (b *Binance) FetchCandles(ctx context.Context, pair, timeframe string, limit int) ([]types.Candle, error) {
	symbol := utils.NormalizeSymbol(pair)

	cacheKey := fmt.Sprintf("klines:%s:%s:%d", symbol, timeframe, limit)
	if cached, ok := b.getCache(cacheKey); ok {
		return cached, nil
	}

	params := map[string]string{
		"symbol":   symbol,
		"interval": timeframe,
		"limit":    strconv.Itoa(limit),
	}

	var raw [][]interface{}
	if err := b.client.Do(ctx, http.MethodGet, "/fapi/v1/klines", params, false, &raw); err != nil {
		return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, timeframe, err)
	}

	candles := parseKlines(raw)
	b.setCache(cacheKey, candles)
	return candles, nil
}

// parseKlines 跳过解析失败的K线
func parseKlines(raw [][]interface{}) []types.Candle {
	out := make([]types.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		var vals [6]float64
		ok := true
		for i := 0; i < 6; i++ {
			v, err := parseNumber(k[i])
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		out = append(out, types.Candle{
			Time:   int64(vals[0]),
			Open:   vals[1],
			High:   vals[2],
			Low:    vals[3],
			Close:  vals[4],
			Volume: vals[5],
		})
	}
	return out
}

// LastPrice 获取最新价格
func (b *Binance) LastPrice(ctx context.Context, pair string) (float64, error) {
	symbol := utils.NormalizeSymbol(pair)

	var resp struct {
		Price json.Number `json:"price"`
	}
	if err := b.client.Do(ctx, http.MethodGet, "/fapi/v1/ticker/price", map[string]string{"symbol": symbol}, false, &resp); err != nil {
		return 0, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}
	price, err := parseNumber(string(resp.Price))
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("invalid ticker price for %s: %q", symbol, resp.Price)
	}
	return price, nil
}

func (b *Binance) getCache(key string) ([]types.Candle, bool) {
	if b.cacheTTL <= 0 {
		return nil, false
	}
	b.cacheMu.RLock()
	entry, exists := b.cache[key]
	b.cacheMu.RUnlock()
	if !exists {
		return nil, false
	}
	if time.Since(entry.timestamp) > b.cacheTTL {
		b.cacheMu.Lock()
		delete(b.cache, key)
		b.cacheMu.Unlock()
		return nil, false
	}
	return append([]types.Candle(nil), entry.candles...), true
}

func (b *Binance) setCache(key string, candles []types.Candle) {
	if b.cacheTTL <= 0 {
		return
	}
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	b.cache[key] = cacheEntry{
		candles:   append([]types.Candle(nil), candles...),
		timestamp: time.Now(),
	}
}

// parseNumber 交易所数字字段可能是字符串或数字
func parseNumber(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case json.Number:
		return val.Float64()
	case string:
		return strconv.ParseFloat(val, 64)
	case int64:
		return float64(val), nil
	default:
		return 0, fmt.Errorf("unsupported number type %T", v)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var (
	_ types.MarketDataFeed = (*Binance)(nil)
	_ types.ExecutionVenue = (*Binance)(nil)
	_ types.BalanceReader  = (*Binance)(nil)
)
