package exchange

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// CSVFeed 从 <dir>/<PAIR>_<TF>.csv 回放K线（simulation模式）
type CSVFeed struct {
	dir        string
	priceFrame string
	mu         sync.Mutex
	loaded     map[string][]types.Candle
}

// NewCSVFeed priceFrame 用于LastPrice（取该周期最后一根K线收盘价）
func NewCSVFeed(dir, priceFrame string) *CSVFeed {
	return &CSVFeed{
		dir:        dir,
		priceFrame: priceFrame,
		loaded:     make(map[string][]types.Candle),
	}
}

// Path K线文件路径
func (f *CSVFeed) Path(pair, timeframe string) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s_%s.csv", utils.NormalizeSymbol(pair), timeframe))
}

// FetchCandles 返回最后limit根K线
func (f *CSVFeed) FetchCandles(ctx context.Context, pair, timeframe string, limit int) ([]types.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candles, err := f.load(pair, timeframe)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return append([]types.Candle(nil), candles...), nil
}

// LastPrice 最后一根K线收盘价
func (f *CSVFeed) LastPrice(ctx context.Context, pair string) (float64, error) {
	candles, err := f.FetchCandles(ctx, pair, f.priceFrame, 1)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("no candles for %s %s", pair, f.priceFrame)
	}
	return candles[0].Close, nil
}

func (f *CSVFeed) load(pair, timeframe string) ([]types.Candle, error) {
	path := f.Path(pair, timeframe)

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.loaded[path]; ok {
		return c, nil
	}
	c, err := LoadCandlesCSV(path)
	if err != nil {
		return nil, err
	}
	f.loaded[path] = c
	return c, nil
}

// LoadCandlesCSV 读取带表头的K线CSV：time|timestamp, open, high, low, close, volume
// time 支持毫秒、秒或RFC3339
func LoadCandlesCSV(path string) ([]types.Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candles csv: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	var headers []string
	var out []types.Candle
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if headers == nil {
			headers = make([]string, len(rec))
			for i, h := range rec {
				headers[i] = strings.ToLower(strings.TrimSpace(h))
			}
			continue
		}

		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			}
		}
		c, ok := parseCSVRow(row)
		if !ok {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func parseCSVRow(row map[string]string) (types.Candle, bool) {
	ts := row["time"]
	if ts == "" {
		ts = row["timestamp"]
	}
	ms, err := parseTimeMillis(ts)
	if err != nil {
		return types.Candle{}, false
	}

	var vals [5]float64
	for i, k := range []string{"open", "high", "low", "close", "volume"} {
		v, err := strconv.ParseFloat(row[k], 64)
		if err != nil {
			return types.Candle{}, false
		}
		vals[i] = v
	}
	return types.Candle{
		Time:   ms,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, true
}

func parseTimeMillis(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("empty time")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// 秒级时间戳
		if n < 1e11 {
			return n * 1000, nil
		}
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

var _ types.MarketDataFeed = (*CSVFeed)(nil)
