package ledger

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// pointWriter 阻塞写入（api.WriteAPIBlocking实现）
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxOptions InfluxDB账本参数
type InfluxOptions struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	TimeoutSec  uint
}

// Influx 把账本事件写为时序点，供盈亏统计
type Influx struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
}

// NewInflux 创建InfluxDB账本
func NewInflux(opts InfluxOptions) *Influx {
	if opts.TimeoutSec == 0 {
		opts.TimeoutSec = 10
	}
	client := influxdb2.NewClientWithOptions(
		opts.URL,
		opts.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(opts.TimeoutSec).
			SetLogLevel(0),
	)
	return &Influx{
		client:      client,
		writer:      client.WriteAPIBlocking(opts.Org, opts.Bucket),
		measurement: opts.Measurement,
	}
}

// Point 事件转时序点
func (i *Influx) Point(event types.LedgerEvent) *write.Point {
	ts := time.UnixMilli(event.Timestamp)
	if event.Timestamp == 0 {
		ts = time.Now()
	}
	return influxdb2.NewPoint(
		i.measurement,
		map[string]string{
			"event": event.Event,
			"pair":  event.Pair,
			"side":  string(event.Side),
			"mode":  string(event.Mode),
		},
		map[string]interface{}{
			"order_id": event.OrderID,
			"price":    event.Price,
			"quantity": event.Quantity,
			"fees":     event.Fees,
			"pnl":      event.PnL,
			"reason":   event.Reason,
		},
		ts,
	)
}

// Append 写入单个点
func (i *Influx) Append(ctx context.Context, event types.LedgerEvent) error {
	if err := i.writer.WritePoint(ctx, i.Point(event)); err != nil {
		return fmt.Errorf("influx ledger write: %w", err)
	}
	return nil
}

// Close 关闭客户端
func (i *Influx) Close() {
	if i.client != nil {
		i.client.Close()
	}
}
