package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// publisher JetStream发布能力（nats.JetStreamContext实现）
type publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATS 将账本事件发布到JetStream（subject: <prefix>.<event>.<pair>）
type NATS struct {
	conn   *nats.Conn
	js     publisher
	prefix string
}

// NATSOptions NATS账本参数
type NATSOptions struct {
	URL           string
	Stream        string
	SubjectPrefix string
}

// NewNATS 连接NATS并确保交易流存在
func NewNATS(opts NATSOptions) (*NATS, error) {
	logger := utils.GetLogger("ledger_nats")

	conn, err := nats.Connect(opts.URL,
		nats.Name("nofx-engine-ledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnw("NATS连接断开", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS已重连")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     opts.Stream,
		Subjects: []string{opts.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   30 * 24 * time.Hour,
		Replicas: 1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream %s: %w", opts.Stream, err)
	}

	return &NATS{conn: conn, js: js, prefix: opts.SubjectPrefix}, nil
}

// Subject 事件对应的subject
func (n *NATS) Subject(event types.LedgerEvent) string {
	pair := strings.ToLower(event.Pair)
	if pair == "" {
		pair = "unknown"
	}
	return fmt.Sprintf("%s.%s.%s", n.prefix, event.Event, pair)
}

// Append 同步发布并等待JetStream确认
func (n *NATS) Append(ctx context.Context, event types.LedgerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	opts := []nats.PubOpt{nats.Context(ctx)}
	if event.OrderID != "" {
		// 同一订单同一事件只入流一次
		opts = append(opts, nats.MsgId(event.OrderID+":"+event.Event+":"+fmt.Sprint(event.Timestamp)))
	}
	if _, err := n.js.Publish(n.Subject(event), data, opts...); err != nil {
		return fmt.Errorf("nats ledger publish: %w", err)
	}
	return nil
}

// Close 关闭连接
func (n *NATS) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
