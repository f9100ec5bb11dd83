package ledger

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// Build 按LEDGER_BACKENDS组装账本；返回的close释放连接
func Build(cfg *config.Config, rdb *redis.Client) (types.TradeLedger, func(), error) {
	logger := utils.GetLogger("ledger")

	var (
		ledgers Multi
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, backend := range cfg.LedgerBackends {
		switch backend {
		case "redis":
			if rdb == nil {
				closeAll()
				return nil, nil, fmt.Errorf("redis ledger requires a redis client")
			}
			ledgers = append(ledgers, NewRedis(rdb, RedisOptions{
				HistoryMaxLen: cfg.TradeHistoryMaxLen,
				AuditMaxLen:   cfg.OrderAuditMaxLen,
				AuditMaxChars: cfg.OrderAuditEventMaxChars,
			}))
		case "nats":
			n, err := NewNATS(NATSOptions{
				URL:           cfg.NATSURL,
				Stream:        cfg.NATSStream,
				SubjectPrefix: cfg.NATSSubjectPrefix,
			})
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			ledgers = append(ledgers, n)
			closers = append(closers, n.Close)
		case "influx":
			i := NewInflux(InfluxOptions{
				URL:         cfg.InfluxURL,
				Token:       cfg.InfluxToken,
				Org:         cfg.InfluxOrg,
				Bucket:      cfg.InfluxBucket,
				Measurement: cfg.InfluxMeasurement,
			})
			ledgers = append(ledgers, i)
			closers = append(closers, i.Close)
		case "memory":
			ledgers = append(ledgers, NewMemory())
		case "none":
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown ledger backend: %s", backend)
		}
	}

	logger.Infow("交易账本已就绪", "backends", cfg.LedgerBackends)

	switch len(ledgers) {
	case 0:
		return Discard{}, closeAll, nil
	case 1:
		return ledgers[0], closeAll, nil
	default:
		return ledgers, closeAll, nil
	}
}

// HistorySource 在组装结果中找到可读历史的Redis账本
func HistorySource(tl types.TradeLedger) (*Redis, bool) {
	switch l := tl.(type) {
	case *Redis:
		return l, true
	case Multi:
		for _, inner := range l {
			if r, ok := inner.(*Redis); ok {
				return r, true
			}
		}
	}
	return nil, false
}
