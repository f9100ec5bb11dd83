package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yuechangmingzou/nofx-engine/internal/bot"
	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/internal/exchange"
	"github.com/yuechangmingzou/nofx-engine/internal/execution"
	"github.com/yuechangmingzou/nofx-engine/internal/ledger"
	"github.com/yuechangmingzou/nofx-engine/internal/risk"
	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
	"go.uber.org/zap"
)

// app 进程内组装好的组件
type app struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	redis   *redis.Client
	store   config.Store
	auditor *config.RedisStore
	history *ledger.Redis
	engine  *bot.Engine
	closers []func()
}

// appOptions 子命令对组装的覆盖
type appOptions struct {
	mode     types.TradingMode
	csvDir   string
	noLedger bool
	noLease  bool
}

// loadConfig 加载并校验进程配置，初始化日志
func loadConfig() *config.Config {
	if err := config.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.ValidateAndExit()

	cfg := config.Get()
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if err := utils.InitLogger(level); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return cfg
}

// buildApp 按配置组装 Redis、运行时配置、账本、行情、执行与调度
func buildApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: utils.GetLogger("main")}

	if cfg.RedisEnabled {
		rdb, err := utils.NewRedisClient(utils.RedisOptions{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		a.redis = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}

	holder, err := config.NewHolder(cfg.Runtime)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("runtime config: %w", err)
	}
	a.store = holder
	if a.redis != nil {
		rs := config.NewRedisStore(holder, a.redis, cfg.RuntimeConfigWriteEnabled, cfg.RuntimeConfigAuditMaxLen)
		if err := rs.Load(ctx); err != nil {
			a.logger.Warnw("加载运行时配置覆盖失败，使用默认值", "error", err)
		}
		a.store = rs
		a.auditor = rs
	}
	if opts.mode != "" {
		if _, err := holder.Update(ctx, config.Partial{"engine": {"mode": string(opts.mode)}}); err != nil {
			a.Close()
			return nil, err
		}
	}

	var tl types.TradeLedger = ledger.Discard{}
	if !opts.noLedger {
		built, closeLedger, err := ledger.Build(cfg, a.redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		tl = built
		a.closers = append(a.closers, closeLedger)
		if r, ok := ledger.HistorySource(built); ok {
			a.history = r
		}
	}

	snap := a.store.Snapshot()
	book := risk.NewBook(snap.Engine.StartingEquity, time.Now())

	var (
		feed       types.MarketDataFeed
		routerOpts = []execution.Option{execution.WithPnLRecorder(book)}
		botOpts    = []bot.Option{bot.WithBook(book), bot.WithInterval(time.Duration(cfg.TickIntervalSec * float64(time.Second)))}
	)

	csvDir := opts.csvDir
	if csvDir == "" && snap.Engine.Mode == types.ModeSimulation {
		csvDir = cfg.CSVDataDir
	}
	if csvDir != "" {
		feed = exchange.NewCSVFeed(csvDir, snap.Engine.LTFTimeframe)
		a.logger.Infow("使用CSV回放行情", "dir", csvDir)
	} else {
		venue := exchange.NewBinanceFromConfig(cfg)
		feed = venue
		routerOpts = append(routerOpts, execution.WithVenue(venue))
		botOpts = append(botOpts, bot.WithVenue(venue), bot.WithBalanceReader(venue))
	}

	window := time.Duration(cfg.SignalDedupeWindowSec) * time.Second
	if a.redis != nil {
		botOpts = append(botOpts, bot.WithDeduper(execution.NewRedisDeduper(a.redis, window)))
		if cfg.LeaseEnabled && !opts.noLease {
			lease := bot.NewRedisLease(a.redis, cfg.EngineName, time.Duration(cfg.LeaseTTLSec)*time.Second)
			botOpts = append(botOpts, bot.WithLease(lease))
		}
	} else {
		botOpts = append(botOpts, bot.WithDeduper(execution.NewMemoryDeduper(window, time.Now)))
	}

	router := execution.NewRouter(execution.NewRegistry(snap.Engine.ArchiveMaxLen), tl, a.store, routerOpts...)
	a.engine = bot.New(a.store, feed, router, botOpts...)
	return a, nil
}

// Close 逆序释放资源
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
