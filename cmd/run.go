package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuechangmingzou/nofx-engine/internal/web"
)

var runAutoStart bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine scheduler and the HTTP control surface",
	RunE:  runService,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runAutoStart, "start", true, "Start the tick scheduler immediately")
}

func runService(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	snap := a.store.Snapshot()
	a.logger.Infow("🚀 NOFX引擎启动",
		"mode", snap.Engine.Mode,
		"pairs", snap.Engine.Pairs,
		"redis_enabled", cfg.RedisEnabled,
		"ledger", cfg.LedgerBackends,
		"log_level", cfg.LogLevel,
	)

	if runAutoStart {
		if err := a.engine.Start(ctx); err != nil {
			return err
		}
	}

	webOpts := []web.Option{}
	if a.redis != nil {
		webOpts = append(webOpts, web.WithRedis(a.redis))
	}
	if a.auditor != nil {
		webOpts = append(webOpts, web.WithConfigAuditor(a.auditor))
	}
	if a.history != nil {
		webOpts = append(webOpts, web.WithHistory(a.history))
	}
	server := web.NewServer(cfg, a.engine, webOpts...)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Errorw("Web服务panic", "error", r)
			}
		}()
		if err := server.Run(ctx); err != nil {
			a.logger.Errorw("Web服务器错误", "error", err)
			stop()
		}
	}()

	a.logger.Info("✅ 所有服务已启动")
	<-ctx.Done()
	a.logger.Info("收到停止信号，正在关闭...")

	// 停止调度；持仓保留在交易所/内存中
	a.engine.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("✅ 所有服务已停止")
	case <-time.After(30 * time.Second):
		a.logger.Warn("⚠️  关闭超时，强制退出")
	}
	return nil
}
