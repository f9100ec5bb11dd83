package bot

import (
	"context"
	"errors"
	"time"

	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// Start 启动调度循环（重复调用无副作用）
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.running {
		return nil
	}
	logger := utils.GetLogger("bot")

	snap := e.store.Snapshot()
	if snap.Engine.Mode == types.ModeLive && e.venue != nil {
		positions, err := e.venue.FetchOpenPositions(ctx)
		if err != nil {
			logger.Warnw("获取交易所持仓失败，跳过接管", "error", err)
		} else {
			e.router.Adopt(positions)
		}
	}

	// 调度与调用方的请求上下文解耦，只能通过Stop结束
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	logger.Infow("🚀 引擎启动",
		"mode", snap.Engine.Mode,
		"pairs", snap.Engine.Pairs,
		"interval", e.interval.String(),
	)

	go e.run(runCtx, e.done)
	return nil
}

// Stop 停止调度（重复调用无副作用）；已提交的下单不受影响
func (e *Engine) Stop() {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.cancel = nil
	e.runMu.Unlock()

	cancel()
	<-done

	if e.lease != nil {
		ctx, c := utils.WithShortTimeout(context.Background())
		defer c()
		if err := e.lease.Release(ctx); err != nil {
			utils.GetLogger("bot").Warnw("释放租约失败", "error", err)
		}
	}
	utils.GetLogger("bot").Info("引擎停止")
}

// Running 是否在调度中
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	logger := utils.GetLogger("bot")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if _, err := e.Tick(ctx); err != nil {
			switch {
			case errors.Is(err, ErrTickInProgress):
				logger.Debugw("上一轮tick未结束，跳过")
			case errors.Is(err, ErrLeaseNotHeld):
				logger.Debugw("租约由其他进程持有，跳过")
			default:
				logger.Warnw("tick失败", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
