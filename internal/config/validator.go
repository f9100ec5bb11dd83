package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// ValidateConfig 验证进程配置
func ValidateConfig() error {
	cfg := Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}
	var errors []string

	// 验证Redis配置
	if cfg.RedisEnabled {
		if cfg.RedisHost == "" {
			errors = append(errors, "REDIS_HOST is required")
		}
		if cfg.RedisPort <= 0 || cfg.RedisPort > 65535 {
			errors = append(errors, fmt.Sprintf("REDIS_PORT must be between 1 and 65535, got %d", cfg.RedisPort))
		}
	}

	// 验证Web认证
	if cfg.WebBasicAuthUser == "" {
		errors = append(errors, "WEB_BASIC_AUTH_USER is required")
	}
	if cfg.WebBasicAuthPass == "change_me" {
		errors = append(errors, "WEB_BASIC_AUTH_PASS cannot be the default value 'change_me'")
	}
	if len(cfg.WebBasicAuthPass) < 8 {
		errors = append(errors, "WEB_BASIC_AUTH_PASS must be at least 8 characters")
	}
	if cfg.WebPort <= 0 || cfg.WebPort > 65535 {
		errors = append(errors, fmt.Sprintf("WEB_PORT must be between 1 and 65535, got %d", cfg.WebPort))
	}

	// 实盘需要API密钥
	if cfg.Runtime.Engine.Mode == types.ModeLive {
		if len(cfg.BinanceAPIKey) < 20 {
			errors = append(errors, "BINANCE_API_KEY must be at least 20 characters when TRADING_MODE=live")
		}
		if len(cfg.BinanceSecretKey) < 20 {
			errors = append(errors, "BINANCE_SECRET_KEY must be at least 20 characters when TRADING_MODE=live")
		}
	}

	// 验证账本后端
	for _, backend := range cfg.LedgerBackends {
		switch backend {
		case "redis":
			if !cfg.RedisEnabled {
				errors = append(errors, "LEDGER_BACKENDS=redis requires REDIS_ENABLED=true")
			}
		case "nats":
			if cfg.NATSURL == "" {
				errors = append(errors, "NATS_URL is required when LEDGER_BACKENDS contains nats")
			}
		case "influx":
			if cfg.InfluxURL == "" || cfg.InfluxToken == "" {
				errors = append(errors, "INFLUX_URL and INFLUX_TOKEN are required when LEDGER_BACKENDS contains influx")
			}
		case "memory", "none":
		default:
			errors = append(errors, fmt.Sprintf("unknown ledger backend: %s", backend))
		}
	}

	if cfg.TickIntervalSec <= 0 {
		errors = append(errors, "TICK_INTERVAL_SEC must be greater than 0")
	}
	if cfg.LeaseEnabled && !cfg.RedisEnabled {
		errors = append(errors, "LEASE_ENABLED requires REDIS_ENABLED=true")
	}

	if err := cfg.Runtime.Validate(); err != nil {
		errors = append(errors, err.Error())
	}

	// 如果有错误，返回
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// ValidateAndExit 验证配置并在失败时退出
func ValidateAndExit() {
	if err := ValidateConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed:\n%v\n", err)
		os.Exit(1)
	}
}

// Validate 验证运行时快照
func (s *Snapshot) Validate() error {
	var errors []string

	r := s.Risk
	if r.DailyLossCap <= 0 || r.DailyLossCap > 1 {
		errors = append(errors, "risk.daily_loss_cap must be in (0, 1]")
	}
	if r.MaxConcurrentTrades <= 0 {
		errors = append(errors, "risk.max_concurrent_trades must be greater than 0")
	}
	if r.MaxPositionNotional <= 0 {
		errors = append(errors, "risk.max_position_notional must be greater than 0")
	}
	if r.MaxRiskPerTrade <= 0 || r.MaxRiskPerTrade > 0.1 {
		errors = append(errors, "risk.max_risk_per_trade must be in (0, 0.1]")
	}
	if r.EmergencyDrawdownStop <= 0 || r.EmergencyDrawdownStop > 1 {
		errors = append(errors, "risk.emergency_drawdown_stop must be in (0, 1]")
	}
	if r.CorrelationLimit < 0 || r.CorrelationLimit > 1 {
		errors = append(errors, "risk.correlation_limit must be in [0, 1]")
	}
	if r.MinPositionNotional < 0 {
		errors = append(errors, "risk.min_position_notional must not be negative")
	}
	if r.MinPositionNotional > r.MaxPositionNotional {
		errors = append(errors, "risk.min_position_notional must not exceed max_position_notional")
	}

	st := s.Strategy
	if st.TapTolerancePct <= 0 {
		errors = append(errors, "strategy.tap_tolerance_pct must be greater than 0")
	}
	if st.StopBufferPct <= 0 {
		errors = append(errors, "strategy.stop_buffer_pct must be greater than 0")
	}
	if st.MinDelta <= 0 {
		errors = append(errors, "strategy.min_delta must be greater than 0")
	}
	if st.LookbackBars < 2 {
		errors = append(errors, "strategy.lookback_bars must be at least 2")
	}
	if st.MinVolatility < 0 || st.MaxVolatility <= st.MinVolatility {
		errors = append(errors, "strategy volatility band must satisfy 0 <= min_volatility < max_volatility")
	}
	for _, levels := range [][]float64{st.MajorFibLevels, st.MinorFibLevels} {
		if len(levels) == 0 {
			errors = append(errors, "strategy fib levels must not be empty")
			continue
		}
		for i, f := range levels {
			if f <= 0 || f > 1 {
				errors = append(errors, fmt.Sprintf("strategy fib level %v must be in (0, 1]", f))
			}
			if i > 0 && f <= levels[i-1] {
				errors = append(errors, "strategy fib levels must be strictly increasing")
			}
		}
	}
	if st.RiskPerTrade <= 0 || st.RiskPerTrade > 0.1 {
		errors = append(errors, "strategy.risk_per_trade must be in (0, 0.1]")
	}
	if st.TPPartialRatio < 0 || st.TPPartialRatio > 1 {
		errors = append(errors, "strategy.tp_partial_ratio must be in [0, 1]")
	}

	e := s.Engine
	if !e.Mode.Valid() {
		errors = append(errors, fmt.Sprintf("engine.mode must be paper, live or simulation, got %q", e.Mode))
	}
	if len(e.Pairs) == 0 {
		errors = append(errors, "engine.pairs must not be empty")
	}
	if e.HTFTimeframe == "" || e.LTFTimeframe == "" {
		errors = append(errors, "engine timeframes are required")
	}
	if e.HTFLimit < 20 {
		errors = append(errors, "engine.htf_limit must be at least 20")
	}
	if e.LTFLimit < 50 {
		errors = append(errors, "engine.ltf_limit must be at least 50")
	}
	if e.CooldownSec < 0 {
		errors = append(errors, "engine.cooldown_sec must not be negative")
	}
	if e.Concurrency <= 0 {
		errors = append(errors, "engine.concurrency must be greater than 0")
	}
	if e.PaperSlippagePct < 0 || e.SimSlippagePct < 0 || e.PaperFeeRate < 0 || e.SimFeeRate < 0 {
		errors = append(errors, "engine slippage and fee rates must not be negative")
	}
	if e.StartingEquity <= 0 {
		errors = append(errors, "engine.starting_equity must be greater than 0")
	}

	if len(errors) > 0 {
		return fmt.Errorf("runtime config invalid: %s", strings.Join(errors, "; "))
	}
	return nil
}
