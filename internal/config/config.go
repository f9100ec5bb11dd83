package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// Config 进程级配置（环境变量）
type Config struct {
	// Redis配置
	RedisEnabled  bool
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Binance配置
	BinanceAPIKey         string
	BinanceSecretKey      string
	BinanceFAPIBaseURL    string
	BinanceHTTPTimeoutSec float64
	BinanceRateLimitRPS   float64
	BinanceRateLimitBurst int
	ExchangeCacheTTLSec   float64

	// 回放数据目录（simulation模式可选）
	CSVDataDir string

	// 交易账本
	LedgerBackends          []string
	TradeHistoryMaxLen      int
	OrderAuditMaxLen        int
	OrderAuditEventMaxChars int

	// NATS
	NATSURL           string
	NATSStream        string
	NATSSubjectPrefix string

	// InfluxDB
	InfluxURL         string
	InfluxToken       string
	InfluxOrg         string
	InfluxBucket      string
	InfluxMeasurement string

	// 调度
	TickIntervalSec       float64
	SignalDedupeWindowSec int
	LeaseEnabled          bool
	LeaseTTLSec           int
	EngineName            string

	// Web配置
	WebPort          int
	WebBasicAuthUser string
	WebBasicAuthPass string

	// Runtime Config
	RuntimeConfigWriteEnabled bool
	RuntimeConfigAuditMaxLen  int

	// 日志配置
	LogLevel string

	// 引擎运行参数初始值（可被运行时覆盖）
	Runtime Snapshot
}

var globalConfig *Config

// Load 加载配置
func Load() error {
	_ = godotenv.Load()

	d := Defaults()

	globalConfig = &Config{
		RedisEnabled:  getBoolEnv("REDIS_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getIntEnv("REDIS_PORT", 6379),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		BinanceAPIKey:         getEnv("BINANCE_API_KEY", ""),
		BinanceSecretKey:      getEnv("BINANCE_SECRET_KEY", ""),
		BinanceFAPIBaseURL:    getEnv("BINANCE_FAPI_BASE_URL", "https://fapi.binance.com"),
		BinanceHTTPTimeoutSec: getFloatEnv("BINANCE_HTTP_TIMEOUT_SEC", 10.0),
		BinanceRateLimitRPS:   getFloatEnv("BINANCE_RATE_LIMIT_RPS", 10.0),
		BinanceRateLimitBurst: getIntEnv("BINANCE_RATE_LIMIT_BURST", 20),
		ExchangeCacheTTLSec:   getFloatEnv("EXCHANGE_CACHE_TTL_SEC", 5.0),

		CSVDataDir: getEnv("CSV_DATA_DIR", ""),

		LedgerBackends:          parseLowerList(getEnv("LEDGER_BACKENDS", "redis")),
		TradeHistoryMaxLen:      getIntEnv("TRADE_HISTORY_MAX_LEN", 500),
		OrderAuditMaxLen:        getIntEnv("ORDER_AUDIT_MAX_LEN", 2000),
		OrderAuditEventMaxChars: getIntEnv("ORDER_AUDIT_EVENT_MAX_CHARS", 2000),

		NATSURL:           getEnv("NATS_URL", "nats://localhost:4222"),
		NATSStream:        getEnv("NATS_STREAM", "TRADES"),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "trades"),

		InfluxURL:         getEnv("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:       getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:         getEnv("INFLUX_ORG", "nofx"),
		InfluxBucket:      getEnv("INFLUX_BUCKET", "trades"),
		InfluxMeasurement: getEnv("INFLUX_MEASUREMENT", "trade_events"),

		TickIntervalSec:       getFloatEnv("TICK_INTERVAL_SEC", 10.0),
		SignalDedupeWindowSec: getIntEnv("SIGNAL_DEDUPE_WINDOW_SEC", 3600),
		LeaseEnabled:          getBoolEnv("LEASE_ENABLED", false),
		LeaseTTLSec:           getIntEnv("LEASE_TTL_SEC", 60),
		EngineName:            getEnv("ENGINE_NAME", "default"),

		WebPort:          getIntEnv("WEB_PORT", 8000),
		WebBasicAuthUser: getEnv("WEB_BASIC_AUTH_USER", ""),
		WebBasicAuthPass: getEnv("WEB_BASIC_AUTH_PASS", ""),

		RuntimeConfigWriteEnabled: getBoolEnv("RUNTIME_CONFIG_WRITE_ENABLED", true),
		RuntimeConfigAuditMaxLen:  getIntEnv("RUNTIME_CONFIG_AUDIT_MAX_LEN", 2000),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),

		Runtime: Snapshot{
			Risk: RiskConfig{
				DailyLossCap:          getFloatEnv("RISK_DAILY_LOSS_CAP", d.Risk.DailyLossCap),
				MaxConcurrentTrades:   getIntEnv("RISK_MAX_CONCURRENT_TRADES", d.Risk.MaxConcurrentTrades),
				MaxPositionNotional:   getFloatEnv("RISK_MAX_POSITION_NOTIONAL", d.Risk.MaxPositionNotional),
				MaxRiskPerTrade:       getFloatEnv("RISK_MAX_RISK_PER_TRADE", d.Risk.MaxRiskPerTrade),
				EmergencyDrawdownStop: getFloatEnv("RISK_EMERGENCY_DRAWDOWN_STOP", d.Risk.EmergencyDrawdownStop),
				CorrelationLimit:      getFloatEnv("RISK_CORRELATION_LIMIT", d.Risk.CorrelationLimit),
				MinPositionNotional:   getFloatEnv("RISK_MIN_POSITION_NOTIONAL", d.Risk.MinPositionNotional),
			},
			Strategy: StrategyConfig{
				TapTolerancePct: getFloatEnv("STRAT_TAP_TOLERANCE_PCT", d.Strategy.TapTolerancePct),
				StopBufferPct:   getFloatEnv("STRAT_STOP_BUFFER_PCT", d.Strategy.StopBufferPct),
				MinDelta:        getFloatEnv("STRAT_MIN_DELTA", d.Strategy.MinDelta),
				LookbackBars:    getIntEnv("STRAT_LOOKBACK_BARS", d.Strategy.LookbackBars),
				NormalizeDelta:  getBoolEnv("STRAT_NORMALIZE_DELTA", d.Strategy.NormalizeDelta),
				MinVolatility:   getFloatEnv("STRAT_MIN_VOLATILITY", d.Strategy.MinVolatility),
				MaxVolatility:   getFloatEnv("STRAT_MAX_VOLATILITY", d.Strategy.MaxVolatility),
				MajorFibLevels:  parseFloatList(getEnv("STRAT_MAJOR_FIB_LEVELS", ""), d.Strategy.MajorFibLevels),
				MinorFibLevels:  parseFloatList(getEnv("STRAT_MINOR_FIB_LEVELS", ""), d.Strategy.MinorFibLevels),
				MajorPairs:      parseStringListOr(getEnv("STRAT_MAJOR_PAIRS", ""), d.Strategy.MajorPairs),
				RiskPerTrade:    getFloatEnv("STRAT_RISK_PER_TRADE", d.Strategy.RiskPerTrade),
				TPPartialRatio:  getFloatEnv("STRAT_TP_PARTIAL_RATIO", d.Strategy.TPPartialRatio),
			},
			Engine: EngineConfig{
				Mode:             types.TradingMode(strings.ToLower(getEnv("TRADING_MODE", string(d.Engine.Mode)))),
				Pairs:            parseStringListOr(getEnv("PAIRS", ""), d.Engine.Pairs),
				HTFTimeframe:     getEnv("HTF_TIMEFRAME", d.Engine.HTFTimeframe),
				LTFTimeframe:     getEnv("LTF_TIMEFRAME", d.Engine.LTFTimeframe),
				HTFLimit:         getIntEnv("HTF_LIMIT", d.Engine.HTFLimit),
				LTFLimit:         getIntEnv("LTF_LIMIT", d.Engine.LTFLimit),
				CooldownSec:      getFloatEnv("COOLDOWN_SEC", d.Engine.CooldownSec),
				Concurrency:      getIntEnv("CONCURRENCY", d.Engine.Concurrency),
				PaperSlippagePct: getFloatEnv("PAPER_SLIPPAGE_PCT", d.Engine.PaperSlippagePct),
				PaperFeeRate:     getFloatEnv("PAPER_FEE_RATE", d.Engine.PaperFeeRate),
				SimSlippagePct:   getFloatEnv("SIM_SLIPPAGE_PCT", d.Engine.SimSlippagePct),
				SimFeeRate:       getFloatEnv("SIM_FEE_RATE", d.Engine.SimFeeRate),
				StartingEquity:   getFloatEnv("STARTING_EQUITY", d.Engine.StartingEquity),
				ArchiveMaxLen:    getIntEnv("ORDER_ARCHIVE_MAX_LEN", d.Engine.ArchiveMaxLen),
			},
		},
	}

	return nil
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// GetRedisKey 生成Redis键名
func GetRedisKey(name string) string {
	return "nofx:" + name
}

// 辅助函数
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		value = strings.TrimSpace(value)
		if value == "" || value == "0" {
			return defaultValue
		}
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		value = strings.TrimSpace(value)
		if value == "" {
			return defaultValue
		}
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		value = strings.TrimSpace(value)
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func parseStringList(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(strings.ToUpper(part))
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseStringListOr(value string, fallback []string) []string {
	if list := parseStringList(value); len(list) > 0 {
		return list
	}
	return append([]string(nil), fallback...)
}

func parseLowerList(value string) []string {
	list := parseStringList(value)
	for i := range list {
		list[i] = strings.ToLower(list[i])
	}
	return list
}

func parseFloatList(value string, fallback []float64) []float64 {
	if strings.TrimSpace(value) == "" {
		return append([]float64(nil), fallback...)
	}
	parts := strings.Split(value, ",")
	result := make([]float64, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return append([]float64(nil), fallback...)
		}
		result = append(result, f)
	}
	return result
}
