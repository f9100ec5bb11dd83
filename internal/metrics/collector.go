package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nofx_signals_total",
			Help: "Signal pipeline outcomes per instrument evaluation",
		},
		[]string{"result"}, // emitted|absent|invalid|rejected|routed
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nofx_rejections_total",
			Help: "Signals rejected, split by pipeline stage",
		},
		[]string{"stage"}, // validation|risk|dedupe|router
	)

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nofx_orders_total",
			Help: "Orders routed, split by mode and result",
		},
		[]string{"mode", "result"},
	)

	exitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nofx_exits_total",
			Help: "Position exits split by reason",
		},
		[]string{"reason"},
	)

	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nofx_ticks_total",
			Help: "Orchestrator ticks split by outcome",
		},
		[]string{"outcome"}, // ok|busy|error|lease_lost
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nofx_tick_duration_seconds",
			Help:    "Duration of a full orchestrator tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	portfolioEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nofx_portfolio_equity",
			Help: "Portfolio equity at the last recompute",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nofx_open_positions",
			Help: "Open orders held by the engine",
		},
	)

	riskScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nofx_risk_score",
			Help: "Advisory portfolio risk score (0-100)",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nofx_http_requests_total",
			Help: "Control surface HTTP requests",
		},
		[]string{"path", "status"},
	)

	httpRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nofx_http_request_duration_seconds",
			Help:    "Control surface HTTP latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(
		signalsTotal,
		rejectionsTotal,
		ordersTotal,
		exitsTotal,
		ticksTotal,
		tickDuration,
		portfolioEquity,
		openPositions,
		riskScore,
		httpRequestsTotal,
		httpRequestLatency,
	)
}

// RecordSignal 记录信号处理结果
func RecordSignal(result string) {
	signalsTotal.WithLabelValues(result).Inc()
}

// RecordRejection 记录拒绝阶段
func RecordRejection(stage string) {
	rejectionsTotal.WithLabelValues(stage).Inc()
}

// RecordOrder 记录订单
func RecordOrder(mode string, success bool) {
	result := "ok"
	if !success {
		result = "failed"
	}
	ordersTotal.WithLabelValues(mode, result).Inc()
}

// RecordExit 记录平仓
func RecordExit(reason string) {
	exitsTotal.WithLabelValues(reason).Inc()
}

// RecordTick 记录一次tick
func RecordTick(outcome string, d time.Duration) {
	ticksTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" || outcome == "error" {
		tickDuration.Observe(d.Seconds())
	}
}

// SetPortfolio 更新组合指标
func SetPortfolio(equity float64, open int) {
	portfolioEquity.Set(equity)
	openPositions.Set(float64(open))
}

// SetRiskScore 更新风险评分
func SetRiskScore(score float64) {
	riskScore.Set(score)
}

// RecordHTTPRequest 记录HTTP请求
func RecordHTTPRequest(path string, status int, latency time.Duration) {
	httpRequestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
	httpRequestLatency.WithLabelValues(path).Observe(latency.Seconds())
}
