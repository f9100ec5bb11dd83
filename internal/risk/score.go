package risk

import (
	"math"

	"github.com/yuechangmingzou/nofx-engine/internal/config"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// Level 风险等级
type Level string

const (
	LevelSafe    Level = "safe"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

// Assessment 风险评分（仅用于观测，不参与拦截）
type Assessment struct {
	Score float64 `json:"score"`
	Level Level   `json:"level"`
}

func ratio(v, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Min(math.Abs(v)/limit, 1)
}

// Assess 回撤40% + 风险占用30% + 日亏损30%，归一到0-100
func Assess(pf types.PortfolioState, cfg config.RiskConfig) Assessment {
	score := 100 * (0.4*ratio(pf.MaxDrawdown, cfg.EmergencyDrawdownStop) +
		0.3*math.Min(math.Max(pf.RiskUtilization, 0), 1) +
		0.3*ratio(pf.TodayLossFraction, cfg.DailyLossCap))

	level := LevelDanger
	switch {
	case score <= 40:
		level = LevelSafe
	case score <= 70:
		level = LevelWarning
	}
	return Assessment{Score: score, Level: level}
}
