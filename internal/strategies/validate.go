package strategies

import (
	"errors"
	"fmt"

	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

const (
	// MinConfidence 可执行信号的最低置信度
	MinConfidence = 0.6
	// MaxRiskFraction 单笔风险比例上限
	MaxRiskFraction = 0.1
)

// ErrInvalidSignal 信号校验失败
var ErrInvalidSignal = errors.New("invalid signal")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidSignal, fmt.Sprintf(format, args...))
}

// ValidateSignal 执行前校验信号（纯函数）
func ValidateSignal(sig *types.Signal) error {
	if sig == nil {
		return invalid("signal is nil")
	}
	if sig.Pair == "" {
		return invalid("pair is empty")
	}
	if !sig.Side.Valid() {
		return invalid("unknown side %q", sig.Side)
	}
	if sig.Entry <= 0 {
		return invalid("entry must be positive, got %v", sig.Entry)
	}
	if len(sig.TakeProfits) == 0 {
		return invalid("no take-profit levels")
	}
	if sig.StopLoss <= 0 {
		return invalid("stop-loss must be positive, got %v", sig.StopLoss)
	}
	if sig.RiskFraction <= 0 || sig.RiskFraction > MaxRiskFraction {
		return invalid("risk fraction %v outside (0, %v]", sig.RiskFraction, MaxRiskFraction)
	}

	switch sig.Side {
	case types.SideLong:
		if sig.StopLoss >= sig.Entry {
			return invalid("long stop-loss %v must be below entry %v", sig.StopLoss, sig.Entry)
		}
		for _, tp := range sig.TakeProfits {
			if tp <= sig.Entry {
				return invalid("long take-profit %v must be above entry %v", tp, sig.Entry)
			}
		}
	case types.SideShort:
		if sig.StopLoss <= sig.Entry {
			return invalid("short stop-loss %v must be above entry %v", sig.StopLoss, sig.Entry)
		}
		for _, tp := range sig.TakeProfits {
			if tp >= sig.Entry {
				return invalid("short take-profit %v must be below entry %v", tp, sig.Entry)
			}
		}
	}

	if sig.Confidence < MinConfidence {
		return invalid("confidence %.3f below %.2f", sig.Confidence, MinConfidence)
	}
	return nil
}
