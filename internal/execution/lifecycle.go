package execution

import (
	"errors"
	"fmt"

	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// ErrInvalidTransition 非法的订单状态迁移
var ErrInvalidTransition = errors.New("invalid order status transition")

var allowedTransitions = map[types.OrderStatus][]types.OrderStatus{
	types.StatusPending: {types.StatusOpen, types.StatusCancelled, types.StatusFailed},
	types.StatusOpen:    {types.StatusClosed, types.StatusCancelled, types.StatusFailed},
}

// CanTransition 状态迁移是否合法（单调，终态不可迁出）
func CanTransition(from, to types.OrderStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition 迁移订单状态，非法迁移记录错误日志并返回ErrInvalidTransition
func Transition(o *types.TradeOrder, to types.OrderStatus) error {
	if !CanTransition(o.Status, to) {
		utils.GetLogger("execution").Errorw("非法订单状态迁移",
			"order_id", o.ID,
			"from", o.Status,
			"to", to,
		)
		return fmt.Errorf("%w: %s -> %s (order %s)", ErrInvalidTransition, o.Status, to, o.ID)
	}
	o.Status = to
	return nil
}
