package execution

import (
	"context"

	"github.com/yuechangmingzou/nofx-engine/internal/utils"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// Exit 监控触发的一次平仓动作
type Exit struct {
	OrderID  string         `json:"order_id"`
	Pair     string         `json:"pair"`
	Kind     types.FillKind `json:"kind"`
	Price    float64        `json:"price"`
	Quantity float64        `json:"quantity"`
	Final    bool           `json:"final"`
	OK       bool           `json:"ok"`
	Reason   string         `json:"reason,omitempty"`
}

// stopHit 止损触发（多头 <=，空头 >=）
func stopHit(o *types.TradeOrder, price float64) bool {
	if o.StopLoss <= 0 {
		return false
	}
	if o.Side == types.SideLong {
		return price <= o.StopLoss
	}
	return price >= o.StopLoss
}

func levelCrossed(side types.Side, level, price float64) bool {
	if side == types.SideLong {
		return price >= level
	}
	return price <= level
}

// GuardOnce 检查所有持仓的止损止盈（单次执行）
// 每个订单每轮最多一个动作：先止损，再检查下一档未成交且已穿越的止盈位
// 接管的持仓没有止损止盈，只能手动平仓
func (r *Router) GuardOnce(ctx context.Context, prices map[string]float64, tpPartialRatio float64) []Exit {
	logger := utils.GetLogger("execution_guard")

	var exits []Exit
	for _, o := range r.registry.Open() {
		price, ok := prices[o.Pair]
		if !ok || price <= 0 {
			logger.Debugw("缺少价格，跳过持仓检查", "pair", o.Pair, "order_id", o.ID)
			continue
		}

		if stopHit(o, price) {
			exits = append(exits, r.guardClose(ctx, o, price, types.CloseSL))
			continue
		}

		// 止盈按档位顺序成交，已成交档数即下一档的下标
		next := o.TakenTPLevels()
		if next >= len(o.TakeProfits) || !levelCrossed(o.Side, o.TakeProfits[next], price) {
			continue
		}

		last := next == len(o.TakeProfits)-1
		if tpPartialRatio <= 0 || tpPartialRatio >= 1 || last || o.Mode == types.ModeLive {
			exits = append(exits, r.guardClose(ctx, o, price, types.CloseTP))
			continue
		}

		kind := types.TPKind(next)
		qty := o.RemainingBase() * tpPartialRatio
		ok, reason, _ := r.ClosePartial(ctx, o.ID, price, qty, kind)
		exits = append(exits, Exit{
			OrderID:  o.ID,
			Pair:     o.Pair,
			Kind:     kind,
			Price:    price,
			Quantity: qty,
			OK:       ok,
			Reason:   reason,
		})
	}
	return exits
}

func (r *Router) guardClose(ctx context.Context, o *types.TradeOrder, price float64, reason types.CloseReason) Exit {
	qty := o.RemainingBase()
	ok, msg, closed := r.ClosePosition(ctx, o.ID, price, reason)
	kind := types.FillSL
	if reason == types.CloseTP {
		kind = nextTPKind(o)
	}
	if ok && closed != nil && len(closed.Fills) > 0 {
		kind = closed.Fills[len(closed.Fills)-1].Kind
	}
	if !ok {
		utils.GetLogger("execution_guard").Warnw("监控平仓失败",
			"order_id", o.ID,
			"pair", o.Pair,
			"reason", msg,
		)
	}
	return Exit{
		OrderID:  o.ID,
		Pair:     o.Pair,
		Kind:     kind,
		Price:    price,
		Quantity: qty,
		Final:    true,
		OK:       ok,
		Reason:   msg,
	}
}
