// 文件: pkg/position/intent.go
// 订单意图分类器
//
// 【背景】历史系统只按订单方向推断意图 (BUY→开多, SELL→平多)，
// 做空上线后产生了大量脏数据 (SELL 开空被记成平多)。
// 这里把规则表显式编码: 意图由"当前持仓方向 + 订单方向"共同决定，
// 在订单受理时一次性判定并固化到订单上，之后永不重算。
//
// 规则表:
//
//	当前持仓   订单方向   意图
//	无持仓     BUY       OPEN_LONG
//	无持仓     SELL      OPEN_SHORT (标的不可做空则拒绝)
//	LONG      BUY       OPEN_LONG  (加仓)
//	LONG      SELL      CLOSE_LONG
//	SHORT     SELL      OPEN_SHORT (加空)
//	SHORT     BUY       CLOSE_SHORT
//
// 纯函数，无副作用: 结果只依赖持仓快照和订单方向。

package position

import (
	"errors"

	"aequitas.com/pkg/order"
)

var (
	ErrInvalidIntent = errors.New("invalid intent for current position")
	ErrNotShortable  = errors.New("instrument is not shortable")
)

// Classify 对订单进行意图分类
//
// pos 为 nil 或空仓时视为"无持仓"。
// shortable 来自标的元数据 (instrument.IsShortable)。
func Classify(pos *Position, side order.Side, shortable bool) (order.Intent, error) {
	current := TypeNone
	if pos != nil && !pos.IsEmpty() {
		current = pos.PositionType
	}

	switch current {
	case TypeNone:
		if side == order.SideBuy {
			return order.IntentOpenLong, nil
		}
		// 无持仓卖出 = 开空
		if !shortable {
			return order.IntentUnknown, ErrNotShortable
		}
		return order.IntentOpenShort, nil

	case TypeLong:
		if side == order.SideBuy {
			return order.IntentOpenLong, nil
		}
		return order.IntentCloseLong, nil

	case TypeShort:
		if side == order.SideSell {
			return order.IntentOpenShort, nil
		}
		return order.IntentCloseShort, nil
	}

	return order.IntentUnknown, ErrInvalidIntent
}
