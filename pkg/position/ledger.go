// 文件: pkg/position/ledger.go
// 持仓账本 - 把已分类的订单落到持仓上
//
// 【核心契约】 Apply(pos, ord, intent, available) → (结果, error)
// - 开仓: 加数量、重算均价、增保证金 (delta 为正)
// - 平仓: 减数量、按比例释放保证金 (delta 为负)、计提已实现盈亏
// - all-or-nothing: 所有校验在任何字段变更之前完成，
//   返回 error 时 pos 保证未被改动
//
// 【边界策略】穿仓翻向 (如持多100股却卖150股) 不自动拆单，
// 直接拒绝，要求调用方拆成 平仓+反向开仓 两笔订单重新提交。
// 意图枚举里没有 CLOSE_AND_OPEN_OPPOSITE，这是有意为之。

package position

import (
	"errors"
	"time"

	"aequitas.com/pkg/order"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrInsufficientPosition = errors.New("closing quantity exceeds held quantity")
	ErrMarginShortfall      = errors.New("insufficient available margin")
	ErrIntentMismatch       = errors.New("intent does not match position state")
)

// =============================================================================
// Ledger - 持仓账本
// =============================================================================

// Policy 账本策略
type Policy struct {
	// AllowPartialClose 是否允许部分平仓
	// false 时平仓数量必须恰好等于持仓数量
	AllowPartialClose bool
}

// DefaultPolicy 默认策略: 允许部分平仓
func DefaultPolicy() Policy {
	return Policy{AllowPartialClose: true}
}

// Ledger 持仓账本
// 纯内存计算，不做任何 I/O；持久化由调用方在事务里完成
type Ledger struct {
	policy Policy
}

// NewLedger 创建账本
func NewLedger(policy Policy) *Ledger {
	return &Ledger{policy: policy}
}

// ApplyResult 落账结果
type ApplyResult struct {
	// MarginDelta 保证金增量: 开仓为正(占用)，平仓为负(释放)
	MarginDelta int64

	// RealizedPnL 本次平仓产生的已实现盈亏 (开仓恒为 0)
	RealizedPnL int64

	// ChangeType 持仓变更类型 (OPEN/ADD/REDUCE/CLOSE)
	ChangeType ChangeType
}

// Apply 将已分类订单应用到持仓
//
// pos: 待变更的持仓，新开仓时传入零值结构 (AccountID/Symbol 已填)。
// available: 账户当前可用(未占用)保证金，开仓前置检查用。
//
// 返回 error 时 pos 未被改动。
func (l *Ledger) Apply(pos *Position, ord *order.Order, intent order.Intent, available int64) (*ApplyResult, error) {
	switch intent {
	case order.IntentOpenLong:
		return l.applyOpen(pos, ord, TypeLong, available)
	case order.IntentOpenShort:
		return l.applyOpen(pos, ord, TypeShort, available)
	case order.IntentCloseLong:
		return l.applyClose(pos, ord, TypeLong)
	case order.IntentCloseShort:
		return l.applyClose(pos, ord, TypeShort)
	}
	return nil, ErrInvalidIntent
}

// =============================================================================
// 开仓 / 加仓
// =============================================================================

func (l *Ledger) applyOpen(pos *Position, ord *order.Order, side Type, available int64) (*ApplyResult, error) {
	// 意图与持仓方向交叉校验 (分类器已保证，这里防御调用方直接传意图)
	if !pos.IsEmpty() && pos.PositionType != side {
		return nil, ErrIntentMismatch
	}

	// 前置检查: 增量保证金不得超过可用额度
	// 必须在任何字段变更之前完成 (all-or-nothing)
	required := ord.RequiredMargin()
	if required > available {
		return nil, ErrMarginShortfall
	}

	changeType := ChangeAdd
	if pos.IsEmpty() {
		changeType = ChangeOpen
		pos.PositionType = side
		pos.AvgPrice = ord.Price
		pos.Quantity = ord.Quantity
		pos.MarginStatus = MarginOK
	} else {
		// 成交量加权均价
		oldValue := pos.Quantity * pos.AvgPrice
		newValue := ord.Quantity * ord.Price
		pos.Quantity += ord.Quantity
		pos.AvgPrice = (oldValue + newValue) / pos.Quantity
	}

	pos.BlockedMargin += required
	pos.InitialMargin += required
	pos.UpdatedAt = time.Now().UnixMilli()

	return &ApplyResult{
		MarginDelta: required,
		ChangeType:  changeType,
	}, nil
}

// =============================================================================
// 平仓 / 减仓
// =============================================================================

func (l *Ledger) applyClose(pos *Position, ord *order.Order, side Type) (*ApplyResult, error) {
	if pos.IsEmpty() || pos.PositionType != side {
		return nil, ErrIntentMismatch
	}

	closeQty := ord.Quantity
	if closeQty > pos.Quantity {
		// 穿仓翻向: 部分平仓开启时按翻向拒绝，否则按超额平仓拒绝
		if l.policy.AllowPartialClose {
			return nil, ErrInvalidIntent
		}
		return nil, ErrInsufficientPosition
	}
	if !l.policy.AllowPartialClose && closeQty < pos.Quantity {
		return nil, ErrInsufficientPosition
	}

	// 已实现盈亏
	// 多头: (卖价 - 均价) × 数量
	// 空头: (均价 - 回补价) × 数量
	var pnl int64
	if side == TypeShort {
		pnl = (pos.AvgPrice - ord.Price) * closeQty
	} else {
		pnl = (ord.Price - pos.AvgPrice) * closeQty
	}

	// 按比例释放保证金
	// 全平时释放全部剩余额度，吸收整数除法的余数，
	// 避免尾差在账户聚合里越滚越大
	var release int64
	changeType := ChangeReduce
	if closeQty == pos.Quantity {
		release = pos.BlockedMargin
		changeType = ChangeClose
	} else {
		release = pos.BlockedMargin * closeQty / pos.Quantity
	}

	pos.Quantity -= closeQty
	pos.BlockedMargin -= release
	pos.RealizedPnL += pnl
	pos.UpdatedAt = time.Now().UnixMilli()

	if pos.Quantity == 0 {
		// 逻辑删除: 清方向、清保证金基数
		pos.PositionType = TypeNone
		pos.AvgPrice = 0
		pos.BlockedMargin = 0
		pos.InitialMargin = 0
	}

	return &ApplyResult{
		MarginDelta: -release,
		RealizedPnL: pnl,
		ChangeType:  changeType,
	}, nil
}
