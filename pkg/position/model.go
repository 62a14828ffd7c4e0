// 文件: pkg/position/model.go
// 持仓数据结构
//
// 【存储策略】
// - 主存储: MySQL (持久化)
// - 缓存: Redis (查询加速)
// - 账户保证金聚合: 由 margin 包维护，此处只存单仓位字段

package position

import "time"

// =============================================================================
// 持仓方向
// =============================================================================

// Type 持仓方向
//
// 【不变式】Quantity > 0 时方向必须有值 (Long/Short)；
// Quantity == 0 的持仓是逻辑删除状态，方向清零 (TypeNone)，
// 绝不允许落库一条"有数量无方向"或"无数量有方向"的记录。
type Type int8

const (
	TypeNone  Type = 0  // 空仓 (仅在内存中短暂存在)
	TypeLong  Type = 1  // 多头
	TypeShort Type = -1 // 空头
)

func (t Type) String() string {
	switch t {
	case TypeLong:
		return "LONG"
	case TypeShort:
		return "SHORT"
	}
	return "NONE"
}

// =============================================================================
// 保证金状态
// =============================================================================

// MarginStatus 保证金健康状态
// 由外部风控评估器写入，账务引擎只负责保留，不参与计算
type MarginStatus int8

const (
	MarginOK        MarginStatus = iota // 正常
	MarginCall                          // 追保
	MarginLiquidate                     // 待强平
)

func (s MarginStatus) String() string {
	switch s {
	case MarginOK:
		return "OK"
	case MarginCall:
		return "CALL"
	case MarginLiquidate:
		return "LIQUIDATE"
	}
	return "UNKNOWN"
}

// =============================================================================
// Position - 用户持仓
// =============================================================================

// Position 用户在某标的上的持仓
//
// 【关键概念区分】
// - BlockedMargin: 当前占用的保证金，随加仓/减仓增减，平仓归零
// - InitialMargin: 开仓时点占用的保证金，风控健康度检查的分母
// - RealizedPnL: 只有平仓/减仓时才产生，存DB累计
type Position struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	AccountID int64  `gorm:"column:account_id;index:idx_account_symbol,unique"`
	Symbol    string `gorm:"column:symbol;type:varchar(32);index:idx_account_symbol,unique"`

	// ===== 持仓状态 =====
	// Quantity 恒为非负，方向由 PositionType 表示
	Quantity     int64 `gorm:"column:quantity"`
	PositionType Type  `gorm:"column:position_type"`
	AvgPrice     int64 `gorm:"column:avg_price"` // 成交量加权开仓均价 (定点数)

	// ===== 保证金 =====
	BlockedMargin int64        `gorm:"column:blocked_margin"`
	InitialMargin int64        `gorm:"column:initial_margin"`
	MarginStatus  MarginStatus `gorm:"column:margin_status"`

	// ===== 已实现盈亏 =====
	// 例: 多头 100股@2000, 平 50股@2200
	//     → RealizedPnL += (2200-2000)*50 = 10000
	RealizedPnL int64 `gorm:"column:realized_pnl"`

	CreatedAt int64 `gorm:"column:created_at"`
	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// IsEmpty 是否无持仓
func (p *Position) IsEmpty() bool {
	return p.Quantity == 0
}

// Validate 检查持仓不变式
// quantity == 0 ⇔ positionType 未设置 ∧ blockedMargin == 0
func (p *Position) Validate() bool {
	if p.Quantity == 0 {
		return p.PositionType == TypeNone && p.BlockedMargin == 0
	}
	return p.Quantity > 0 && p.PositionType != TypeNone && p.BlockedMargin >= 0
}

// UnrealizedPnL 未实现盈亏 (随价格实时变化，不落库)
func (p *Position) UnrealizedPnL(markPrice int64) int64 {
	if p.Quantity == 0 {
		return 0
	}
	if p.PositionType == TypeShort {
		return (p.AvgPrice - markPrice) * p.Quantity
	}
	return (markPrice - p.AvgPrice) * p.Quantity
}

// =============================================================================
// 持仓变更事件 (通知下游: 风控/审计)
// =============================================================================

// NATS Subject
const (
	// SubjectChanged 持仓变更事件
	SubjectChanged = "position.changed"
)

type ChangeType int8

const (
	ChangeOpen   ChangeType = iota // 新开仓
	ChangeAdd                      // 加仓
	ChangeReduce                   // 减仓
	ChangeClose                    // 平仓
)

func (t ChangeType) String() string {
	switch t {
	case ChangeOpen:
		return "OPEN"
	case ChangeAdd:
		return "ADD"
	case ChangeReduce:
		return "REDUCE"
	case ChangeClose:
		return "CLOSE"
	}
	return "UNKNOWN"
}

// ChangedEvent 持仓变更事件
// 发布到 NATS，供风控评估器更新内存索引
type ChangedEvent struct {
	AccountID  int64      `json:"account_id"`
	Symbol     string     `json:"symbol"`
	ChangeType ChangeType `json:"change_type"`

	// 变更后状态
	Quantity      int64 `json:"quantity"`
	PositionType  Type  `json:"position_type"`
	AvgPrice      int64 `json:"avg_price"`
	BlockedMargin int64 `json:"blocked_margin"`

	// 本次变更的保证金增量 (开仓为正，平仓为负)
	MarginDelta int64 `json:"margin_delta"`

	Timestamp int64 `json:"timestamp"`
}

// NewChangedEvent 从 Position 创建事件
func NewChangedEvent(pos *Position, changeType ChangeType, marginDelta int64) *ChangedEvent {
	return &ChangedEvent{
		AccountID:     pos.AccountID,
		Symbol:        pos.Symbol,
		ChangeType:    changeType,
		Quantity:      pos.Quantity,
		PositionType:  pos.PositionType,
		AvgPrice:      pos.AvgPrice,
		BlockedMargin: pos.BlockedMargin,
		MarginDelta:   marginDelta,
		Timestamp:     time.Now().UnixMilli(),
	}
}
