// 文件: pkg/instrument/model.go
// 标的(股票)元数据定义
//
// 设计目标:
// 1. 引擎只读: 标的由外部管理后台维护，账务引擎只消费 IsShortable / 状态
// 2. 零分配: 创建后不可变，安全共享
// 3. 金额字段全部用 int64 定点数，杜绝浮点精度问题

package instrument

// =============================================================================
// 精度常量
// =============================================================================

const (
	// Precision 金额精度因子
	// 所有金额存储为 int64，乘以 10^8
	// 例: ₹2000.50 = 200_050_000_000
	Precision = 100_000_000
)

// =============================================================================
// 标的状态
// =============================================================================

// Status 标的状态
type Status int8

const (
	StatusPending  Status = iota // 待上线
	StatusActive                 // 可交易
	StatusHalted                 // 停牌
	StatusDelisted               // 已退市
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusActive:
		return "ACTIVE"
	case StatusHalted:
		return "HALTED"
	case StatusDelisted:
		return "DELISTED"
	default:
		return "UNKNOWN"
	}
}

// =============================================================================
// Instrument - 标的元数据 (核心结构)
// =============================================================================

// Instrument 标的元数据
//
// 【关键字段】IsShortable
// 默认 false，只有白名单标的可以开空仓。
// 意图分类器在 OPEN_SHORT 时检查此开关。
type Instrument struct {
	// ===== 主键 =====
	ID uint `gorm:"primaryKey;autoIncrement"`

	// ===== 标识 =====
	Symbol   string `gorm:"column:symbol;type:varchar(32);uniqueIndex"`
	Name     string `gorm:"column:name;type:varchar(128)"`
	Exchange string `gorm:"column:exchange;type:varchar(16)"`

	// ===== 交易规则 =====
	LotSize  int64 `gorm:"column:lot_size"`  // 最小交易单位 (股)
	TickSize int64 `gorm:"column:tick_size"` // 最小价格变动 (定点数)

	// ===== 做空开关 =====
	IsShortable bool `gorm:"column:is_shortable;default:false"`

	// ===== 状态 =====
	Status Status `gorm:"column:status"`

	CreatedAt int64 `gorm:"column:created_at"`
	UpdatedAt int64 `gorm:"column:updated_at"`
}

// TableName GORM 表名
func (Instrument) TableName() string {
	return "instruments"
}

// IsTradable 是否可交易
func (i *Instrument) IsTradable() bool {
	return i.Status == StatusActive
}
