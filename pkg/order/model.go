// 文件: pkg/order/model.go
// 订单模型
//
// 此引擎不做撮合: 订单由外部执行层成交，这里只负责
// 受理时的意图判定、账务落账和状态记录。

package order

import "time"

// =============================================================================
// 订单方向
// =============================================================================

type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// =============================================================================
// 订单意图
// =============================================================================

// Intent 订单意图: 开/平 × 多/空
//
// 【不变式】受理时判定一次，永不重算。
// 历史订单的意图不随后续持仓变化回改 (append-only)。
type Intent int8

const (
	IntentUnknown    Intent = iota
	IntentOpenLong          // 开多 / 加多
	IntentCloseLong         // 平多
	IntentOpenShort         // 开空 / 加空
	IntentCloseShort        // 平空 (买入回补)
)

func (i Intent) String() string {
	switch i {
	case IntentOpenLong:
		return "OPEN_LONG"
	case IntentCloseLong:
		return "CLOSE_LONG"
	case IntentOpenShort:
		return "OPEN_SHORT"
	case IntentCloseShort:
		return "CLOSE_SHORT"
	}
	return "UNKNOWN"
}

// IsOpen 是否为开仓意图
func (i Intent) IsOpen() bool {
	return i == IntentOpenLong || i == IntentOpenShort
}

// IsClose 是否为平仓意图
func (i Intent) IsClose() bool {
	return i == IntentCloseLong || i == IntentCloseShort
}

// =============================================================================
// 订单状态
// =============================================================================

type Status int8

const (
	StatusNew      Status = iota // 已受理
	StatusFilled                 // 已落账
	StatusRejected               // 已拒绝
	StatusCanceled               // 已撤销
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusFilled:
		return "FILLED"
	case StatusRejected:
		return "REJECTED"
	case StatusCanceled:
		return "CANCELED"
	}
	return "UNKNOWN"
}

// =============================================================================
// Order - 订单结构
// =============================================================================

type Order struct {
	ID      uint  `gorm:"primaryKey;autoIncrement"`
	OrderID int64 `gorm:"column:order_id;uniqueIndex"` // 雪花ID

	AccountID int64  `gorm:"column:account_id;index"`
	Symbol    string `gorm:"column:symbol;type:varchar(32);index"`

	Side   Side   `gorm:"column:side"`
	Intent Intent `gorm:"column:intent"` // 受理时固化，只写一次

	Quantity int64 `gorm:"column:quantity"` // 股数
	Price    int64 `gorm:"column:price"`    // 成交价 (定点数)

	// MarginPerUnit 单位保证金 (定点数)
	// 由外部 价格/保证金提供方 随订单给出，本引擎不计算保证金公式
	MarginPerUnit int64 `gorm:"column:margin_per_unit"`

	Status Status `gorm:"column:status"`
	Reason string `gorm:"column:reason;type:varchar(128)"` // 拒绝原因

	CreatedAt int64 `gorm:"column:created_at"`
	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// RequiredMargin 本笔订单需要的增量保证金
func (o *Order) RequiredMargin() int64 {
	return o.MarginPerUnit * o.Quantity
}

// Notional 订单名义价值
func (o *Order) Notional() int64 {
	return o.Price * o.Quantity
}

// NewOrder 构造一笔待受理订单
func NewOrder(accountID int64, symbol string, side Side, qty, price, marginPerUnit int64) *Order {
	now := time.Now().UnixMilli()
	return &Order{
		OrderID:       GenerateOrderID(),
		AccountID:     accountID,
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty,
		Price:         price,
		MarginPerUnit: marginPerUnit,
		Status:        StatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
