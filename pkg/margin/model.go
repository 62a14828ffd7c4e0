// 文件: pkg/margin/model.go
// 账户保证金模块 - 数据模型与事件定义
//
// Account.BlockedMargin 是全账户占用保证金的反范式缓存:
// 读路径 (余额检查/风控) 直接读缓存，不做全表聚合；
// 写路径只接受账本产生的增量 (原子加减) 或对账器的纠偏写。
// 缓存随时间漂移的兜底由 Reconciler 负责。

package margin

import (
	"encoding/json"
	"strconv"
	"time"
)

// =============================================================================
// 常量定义
// =============================================================================

// Kafka Topic
const (
	// TopicMarginJournal 保证金流水事件 (审计落库)
	TopicMarginJournal = "margin_journal_events"
)

// NATS Subject
const (
	// SubjectReconciled 对账完成事件 (含漂移纠偏详情)
	SubjectReconciled = "margin.reconciled"
)

// ChangeType 保证金变更类型
type ChangeType uint8

const (
	ChangeBlock   ChangeType = 1 // 占用 (开仓)
	ChangeRelease ChangeType = 2 // 释放 (平仓)
	ChangeCorrect ChangeType = 3 // 对账纠偏
	ChangePnL     ChangeType = 4 // 已实现盈亏入账
)

func (t ChangeType) String() string {
	switch t {
	case ChangeBlock:
		return "BLOCK"
	case ChangeRelease:
		return "RELEASE"
	case ChangeCorrect:
		return "CORRECT"
	case ChangePnL:
		return "PNL"
	default:
		return "UNKNOWN"
	}
}

// =============================================================================
// Account - 账户保证金缓存
// =============================================================================

// Account 账户资金与保证金聚合
//
// 【不变式】任何静止时刻 (无在途订单):
//
//	BlockedMargin == Σ 该账户非空持仓的 blocked_margin
//
// 这是本引擎的核心不变式，破坏它意味着资金风险口径失真。
type Account struct {
	ID        uint  `gorm:"primaryKey;autoIncrement"`
	AccountID int64 `gorm:"column:account_id;uniqueIndex"`

	Balance       int64 `gorm:"column:balance"`        // 账户权益 (定点数)
	BlockedMargin int64 `gorm:"column:blocked_margin"` // 占用保证金缓存
	RealizedPnL   int64 `gorm:"column:realized_pnl"`   // 累计已实现盈亏

	Currency string `gorm:"column:currency;type:varchar(8)"`

	CreatedAt int64 `gorm:"column:created_at"`
	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (Account) TableName() string {
	return "margin_accounts"
}

// Available 可用(未占用)保证金
func (a *Account) Available() int64 {
	return a.Balance - a.BlockedMargin
}

// =============================================================================
// 流水事件 (Kafka → MySQL 审计)
// =============================================================================

// JournalEvent 保证金流水事件
// 每次保证金变动都会产生一条流水，EventID 作为幂等键防重复消费
type JournalEvent struct {
	// ===== 唯一标识 =====
	EventID string `json:"event_id"` // 幂等键 (格式: {type}_{orderID}_{account})

	// ===== 账户信息 =====
	AccountID int64  `json:"account_id"`
	Symbol    string `json:"symbol"`

	// ===== 变更信息 =====
	ChangeType ChangeType `json:"change_type"`
	Amount     int64      `json:"amount"` // 变动金额 (正数)

	// ===== 变更前后缓存值 =====
	BlockedBefore int64 `json:"blocked_before"`
	BlockedAfter  int64 `json:"blocked_after"`

	// ===== 关联业务 =====
	OrderID int64 `json:"order_id"` // 0 表示对账纠偏

	CreatedAt time.Time `json:"created_at"`
}

// ToJSON 序列化为 JSON (供 Kafka 发送)
func (e *JournalEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON 从 JSON 反序列化
func (e *JournalEvent) FromJSON(data []byte) error {
	return json.Unmarshal(data, e)
}

// Topic 实现 kafka.Message 接口
func (e *JournalEvent) Topic() string {
	return TopicMarginJournal
}

// Key 分区 key: 同账户事件保序
func (e *JournalEvent) Key() string {
	return strconv.FormatInt(e.AccountID, 10)
}

// Value 实现 kafka.Message 接口
func (e *JournalEvent) Value() ([]byte, error) {
	return e.ToJSON()
}

// =============================================================================
// 数据库模型
// =============================================================================

// JournalRecord MySQL 流水表记录
type JournalRecord struct {
	ID            int64      `gorm:"primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;uniqueIndex"`
	AccountID     int64      `gorm:"column:account_id;index"`
	Symbol        string     `gorm:"column:symbol;type:varchar(32)"`
	ChangeType    ChangeType `gorm:"column:change_type"`
	Amount        int64      `gorm:"column:amount"`
	BlockedBefore int64      `gorm:"column:blocked_before"`
	BlockedAfter  int64      `gorm:"column:blocked_after"`
	OrderID       int64      `gorm:"column:order_id"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
}

func (JournalRecord) TableName() string {
	return "margin_journals"
}
