// 文件: pkg/margin/repository.go
// 账户保证金存储接口
package margin

import "context"

type AccountRepository interface {
	// GetByAccountID 查询账户；不存在返回 (nil, nil)
	GetByAccountID(ctx context.Context, accountID int64) (*Account, error)

	// Create 开户 (保证金缓存从 0 起步)
	Create(ctx context.Context, acct *Account) error

	// ApplyDelta 原子加减占用保证金
	// 结果为负时整条更新不生效，返回 ErrNegativeMargin
	// (缓存下穿意味着账本或缓存已损坏，需要立刻对账)
	ApplyDelta(ctx context.Context, accountID int64, delta int64) error

	// AddRealizedPnL 累加已实现盈亏并计入权益 (原子)
	AddRealizedPnL(ctx context.Context, accountID int64, pnl int64) error

	// AddBalance 入金/出金 (原子，出金传负数)
	AddBalance(ctx context.Context, accountID int64, amount int64) error

	// CompareAndSetBlockedMargin 对账纠偏专用 CAS 写
	// 只有当前缓存值仍等于 observed 时才覆写为 corrected，
	// 返回是否写成功；失败说明有并发增量落在中间，调用方重读重试
	CompareAndSetBlockedMargin(ctx context.Context, accountID int64, observed, corrected int64) (bool, error)

	// InsertJournal 插入保证金流水 (幂等，EventID 去重)
	InsertJournal(ctx context.Context, event *JournalEvent) error

	// ListJournals 查询账户流水
	ListJournals(ctx context.Context, accountID int64, limit, offset int) ([]*JournalRecord, error)
}
