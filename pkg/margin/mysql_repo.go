// 文件: pkg/margin/mysql_repo.go
// 账户保证金仓库 (GORM 实现)
//
// 【并发设计】
// 同账户不同标的的落账可以并发进行，保证金增量通过
// "blocked_margin = blocked_margin + ?" 的原子 SQL 累加汇入缓存，
// 永远不做 读-改-写，并发增量不会互相覆盖。

package margin

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound     = errors.New("margin account not found")
	ErrNegativeMargin      = errors.New("blocked margin would go negative")
	ErrInsufficientBalance = errors.New("blocked margin would exceed balance")
)

var _ AccountRepository = (*MySQLAccountRepository)(nil)

// MySQLAccountRepository 账户保证金仓库
type MySQLAccountRepository struct {
	db *gorm.DB
}

// NewMySQLAccountRepository 创建仓库
func NewMySQLAccountRepository(db *gorm.DB) *MySQLAccountRepository {
	return &MySQLAccountRepository{db: db}
}

// WithDB 返回使用指定 DB 连接的浅拷贝 (事务作用域用)
func (r *MySQLAccountRepository) WithDB(db *gorm.DB) *MySQLAccountRepository {
	return &MySQLAccountRepository{db: db}
}

// =============================================================================
// 账户操作
// =============================================================================

// GetByAccountID 查询账户
func (r *MySQLAccountRepository) GetByAccountID(ctx context.Context, accountID int64) (*Account, error) {
	var acct Account
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&acct).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Create 开户
func (r *MySQLAccountRepository) Create(ctx context.Context, acct *Account) error {
	now := time.Now().UnixMilli()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	if acct.Currency == "" {
		acct.Currency = "INR"
	}
	// 开户即零保证金，不信任调用方传入的缓存值
	acct.BlockedMargin = 0
	return r.db.WithContext(ctx).Create(acct).Error
}

// ApplyDelta 原子加减占用保证金
//
// WHERE 条件带双向守卫，失败时 RowsAffected == 0:
//   - 下界: delta 为负且会下穿 0 (释放超发)
//   - 上界: delta 为正且占用会超过余额。引擎的闲余预检在账户级串行化之外，
//     同账户不同标的的并发开仓可能同时通过预检，上界守卫兜住联合超占
//
// 区分失败原因需要二次查询，只在失败路径发生。
// 负 delta 不做上界检查: 漂移状态下释放必须永远可行。
func (r *MySQLAccountRepository) ApplyDelta(ctx context.Context, accountID int64, delta int64) error {
	query := r.db.WithContext(ctx).Model(&Account{})
	if delta > 0 {
		query = query.Where("account_id = ? AND blocked_margin + ? <= balance", accountID, delta)
	} else {
		query = query.Where("account_id = ? AND blocked_margin + ? >= 0", accountID, delta)
	}

	result := query.Updates(map[string]interface{}{
		"blocked_margin": gorm.Expr("blocked_margin + ?", delta),
		"updated_at":     time.Now().UnixMilli(),
	})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		acct, err := r.GetByAccountID(ctx, accountID)
		if err != nil {
			return err
		}
		if acct == nil {
			return ErrAccountNotFound
		}
		if delta > 0 {
			return ErrInsufficientBalance
		}
		return ErrNegativeMargin
	}
	return nil
}

// AddRealizedPnL 累加已实现盈亏
// 盈亏同时计入权益: 平仓赚的钱立刻可用
func (r *MySQLAccountRepository) AddRealizedPnL(ctx context.Context, accountID int64, pnl int64) error {
	result := r.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"realized_pnl": gorm.Expr("realized_pnl + ?", pnl),
			"balance":      gorm.Expr("balance + ?", pnl),
			"updated_at":   time.Now().UnixMilli(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// AddBalance 入金/出金
func (r *MySQLAccountRepository) AddBalance(ctx context.Context, accountID int64, amount int64) error {
	result := r.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND balance + ? >= 0", accountID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now().UnixMilli(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// CompareAndSetBlockedMargin 对账纠偏 CAS 写
//
// 纠偏必须以"对账时观察到的值"为前提条件，
// 否则会把对账期间合法落账的并发增量冲掉。
func (r *MySQLAccountRepository) CompareAndSetBlockedMargin(
	ctx context.Context,
	accountID int64,
	observed, corrected int64,
) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND blocked_margin = ?", accountID, observed).
		Updates(map[string]interface{}{
			"blocked_margin": corrected,
			"updated_at":     time.Now().UnixMilli(),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// =============================================================================
// 流水操作
// =============================================================================

// InsertJournal 插入流水 (幂等)
func (r *MySQLAccountRepository) InsertJournal(ctx context.Context, event *JournalEvent) error {
	record := &JournalRecord{
		EventID:       event.EventID,
		AccountID:     event.AccountID,
		Symbol:        event.Symbol,
		ChangeType:    event.ChangeType,
		Amount:        event.Amount,
		BlockedBefore: event.BlockedBefore,
		BlockedAfter:  event.BlockedAfter,
		OrderID:       event.OrderID,
		CreatedAt:     event.CreatedAt,
	}

	// INSERT IGNORE 效果: 重复消费同一 EventID 时静默跳过
	return r.db.WithContext(ctx).
		Clauses(clause.Insert{Modifier: "IGNORE"}).
		Create(record).Error
}

// ListJournals 查询账户流水列表
func (r *MySQLAccountRepository) ListJournals(
	ctx context.Context,
	accountID int64,
	limit, offset int,
) ([]*JournalRecord, error) {
	var records []*JournalRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	return records, err
}

// =============================================================================
// 批量流水 (审计写入器用)
// =============================================================================

// BatchInsertJournals 批量插入流水 (幂等)
func (r *MySQLAccountRepository) BatchInsertJournals(ctx context.Context, events []*JournalEvent) error {
	if len(events) == 0 {
		return nil
	}

	records := make([]*JournalRecord, 0, len(events))
	for _, e := range events {
		records = append(records, &JournalRecord{
			EventID:       e.EventID,
			AccountID:     e.AccountID,
			Symbol:        e.Symbol,
			ChangeType:    e.ChangeType,
			Amount:        e.Amount,
			BlockedBefore: e.BlockedBefore,
			BlockedAfter:  e.BlockedAfter,
			OrderID:       e.OrderID,
			CreatedAt:     e.CreatedAt,
		})
	}

	return r.db.WithContext(ctx).
		Clauses(clause.Insert{Modifier: "IGNORE"}).
		CreateInBatches(records, 100). // 每批 100 条
		Error
}

// =============================================================================
// 事务支持
// =============================================================================

// Transaction 执行事务
func (r *MySQLAccountRepository) Transaction(ctx context.Context, fn func(tx *MySQLAccountRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithDB(tx))
	})
}
