// 文件: pkg/engine/gorm_store.go
// MySQL 落账存储
//
// 持仓写入与账户缓存增量放在同一个 DB 事务里:
// ApplyDelta 的负值守卫失败时整个事务回滚，持仓不会落下半笔。

package engine

import (
	"context"

	"gorm.io/gorm"

	"aequitas.com/pkg/margin"
	"aequitas.com/pkg/position"
)

// GormStore 基于 GORM 事务的原子落账
type GormStore struct {
	db        *gorm.DB
	positions *position.CachedRepository
	accounts  *margin.MySQLAccountRepository
}

var (
	_ Store                 = (*GormStore)(nil)
	_ margin.SnapshotReader = (*GormStore)(nil)
)

func NewGormStore(db *gorm.DB, positions *position.CachedRepository, accounts *margin.MySQLAccountRepository) *GormStore {
	return &GormStore{db: db, positions: positions, accounts: accounts}
}

// Commit 原子提交持仓 + 账户缓存增量
//
// 事务内只写 MySQL。Redis 在提交成功后才回写 (Refresh):
// 守卫失败回滚时缓存里不会残留未落库的持仓。
func (s *GormStore) Commit(ctx context.Context, pos *position.Position, marginDelta, realizedPnL int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txPositions := s.positions.WithDB(tx)
		txAccounts := s.accounts.WithDB(tx)

		if err := txPositions.Save(ctx, pos); err != nil {
			return err
		}

		if marginDelta != 0 {
			if err := txAccounts.ApplyDelta(ctx, pos.AccountID, marginDelta); err != nil {
				return err // ErrNegativeMargin 在这里整体回滚
			}
		}

		if realizedPnL != 0 {
			if err := txAccounts.AddRealizedPnL(ctx, pos.AccountID, realizedPnL); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.positions.Refresh(ctx, pos)
	return nil
}

// MarginSnapshot 在同一事务里读账户缓存值和持仓聚合值
// 对账器用: 两个读落在不同语句会被并发落账撕裂
func (s *GormStore) MarginSnapshot(ctx context.Context, accountID int64) (cache, trueSum int64, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := s.accounts.WithDB(tx).GetByAccountID(ctx, accountID)
		if err != nil {
			return err
		}
		if acct == nil {
			return margin.ErrAccountNotFound
		}
		cache = acct.BlockedMargin

		trueSum, err = s.positions.WithDB(tx).SumBlockedMargin(ctx, accountID)
		return err
	})
	return cache, trueSum, err
}
