// 文件: pkg/position/cached_repo.go
// 持仓存储层 (Redis 缓存 + MySQL 持久化)

package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// =============================================================================
// Redis Key
// =============================================================================

const (
	// position:{accountID}:{symbol}
	positionKeyPattern = "position:%d:%s"
	// position:list:{accountID}
	positionListKeyPattern = "position:list:%d"

	positionCacheTTL = 24 * time.Hour
)

func positionKey(accountID int64, symbol string) string {
	return fmt.Sprintf(positionKeyPattern, accountID, symbol)
}

func positionListKey(accountID int64) string {
	return fmt.Sprintf(positionListKeyPattern, accountID)
}

// =============================================================================
// 实现
// =============================================================================

var _ Repository = (*CachedRepository)(nil)

type CachedRepository struct {
	db    *gorm.DB
	redis *redis.Client

	// tx 作用域内不碰 Redis: 事务还没提交，缓存一旦写入就无法回滚，
	// 回滚后读到的就是幽灵持仓。提交后由 Store 调 Refresh 回写
	txScoped bool
}

func NewCachedRepository(db *gorm.DB, rds *redis.Client) *CachedRepository {
	return &CachedRepository{db: db, redis: rds}
}

// WithDB 返回使用指定 DB 连接的浅拷贝 (tx 作用域)
// 拷贝只写 MySQL，Redis 留给事务提交后的 Refresh
func (r *CachedRepository) WithDB(db *gorm.DB) *CachedRepository {
	return &CachedRepository{db: db, redis: r.redis, txScoped: true}
}

// GetByAccountAndSymbol 获取单个持仓
// 无持仓返回 (nil, nil)
func (r *CachedRepository) GetByAccountAndSymbol(ctx context.Context, accountID int64, symbol string) (*Position, error) {
	key := positionKey(accountID, symbol)

	// 1. 查 Redis
	data, err := r.redis.Get(ctx, key).Bytes()
	if err == nil {
		var pos Position
		if json.Unmarshal(data, &pos) == nil {
			return &pos, nil
		}
	}

	// 2. 查 DB
	var pos Position
	err = r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // 无持仓
		}
		return nil, err
	}

	// 3. 回填 Redis
	go r.cachePosition(context.Background(), &pos)

	return &pos, nil
}

// GetByAccount 获取账户所有非空持仓
func (r *CachedRepository) GetByAccount(ctx context.Context, accountID int64) ([]*Position, error) {
	var positions []*Position
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND quantity > 0", accountID).
		Find(&positions).Error
	return positions, err
}

// SumBlockedMargin 聚合账户占用保证金 (对账权威值)
// 空持仓 blocked_margin 恒为 0，无需额外过滤
func (r *CachedRepository) SumBlockedMargin(ctx context.Context, accountID int64) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&Position{}).
		Select("COALESCE(SUM(blocked_margin), 0)").
		Where("account_id = ? AND quantity > 0", accountID).
		Scan(&sum).Error
	return sum, err
}

// Save 保存持仓
// Quantity==0 的持仓逻辑删除: DB 行删掉，缓存清掉
// tx 作用域内只写 MySQL
func (r *CachedRepository) Save(ctx context.Context, pos *Position) error {
	pos.UpdatedAt = time.Now().UnixMilli()

	if pos.IsEmpty() {
		return r.Delete(ctx, pos.AccountID, pos.Symbol)
	}

	if err := r.db.WithContext(ctx).Save(pos).Error; err != nil {
		return err
	}

	if !r.txScoped {
		r.cachePosition(ctx, pos)
		r.redis.SAdd(ctx, positionListKey(pos.AccountID), pos.Symbol)
	}
	return nil
}

// Delete 删除持仓
func (r *CachedRepository) Delete(ctx context.Context, accountID int64, symbol string) error {
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		Delete(&Position{}).Error
	if err != nil {
		return err
	}

	if !r.txScoped {
		r.dropCache(ctx, accountID, symbol)
	}
	return nil
}

// Refresh 事务提交成功后回写缓存
// 提交前 Redis 不能动，提交后才知道这份持仓是最终状态
func (r *CachedRepository) Refresh(ctx context.Context, pos *Position) {
	if pos.IsEmpty() {
		r.dropCache(ctx, pos.AccountID, pos.Symbol)
		return
	}
	r.cachePosition(ctx, pos)
	r.redis.SAdd(ctx, positionListKey(pos.AccountID), pos.Symbol)
}

func (r *CachedRepository) dropCache(ctx context.Context, accountID int64, symbol string) {
	r.redis.Del(ctx, positionKey(accountID, symbol))
	r.redis.SRem(ctx, positionListKey(accountID), symbol)
}

func (r *CachedRepository) cachePosition(ctx context.Context, pos *Position) {
	key := positionKey(pos.AccountID, pos.Symbol)
	data, _ := json.Marshal(pos)
	r.redis.Set(ctx, key, data, positionCacheTTL)
}

// ListBySymbol 按标的查询所有持仓 (风控批量扫描用)
//
// 【分页设计】
// 一个标的可能有几万个持仓，必须分页查询
func (r *CachedRepository) ListBySymbol(
	ctx context.Context,
	symbol string,
	limit, offset int,
) ([]*Position, error) {
	var positions []*Position
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND quantity > 0", symbol).
		Limit(limit).
		Offset(offset).
		Find(&positions).Error

	return positions, err
}
