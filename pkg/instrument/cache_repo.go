// 文件: pkg/instrument/cache_repo.go
// 标的元数据 Redis 缓存层
//
// 【设计模式】装饰器模式 (Decorator Pattern)
// - 包装底层 Repository，透明添加缓存能力
// - 调用方无感知，只看到 Repository 接口
//
// 【缓存策略】
// - 读: 先查 Redis，miss 则查 DB 并回填
// - 写: 先写 DB，成功后删除缓存 (Cache Aside)
//
// 意图分类器对每笔订单都要读 IsShortable，这条读路径必须走缓存。

package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 确保实现了接口
var _ Repository = (*CachedRepository)(nil)

// =============================================================================
// 缓存配置
// =============================================================================

const (
	// 缓存 Key 前缀
	cacheKeyPrefix = "instrument:"

	// 单个标的: instrument:symbol:{symbol}
	cacheKeySymbol = cacheKeyPrefix + "symbol:%s"

	// 可做空列表: instrument:shortable
	cacheKeyShortableList = cacheKeyPrefix + "shortable"

	// 缓存过期时间
	cacheTTL = 24 * time.Hour

	// 列表缓存过期时间 (较短，开关可能随时调整)
	listCacheTTL = 5 * time.Minute
)

// =============================================================================
// CachedRepository - 带缓存的 Repository
// =============================================================================

// CachedRepository Redis 缓存装饰器
type CachedRepository struct {
	repo  Repository // 被装饰的底层 Repository
	redis *redis.Client
}

// NewCachedRepository 创建带缓存的 Repository
//
// 用法:
//
//	mysqlRepo := instrument.NewMySQLRepository(db)
//	cachedRepo := instrument.NewCachedRepository(mysqlRepo, redisClient)
func NewCachedRepository(repo Repository, rds *redis.Client) *CachedRepository {
	return &CachedRepository{
		repo:  repo,
		redis: rds,
	}
}

// =============================================================================
// 读操作 (带缓存)
// =============================================================================

// GetBySymbol 根据 symbol 查询 (带缓存)
func (r *CachedRepository) GetBySymbol(ctx context.Context, symbol string) (*Instrument, error) {
	cacheKey := fmt.Sprintf(cacheKeySymbol, symbol)

	// 1. 查缓存
	data, err := r.redis.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var inst Instrument
		if json.Unmarshal(data, &inst) == nil {
			return &inst, nil // Cache hit
		}
	}

	// 2. Cache miss, 查底层
	inst, err := r.repo.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	// 3. 回填缓存 (异步，不阻塞主流程)
	go r.setCache(context.Background(), cacheKey, inst, cacheTTL)

	return inst, nil
}

// List 列出所有未退市标的 (不缓存，管理后台低频调用)
func (r *CachedRepository) List(ctx context.Context) ([]*Instrument, error) {
	return r.repo.List(ctx)
}

// ListShortable 列出可做空标的 (带缓存)
func (r *CachedRepository) ListShortable(ctx context.Context) ([]*Instrument, error) {
	// 1. 查缓存
	data, err := r.redis.Get(ctx, cacheKeyShortableList).Bytes()
	if err == nil {
		var insts []*Instrument
		if json.Unmarshal(data, &insts) == nil {
			return insts, nil
		}
	}

	// 2. 查底层
	insts, err := r.repo.ListShortable(ctx)
	if err != nil {
		return nil, err
	}

	// 3. 回填
	go func() {
		if data, err := json.Marshal(insts); err == nil {
			r.redis.Set(context.Background(), cacheKeyShortableList, data, listCacheTTL)
		}
	}()

	return insts, nil
}

// =============================================================================
// 写操作 (写穿 + 删缓存)
// =============================================================================

// Create 创建标的
func (r *CachedRepository) Create(ctx context.Context, inst *Instrument) error {
	if err := r.repo.Create(ctx, inst); err != nil {
		return err
	}

	// 新标的可能影响列表缓存
	r.redis.Del(ctx, cacheKeyShortableList)
	return nil
}

// Update 更新标的
func (r *CachedRepository) Update(ctx context.Context, inst *Instrument) error {
	if err := r.repo.Update(ctx, inst); err != nil {
		return err
	}

	r.invalidate(ctx, inst.Symbol)
	return nil
}

// SetShortable 更新做空开关
func (r *CachedRepository) SetShortable(ctx context.Context, symbol string, shortable bool) error {
	if err := r.repo.SetShortable(ctx, symbol, shortable); err != nil {
		return err
	}

	r.invalidate(ctx, symbol)
	return nil
}

// Delete 删除标的
func (r *CachedRepository) Delete(ctx context.Context, symbol string) error {
	if err := r.repo.Delete(ctx, symbol); err != nil {
		return err
	}

	r.invalidate(ctx, symbol)
	return nil
}

// =============================================================================
// 缓存操作
// =============================================================================

// setCache 设置缓存
func (r *CachedRepository) setCache(ctx context.Context, key string, inst *Instrument, ttl time.Duration) {
	data, err := json.Marshal(inst)
	if err != nil {
		return
	}
	r.redis.Set(ctx, key, data, ttl)
}

// invalidate 删除指定标的的缓存
func (r *CachedRepository) invalidate(ctx context.Context, symbol string) {
	r.redis.Del(ctx, fmt.Sprintf(cacheKeySymbol, symbol))
	r.redis.Del(ctx, cacheKeyShortableList)
}
