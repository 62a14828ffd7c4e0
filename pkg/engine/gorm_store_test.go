// 文件: pkg/engine/gorm_store_test.go
// MySQL 落账存储集成测试 (需要本地 MySQL + Redis)

package engine

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"aequitas.com/pkg/margin"
	"aequitas.com/pkg/position"
)

// =============================================================================
// 测试配置
// =============================================================================

const (
	testDSN      = "root:123456@tcp(127.0.0.1:3307)/aequitas?charset=utf8mb4&parseTime=True&loc=Local"
	testRedisURL = "localhost:6379"
)

func setupStoreDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(mysql.Open(testDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	db.AutoMigrate(&position.Position{}, &margin.Account{}, &margin.JournalRecord{})
	return db
}

func setupStoreRedis(t *testing.T) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: testRedisURL,
	})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func cleanupStoreData(db *gorm.DB, rdb *redis.Client, accountID int64) {
	db.Exec("DELETE FROM positions WHERE account_id = ?", accountID)
	db.Exec("DELETE FROM margin_accounts WHERE account_id = ?", accountID)
	rdb.Del(context.Background(), "position:8001:RELIANCE", "position:list:8001")
}

// =============================================================================
// 测试: 回滚不留缓存幽灵
// =============================================================================

// 事务内只写 MySQL，Redis 回写发生在提交之后。
// 守卫失败回滚时，缓存里不能出现未落库的持仓，
// 否则下一笔受理会从 Redis 读到幽灵状态。
func TestGormStore_RollbackLeavesNoCachePhantom(t *testing.T) {
	db := setupStoreDB(t)
	rdb := setupStoreRedis(t)
	ctx := context.Background()

	cleanupStoreData(db, rdb, 8001)
	defer cleanupStoreData(db, rdb, 8001)

	positions := position.NewCachedRepository(db, rdb)
	accounts := margin.NewMySQLAccountRepository(db)
	store := NewGormStore(db, positions, accounts)

	require.NoError(t, accounts.Create(ctx, &margin.Account{
		AccountID: 8001, Balance: 1_000_000 * rupee, Currency: "INR",
	}))

	// 账户缓存为 0，释放 4 万必然下穿 → 整个事务回滚
	pos := &position.Position{
		AccountID:     8001,
		Symbol:        "RELIANCE",
		PositionType:  position.TypeLong,
		Quantity:      50,
		AvgPrice:      2000 * rupee,
		BlockedMargin: 10_000 * rupee,
	}
	err := store.Commit(ctx, pos, -40_000*rupee, 0)
	require.ErrorIs(t, err, margin.ErrNegativeMargin)

	// MySQL 已回滚
	got, err := positions.GetByAccountAndSymbol(ctx, 8001, "RELIANCE")
	require.NoError(t, err)
	assert.Nil(t, got, "position row survived rollback")

	// Redis 里没有幽灵持仓
	exists, err := rdb.Exists(ctx, "position:8001:RELIANCE").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "rolled-back position leaked into cache")

	// 成功提交后缓存才回填
	require.NoError(t, store.Commit(ctx, pos, 10_000*rupee, 0))
	exists, err = rdb.Exists(ctx, "position:8001:RELIANCE").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	// 全平提交后缓存同步清掉
	pos.Quantity = 0
	pos.BlockedMargin = 0
	require.NoError(t, store.Commit(ctx, pos, -10_000*rupee, 0))
	exists, _ = rdb.Exists(ctx, "position:8001:RELIANCE").Result()
	assert.Zero(t, exists)
}

// =============================================================================
// 测试: 一致快照
// =============================================================================

func TestGormStore_MarginSnapshot(t *testing.T) {
	db := setupStoreDB(t)
	rdb := setupStoreRedis(t)
	ctx := context.Background()

	cleanupStoreData(db, rdb, 8001)
	defer cleanupStoreData(db, rdb, 8001)

	positions := position.NewCachedRepository(db, rdb)
	accounts := margin.NewMySQLAccountRepository(db)
	store := NewGormStore(db, positions, accounts)

	require.NoError(t, accounts.Create(ctx, &margin.Account{
		AccountID: 8001, Balance: 1_000_000 * rupee, Currency: "INR",
	}))
	require.NoError(t, store.Commit(ctx, &position.Position{
		AccountID:     8001,
		Symbol:        "RELIANCE",
		PositionType:  position.TypeLong,
		Quantity:      100,
		AvgPrice:      2000 * rupee,
		BlockedMargin: 40_000 * rupee,
	}, 40_000*rupee, 0))

	cache, trueSum, err := store.MarginSnapshot(ctx, 8001)
	require.NoError(t, err)
	assert.Equal(t, int64(40_000*rupee), cache)
	assert.Equal(t, cache, trueSum)

	_, _, err = store.MarginSnapshot(ctx, 99999999)
	require.ErrorIs(t, err, margin.ErrAccountNotFound)
}
