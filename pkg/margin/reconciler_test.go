// 文件: pkg/margin/reconciler_test.go
// 保证金对账器测试

package margin_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aequitas.com/pkg/engine"
	"aequitas.com/pkg/margin"
	"aequitas.com/pkg/position"
)

const rupee int64 = 100_000_000

func seedReconcilerEnv(t *testing.T, blockedCache int64, ledgerMargins ...int64) (*margin.Reconciler, *engine.MemoryAccountRepo, *engine.MemoryPositionRepo) {
	t.Helper()
	ctx := context.Background()

	accounts := engine.NewMemoryAccountRepo()
	positions := engine.NewMemoryPositionRepo()

	require.NoError(t, accounts.Create(ctx, &margin.Account{AccountID: 1001, Balance: 1_000_000 * rupee}))
	accounts.SetBlockedMargin(1001, blockedCache)

	symbols := []string{"RELIANCE", "TCS", "INFY", "HDFC"}
	for i, blocked := range ledgerMargins {
		require.NoError(t, positions.Save(ctx, &position.Position{
			AccountID:     1001,
			Symbol:        symbols[i],
			PositionType:  position.TypeLong,
			Quantity:      10,
			AvgPrice:      2000 * rupee,
			BlockedMargin: blocked,
		}))
	}

	return margin.NewReconciler(accounts, positions), accounts, positions
}

func TestReconciler_SyncedWithinEpsilon(t *testing.T) {
	// 账本 500 + 250 = 750，缓存恰好一致
	r, accounts, _ := seedReconcilerEnv(t, 750*rupee, 500*rupee, 250*rupee)

	report, err := r.Reconcile(context.Background(), 1001)
	require.NoError(t, err)
	assert.True(t, report.Synced)
	assert.False(t, report.Corrected)
	assert.Equal(t, int64(750*rupee), report.TrueSum)

	// 一致时不写缓存
	acct, _ := accounts.GetByAccountID(context.Background(), 1001)
	assert.Equal(t, int64(750*rupee), acct.BlockedMargin)

	// 容差内的尾差同样视为一致
	accounts.SetBlockedMargin(1001, 750*rupee+margin.Epsilon)
	report, err = r.Reconcile(context.Background(), 1001)
	require.NoError(t, err)
	assert.True(t, report.Synced)
}

func TestReconciler_RepairsStaleCache(t *testing.T) {
	// 典型事故现场: 缓存停在 0，账本实际占用 750
	r, accounts, _ := seedReconcilerEnv(t, 0, 500*rupee, 250*rupee)

	report, err := r.Reconcile(context.Background(), 1001)
	require.NoError(t, err)
	assert.False(t, report.Synced)
	assert.True(t, report.Corrected)
	assert.Equal(t, int64(0), report.PriorCache)
	assert.Equal(t, int64(750*rupee), report.TrueSum)
	assert.Equal(t, int64(750*rupee), report.Drift())

	acct, _ := accounts.GetByAccountID(context.Background(), 1001)
	assert.Equal(t, int64(750*rupee), acct.BlockedMargin)
}

func TestReconciler_RepairsInflatedCache(t *testing.T) {
	// 缓存虚高也要纠回账本真值
	r, accounts, _ := seedReconcilerEnv(t, 9_999*rupee, 500*rupee)

	report, err := r.Reconcile(context.Background(), 1001)
	require.NoError(t, err)
	assert.True(t, report.Corrected)

	acct, _ := accounts.GetByAccountID(context.Background(), 1001)
	assert.Equal(t, int64(500*rupee), acct.BlockedMargin)
}

// casConflictRepo 第一次 CAS 强制失败，模拟并发落账抢写
type casConflictRepo struct {
	margin.AccountRepository
	failures int
}

func (r *casConflictRepo) CompareAndSetBlockedMargin(ctx context.Context, accountID int64, observed, corrected int64) (bool, error) {
	if r.failures > 0 {
		r.failures--
		return false, nil
	}
	return r.AccountRepository.CompareAndSetBlockedMargin(ctx, accountID, observed, corrected)
}

func TestReconciler_RetriesOnCASConflict(t *testing.T) {
	_, accounts, positions := seedReconcilerEnv(t, 0, 500*rupee)

	conflict := &casConflictRepo{AccountRepository: accounts, failures: 2}
	r := margin.NewReconciler(conflict, positions)

	report, err := r.Reconcile(context.Background(), 1001)
	require.NoError(t, err)
	assert.True(t, report.Corrected)

	acct, _ := accounts.GetByAccountID(context.Background(), 1001)
	assert.Equal(t, int64(500*rupee), acct.BlockedMargin)
}

// 落账先改账户再写持仓，对账器若分两次读两边，
// 会在中间拿到撕裂的 (cache, trueSum) 并把刚落的合法增量当漂移纠掉。
// 走 MarginSnapshot 一致快照后，落账期间对账永远读到成对的值。
func TestReconciler_SnapshotDoesNotClobberConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	accounts := engine.NewMemoryAccountRepo()
	positions := engine.NewMemoryPositionRepo()
	store := engine.NewMemoryStore(positions, accounts)

	require.NoError(t, accounts.Create(ctx, &margin.Account{AccountID: 1001, Balance: 1_000_000 * rupee}))

	r := margin.NewReconciler(accounts, positions)
	r.SetSnapshotReader(store)

	stop := make(chan struct{})
	var corrected atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			report, err := r.Reconcile(ctx, 1001)
			if err == nil && report.Corrected {
				corrected.Add(1)
			}
		}
	}()

	// 每笔 +10 远超容差: 一旦读到撕裂快照就会触发纠偏
	const commits = 400
	pos := &position.Position{
		AccountID:    1001,
		Symbol:       "RELIANCE",
		PositionType: position.TypeLong,
		AvgPrice:     2000 * rupee,
	}
	for i := 0; i < commits; i++ {
		pos.Quantity++
		pos.BlockedMargin += 10 * rupee
		require.NoError(t, store.Commit(ctx, pos, 10*rupee, 0))
	}
	close(stop)
	wg.Wait()

	want := int64(commits) * 10 * rupee
	acct, err := accounts.GetByAccountID(ctx, 1001)
	require.NoError(t, err)
	trueSum, err := positions.SumBlockedMargin(ctx, 1001)
	require.NoError(t, err)

	assert.Equal(t, want, acct.BlockedMargin, "cache lost a committed delta")
	assert.Equal(t, want, trueSum)
	assert.Zero(t, corrected.Load(), "reconciler corrected a non-drifted account")
}

func TestReconciler_MissingAccount(t *testing.T) {
	r, _, _ := seedReconcilerEnv(t, 0)

	_, err := r.Reconcile(context.Background(), 9999)
	require.ErrorIs(t, err, margin.ErrAccountNotFound)
}

func TestReconciler_ReconcileAllContinuesOnError(t *testing.T) {
	r, accounts, _ := seedReconcilerEnv(t, 0, 500*rupee)

	// 第二个账户一致
	require.NoError(t, accounts.Create(context.Background(), &margin.Account{AccountID: 1002}))

	// 9999 不存在: 单账户失败不中断整批
	reports, err := r.ReconcileAll(context.Background(), []int64{1001, 9999, 1002})
	assert.Error(t, err)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Corrected)
	assert.True(t, reports[1].Synced)
}
