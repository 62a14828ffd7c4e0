// 文件: pkg/margin/reconciler.go
// 保证金对账器
//
// 【职责】
// 账户缓存 (Account.BlockedMargin) 是为读路径性能做的反范式冗余，
// 崩溃、缺陷、或从未建缓存的历史数据都会让它与持仓真值漂移。
// 对账器是系统里唯一的自愈机制:
//   trueSum = Σ 非空持仓.blocked_margin
//   |cache - trueSum| > epsilon → 以 trueSum 覆写缓存并上报
//
// 【关键约束】
// 1. 对账发现不一致不是 error，是一个被上报并已纠正的状态
// 2. 纠偏写必须 CAS (以观察到的缓存值为前提)，
//    避免把对账窗口内合法落账的并发增量冲掉
// 3. 既能后台周期扫描，也能按需对单账户手工触发

package margin

import (
	"context"
	"fmt"
	"log"
	"time"

	"aequitas.com/pkg/nats"
	"aequitas.com/pkg/position"
)

// =============================================================================
// 配置
// =============================================================================

const (
	// Epsilon 对账容差 (定点数)
	// 0.01 货币单位，吸收历史浮点数据导入的尾差
	Epsilon = 1_000_000

	// casMaxRetries CAS 纠偏最大重试次数
	// 每次失败说明有并发增量落在中间，重读快照再试
	casMaxRetries = 3
)

// =============================================================================
// Report - 对账结果
// =============================================================================

// Report 单账户对账报告
type Report struct {
	AccountID  int64 `json:"account_id"`
	Synced     bool  `json:"synced"`      // true: 缓存本来就一致
	PriorCache int64 `json:"prior_cache"` // 对账前缓存值
	TrueSum    int64 `json:"true_sum"`    // 持仓聚合真值
	Corrected  bool  `json:"corrected"`   // 是否执行了纠偏写

	Timestamp int64 `json:"timestamp"`
}

// Drift 漂移量 (真值 - 缓存)
func (r *Report) Drift() int64 {
	return r.TrueSum - r.PriorCache
}

// =============================================================================
// Reconciler - 对账器
// =============================================================================

// SnapshotReader 一致性快照读
//
// 缓存值和持仓聚合值分两条语句读会被并发落账撕裂:
// 落账先写其中一边时，对账器拿到的 (cache, trueSum) 对不上，
// 误判漂移后 CAS 纠偏会把刚落的合法增量冲掉。
// 实现方负责让两个读落在同一个事务 / 同一把锁下。
type SnapshotReader interface {
	MarginSnapshot(ctx context.Context, accountID int64) (cache, trueSum int64, err error)
}

// Reconciler 保证金对账器
type Reconciler struct {
	accounts  AccountRepository
	positions position.Repository
	epsilon   int64

	// 可选: 一致性快照。不设置时退化为两条独立读，
	// 仅适合落账已停的离线对账
	snapshots SnapshotReader

	// 可选: 漂移事件发布 (审计告警用)
	publisher *nats.Publisher

	stopCh chan struct{}
}

// NewReconciler 创建对账器
func NewReconciler(accounts AccountRepository, positions position.Repository) *Reconciler {
	return &Reconciler{
		accounts:  accounts,
		positions: positions,
		epsilon:   Epsilon,
		stopCh:    make(chan struct{}),
	}
}

// SetPublisher 设置 NATS 发布器 (可选)
func (r *Reconciler) SetPublisher(publisher *nats.Publisher) {
	r.publisher = publisher
}

// SetSnapshotReader 设置一致性快照读 (在线对账必须设置)
func (r *Reconciler) SetSnapshotReader(snapshots SnapshotReader) {
	r.snapshots = snapshots
}

// SetEpsilon 覆盖默认容差 (测试用)
func (r *Reconciler) SetEpsilon(epsilon int64) {
	r.epsilon = epsilon
}

// =============================================================================
// 单账户对账
// =============================================================================

// Reconcile 对账并纠偏单个账户
//
// 不一致不返回 error；error 只代表存储层故障。
func (r *Reconciler) Reconcile(ctx context.Context, accountID int64) (*Report, error) {
	for attempt := 0; attempt <= casMaxRetries; attempt++ {
		// 1. 读取快照 (cache, trueSum)
		cache, trueSum, err := r.readSnapshot(ctx, accountID)
		if err != nil {
			return nil, err
		}

		report := &Report{
			AccountID:  accountID,
			PriorCache: cache,
			TrueSum:    trueSum,
			Timestamp:  time.Now().UnixMilli(),
		}

		// 2. 容差内视为一致
		diff := trueSum - cache
		if diff < 0 {
			diff = -diff
		}
		if diff <= r.epsilon {
			report.Synced = true
			return report, nil
		}

		// 3. 纠偏: CAS 覆写，失败说明有并发落账，重读重试
		ok, err := r.accounts.CompareAndSetBlockedMargin(ctx, accountID, cache, trueSum)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Printf("[Reconciler] CAS conflict for account %d (attempt %d), retrying", accountID, attempt+1)
			continue
		}

		report.Corrected = true
		log.Printf("[Reconciler] account %d drift corrected: cache=%d trueSum=%d drift=%d",
			accountID, report.PriorCache, report.TrueSum, report.Drift())

		r.publishReport(report)
		return report, nil
	}

	return nil, fmt.Errorf("reconcile account %d: CAS retries exhausted", accountID)
}

// readSnapshot 读 (cache, trueSum)
// 有 SnapshotReader 时走一致快照，否则退化为两条独立读
func (r *Reconciler) readSnapshot(ctx context.Context, accountID int64) (cache, trueSum int64, err error) {
	if r.snapshots != nil {
		return r.snapshots.MarginSnapshot(ctx, accountID)
	}

	acct, err := r.accounts.GetByAccountID(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	if acct == nil {
		return 0, 0, ErrAccountNotFound
	}

	trueSum, err = r.positions.SumBlockedMargin(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	return acct.BlockedMargin, trueSum, nil
}

// publishReport 发布漂移事件
func (r *Reconciler) publishReport(report *Report) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(SubjectReconciled, report); err != nil {
		log.Printf("[Reconciler] publish report error: %v", err)
	}
}

// =============================================================================
// 批量对账 (后台扫描 / 历史数据回填)
// =============================================================================

// ReconcileAll 对一批账户执行对账
// 单账户失败不中断整批，返回全部报告和最后一个错误
func (r *Reconciler) ReconcileAll(ctx context.Context, accountIDs []int64) ([]*Report, error) {
	reports := make([]*Report, 0, len(accountIDs))
	var lastErr error

	for _, id := range accountIDs {
		report, err := r.Reconcile(ctx, id)
		if err != nil {
			log.Printf("[Reconciler] reconcile account %d error: %v", id, err)
			lastErr = err
			continue
		}
		reports = append(reports, report)
	}

	return reports, lastErr
}

// =============================================================================
// 后台扫描
// =============================================================================

// ListAccountIDs 枚举待扫描账户
// 由调用方注入，避免对账器耦合账户遍历方式
type ListAccountIDs func(ctx context.Context) ([]int64, error)

// Start 启动后台周期对账
func (r *Reconciler) Start(interval time.Duration, list ListAccountIDs) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				r.sweep(list)
			case <-r.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
	log.Printf("[Reconciler] background sweep started (interval %v)", interval)
}

// Stop 停止后台扫描
func (r *Reconciler) Stop() {
	close(r.stopCh)
	log.Println("[Reconciler] background sweep stopped")
}

func (r *Reconciler) sweep(list ListAccountIDs) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ids, err := list(ctx)
	if err != nil {
		log.Printf("[Reconciler] list accounts error: %v", err)
		return
	}

	reports, _ := r.ReconcileAll(ctx, ids)

	drifted := 0
	for _, report := range reports {
		if !report.Synced {
			drifted++
		}
	}
	if drifted > 0 {
		log.Printf("[Reconciler] sweep done: %d accounts checked, %d drift corrected", len(reports), drifted)
	}
}
