// 文件: pkg/engine/engine.go
// 保证金账务引擎
//
// 【职责】
// 1. 受理: 意图判定 → 订单固化 (Intent 只写一次)
// 2. 落账: 账本规则应用 → 持仓 + 账户缓存原子提交
// 3. 通知: NATS 持仓变更事件 + Kafka 保证金流水
// 4. 自愈: 缓存下穿立即隔离账户并触发对账
//
// 【并发模型】
// 同一 (账户, 标的) 串行，不同键并行 (KeyedLocks 分条锁)。
// 账户缓存用可交换的原子增量更新，两个标的的并发落账互不丢失。

package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"aequitas.com/pkg/instrument"
	"aequitas.com/pkg/kafka"
	"aequitas.com/pkg/margin"
	"aequitas.com/pkg/nats"
	"aequitas.com/pkg/order"
	"aequitas.com/pkg/position"
)

var (
	ErrAccountNotFound    = errors.New("margin account not opened")
	ErrAccountQuarantined = errors.New("account quarantined pending reconciliation")
	ErrNotTradable        = errors.New("instrument is not tradable")
)

// =============================================================================
// Engine - 账务引擎
// =============================================================================

// Engine 保证金账务引擎
type Engine struct {
	instruments instrument.Repository
	orders      order.Repository
	positions   position.Repository
	accounts    margin.AccountRepository
	store       Store
	ledger      *position.Ledger
	locks       *KeyedLocks

	reconciler *margin.Reconciler // 缓存下穿时的即时纠偏 (可选)
	publisher  *nats.Publisher    // 持仓变更事件 (可选)
	producer   *kafka.Producer    // 保证金流水 (可选)

	// 隔离账户: 缓存下穿后暂停受理，对账通过后解除
	quarantined sync.Map // accountID -> struct{}

	stats EngineStats
}

// EngineStats 引擎统计
type EngineStats struct {
	Accepted    atomic.Int64 // 受理成功
	Rejected    atomic.Int64 // 拒单
	Quarantines atomic.Int64 // 隔离次数
}

func NewEngine(
	instruments instrument.Repository,
	orders order.Repository,
	positions position.Repository,
	accounts margin.AccountRepository,
	store Store,
	policy position.Policy,
) *Engine {
	return &Engine{
		instruments: instruments,
		orders:      orders,
		positions:   positions,
		accounts:    accounts,
		store:       store,
		ledger:      position.NewLedger(policy),
		locks:       NewKeyedLocks(),
	}
}

// SetReconciler 注入对账器 (缓存下穿时即时触发)
func (e *Engine) SetReconciler(r *margin.Reconciler) {
	e.reconciler = r
}

// SetPublisher 注入 NATS 发布器
func (e *Engine) SetPublisher(p *nats.Publisher) {
	e.publisher = p
}

// SetProducer 注入 Kafka 生产者 (流水审计)
func (e *Engine) SetProducer(p *kafka.Producer) {
	e.producer = p
}

// Stats 引擎统计快照
func (e *Engine) Stats() (accepted, rejected, quarantines int64) {
	return e.stats.Accepted.Load(), e.stats.Rejected.Load(), e.stats.Quarantines.Load()
}

// =============================================================================
// ApplyOrder - 受理 + 落账主流程
// =============================================================================

// ApplyOrder 受理一笔已成交订单并落账
//
// 全流程:
//  1. 隔离检查 / 标的可交易检查
//  2. 意图判定 (纯规则表，判定后固化到订单)
//  3. 账本应用 (保证金前置检查 → 加权均价 / 比例释放)
//  4. 原子提交 (持仓 + 账户缓存同事务)
//  5. 事件发布 (NATS / Kafka，尽力而为)
//
// 拒单订单以 REJECTED 状态落库并携带原因，错误原样返回。
func (e *Engine) ApplyOrder(ctx context.Context, ord *order.Order) (*position.ApplyResult, error) {
	if _, held := e.quarantined.Load(ord.AccountID); held {
		return nil, ErrAccountQuarantined
	}

	inst, err := e.instruments.GetBySymbol(ctx, ord.Symbol)
	if err != nil {
		return nil, fmt.Errorf("load instrument %s: %w", ord.Symbol, err)
	}
	if !inst.IsTradable() {
		return nil, ErrNotTradable
	}

	// 同一 (账户, 标的) 串行落账
	unlock := e.locks.Lock(ord.AccountID, ord.Symbol)
	defer unlock()

	snapshot, err := e.positions.GetByAccountAndSymbol(ctx, ord.AccountID, ord.Symbol)
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}

	acct, err := e.accounts.GetByAccountID(ctx, ord.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acct == nil {
		return nil, ErrAccountNotFound
	}

	// ===== 意图判定 =====
	intent, err := position.Classify(snapshot, ord.Side, inst.IsShortable)
	if err != nil {
		e.persistRejected(ctx, ord, err)
		return nil, err
	}
	ord.Intent = intent
	ord.Status = order.StatusNew
	if err := e.orders.Create(ctx, ord); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	// ===== 账本应用 =====
	pos := snapshot
	if pos == nil {
		pos = &position.Position{AccountID: ord.AccountID, Symbol: ord.Symbol}
	}
	result, err := e.ledger.Apply(pos, ord, intent, acct.Available())
	if err != nil {
		e.reject(ctx, ord, err)
		return nil, err
	}

	// ===== 原子提交 =====
	// 上界守卫拒绝 (ErrInsufficientBalance) 是普通拒单:
	// 闲余预检在账户级串行化之外，并发开仓挤占额度属正常竞争
	if err := e.store.Commit(ctx, pos, result.MarginDelta, result.RealizedPnL); err != nil {
		if errors.Is(err, margin.ErrNegativeMargin) {
			// 缓存即将下穿: 账本或缓存已损坏
			// 隔离账户 → 立即对账 → 通过后解除，这单仍然拒掉
			e.quarantineAndReconcile(ctx, ord.AccountID)
		}
		e.reject(ctx, ord, err)
		return nil, err
	}

	if err := e.orders.UpdateStatus(ctx, ord.OrderID, order.StatusFilled, ""); err != nil {
		log.Printf("[Engine] mark filled failed: order=%d err=%v", ord.OrderID, err)
	}
	e.stats.Accepted.Add(1)

	// ===== 事件发布 (落账已提交，失败只记日志) =====
	e.publishChange(pos, ord, result, acct.BlockedMargin)

	return result, nil
}

// =============================================================================
// 拒单
// =============================================================================

// persistRejected 意图判定失败: 订单带拒绝原因首次落库
func (e *Engine) persistRejected(ctx context.Context, ord *order.Order, cause error) {
	ord.Status = order.StatusRejected
	ord.Reason = cause.Error()
	if err := e.orders.Create(ctx, ord); err != nil {
		log.Printf("[Engine] persist rejected order failed: order=%d err=%v", ord.OrderID, err)
	}
	e.stats.Rejected.Add(1)
}

// reject 已落库订单标记拒绝
func (e *Engine) reject(ctx context.Context, ord *order.Order, cause error) {
	if err := e.orders.UpdateStatus(ctx, ord.OrderID, order.StatusRejected, cause.Error()); err != nil {
		log.Printf("[Engine] mark rejected failed: order=%d err=%v", ord.OrderID, err)
	}
	e.stats.Rejected.Add(1)
}

// =============================================================================
// 隔离 + 即时对账
// =============================================================================

// quarantineAndReconcile 隔离账户并立即对账
// 对账器以持仓账本聚合为权威值纠偏缓存，纠偏成功后解除隔离
func (e *Engine) quarantineAndReconcile(ctx context.Context, accountID int64) {
	e.quarantined.Store(accountID, struct{}{})
	e.stats.Quarantines.Add(1)
	log.Printf("[Engine] account %d quarantined: blocked margin cache would go negative", accountID)

	if e.reconciler == nil {
		return
	}
	report, err := e.reconciler.Reconcile(ctx, accountID)
	if err != nil {
		// 隔离保持，等周期对账扫到再解
		log.Printf("[Engine] immediate reconcile failed: account=%d err=%v", accountID, err)
		return
	}
	e.quarantined.Delete(accountID)
	log.Printf("[Engine] account %d released: cache %d -> %d (drift=%d)",
		accountID, report.PriorCache, report.TrueSum, report.Drift())
}

// IsQuarantined 账户是否处于隔离状态
func (e *Engine) IsQuarantined(accountID int64) bool {
	_, held := e.quarantined.Load(accountID)
	return held
}

// Release 手动解除隔离 (运维通道)
func (e *Engine) Release(accountID int64) {
	e.quarantined.Delete(accountID)
}

// =============================================================================
// 事件发布
// =============================================================================

// publishChange 发布持仓变更事件 + 保证金流水
func (e *Engine) publishChange(pos *position.Position, ord *order.Order, result *position.ApplyResult, blockedBefore int64) {
	if e.publisher != nil {
		event := position.NewChangedEvent(pos, result.ChangeType, result.MarginDelta)
		if err := e.publisher.Publish(position.SubjectChanged, event); err != nil {
			log.Printf("[Engine] publish position change failed: %v", err)
		}
	}

	if e.producer == nil {
		return
	}
	for _, event := range buildJournalEvents(ord, result, blockedBefore) {
		if err := e.producer.Send(event); err != nil {
			log.Printf("[Engine] send journal failed: event=%s err=%v", event.EventID, err)
		}
	}
}

// buildJournalEvents 从落账结果生成保证金流水
//
// 开仓 1 条 BLOCK，平仓 1 条 RELEASE (+ 盈亏非零时 1 条 PNL)。
// EventID 用 {type}_{orderID}_{account} 保证消费端幂等。
func buildJournalEvents(ord *order.Order, result *position.ApplyResult, blockedBefore int64) []*margin.JournalEvent {
	now := time.Now()
	var events []*margin.JournalEvent

	if result.MarginDelta != 0 {
		changeType := margin.ChangeBlock
		amount := result.MarginDelta
		if amount < 0 {
			changeType = margin.ChangeRelease
			amount = -amount
		}
		events = append(events, &margin.JournalEvent{
			EventID:       fmt.Sprintf("%s_%d_%d", changeType, ord.OrderID, ord.AccountID),
			AccountID:     ord.AccountID,
			Symbol:        ord.Symbol,
			ChangeType:    changeType,
			Amount:        amount,
			BlockedBefore: blockedBefore,
			BlockedAfter:  blockedBefore + result.MarginDelta,
			OrderID:       ord.OrderID,
			CreatedAt:     now,
		})
	}

	if result.RealizedPnL != 0 {
		after := blockedBefore + result.MarginDelta
		events = append(events, &margin.JournalEvent{
			EventID:       fmt.Sprintf("%s_%d_%d", margin.ChangePnL, ord.OrderID, ord.AccountID),
			AccountID:     ord.AccountID,
			Symbol:        ord.Symbol,
			ChangeType:    margin.ChangePnL,
			Amount:        result.RealizedPnL,
			BlockedBefore: after,
			BlockedAfter:  after,
			OrderID:       ord.OrderID,
			CreatedAt:     now,
		})
	}

	return events
}
