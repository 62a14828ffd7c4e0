package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"aequitas.com/pkg/engine"
	"aequitas.com/pkg/instrument"
	"aequitas.com/pkg/margin"
	"aequitas.com/pkg/order"
	"aequitas.com/pkg/position"
)

// =============================================================================
// 仿真入口
//
// 全内存跑通账务引擎主链路:
// 1. 开平仓全流程 (加权均价 / 比例释放 / 盈亏入账)
// 2. 意图判定拒单 (做空开关 / 反向平仓)
// 3. 双标的并发落账 (缓存增量无丢失)
// 4. 漂移注入 → 对账纠偏
// 5. 缓存下穿 → 账户隔离 → 即时对账解除
// =============================================================================

const money = instrument.Precision // ₹1 的定点数表示

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Println("🚀 Starting Margin Engine Simulation...")

	ctx := context.Background()

	// 1. 组装全内存组件
	// -------------------------------------------------------------------------
	instruments := engine.NewMemoryInstrumentRepo()
	orders := engine.NewMemoryOrderRepo()
	positions := engine.NewMemoryPositionRepo()
	accounts := engine.NewMemoryAccountRepo()
	store := engine.NewMemoryStore(positions, accounts)

	eng := engine.NewEngine(instruments, orders, positions, accounts, store, position.DefaultPolicy())

	reconciler := margin.NewReconciler(accounts, positions)
	reconciler.SetSnapshotReader(store)
	eng.SetReconciler(reconciler)

	// 2. 标的与账户
	// -------------------------------------------------------------------------
	seed := []*instrument.Instrument{
		{Symbol: "RELIANCE", Name: "Reliance Industries", Exchange: "NSE", IsShortable: true, Status: instrument.StatusActive},
		{Symbol: "TCS", Name: "Tata Consultancy Services", Exchange: "NSE", IsShortable: false, Status: instrument.StatusActive},
		{Symbol: "YESBANK", Name: "Yes Bank", Exchange: "NSE", IsShortable: true, Status: instrument.StatusHalted},
	}
	for _, inst := range seed {
		if err := instruments.Create(ctx, inst); err != nil {
			log.Fatalf("seed instrument: %v", err)
		}
	}

	alice, bob := int64(1001), int64(1002)
	for _, id := range []int64{alice, bob} {
		acct := &margin.Account{AccountID: id, Balance: 1_000_000 * money, Currency: "INR"}
		if err := accounts.Create(ctx, acct); err != nil {
			log.Fatalf("open account: %v", err)
		}
	}
	log.Println("✅ Seeded 3 instruments, 2 accounts (₹1,000,000 each)")

	// 3. 开平仓全流程
	// -------------------------------------------------------------------------
	log.Println("--- Scenario 1: long round trip ---")

	// 买入 100 股 @ ₹2000，单位保证金 ₹400 (20%)
	mustApply(ctx, eng, order.NewOrder(alice, "RELIANCE", order.SideBuy, 100, 2000*money, 400*money))
	// 加仓 100 股 @ ₹2200 → 均价 ₹2100
	mustApply(ctx, eng, order.NewOrder(alice, "RELIANCE", order.SideBuy, 100, 2200*money, 440*money))
	logPosition(ctx, positions, alice, "RELIANCE")

	// 卖出 150 股 @ ₹2300 → REDUCE，按比例释放
	res := mustApply(ctx, eng, order.NewOrder(alice, "RELIANCE", order.SideSell, 150, 2300*money, 0))
	log.Printf("[Sim] reduce: released=₹%d pnl=₹%d", -res.MarginDelta/money, res.RealizedPnL/money)

	// 卖出剩余 50 股 → CLOSE，尾差全部释放
	res = mustApply(ctx, eng, order.NewOrder(alice, "RELIANCE", order.SideSell, 50, 2300*money, 0))
	log.Printf("[Sim] close: released=₹%d pnl=₹%d", -res.MarginDelta/money, res.RealizedPnL/money)
	logAccount(ctx, accounts, alice)

	// 4. 意图判定拒单
	// -------------------------------------------------------------------------
	log.Println("--- Scenario 2: intent rejections ---")

	// 空仓卖出不可做空标的 → NotShortable
	_, err := eng.ApplyOrder(ctx, order.NewOrder(bob, "TCS", order.SideSell, 10, 3500*money, 700*money))
	log.Printf("[Sim] sell TCS with no position: %v (expected)", err)

	// 空仓卖出可做空标的 → OPEN_SHORT
	mustApply(ctx, eng, order.NewOrder(bob, "RELIANCE", order.SideSell, 50, 2000*money, 400*money))
	logPosition(ctx, positions, bob, "RELIANCE")

	// 持有空头时超量买入 → 翻转拒单 (不自动拆单)
	_, err = eng.ApplyOrder(ctx, order.NewOrder(bob, "RELIANCE", order.SideBuy, 80, 1900*money, 0))
	log.Printf("[Sim] overclose short 80 > 50: %v (expected)", err)

	// 正常买回平空
	res = mustApply(ctx, eng, order.NewOrder(bob, "RELIANCE", order.SideBuy, 50, 1900*money, 0))
	log.Printf("[Sim] cover: released=₹%d pnl=₹%d", -res.MarginDelta/money, res.RealizedPnL/money)

	// 停牌标的直接拒
	_, err = eng.ApplyOrder(ctx, order.NewOrder(bob, "YESBANK", order.SideBuy, 10, 20*money, 4*money))
	log.Printf("[Sim] buy halted YESBANK: %v (expected)", err)

	// 5. 双标的并发落账
	// -------------------------------------------------------------------------
	log.Println("--- Scenario 3: concurrent commits across instruments ---")

	var wg sync.WaitGroup
	symbols := []string{"RELIANCE", "TCS"}
	perWorker := 50
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker)))
			for i := 0; i < perWorker; i++ {
				symbol := symbols[rng.Intn(len(symbols))]
				qty := rng.Int63n(5) + 1
				if _, err := eng.ApplyOrder(ctx, order.NewOrder(alice, symbol, order.SideBuy, qty, 2000*money, 400*money)); err != nil {
					log.Printf("[Sim] worker %d open failed: %v", worker, err)
				}
			}
		}(w)
	}
	wg.Wait()

	cache, trueSum := snapshotMargin(ctx, accounts, positions, alice)
	if cache != trueSum {
		log.Fatalf("❌ lost update: cache=%d trueSum=%d", cache, trueSum)
	}
	log.Printf("✅ after 200 concurrent opens: cache == trueSum == ₹%d", cache/money)

	// 6. 漂移注入 → 周期对账纠偏
	// -------------------------------------------------------------------------
	log.Println("--- Scenario 4: drift repair ---")

	accounts.SetBlockedMargin(alice, cache+777*money) // 人为污染缓存
	report, err := reconciler.Reconcile(ctx, alice)
	if err != nil {
		log.Fatalf("reconcile: %v", err)
	}
	log.Printf("✅ reconciler repaired: %d -> %d (drift=₹%d, corrected=%v)",
		report.PriorCache, report.TrueSum, report.Drift()/money, report.Corrected)

	// 7. 缓存下穿 → 隔离 → 即时对账解除
	// -------------------------------------------------------------------------
	log.Println("--- Scenario 5: negative margin quarantine ---")

	accounts.SetBlockedMargin(alice, 1*money) // 缓存被压到远小于账本
	_, err = eng.ApplyOrder(ctx, order.NewOrder(alice, "RELIANCE", order.SideSell, 10, 2100*money, 0))
	if !errors.Is(err, margin.ErrNegativeMargin) {
		log.Fatalf("expected negative margin, got %v", err)
	}
	log.Printf("[Sim] release on poisoned cache: %v (expected)", err)
	log.Printf("[Sim] quarantined=%v (immediate reconcile already released it)", eng.IsQuarantined(alice))

	// 纠偏后重试成功
	res = mustApply(ctx, eng, order.NewOrder(alice, "RELIANCE", order.SideSell, 10, 2100*money, 0))
	log.Printf("[Sim] retry after repair: released=₹%d", -res.MarginDelta/money)

	// 8. 周期对账扫一轮收尾
	// -------------------------------------------------------------------------
	reconciler.Start(100*time.Millisecond, positions.AccountIDs)
	time.Sleep(350 * time.Millisecond)
	reconciler.Stop()

	accepted, rejected, quarantines := eng.Stats()
	log.Printf("🏁 Simulation done: accepted=%d rejected=%d quarantines=%d", accepted, rejected, quarantines)
}

// mustApply 落账失败即退出
func mustApply(ctx context.Context, eng *engine.Engine, ord *order.Order) *position.ApplyResult {
	res, err := eng.ApplyOrder(ctx, ord)
	if err != nil {
		log.Fatalf("apply order %d (%s %s x%d): %v", ord.OrderID, ord.Symbol, ord.Side, ord.Quantity, err)
	}
	return res
}

func logPosition(ctx context.Context, repo position.Repository, accountID int64, symbol string) {
	pos, err := repo.GetByAccountAndSymbol(ctx, accountID, symbol)
	if err != nil || pos == nil {
		log.Printf("[Sim] position %d/%s: none (err=%v)", accountID, symbol, err)
		return
	}
	log.Printf("[Sim] position %d/%s: %s x%d @ ₹%d blocked=₹%d",
		accountID, symbol, pos.PositionType, pos.Quantity, pos.AvgPrice/money, pos.BlockedMargin/money)
}

func logAccount(ctx context.Context, repo margin.AccountRepository, accountID int64) {
	acct, err := repo.GetByAccountID(ctx, accountID)
	if err != nil || acct == nil {
		log.Printf("[Sim] account %d: missing (err=%v)", accountID, err)
		return
	}
	log.Printf("[Sim] account %d: balance=₹%d blocked=₹%d realizedPnL=₹%d",
		accountID, acct.Balance/money, acct.BlockedMargin/money, acct.RealizedPnL/money)
}

func snapshotMargin(ctx context.Context, accounts margin.AccountRepository, positions position.Repository, accountID int64) (cache, trueSum int64) {
	acct, _ := accounts.GetByAccountID(ctx, accountID)
	if acct != nil {
		cache = acct.BlockedMargin
	}
	trueSum, _ = positions.SumBlockedMargin(ctx, accountID)
	return cache, trueSum
}
