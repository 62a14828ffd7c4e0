// 文件: pkg/position/ledger_test.go
// 持仓账本测试

package position

import (
	"errors"
	"testing"

	"aequitas.com/pkg/instrument"
	"aequitas.com/pkg/order"
)

const rupee = instrument.Precision

func newTestOrder(side order.Side, qty, price, marginPerUnit int64) *order.Order {
	return order.NewOrder(1001, "RELIANCE", side, qty, price, marginPerUnit)
}

// =============================================================================
// 开仓 / 加仓
// =============================================================================

func TestLedger_OpenLong(t *testing.T) {
	l := NewLedger(DefaultPolicy())
	pos := &Position{AccountID: 1001, Symbol: "RELIANCE"}

	ord := newTestOrder(order.SideBuy, 100, 2000*rupee, 400*rupee)
	res, err := l.Apply(pos, ord, order.IntentOpenLong, 1_000_000*rupee)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.ChangeType != ChangeOpen {
		t.Errorf("expected OPEN, got %s", res.ChangeType)
	}
	if res.MarginDelta != 40_000*rupee {
		t.Errorf("expected delta 40000, got %d", res.MarginDelta/rupee)
	}
	if pos.PositionType != TypeLong || pos.Quantity != 100 || pos.AvgPrice != 2000*rupee {
		t.Errorf("bad position state: %+v", pos)
	}
	if pos.BlockedMargin != 40_000*rupee || pos.InitialMargin != 40_000*rupee {
		t.Errorf("bad margin state: blocked=%d initial=%d", pos.BlockedMargin, pos.InitialMargin)
	}
	if pos.MarginStatus != MarginOK {
		t.Errorf("new position should start with margin OK")
	}
}

func TestLedger_AddWeightedAvgPrice(t *testing.T) {
	l := NewLedger(DefaultPolicy())
	pos := &Position{AccountID: 1001, Symbol: "RELIANCE"}

	// 100 @ 2000，再 100 @ 2200 → 均价 2100
	mustApplyLedger(t, l, pos, newTestOrder(order.SideBuy, 100, 2000*rupee, 400*rupee), order.IntentOpenLong)
	res := mustApplyLedger(t, l, pos, newTestOrder(order.SideBuy, 100, 2200*rupee, 440*rupee), order.IntentOpenLong)

	if res.ChangeType != ChangeAdd {
		t.Errorf("expected ADD, got %s", res.ChangeType)
	}
	if pos.Quantity != 200 {
		t.Errorf("expected qty 200, got %d", pos.Quantity)
	}
	if pos.AvgPrice != 2100*rupee {
		t.Errorf("expected avg 2100, got %d", pos.AvgPrice/rupee)
	}
	if pos.BlockedMargin != 84_000*rupee {
		t.Errorf("expected blocked 84000, got %d", pos.BlockedMargin/rupee)
	}
}

func TestLedger_MarginShortfall(t *testing.T) {
	l := NewLedger(DefaultPolicy())
	pos := &Position{AccountID: 1001, Symbol: "RELIANCE"}
	mustApplyLedger(t, l, pos, newTestOrder(order.SideBuy, 100, 2000*rupee, 400*rupee), order.IntentOpenLong)
	before := *pos

	// 需要 40000，可用只有 39999
	ord := newTestOrder(order.SideBuy, 100, 2000*rupee, 400*rupee)
	_, err := l.Apply(pos, ord, order.IntentOpenLong, 39_999*rupee)
	if !errors.Is(err, ErrMarginShortfall) {
		t.Fatalf("expected ErrMarginShortfall, got %v", err)
	}

	// all-or-nothing: 拒绝时持仓必须原封不动
	if *pos != before {
		t.Errorf("position mutated on rejection: before=%+v after=%+v", before, *pos)
	}
}

// =============================================================================
// 平仓 / 减仓
// =============================================================================

func TestLedger_ReduceReleasesProportionally(t *testing.T) {
	l := NewLedger(DefaultPolicy())
	pos := &Position{AccountID: 1001, Symbol: "RELIANCE"}
	mustApplyLedger(t, l, pos, newTestOrder(order.SideBuy, 200, 2100*rupee, 420*rupee), order.IntentOpenLong)

	// 平 150/200 → 释放 3/4
	ord := newTestOrder(order.SideSell, 150, 2300*rupee, 0)
	res := mustApplyLedger(t, l, pos, ord, order.IntentCloseLong)

	if res.ChangeType != ChangeReduce {
		t.Errorf("expected REDUCE, got %s", res.ChangeType)
	}
	wantRelease := int64(84_000*rupee) * 150 / 200
	if res.MarginDelta != -wantRelease {
		t.Errorf("expected release %d, got %d", wantRelease, -res.MarginDelta)
	}
	// 多头盈亏: (2300-2100)*150 = 30000
	if res.RealizedPnL != 30_000*rupee {
		t.Errorf("expected pnl 30000, got %d", res.RealizedPnL/rupee)
	}
	// 均价在减仓后保持不变
	if pos.AvgPrice != 2100*rupee {
		t.Errorf("avg price must not change on reduce, got %d", pos.AvgPrice/rupee)
	}
	if pos.Quantity != 50 {
		t.Errorf("expected qty 50, got %d", pos.Quantity)
	}
}

func TestLedger_FullCloseReleasesRemainder(t *testing.T) {
	l := NewLedger(DefaultPolicy())
	pos := &Position{AccountID: 1001, Symbol: "RELIANCE"}

	// 两笔不同单位保证金的买入，制造不能整除的占用额
	// blocked = 3*333 + 1*500 = 1499, qty = 4
	mustApplyLedger(t, l, pos, newTestOrder(order.SideBuy, 3, 2000*rupee, 333), order.IntentOpenLong)
	mustApplyLedger(t, l, pos, newTestOrder(order.SideBuy, 1, 2000*rupee, 500), order.IntentOpenLong)
	blocked := pos.BlockedMargin

	// 平 3/4: 按比例释放 1499*3/4 = 1124 (向下取整，余数留在持仓上)
	res1 := mustApplyLedger(t, l, pos, newTestOrder(order.SideSell, 3, 2000*rupee, 0), order.IntentCloseLong)
	if res1.MarginDelta != -1124 {
		t.Errorf("expected proportional release 1124, got %d", -res1.MarginDelta)
	}
	// 平最后 1 股: 全平必须释放剩余全部，不留尾差
	res2 := mustApplyLedger(t, l, pos, newTestOrder(order.SideSell, 1, 2000*rupee, 0), order.IntentCloseLong)

	if res2.ChangeType != ChangeClose {
		t.Errorf("expected CLOSE, got %s", res2.ChangeType)
	}
	totalReleased := -res1.MarginDelta - res2.MarginDelta
	if totalReleased != blocked {
		t.Errorf("round trip must release everything: blocked=%d released=%d", blocked, totalReleased)
	}

	// 空仓状态必须完全归零
	if !pos.IsEmpty() {
		t.Errorf("expected empty position, got %+v", pos)
	}
	if pos.PositionType != TypeNone || pos.AvgPrice != 0 || pos.BlockedMargin != 0 || pos.InitialMargin != 0 {
		t.Errorf("zero-quantity position must clear all fields: %+v", pos)
	}
}

func TestLedger_ShortRoundTrip(t *testing.T) {
	l := NewLedger(DefaultPolicy())
	pos := &Position{AccountID: 1001, Symbol: "RELIANCE"}

	mustApplyLedger(t, l, pos, newTestOrder(order.SideSell, 50, 2000*rupee, 400*rupee), order.IntentOpenShort)
	if pos.PositionType != TypeShort {
		t.Fatalf("expected SHORT, got %s", pos.PositionType)
	}

	// 空头回补: (2000-1900)*50 = 5000 盈利
	res := mustApplyLedger(t, l, pos, newTestOrder(order.SideBuy, 50, 1900*rupee, 0), order.IntentCloseShort)
	if res.RealizedPnL != 5_000*rupee {
		t.Errorf("expected pnl 5000, got %d", res.RealizedPnL/rupee)
	}
	if res.MarginDelta != -20_000*rupee {
		t.Errorf("expected release 20000, got %d", -res.MarginDelta/rupee)
	}
}

func TestLedger_OvercloseRejectsFlip(t *testing.T) {
	l := NewLedger(DefaultPolicy())
	pos := &Position{AccountID: 1001, Symbol: "RELIANCE"}
	mustApplyLedger(t, l, pos, newTestOrder(order.SideBuy, 100, 2000*rupee, 400*rupee), order.IntentOpenLong)
	before := *pos

	// 持多 100 卖 150: 不自动拆单翻向，整单拒绝
	ord := newTestOrder(order.SideSell, 150, 2100*rupee, 0)
	_, err := l.Apply(pos, ord, order.IntentCloseLong, 0)
	if !errors.Is(err, ErrInvalidIntent) {
		t.Fatalf("expected ErrInvalidIntent, got %v", err)
	}
	if *pos != before {
		t.Errorf("position mutated on rejection")
	}
}

func TestLedger_NoPartialClosePolicy(t *testing.T) {
	l := NewLedger(Policy{AllowPartialClose: false})
	pos := &Position{AccountID: 1001, Symbol: "RELIANCE"}
	mustApplyLedger(t, l, pos, newTestOrder(order.SideBuy, 100, 2000*rupee, 400*rupee), order.IntentOpenLong)

	// 部分平仓被策略禁止
	_, err := l.Apply(pos, newTestOrder(order.SideSell, 40, 2000*rupee, 0), order.IntentCloseLong, 0)
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}

	// 超量同样按数量不足拒绝 (翻向语义只在允许部分平仓时出现)
	_, err = l.Apply(pos, newTestOrder(order.SideSell, 150, 2000*rupee, 0), order.IntentCloseLong, 0)
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}

	// 全量平仓可以
	res, err := l.Apply(pos, newTestOrder(order.SideSell, 100, 2000*rupee, 0), order.IntentCloseLong, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ChangeType != ChangeClose {
		t.Errorf("expected CLOSE, got %s", res.ChangeType)
	}
}

func TestLedger_IntentMismatch(t *testing.T) {
	l := NewLedger(DefaultPolicy())

	// 空仓直接传平仓意图 (调用方绕过分类器)
	pos := &Position{AccountID: 1001, Symbol: "RELIANCE"}
	_, err := l.Apply(pos, newTestOrder(order.SideSell, 10, 2000*rupee, 0), order.IntentCloseLong, 0)
	if !errors.Is(err, ErrIntentMismatch) {
		t.Fatalf("expected ErrIntentMismatch, got %v", err)
	}

	// 持多却传开空
	mustApplyLedger(t, l, pos, newTestOrder(order.SideBuy, 10, 2000*rupee, 400*rupee), order.IntentOpenLong)
	_, err = l.Apply(pos, newTestOrder(order.SideSell, 10, 2000*rupee, 400*rupee), order.IntentOpenShort, 1_000_000*rupee)
	if !errors.Is(err, ErrIntentMismatch) {
		t.Fatalf("expected ErrIntentMismatch, got %v", err)
	}
}

func mustApplyLedger(t *testing.T, l *Ledger, pos *Position, ord *order.Order, intent order.Intent) *ApplyResult {
	t.Helper()
	res, err := l.Apply(pos, ord, intent, 10_000_000*rupee)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	return res
}
