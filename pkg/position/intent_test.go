// 文件: pkg/position/intent_test.go
// 意图分类器规则表测试

package position

import (
	"errors"
	"testing"

	"aequitas.com/pkg/order"
)

func TestClassify_RuleTable(t *testing.T) {
	long := &Position{AccountID: 1, Symbol: "RELIANCE", PositionType: TypeLong, Quantity: 100, AvgPrice: 2000}
	short := &Position{AccountID: 1, Symbol: "RELIANCE", PositionType: TypeShort, Quantity: 50, AvgPrice: 2000}

	cases := []struct {
		name      string
		pos       *Position
		side      order.Side
		shortable bool
		want      order.Intent
	}{
		{"no position + buy", nil, order.SideBuy, false, order.IntentOpenLong},
		{"no position + sell shortable", nil, order.SideSell, true, order.IntentOpenShort},
		{"long + buy adds", long, order.SideBuy, false, order.IntentOpenLong},
		{"long + sell closes", long, order.SideSell, false, order.IntentCloseLong},
		{"short + sell adds", short, order.SideSell, true, order.IntentOpenShort},
		{"short + buy covers", short, order.SideBuy, false, order.IntentCloseShort},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Classify(tc.pos, tc.side, tc.shortable)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestClassify_NotShortable(t *testing.T) {
	// 无持仓卖出不可做空标的必须拒绝
	_, err := Classify(nil, order.SideSell, false)
	if !errors.Is(err, ErrNotShortable) {
		t.Fatalf("expected ErrNotShortable, got %v", err)
	}
}

func TestClassify_EmptyPositionEqualsNil(t *testing.T) {
	// Quantity==0 的持仓等价于无持仓
	empty := &Position{AccountID: 1, Symbol: "RELIANCE"}

	got, err := Classify(empty, order.SideBuy, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != order.IntentOpenLong {
		t.Errorf("expected OPEN_LONG, got %s", got)
	}

	// 逻辑删除的持仓同样不允许裸卖不可做空标的
	if _, err := Classify(empty, order.SideSell, false); !errors.Is(err, ErrNotShortable) {
		t.Fatalf("expected ErrNotShortable, got %v", err)
	}
}

func TestClassify_CloseIgnoresShortableFlag(t *testing.T) {
	// 做空开关只拦开空，已有空头的回补不受影响
	// (标的下架做空后，存量空头必须还能买回)
	short := &Position{PositionType: TypeShort, Quantity: 10, AvgPrice: 2000}

	got, err := Classify(short, order.SideBuy, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != order.IntentCloseShort {
		t.Errorf("expected CLOSE_SHORT, got %s", got)
	}
}
