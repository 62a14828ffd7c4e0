// 文件: pkg/order/snowflake_test.go

package order

import "testing"

func TestGenerateOrderID_UniqueAndIncreasing(t *testing.T) {
	seen := make(map[int64]struct{}, 1000)
	var prev int64

	for i := 0; i < 1000; i++ {
		id := GenerateOrderID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate order id %d at iteration %d", id, i)
		}
		seen[id] = struct{}{}

		// 同节点发号严格递增 (时间戳 + 序列)
		if id <= prev {
			t.Fatalf("order id not increasing: %d after %d", id, prev)
		}
		prev = id
	}
}
