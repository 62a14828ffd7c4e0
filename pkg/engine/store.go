// 文件: pkg/engine/store.go
// 落账存储接口
package engine

import (
	"context"

	"aequitas.com/pkg/position"
)

// Store 持仓 + 账户缓存的原子落账接口
//
// 【不变式】持仓写入与账户 BlockedMargin 增量必须同事务提交:
// 只成功一半会让缓存和账本立刻失真，对账器兜底不能当常态用。
type Store interface {
	// Commit 原子提交一次落账:
	//   1. 写入变更后持仓 (Quantity==0 时删除)
	//   2. 账户 BlockedMargin += marginDelta (原子加减)
	//   3. realizedPnL != 0 时累加已实现盈亏
	//
	// 增量会使缓存变负时整体回滚，返回 margin.ErrNegativeMargin。
	Commit(ctx context.Context, pos *position.Position, marginDelta, realizedPnL int64) error
}
