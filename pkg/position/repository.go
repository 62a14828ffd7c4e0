// 文件: pkg/position/repository.go
// 持仓存储接口
package position

import "context"

type Repository interface {
	// 查询
	GetByAccountAndSymbol(ctx context.Context, accountID int64, symbol string) (*Position, error)
	GetByAccount(ctx context.Context, accountID int64) ([]*Position, error)

	// SumBlockedMargin 聚合账户全部非空持仓的占用保证金
	// 对账器以此为权威值 (true sum)
	SumBlockedMargin(ctx context.Context, accountID int64) (int64, error)

	// 保存 (写 DB + 更新 Redis)；Quantity==0 时落库删除
	Save(ctx context.Context, pos *Position) error

	// 删除
	Delete(ctx context.Context, accountID int64, symbol string) error

	// ListBySymbol 按标的分页查询 (风控批量扫描用)
	ListBySymbol(ctx context.Context, symbol string, limit, offset int) ([]*Position, error)
}
