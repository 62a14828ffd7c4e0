// 文件: pkg/order/repository.go
package order

import "context"

type Repository interface {
	// 创建 (Intent 已判定)
	Create(ctx context.Context, ord *Order) error

	// 查询
	GetByOrderID(ctx context.Context, orderID int64) (*Order, error)
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]*Order, error)
	ListByAccountAndSymbol(ctx context.Context, accountID int64, symbol string, limit int) ([]*Order, error)

	// 更新状态 (Intent 永不更新)
	UpdateStatus(ctx context.Context, orderID int64, status Status, reason string) error
}
