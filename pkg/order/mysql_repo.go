// 文件: pkg/order/mysql_repo.go
package order

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrOrderNotFound = errors.New("order not found")

var _ Repository = (*MySQLRepository)(nil)

type MySQLRepository struct {
	db *gorm.DB
}

func NewMySQLRepository(db *gorm.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

func (r *MySQLRepository) Create(ctx context.Context, ord *Order) error {
	return r.db.WithContext(ctx).Create(ord).Error
}

func (r *MySQLRepository) GetByOrderID(ctx context.Context, orderID int64) (*Order, error) {
	var ord Order
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&ord).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &ord, nil
}

func (r *MySQLRepository) ListByAccount(ctx context.Context, accountID int64, limit int) ([]*Order, error) {
	var orders []*Order
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *MySQLRepository) ListByAccountAndSymbol(ctx context.Context, accountID int64, symbol string, limit int) ([]*Order, error) {
	var orders []*Order
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ?", accountID, symbol).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// UpdateStatus 更新订单状态
// 注意 updates 里没有 intent 字段: 意图受理后只读
func (r *MySQLRepository) UpdateStatus(ctx context.Context, orderID int64, status Status, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{
			"status":     status,
			"reason":     reason,
			"updated_at": time.Now().UnixMilli(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}
