// 文件: pkg/instrument/mysql_repo.go
// 标的元数据 MySQL 存储实现
//
// 【设计】
// - 使用 GORM 作为 ORM
// - 所有操作带 context 支持超时控制

package instrument

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrSymbolExists   = errors.New("instrument symbol already exists")
	ErrSymbolNotFound = errors.New("instrument symbol not found")
)

// 确保实现了接口
var _ Repository = (*MySQLRepository)(nil)

// MySQLRepository MySQL 实现
type MySQLRepository struct {
	db *gorm.DB
}

// NewMySQLRepository 创建 MySQL 存储
func NewMySQLRepository(db *gorm.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

// =============================================================================
// 接口实现
// =============================================================================

// Create 创建标的
func (r *MySQLRepository) Create(ctx context.Context, inst *Instrument) error {
	now := time.Now().UnixMilli()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	err := r.db.WithContext(ctx).Create(inst).Error
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrSymbolExists
		}
		return err
	}
	return nil
}

// GetBySymbol 根据 symbol 查询
func (r *MySQLRepository) GetBySymbol(ctx context.Context, symbol string) (*Instrument, error) {
	var inst Instrument
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		First(&inst).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSymbolNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// Update 更新标的
func (r *MySQLRepository) Update(ctx context.Context, inst *Instrument) error {
	inst.UpdatedAt = time.Now().UnixMilli()

	result := r.db.WithContext(ctx).
		Model(&Instrument{}).
		Where("symbol = ?", inst.Symbol).
		Updates(inst)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSymbolNotFound
	}
	return nil
}

// SetShortable 更新做空开关
func (r *MySQLRepository) SetShortable(ctx context.Context, symbol string, shortable bool) error {
	result := r.db.WithContext(ctx).
		Model(&Instrument{}).
		Where("symbol = ?", symbol).
		Updates(map[string]interface{}{
			"is_shortable": shortable,
			"updated_at":   time.Now().UnixMilli(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSymbolNotFound
	}
	return nil
}

// List 列出所有未退市标的
func (r *MySQLRepository) List(ctx context.Context) ([]*Instrument, error) {
	var insts []*Instrument
	err := r.db.WithContext(ctx).
		Where("status != ?", StatusDelisted).
		Find(&insts).Error
	return insts, err
}

// ListShortable 列出可做空标的
func (r *MySQLRepository) ListShortable(ctx context.Context) ([]*Instrument, error) {
	var insts []*Instrument
	err := r.db.WithContext(ctx).
		Where("is_shortable = ? AND status = ?", true, StatusActive).
		Find(&insts).Error
	return insts, err
}

// Delete 软删除
func (r *MySQLRepository) Delete(ctx context.Context, symbol string) error {
	result := r.db.WithContext(ctx).
		Model(&Instrument{}).
		Where("symbol = ?", symbol).
		Updates(map[string]interface{}{
			"status":     StatusDelisted,
			"updated_at": time.Now().UnixMilli(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSymbolNotFound
	}
	return nil
}

// =============================================================================
// 辅助函数
// =============================================================================

// isDuplicateKeyError 判断是否为重复键错误
// MySQL error code 1062 = Duplicate entry
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Duplicate entry") || strings.Contains(errStr, "1062")
}
