// 文件: pkg/instrument/repository.go
// 标的元数据存储接口
//
// 【设计模式】Repository Pattern
// - 定义存储操作的抽象接口
// - 业务层只依赖接口，不关心具体实现
// - 方便替换存储引擎、添加缓存层

package instrument

import "context"

// Repository 标的元数据存储接口
type Repository interface {
	// Create 创建标的
	// 如果 symbol 已存在，返回 ErrSymbolExists
	Create(ctx context.Context, inst *Instrument) error

	// GetBySymbol 根据 symbol 查询
	// 不存在返回 ErrSymbolNotFound
	GetBySymbol(ctx context.Context, symbol string) (*Instrument, error)

	// Update 更新标的 (根据 Symbol)
	Update(ctx context.Context, inst *Instrument) error

	// SetShortable 更新做空开关
	SetShortable(ctx context.Context, symbol string, shortable bool) error

	// List 列出所有未退市标的
	List(ctx context.Context) ([]*Instrument, error)

	// ListShortable 列出可做空标的
	ListShortable(ctx context.Context) ([]*Instrument, error)

	// Delete 删除标的 (软删除，标记退市)
	Delete(ctx context.Context, symbol string) error
}
