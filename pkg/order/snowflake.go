// 文件: pkg/order/snowflake.go
// 订单号发号器
//
// 账务引擎可多实例部署，订单号不能走中心化自增:
// snowflake (41bit 时间戳 + 10bit 节点 + 12bit 序列) 保证
// 跨实例全局唯一、同实例趋势递增，流水 EventID 也以它为锚。

package order

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	initOnce sync.Once
)

// InitSnowflake 以部署分配的节点 ID (0-1023) 初始化发号器
// 进程内只生效一次，多实例部署时各实例的节点 ID 必须互异
func InitSnowflake(nodeID int64) error {
	var err error
	initOnce.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// GenerateOrderID 生成订单号
func GenerateOrderID() int64 {
	if node == nil {
		// 未显式初始化退化为节点 0: 单实例仿真和测试够用
		InitSnowflake(0)
	}
	return node.Generate().Int64()
}
