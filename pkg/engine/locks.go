// 文件: pkg/engine/locks.go
// 账户×标的 串行化锁
//
// 核心设计:
// 1. 同一 (账户, 标的) 的订单必须串行落账，加权均价和比例释放才有确定结果
// 2. 不同键之间完全并行，锁粒度就是吞吐粒度
// 3. 固定分条 (256) 取代 per-key 锁对象，避免锁表无限膨胀
//
// 分条哈希会让少量无关键共享一把锁，只影响吞吐不影响正确性。

package engine

import (
	"hash/fnv"
	"strconv"
	"sync"
)

const lockStripes = 256

// KeyedLocks 按 (账户, 标的) 分条的互斥锁组
type KeyedLocks struct {
	stripes [lockStripes]sync.Mutex
}

func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{}
}

// stripeFor 计算键所在分条
func (l *KeyedLocks) stripeFor(accountID int64, symbol string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(accountID, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(symbol))
	return &l.stripes[h.Sum32()%lockStripes]
}

// Lock 锁定键，返回解锁函数
func (l *KeyedLocks) Lock(accountID int64, symbol string) func() {
	mu := l.stripeFor(accountID, symbol)
	mu.Lock()
	return mu.Unlock
}
