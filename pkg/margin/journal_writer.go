// 文件: pkg/margin/journal_writer.go
// 保证金流水审计写入器
//
// 消费 Kafka 流水事件，批量写入 MySQL:
// - 批量写入提高吞吐
// - EventID 幂等写入防止重复
// - 流水是审计链路，不在落账事务内，允许短暂滞后

package margin

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"aequitas.com/pkg/kafka"
)

// =============================================================================
// JournalWriter - 流水写入器
// =============================================================================

// JournalSink 流水批量落库端
// MySQLAccountRepository 实现之；测试可注入内存实现
type JournalSink interface {
	BatchInsertJournals(ctx context.Context, events []*JournalEvent) error
}

var _ JournalSink = (*MySQLAccountRepository)(nil)

// JournalWriter 流水审计写入器
type JournalWriter struct {
	sink     JournalSink
	consumer *kafka.Consumer

	// 批量缓冲
	buffer    []*JournalEvent
	bufferMu  sync.Mutex
	batchSize int
	flushCh   chan struct{}

	// 统计
	stats JournalWriterStats

	// 生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// JournalWriterStats 写入统计
type JournalWriterStats struct {
	ReceivedCount int64 // 接收数量
	WrittenCount  int64 // 写入数量
	ErrorCount    int64 // 错误数量
	BatchCount    int64 // 批次数量
}

// JournalWriterConfig 配置
type JournalWriterConfig struct {
	Brokers       []string      // Kafka brokers
	GroupID       string        // 消费者组
	BatchSize     int           // 批量大小
	FlushInterval time.Duration // 刷新间隔
}

// DefaultJournalWriterConfig 默认配置
func DefaultJournalWriterConfig(brokers []string) JournalWriterConfig {
	return JournalWriterConfig{
		Brokers:       brokers,
		GroupID:       "margin_journal_writer",
		BatchSize:     100,
		FlushInterval: 500 * time.Millisecond,
	}
}

// NewJournalWriter 创建流水写入器
func NewJournalWriter(cfg JournalWriterConfig, sink JournalSink) (*JournalWriter, error) {
	ctx, cancel := context.WithCancel(context.Background())

	w := &JournalWriter{
		sink:      sink,
		buffer:    make([]*JournalEvent, 0, cfg.BatchSize),
		batchSize: cfg.BatchSize,
		flushCh:   make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	consumerCfg := kafka.DefaultConsumerConfig(
		cfg.Brokers,
		cfg.GroupID,
		[]string{TopicMarginJournal},
	)

	consumer, err := kafka.NewConsumer(consumerCfg, w.handleMessage)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	w.consumer = consumer

	return w, nil
}

// =============================================================================
// 消息处理
// =============================================================================

// handleMessage 处理单条消息
func (w *JournalWriter) handleMessage(topic string, partition int32, offset int64, key, value []byte) error {
	var event JournalEvent
	if err := event.FromJSON(value); err != nil {
		w.stats.ErrorCount++
		return fmt.Errorf("unmarshal journal event: %w", err)
	}

	w.stats.ReceivedCount++

	// 加入缓冲
	w.bufferMu.Lock()
	w.buffer = append(w.buffer, &event)
	shouldFlush := len(w.buffer) >= w.batchSize
	w.bufferMu.Unlock()

	if shouldFlush {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}

	return nil
}

// =============================================================================
// 批量写入
// =============================================================================

// flush 刷新缓冲写入数据库
func (w *JournalWriter) flush() {
	w.bufferMu.Lock()
	events := w.buffer
	w.buffer = make([]*JournalEvent, 0, w.batchSize)
	w.bufferMu.Unlock()

	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.sink.BatchInsertJournals(ctx, events); err != nil {
		w.stats.ErrorCount++
		log.Printf("[JournalWriter] batch insert error: %v", err)
		return
	}

	w.stats.WrittenCount += int64(len(events))
	w.stats.BatchCount++
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动写入器
func (w *JournalWriter) Start(flushInterval time.Duration) {
	w.consumer.Start()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				w.flush() // 最后刷新一次
				return
			case <-ticker.C:
				w.flush()
			case <-w.flushCh:
				w.flush()
			}
		}
	}()
}

// Stop 停止写入器
func (w *JournalWriter) Stop() error {
	w.cancel()
	err := w.consumer.Stop()
	w.wg.Wait()
	return err
}

// Stats 获取统计信息
func (w *JournalWriter) Stats() JournalWriterStats {
	return w.stats
}
