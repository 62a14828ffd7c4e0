// 文件: pkg/margin/journal_writer_test.go

package margin

import (
	"context"
	"errors"
	"testing"
	"time"
)

// captureSink 收集批次的内存落库端
type captureSink struct {
	batches [][]*JournalEvent
	err     error
}

func (s *captureSink) BatchInsertJournals(_ context.Context, events []*JournalEvent) error {
	if s.err != nil {
		return s.err
	}
	batch := make([]*JournalEvent, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return nil
}

func newBufferedWriter(sink JournalSink, batchSize int) *JournalWriter {
	return &JournalWriter{
		sink:      sink,
		buffer:    make([]*JournalEvent, 0, batchSize),
		batchSize: batchSize,
		flushCh:   make(chan struct{}, 1),
	}
}

func journalPayload(t *testing.T, eventID string, amount int64) []byte {
	t.Helper()
	event := &JournalEvent{
		EventID:    eventID,
		AccountID:  1001,
		Symbol:     "RELIANCE",
		ChangeType: ChangeBlock,
		Amount:     amount,
		CreatedAt:  time.Now(),
	}
	data, err := event.ToJSON()
	if err != nil {
		t.Fatalf("marshal journal event: %v", err)
	}
	return data
}

func TestJournalWriter_FlushesAtBatchSize(t *testing.T) {
	sink := &captureSink{}
	w := newBufferedWriter(sink, 3)

	for i, id := range []string{"BLOCK_1_1001", "BLOCK_2_1001", "BLOCK_3_1001"} {
		if err := w.handleMessage(TopicMarginJournal, 0, int64(i), nil, journalPayload(t, id, 100)); err != nil {
			t.Fatalf("handleMessage: %v", err)
		}
	}

	// 第三条应当触发刷新信号
	select {
	case <-w.flushCh:
	default:
		t.Fatal("expected flush signal after batchSize messages")
	}

	w.flush()

	if len(sink.batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(sink.batches))
	}
	if got := len(sink.batches[0]); got != 3 {
		t.Fatalf("batch size = %d, want 3", got)
	}
	if sink.batches[0][0].EventID != "BLOCK_1_1001" {
		t.Errorf("first event = %s, want BLOCK_1_1001", sink.batches[0][0].EventID)
	}

	stats := w.Stats()
	if stats.ReceivedCount != 3 || stats.WrittenCount != 3 || stats.BatchCount != 1 {
		t.Errorf("stats = %+v, want received=3 written=3 batches=1", stats)
	}
}

func TestJournalWriter_FinalFlushDrainsPartialBuffer(t *testing.T) {
	sink := &captureSink{}
	w := newBufferedWriter(sink, 100)

	for i := 0; i < 5; i++ {
		payload := journalPayload(t, "RELEASE_"+string(rune('a'+i))+"_1001", 50)
		if err := w.handleMessage(TopicMarginJournal, 0, int64(i), nil, payload); err != nil {
			t.Fatalf("handleMessage: %v", err)
		}
	}

	// 未达批量阈值也要能刷出去 (停机前的最后一刷)
	w.flush()

	if len(sink.batches) != 1 || len(sink.batches[0]) != 5 {
		t.Fatalf("batches = %v, want one batch of 5", len(sink.batches))
	}

	// 空缓冲再刷不产生空批次
	w.flush()
	if len(sink.batches) != 1 {
		t.Errorf("empty flush produced a batch")
	}
}

func TestJournalWriter_BadPayloadCountedNotBuffered(t *testing.T) {
	sink := &captureSink{}
	w := newBufferedWriter(sink, 10)

	if err := w.handleMessage(TopicMarginJournal, 0, 0, nil, []byte("{not json")); err == nil {
		t.Fatal("expected unmarshal error")
	}
	if err := w.handleMessage(TopicMarginJournal, 0, 1, nil, journalPayload(t, "PNL_9_1001", 7)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	w.flush()

	if len(sink.batches) != 1 || len(sink.batches[0]) != 1 {
		t.Fatalf("want exactly the valid event flushed, got %d batches", len(sink.batches))
	}
	stats := w.Stats()
	if stats.ErrorCount != 1 || stats.ReceivedCount != 1 {
		t.Errorf("stats = %+v, want errors=1 received=1", stats)
	}
}

func TestJournalWriter_SinkErrorKeepsCounting(t *testing.T) {
	sink := &captureSink{err: errors.New("db down")}
	w := newBufferedWriter(sink, 10)

	if err := w.handleMessage(TopicMarginJournal, 0, 0, nil, journalPayload(t, "BLOCK_7_1001", 100)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	w.flush()

	stats := w.Stats()
	if stats.WrittenCount != 0 {
		t.Errorf("written = %d, want 0 on sink error", stats.WrittenCount)
	}
	if stats.ErrorCount != 1 {
		t.Errorf("errors = %d, want 1", stats.ErrorCount)
	}
}
