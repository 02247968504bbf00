// 文件: pkg/tradestore/writer.go
// 成交流水批量写入器
//
// 引擎事件或 Kafka 成交消息 -> 缓冲 -> 批量写 MySQL
// 满批或定时刷新，关闭时最后刷新一次

package tradestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"quoter.com/pkg/quotebook"
)

// WriterConfig 配置
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

// DefaultWriterConfig 默认配置
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: 500 * time.Millisecond,
		WriteTimeout:  10 * time.Second,
	}
}

// WriterStats 写入统计
type WriterStats struct {
	Received int64
	Written  int64
	Errors   int64
	Batches  int64
}

// Writer 批量写入器
type Writer struct {
	repo   TradeRepository
	config WriterConfig

	mu      sync.Mutex
	buffer  []*TradeRecord
	flushCh chan struct{}

	received atomic.Int64
	written  atomic.Int64
	errors   atomic.Int64
	batches  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter 创建写入器
func NewWriter(repo TradeRepository, cfg WriterConfig) *Writer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		repo:    repo,
		config:  cfg,
		buffer:  make([]*TradeRecord, 0, cfg.BatchSize),
		flushCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add 加入缓冲
func (w *Writer) Add(r quotebook.TradeResult) error {
	rec, err := NewTradeRecord(r)
	if err != nil {
		w.errors.Add(1)
		return err
	}
	w.received.Add(1)

	w.mu.Lock()
	w.buffer = append(w.buffer, rec)
	full := len(w.buffer) >= w.config.BatchSize
	w.mu.Unlock()

	if full {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Handler 适配为引擎事件处理器
func (w *Writer) Handler() quotebook.EventHandler {
	return func(e quotebook.Event) {
		if e.Type != quotebook.EventTrade || e.Trade == nil {
			return
		}
		if err := w.Add(*e.Trade); err != nil {
			log.Printf("[TradeWriter] %v", err)
		}
	}
}

// HandleMessage 处理 Kafka/NATS 上的成交事件消息
func (w *Writer) HandleMessage(data []byte) error {
	var msg quotebook.EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		w.errors.Add(1)
		return fmt.Errorf("unmarshal trade message: %w", err)
	}
	if msg.Trade == nil {
		return nil
	}
	return w.Add(*msg.Trade)
}

// Flush 立即写入缓冲
func (w *Writer) Flush() {
	w.mu.Lock()
	records := w.buffer
	w.buffer = make([]*TradeRecord, 0, w.config.BatchSize)
	w.mu.Unlock()

	if len(records) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	if err := w.repo.Save(ctx, records...); err != nil {
		w.errors.Add(1)
		log.Printf("[TradeWriter] batch insert error: count=%d, err=%v", len(records), err)
		return
	}
	w.written.Add(int64(len(records)))
	w.batches.Add(1)
}

// Start 启动定时刷新
func (w *Writer) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.config.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				w.Flush()
				return
			case <-ticker.C:
				w.Flush()
			case <-w.flushCh:
				w.Flush()
			}
		}
	}()
}

// Stop 停止并刷新剩余数据
func (w *Writer) Stop() {
	w.cancel()
	w.wg.Wait()
}

// Stats 统计
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Received: w.received.Load(),
		Written:  w.written.Load(),
		Errors:   w.errors.Load(),
		Batches:  w.batches.Load(),
	}
}
