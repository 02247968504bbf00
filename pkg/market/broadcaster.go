package market

import (
	"sync"
	"sync/atomic"

	"quoter.com/pkg/quotebook"
)

// Broadcaster 最优报价广播器（Fan-out）
//
//	      Engine (TopOfBook 事件)
//	            |
//	     [Broadcaster]
//	       /    |    \
//	 订阅者1  订阅者2  订阅者3
//
// 慢订阅者直接丢包，不影响其他订阅者
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	closed      bool

	dropped atomic.Int64
}

type subscriber struct {
	ch      chan quotebook.TopOfBook
	symbols map[string]struct{} // 为空表示全部
}

func (s *subscriber) wants(symbol string) bool {
	if len(s.symbols) == 0 {
		return true
	}
	_, ok := s.symbols[symbol]
	return ok
}

// DefaultSubscriberBuffer 订阅者缓冲
const DefaultSubscriberBuffer = 1024

// NewBroadcaster 创建广播器
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe 订阅，symbols 为空则接收所有标的
func (b *Broadcaster) Subscribe(symbols ...string) <-chan quotebook.TopOfBook {
	return b.SubscribeBuffered(DefaultSubscriberBuffer, symbols...)
}

// SubscribeBuffered 指定缓冲大小订阅
func (b *Broadcaster) SubscribeBuffered(buffer int, symbols ...string) <-chan quotebook.TopOfBook {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan quotebook.TopOfBook, buffer)}
	if len(symbols) > 0 {
		sub.symbols = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			sub.symbols[s] = struct{}{}
		}
	}
	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch
}

// Unsubscribe 取消订阅并关闭 channel
func (b *Broadcaster) Unsubscribe(ch <-chan quotebook.TopOfBook) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.ch == ch {
			close(sub.ch)
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Broadcast 非阻塞分发（Hot Path）
func (b *Broadcaster) Broadcast(top quotebook.TopOfBook) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.wants(top.Symbol) {
			continue
		}
		select {
		case sub.ch <- top:
		default:
			b.dropped.Add(1)
		}
	}
}

// Handler 适配为引擎事件处理器，只关心 TopOfBook
func (b *Broadcaster) Handler() quotebook.EventHandler {
	return func(e quotebook.Event) {
		if e.Type == quotebook.EventTopOfBook && e.Top != nil {
			b.Broadcast(*e.Top)
		}
	}
}

// Dropped 因订阅者过慢丢弃的快照数
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Close 关闭所有订阅者
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
	b.closed = true
}
