package quotebook

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// 报价引擎 (Engine)
// =============================================================================
//
// Manager 本身不加锁。Engine 用单个 goroutine 独占 Manager，
// 所有写操作经由 channel 串行进入，事件由另一个 goroutine 分发。
//
//   ┌─────────────┐
//   │  Quote Feed │ ──► cmdCh ──► commandLoop(Manager) ──► eventCh ──► handlers
//   └─────────────┘                                         (NATS/Kafka/Redis/MySQL)

var (
	ErrEngineStopped = errors.New("engine stopped")
	ErrQueueFull     = errors.New("command queue full")
)

// EngineConfig 引擎配置
type EngineConfig struct {
	CommandQueueSize int           // 命令队列大小
	EventQueueSize   int           // 事件队列大小
	Manager          ManagerConfig // 时钟与 ID 生成器
}

// DefaultEngineConfig 默认配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CommandQueueSize: 10000,
		EventQueueSize:   10000,
		Manager:          DefaultManagerConfig(),
	}
}

// =============================================================================
// 事件定义
// =============================================================================

// EventType 事件类型
type EventType int

const (
	EventQuoteUpserted EventType = iota // 报价新增/更新
	EventQuoteRemoved                   // 报价删除
	EventSymbolCleared                  // 标的清空
	EventTrade                          // 成交
	EventTopOfBook                      // 最优报价变化
	EventRejected                       // 命令被拒绝
)

func (t EventType) String() string {
	switch t {
	case EventQuoteUpserted:
		return "QUOTE_UPSERTED"
	case EventQuoteRemoved:
		return "QUOTE_REMOVED"
	case EventSymbolCleared:
		return "SYMBOL_CLEARED"
	case EventTrade:
		return "TRADE"
	case EventTopOfBook:
		return "TOP_OF_BOOK"
	case EventRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// TopOfBook 标的最优报价快照
type TopOfBook struct {
	Symbol      string    `json:"symbol"`
	Empty       bool      `json:"empty"`
	BestQuoteID string    `json:"best_quote_id,omitempty"`
	BestPrice   float64   `json:"best_price"`
	BestVolume  int64     `json:"best_volume"`
	Quotes      int       `json:"quotes"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event 事件
type Event struct {
	Type      EventType
	Timestamp time.Time
	Symbol    string
	QuoteID   string
	Quote     *Quote       // EventQuoteUpserted
	Trade     *TradeResult // EventTrade
	Top       *TopOfBook   // EventTopOfBook
	Err       error        // EventRejected
}

// EventHandler 事件处理器
type EventHandler func(Event)

// =============================================================================
// 命令
// =============================================================================

type commandType int

const (
	cmdUpsert commandType = iota
	cmdRemove
	cmdRemoveAll
	cmdTrade
	cmdBest
)

type command struct {
	typ    commandType
	quote  Quote
	id     string
	symbol string
	volume int64
	reply  chan reply // 同步命令才有
}

type reply struct {
	trade TradeResult
	quote *Quote
	err   error
}

// =============================================================================
// 引擎
// =============================================================================

// Engine 报价引擎
type Engine struct {
	config  EngineConfig
	manager *Manager

	cmdCh   chan command
	eventCh chan Event

	handlers []EventHandler
	mu       sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{} // commandLoop 退出后关闭
	evDone   chan struct{} // eventLoop 退出后关闭
	wg       sync.WaitGroup

	stats engineCounters
}

// EngineStats 引擎统计
type EngineStats struct {
	QuotesUpserted  int64
	QuotesRemoved   int64
	TradesExecuted  int64
	VolumeExecuted  int64
	CommandsFailed  int64
	EventsDropped   int64
	CommandsPending int
}

type engineCounters struct {
	quotesUpserted atomic.Int64
	quotesRemoved  atomic.Int64
	tradesExecuted atomic.Int64
	volumeExecuted atomic.Int64
	commandsFailed atomic.Int64
	eventsDropped  atomic.Int64
}

// NewEngine 创建引擎
func NewEngine(config EngineConfig) *Engine {
	if config.CommandQueueSize <= 0 {
		config.CommandQueueSize = DefaultEngineConfig().CommandQueueSize
	}
	if config.EventQueueSize <= 0 {
		config.EventQueueSize = DefaultEngineConfig().EventQueueSize
	}
	e := &Engine{
		config:  config,
		manager: NewManager(config.Manager),
		cmdCh:   make(chan command, config.CommandQueueSize),
		eventCh: make(chan Event, config.EventQueueSize),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		evDone:  make(chan struct{}),
	}
	e.manager.OnPrune(e.onPrune)
	return e
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动命令循环与事件循环
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(2)
	go e.commandLoop(ctx)
	go e.eventLoop(ctx)
}

// Stop 停止引擎，可重复调用
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()
}

// commandLoop 唯一持有 Manager 的 goroutine
// 无论因 ctx 取消还是 Stop 退出，都关闭 done，等待中的调用方随之返回
func (e *Engine) commandLoop(ctx context.Context) {
	defer e.wg.Done()
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case cmd := <-e.cmdCh:
			e.process(cmd)
		}
	}
}

// =============================================================================
// 提交命令
// =============================================================================

// SubmitQuote 异步新增/更新报价，队列满返回 false
func (e *Engine) SubmitQuote(q Quote) bool {
	return e.enqueue(command{typ: cmdUpsert, quote: q})
}

// SubmitRemove 异步删除报价
func (e *Engine) SubmitRemove(id string) bool {
	return e.enqueue(command{typ: cmdRemove, id: id})
}

// SubmitRemoveAll 异步清空标的
func (e *Engine) SubmitRemoveAll(symbol string) bool {
	return e.enqueue(command{typ: cmdRemoveAll, symbol: symbol})
}

// stopped Stop 已调用或命令循环已退出
func (e *Engine) stopped() bool {
	select {
	case <-e.stopCh:
		return true
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *Engine) enqueue(cmd command) bool {
	if e.stopped() {
		return false
	}
	select {
	case e.cmdCh <- cmd:
		return true
	default:
		return false
	}
}

// ExecuteTrade 同步执行买入
func (e *Engine) ExecuteTrade(ctx context.Context, symbol string, volume int64) (TradeResult, error) {
	r, err := e.call(ctx, command{typ: cmdTrade, symbol: symbol, volume: volume})
	if err != nil {
		return TradeResult{}, err
	}
	return r.trade, r.err
}

// BestQuote 同步查询最优报价，没有时返回 nil
func (e *Engine) BestQuote(ctx context.Context, symbol string) (*Quote, error) {
	r, err := e.call(ctx, command{typ: cmdBest, symbol: symbol})
	if err != nil {
		return nil, err
	}
	return r.quote, r.err
}

// call 发送同步命令并等待结果
func (e *Engine) call(ctx context.Context, cmd command) (reply, error) {
	cmd.reply = make(chan reply, 1)

	if e.stopped() {
		return reply{}, ErrEngineStopped
	}

	select {
	case e.cmdCh <- cmd:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-e.stopCh:
		return reply{}, ErrEngineStopped
	case <-e.done:
		return reply{}, ErrEngineStopped
	}

	select {
	case r := <-cmd.reply:
		return r, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-e.stopCh:
	case <-e.done:
	}
	// 循环退出前可能已经处理完这条命令
	select {
	case r := <-cmd.reply:
		return r, nil
	default:
		return reply{}, ErrEngineStopped
	}
}

// =============================================================================
// 命令处理（仅 commandLoop 调用）
// =============================================================================

func (e *Engine) process(cmd command) {
	switch cmd.typ {
	case cmdUpsert:
		e.processUpsert(cmd.quote)

	case cmdRemove:
		e.processRemove(cmd.id)

	case cmdRemoveAll:
		n := e.manager.RemoveAllQuotes(cmd.symbol)
		if n > 0 {
			e.stats.quotesRemoved.Add(int64(n))
			e.publishCriticalEvent(Event{Type: EventSymbolCleared, Timestamp: time.Now(), Symbol: cmd.symbol})
			e.publishTopOfBook(cmd.symbol)
		}

	case cmdTrade:
		result, err := e.manager.ExecuteTrade(cmd.symbol, cmd.volume)
		if err != nil {
			e.fail(cmd.symbol, "", err)
		} else {
			e.stats.tradesExecuted.Add(1)
			e.stats.volumeExecuted.Add(result.VolumeExecuted)
			e.publishCriticalEvent(Event{Type: EventTrade, Timestamp: result.ExecutedAt, Symbol: cmd.symbol, Trade: &result})
			if result.Filled() {
				e.publishTopOfBook(cmd.symbol)
			}
		}
		cmd.reply <- reply{trade: result, err: err}

	case cmdBest:
		q, err := e.manager.GetBestQuoteWithAvailableVolume(cmd.symbol)
		if err != nil {
			e.fail(cmd.symbol, "", err)
		}
		cmd.reply <- reply{quote: q, err: err}
	}
}

func (e *Engine) processUpsert(q Quote) {
	// 标的变更时旧标的的最优报价也可能变化
	prev, existed, err := e.manager.Quote(q.ID)
	if err != nil {
		e.fail(q.Symbol, q.ID, err)
		return
	}

	if err := e.manager.AddOrUpdateQuote(q); err != nil {
		e.fail(q.Symbol, q.ID, err)
		return
	}
	e.stats.quotesUpserted.Add(1)
	e.publishCriticalEvent(Event{Type: EventQuoteUpserted, Timestamp: time.Now(), Symbol: q.Symbol, QuoteID: q.ID, Quote: &q})

	if existed && prev.Symbol != q.Symbol {
		e.publishTopOfBook(prev.Symbol)
	}
	e.publishTopOfBook(q.Symbol)
}

func (e *Engine) processRemove(id string) {
	prev, existed, err := e.manager.Quote(id)
	if err != nil {
		e.fail("", id, err)
		return
	}
	if !existed {
		return
	}
	if err := e.manager.RemoveQuote(id); err != nil {
		e.fail(prev.Symbol, id, err)
		return
	}
	e.stats.quotesRemoved.Add(1)
	e.publishCriticalEvent(Event{Type: EventQuoteRemoved, Timestamp: time.Now(), Symbol: prev.Symbol, QuoteID: id})
	e.publishTopOfBook(prev.Symbol)
}

// onPrune 过期/零量报价被顺手清理，同样对外发 QuoteRemoved
func (e *Engine) onPrune(q Quote) {
	e.stats.quotesRemoved.Add(1)
	e.publishCriticalEvent(Event{Type: EventQuoteRemoved, Timestamp: time.Now(), Symbol: q.Symbol, QuoteID: q.ID, Quote: &q})
}

// fail 记录失败；内部不一致必须大声报出来
func (e *Engine) fail(symbol, quoteID string, err error) {
	e.stats.commandsFailed.Add(1)
	if errors.Is(err, ErrInternalInconsistency) {
		log.Printf("[Engine] INTERNAL INCONSISTENCY: symbol=%s quote=%s err=%v", symbol, quoteID, err)
	}
	e.publishCriticalEvent(Event{Type: EventRejected, Timestamp: time.Now(), Symbol: symbol, QuoteID: quoteID, Err: err})
}

// publishTopOfBook 计算并发布最优报价快照（可丢弃）
func (e *Engine) publishTopOfBook(symbol string) {
	top, err := e.topOfBook(symbol)
	if err != nil {
		e.fail(symbol, "", err)
		return
	}
	e.publishEvent(Event{Type: EventTopOfBook, Timestamp: top.Timestamp, Symbol: symbol, Top: &top})
}

func (e *Engine) topOfBook(symbol string) (TopOfBook, error) {
	now := e.manager.clock.Now()
	top := TopOfBook{Symbol: symbol, Timestamp: now}

	q, ok, err := e.manager.ledger.BestValid(symbol, now)
	if err != nil {
		return top, err
	}
	top.Quotes = e.manager.ledger.Count(symbol)
	if !ok {
		top.Empty = true
		return top, nil
	}
	top.BestQuoteID = q.ID
	top.BestPrice = q.Price
	top.BestVolume = q.AvailableVolume
	return top, nil
}

// =============================================================================
// 事件发布（分级策略）
// =============================================================================

// OnEvent 注册事件处理器，可注册多个
func (e *Engine) OnEvent(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

// publishCriticalEvent 阻塞发送，保证不丢（停止时放弃）
func (e *Engine) publishCriticalEvent(event Event) {
	select {
	case e.eventCh <- event:
	case <-e.stopCh:
	case <-e.evDone:
	}
}

// publishEvent 非阻塞发送，队列满则丢弃
func (e *Engine) publishEvent(event Event) {
	select {
	case e.eventCh <- event:
	default:
		e.stats.eventsDropped.Add(1)
	}
}

// eventLoop 事件分发循环
func (e *Engine) eventLoop(ctx context.Context) {
	defer e.wg.Done()
	defer close(e.evDone)

	for {
		select {
		case <-ctx.Done():
			e.drainEvents()
			return
		case <-e.stopCh:
			e.drainEvents()
			return
		case event := <-e.eventCh:
			e.dispatchEvent(event)
		}
	}
}

// drainEvents 退出前把已入队的事件分发完
func (e *Engine) drainEvents() {
	for {
		select {
		case event := <-e.eventCh:
			e.dispatchEvent(event)
		default:
			return
		}
	}
}

func (e *Engine) dispatchEvent(event Event) {
	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// =============================================================================
// 查询
// =============================================================================

// GetStats 获取统计信息
func (e *Engine) GetStats() EngineStats {
	return EngineStats{
		QuotesUpserted:  e.stats.quotesUpserted.Load(),
		QuotesRemoved:   e.stats.quotesRemoved.Load(),
		TradesExecuted:  e.stats.tradesExecuted.Load(),
		VolumeExecuted:  e.stats.volumeExecuted.Load(),
		CommandsFailed:  e.stats.commandsFailed.Load(),
		EventsDropped:   e.stats.eventsDropped.Load(),
		CommandsPending: len(e.cmdCh),
	}
}
