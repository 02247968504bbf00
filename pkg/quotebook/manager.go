package quotebook

import "fmt"

// =============================================================================
// 报价管理器 (Manager)
// =============================================================================
//
// 对外唯一入口，五个操作：
//   AddOrUpdateQuote / RemoveQuote / RemoveAllQuotes
//   GetBestQuoteWithAvailableVolume / ExecuteTrade
//
// 【注意】非并发安全。多个写者共享一个 Manager 时由调用方串行化，
// 通常用 Engine 包一层。

// ManagerConfig 管理器配置
type ManagerConfig struct {
	Clock Clock       // 过期判断用的时钟
	IDs   IDGenerator // TradeResult ID 生成器
}

// DefaultManagerConfig 默认配置：墙上时钟 + 雪花 ID
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Clock: SystemClock{},
		IDs:   defaultSnowflake(),
	}
}

// Manager 报价管理器，独占一个 Ledger
type Manager struct {
	ledger   *Ledger
	executor *Executor
	clock    Clock
}

// NewManager 创建管理器，未配置的协作者使用默认值
func NewManager(cfg ManagerConfig) *Manager {
	def := DefaultManagerConfig()
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.IDs == nil {
		cfg.IDs = def.IDs
	}

	ledger := NewLedger()
	return &Manager{
		ledger:   ledger,
		executor: NewExecutor(ledger, cfg.Clock, cfg.IDs),
		clock:    cfg.Clock,
	}
}

// AddOrUpdateQuote ID 未知则新增，已知则更新价格、数量、到期时间和标的
func (m *Manager) AddOrUpdateQuote(q Quote) error {
	if err := q.Validate(); err != nil {
		return err
	}
	return m.ledger.Upsert(q)
}

// RemoveQuote 按 ID 删除，ID 不存在时什么都不做
func (m *Manager) RemoveQuote(id string) error {
	_, err := m.ledger.RemoveByID(id)
	return err
}

// RemoveAllQuotes 清空标的的报价，返回删除数量
func (m *Manager) RemoveAllQuotes(symbol string) int {
	return m.ledger.RemoveAllForSymbol(symbol)
}

// Quote 按 ID 查询报价（副本）
func (m *Manager) Quote(id string) (Quote, bool, error) {
	return m.ledger.Get(id)
}

// OnPrune 过期或零量报价被清理时回调
func (m *Manager) OnPrune(fn func(Quote)) {
	m.ledger.OnPrune(fn)
}

// GetBestQuoteWithAvailableVolume 最低价且有可用量、未过期的报价
// 没有时返回 nil。途经的无效报价会被清理。
func (m *Manager) GetBestQuoteWithAvailableVolume(symbol string) (*Quote, error) {
	q, ok, err := m.ledger.BestValid(symbol, m.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &q, nil
}

// ExecuteTrade 买入 volume，从最优价向最差价成交
func (m *Manager) ExecuteTrade(symbol string, volume int64) (TradeResult, error) {
	if volume < 0 {
		return TradeResult{}, fmt.Errorf("%w: trade volume %d", ErrInvalidQuantity, volume)
	}
	if symbol == "" {
		return TradeResult{}, fmt.Errorf("%w: empty symbol", ErrInvalidQuote)
	}
	return m.executor.Execute(symbol, volume)
}
