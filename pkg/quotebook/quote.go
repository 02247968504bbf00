package quotebook

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	// 输入校验失败（调用方可修正）
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidQuote    = errors.New("invalid quote")

	// ErrInternalInconsistency 内部不变量被破坏（索引错位、可用量为负）
	// 属于缺陷，不允许静默修复
	ErrInternalInconsistency = errors.New("internal inconsistency")
)

// inconsistency 包装内部缺陷错误
func inconsistency(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternalInconsistency, fmt.Sprintf(format, args...))
}

// =============================================================================
// 报价 (Quote)
// =============================================================================

// Quote 卖方报价，账本中流动性的最小单位
// 价格用 float64，不附加币种语义
type Quote struct {
	ID              string    `json:"id"`               // 调用方提供的唯一标识
	Symbol          string    `json:"symbol"`           // 交易标的
	Price           float64   `json:"price"`            // 报价
	AvailableVolume int64     `json:"available_volume"` // 剩余可成交量，永不为负
	ExpirationDate  time.Time `json:"expiration_date"`  // 到期时刻
}

// Validate 边界校验，拒绝不能进入账本的报价
func (q *Quote) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidQuote)
	}
	if q.Symbol == "" {
		return fmt.Errorf("%w: empty symbol for quote %s", ErrInvalidQuote, q.ID)
	}
	if math.IsNaN(q.Price) || math.IsInf(q.Price, 0) {
		return fmt.Errorf("%w: %v for quote %s", ErrInvalidPrice, q.Price, q.ID)
	}
	if q.AvailableVolume < 0 {
		return fmt.Errorf("%w: %d for quote %s", ErrInvalidQuantity, q.AvailableVolume, q.ID)
	}
	return nil
}

func (q *Quote) String() string {
	return fmt.Sprintf("Quote{ID:%s, %s %d@%g, Exp:%s}",
		q.ID, q.Symbol, q.AvailableVolume, q.Price, q.ExpirationDate.Format(time.RFC3339))
}

// NewVolume 构造非负整数数量
// 负数、NaN、Inf 以及非整数都返回 ErrInvalidQuantity
func NewVolume(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidQuantity, v)
	}
	if v != math.Trunc(v) || v >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidQuantity, v)
	}
	return int64(v), nil
}

// =============================================================================
// 成交结果 (TradeResult)
// =============================================================================

// Fill 单笔吃单明细
type Fill struct {
	QuoteID string  `json:"quote_id"`
	Price   float64 `json:"price"`
	Volume  int64   `json:"volume"`
}

// TradeResult 一次买入请求的成交报告
//
// VolumeExecuted 为 0 时 VolumeWeightedAveragePrice 固定为 0（哨兵值），
// 调用方应先看 Filled()
type TradeResult struct {
	ID                         string    `json:"id"`
	Symbol                     string    `json:"symbol"`
	VolumeRequested            int64     `json:"volume_requested"`
	VolumeExecuted             int64     `json:"volume_executed"`
	VolumeWeightedAveragePrice float64   `json:"vwap"`
	Fills                      []Fill    `json:"fills,omitempty"`
	ExecutedAt                 time.Time `json:"executed_at"`
}

// Filled 是否有任何成交（VWAP 是否有意义）
func (r *TradeResult) Filled() bool {
	return r.VolumeExecuted > 0
}

// Remaining 未成交量
func (r *TradeResult) Remaining() int64 {
	return r.VolumeRequested - r.VolumeExecuted
}

func (r *TradeResult) String() string {
	return fmt.Sprintf("TradeResult{ID:%s, %s req:%d exec:%d vwap:%g}",
		r.ID, r.Symbol, r.VolumeRequested, r.VolumeExecuted, r.VolumeWeightedAveragePrice)
}
