// 文件: pkg/tradestore/model.go
package tradestore

import (
	"encoding/json"
	"fmt"
	"time"

	"quoter.com/pkg/quotebook"
)

// TradeRecord 成交流水
type TradeRecord struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	TradeID string `gorm:"column:trade_id;type:varchar(64);uniqueIndex"`
	Symbol  string `gorm:"column:symbol;type:varchar(32);index:idx_symbol_executed"`

	VolumeRequested int64   `gorm:"column:volume_requested"`
	VolumeExecuted  int64   `gorm:"column:volume_executed"`
	VWAP            float64 `gorm:"column:vwap"` // 未成交为 0
	FillCount       int     `gorm:"column:fill_count"`

	// 成交明细 JSON: [{"quote_id":..,"price":..,"volume":..}]
	Fills string `gorm:"column:fills;type:json"`

	ExecutedAt int64 `gorm:"column:executed_at;index:idx_symbol_executed"` // 毫秒
	CreatedAt  int64 `gorm:"column:created_at"`
}

func (TradeRecord) TableName() string {
	return "quote_trades"
}

// NewTradeRecord 成交结果转流水
func NewTradeRecord(r quotebook.TradeResult) (*TradeRecord, error) {
	fills := r.Fills
	if fills == nil {
		fills = []quotebook.Fill{}
	}
	data, err := json.Marshal(fills)
	if err != nil {
		return nil, fmt.Errorf("encode fills of %s: %w", r.ID, err)
	}
	return &TradeRecord{
		TradeID:         r.ID,
		Symbol:          r.Symbol,
		VolumeRequested: r.VolumeRequested,
		VolumeExecuted:  r.VolumeExecuted,
		VWAP:            r.VolumeWeightedAveragePrice,
		FillCount:       len(r.Fills),
		Fills:           string(data),
		ExecutedAt:      r.ExecutedAt.UnixMilli(),
		CreatedAt:       time.Now().UnixMilli(),
	}, nil
}

// Result 流水还原为成交结果
func (t *TradeRecord) Result() (quotebook.TradeResult, error) {
	var fills []quotebook.Fill
	if t.Fills != "" {
		if err := json.Unmarshal([]byte(t.Fills), &fills); err != nil {
			return quotebook.TradeResult{}, fmt.Errorf("decode fills of %s: %w", t.TradeID, err)
		}
	}
	return quotebook.TradeResult{
		ID:                         t.TradeID,
		Symbol:                     t.Symbol,
		VolumeRequested:            t.VolumeRequested,
		VolumeExecuted:             t.VolumeExecuted,
		VolumeWeightedAveragePrice: t.VWAP,
		Fills:                      fills,
		ExecutedAt:                 time.UnixMilli(t.ExecutedAt).UTC(),
	}, nil
}
