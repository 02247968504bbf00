// 文件: pkg/tradestore/repository.go
package tradestore

import (
	"context"
	"errors"
)

var ErrTradeNotFound = errors.New("trade not found")

type TradeRepository interface {
	// 写入，trade_id 重复时忽略
	Save(ctx context.Context, records ...*TradeRecord) error

	// 查询
	GetByTradeID(ctx context.Context, tradeID string) (*TradeRecord, error)
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]*TradeRecord, error)
}
