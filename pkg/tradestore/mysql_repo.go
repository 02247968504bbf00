// 文件: pkg/tradestore/mysql_repo.go
package tradestore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var _ TradeRepository = (*MySQLTradeRepository)(nil)

// Open 连接 MySQL 并建表
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.AutoMigrate(&TradeRecord{}); err != nil {
		return nil, fmt.Errorf("migrate quote_trades: %w", err)
	}
	return db, nil
}

type MySQLTradeRepository struct {
	db        *gorm.DB
	batchSize int
}

func NewMySQLTradeRepository(db *gorm.DB) *MySQLTradeRepository {
	return &MySQLTradeRepository{db: db, batchSize: 100}
}

func (r *MySQLTradeRepository) Save(ctx context.Context, records ...*TradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	// 消息可能重投，按 trade_id 幂等
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(records, r.batchSize).Error
}

func (r *MySQLTradeRepository) GetByTradeID(ctx context.Context, tradeID string) (*TradeRecord, error) {
	var rec TradeRecord
	err := r.db.WithContext(ctx).Where("trade_id = ?", tradeID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *MySQLTradeRepository) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*TradeRecord, error) {
	var records []*TradeRecord
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("executed_at DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
