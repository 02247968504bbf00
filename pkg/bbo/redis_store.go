// 文件: pkg/bbo/redis_store.go
// 最优报价快照的 Redis 存储
//
// Key 设计:
//   {prefix}bbo:{symbol}   Hash  最优报价快照
//   {prefix}bbo:symbols    Set   有报价的标的

package bbo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quoter.com/pkg/quotebook"
)

var ErrNotFound = errors.New("top of book not found")

// Store 最优报价存储
type Store interface {
	Save(ctx context.Context, top quotebook.TopOfBook) error
	Get(ctx context.Context, symbol string) (quotebook.TopOfBook, error)
	Symbols(ctx context.Context) ([]string, error)
}

var _ Store = (*RedisStore)(nil)

// RedisConfig 存储配置
type RedisConfig struct {
	Addr         string
	KeyPrefix    string
	WriteTimeout time.Duration // Handler 单次写超时
}

// DefaultRedisConfig 默认配置
func DefaultRedisConfig(addr string) RedisConfig {
	return RedisConfig{
		Addr:         addr,
		KeyPrefix:    "quoter:",
		WriteTimeout: 500 * time.Millisecond,
	}
}

// RedisStore Redis 实现
type RedisStore struct {
	client *redis.Client
	config RedisConfig
}

// NewRedisStore 创建存储
func NewRedisStore(cfg RedisConfig) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	return &RedisStore{client: rdb, config: cfg}
}

// Ping 检查连接
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(symbol string) string {
	return s.config.KeyPrefix + "bbo:" + symbol
}

func (s *RedisStore) symbolsKey() string {
	return s.config.KeyPrefix + "bbo:symbols"
}

// luaSave 保存快照，旧快照不覆盖新快照
// KEYS[1]: bbo:{symbol}
// KEYS[2]: bbo:symbols
// ARGV[1]: symbol
// ARGV[2]: ts (unix nano)
// ARGV[3]: empty (1/0)
// ARGV[4..7]: quote_id, price, volume, quotes
const luaSave = `
	local cur = redis.call('HGET', KEYS[1], 'ts')
	if cur and tonumber(cur) > tonumber(ARGV[2]) then
		return 0
	end
	if ARGV[3] == '1' then
		redis.call('DEL', KEYS[1])
		redis.call('SREM', KEYS[2], ARGV[1])
		return 1
	end
	redis.call('HSET', KEYS[1],
		'ts', ARGV[2],
		'quote_id', ARGV[4],
		'price', ARGV[5],
		'volume', ARGV[6],
		'quotes', ARGV[7])
	redis.call('SADD', KEYS[2], ARGV[1])
	return 1
`

// Save 保存快照；空盘口删除记录
func (s *RedisStore) Save(ctx context.Context, top quotebook.TopOfBook) error {
	empty := "0"
	if top.Empty {
		empty = "1"
	}
	err := s.client.Eval(ctx, luaSave, []string{s.key(top.Symbol), s.symbolsKey()},
		top.Symbol,
		top.Timestamp.UnixNano(),
		empty,
		top.BestQuoteID,
		strconv.FormatFloat(top.BestPrice, 'f', -1, 64),
		top.BestVolume,
		top.Quotes,
	).Err()
	if err != nil {
		return fmt.Errorf("save bbo %s: %w", top.Symbol, err)
	}
	return nil
}

// Get 读取快照
func (s *RedisStore) Get(ctx context.Context, symbol string) (quotebook.TopOfBook, error) {
	fields, err := s.client.HGetAll(ctx, s.key(symbol)).Result()
	if err != nil {
		return quotebook.TopOfBook{}, fmt.Errorf("get bbo %s: %w", symbol, err)
	}
	if len(fields) == 0 {
		return quotebook.TopOfBook{}, ErrNotFound
	}
	return decode(symbol, fields)
}

func decode(symbol string, fields map[string]string) (quotebook.TopOfBook, error) {
	ts, err := strconv.ParseInt(fields["ts"], 10, 64)
	if err != nil {
		return quotebook.TopOfBook{}, fmt.Errorf("decode bbo %s ts: %w", symbol, err)
	}
	price, err := strconv.ParseFloat(fields["price"], 64)
	if err != nil {
		return quotebook.TopOfBook{}, fmt.Errorf("decode bbo %s price: %w", symbol, err)
	}
	volume, err := strconv.ParseInt(fields["volume"], 10, 64)
	if err != nil {
		return quotebook.TopOfBook{}, fmt.Errorf("decode bbo %s volume: %w", symbol, err)
	}
	quotes, err := strconv.Atoi(fields["quotes"])
	if err != nil {
		return quotebook.TopOfBook{}, fmt.Errorf("decode bbo %s quotes: %w", symbol, err)
	}
	return quotebook.TopOfBook{
		Symbol:      symbol,
		BestQuoteID: fields["quote_id"],
		BestPrice:   price,
		BestVolume:  volume,
		Quotes:      quotes,
		Timestamp:   time.Unix(0, ts).UTC(),
	}, nil
}

// Symbols 当前有报价的标的
func (s *RedisStore) Symbols(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, s.symbolsKey()).Result()
}

// Handler 适配为引擎事件处理器
func (s *RedisStore) Handler() quotebook.EventHandler {
	return func(e quotebook.Event) {
		if e.Type != quotebook.EventTopOfBook || e.Top == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
		defer cancel()
		if err := s.Save(ctx, *e.Top); err != nil {
			log.Printf("[BBO] %v", err)
		}
	}
}
