package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 进程配置，来自环境变量（可选 .env）
type Config struct {
	NATSURL      string   // QUOTER_NATS_URL
	KafkaBrokers []string // QUOTER_KAFKA_BROKERS, 逗号分隔
	KafkaGroup   string   // QUOTER_KAFKA_GROUP
	FeedTopic    string   // QUOTER_FEED_TOPIC
	RedisAddr    string   // QUOTER_REDIS_ADDR
	MySQLDSN     string   // QUOTER_MYSQL_DSN

	SnowflakeNode int64 // QUOTER_SNOWFLAKE_NODE

	Simulate      bool          // QUOTER_SIMULATE
	Symbols       []string      // QUOTER_SYMBOLS
	TradeInterval time.Duration // QUOTER_TRADE_INTERVAL
}

// DefaultConfig 默认只跑内存引擎和模拟
func DefaultConfig() Config {
	return Config{
		KafkaGroup:    "quoter",
		FeedTopic:     "quote-feed",
		Simulate:      true,
		Symbols:       []string{"BTC_USDT", "ETH_USDT"},
		TradeInterval: 200 * time.Millisecond,
	}
}

// LoadConfig 读取 .env（不存在则忽略）和环境变量
func LoadConfig(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		return Config{}, err
	}

	cfg := DefaultConfig()
	cfg.NATSURL = os.Getenv("QUOTER_NATS_URL")
	cfg.KafkaBrokers = splitList(os.Getenv("QUOTER_KAFKA_BROKERS"))
	cfg.RedisAddr = os.Getenv("QUOTER_REDIS_ADDR")
	cfg.MySQLDSN = os.Getenv("QUOTER_MYSQL_DSN")

	if v := os.Getenv("QUOTER_KAFKA_GROUP"); v != "" {
		cfg.KafkaGroup = v
	}
	if v := os.Getenv("QUOTER_FEED_TOPIC"); v != "" {
		cfg.FeedTopic = v
	}
	if v := splitList(os.Getenv("QUOTER_SYMBOLS")); len(v) > 0 {
		cfg.Symbols = v
	}
	if v := os.Getenv("QUOTER_SNOWFLAKE_NODE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, err
		}
		cfg.SnowflakeNode = n
	}
	if v := os.Getenv("QUOTER_SIMULATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, err
		}
		cfg.Simulate = b
	}
	if v := os.Getenv("QUOTER_TRADE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, err
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("QUOTER_TRADE_INTERVAL must be positive, got %s", d)
		}
		cfg.TradeInterval = d
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
