package market

import (
	"math"
	"math/rand"
	"time"

	"quoter.com/pkg/quotebook"
)

// Ticker 模拟做市商报价源
//
// 中间价按几何布朗运动游走，每个 tick 在中间价上方挂若干档卖报价。
// 用于本地演示与压测，不依赖真实行情。
type Ticker struct {
	Symbol     string
	Price      float64       // 当前中间价
	Interval   time.Duration // tick 间隔
	Volatility float64       // 年化波动率
	Levels     int           // 每个 tick 生成的档位数
	Spread     float64       // 相邻档位价差（比例）
	MaxVolume  int64         // 单个报价最大数量
	TTL        time.Duration // 报价有效期

	ids  quotebook.IDGenerator
	stop chan struct{}
	out  chan quotebook.Quote

	lastUpdated time.Time
}

// NewTicker 创建报价源
func NewTicker(symbol string, startPrice float64, interval time.Duration) *Ticker {
	return &Ticker{
		Symbol:      symbol,
		Price:       startPrice,
		Interval:    interval,
		Volatility:  0.5,
		Levels:      3,
		Spread:      0.0005,
		MaxVolume:   1000,
		TTL:         5 * time.Second,
		ids:         quotebook.UUIDGenerator{},
		stop:        make(chan struct{}),
		out:         make(chan quotebook.Quote, 100),
		lastUpdated: time.Now(),
	}
}

// Start 启动，返回只读报价流
func (t *Ticker) Start() <-chan quotebook.Quote {
	go t.loop()
	return t.out
}

// Stop 停止
func (t *Ticker) Stop() {
	close(t.stop)
}

func (t *Ticker) loop() {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	defer close(t.out)

	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			t.step(r, now)
			for _, q := range t.quotes(r, now) {
				// 下游慢就丢，旧报价没有价值
				select {
				case t.out <- q:
				default:
				}
			}
		}
	}
}

// step GBM 推进中间价: S *= exp(-σ²dt/2 + σ√dt·Z)
func (t *Ticker) step(r *rand.Rand, now time.Time) {
	dt := now.Sub(t.lastUpdated).Hours() / 24 / 365
	if dt <= 0 {
		dt = 1e-9
	}
	sigma := t.Volatility
	t.Price *= math.Exp(-0.5*sigma*sigma*dt + sigma*math.Sqrt(dt)*r.NormFloat64())
	t.lastUpdated = now
}

// quotes 在中间价之上生成 Levels 档报价
func (t *Ticker) quotes(r *rand.Rand, now time.Time) []quotebook.Quote {
	out := make([]quotebook.Quote, 0, t.Levels)
	for level := 1; level <= t.Levels; level++ {
		out = append(out, quotebook.Quote{
			ID:              t.ids.NextID(),
			Symbol:          t.Symbol,
			Price:           t.Price * (1 + t.Spread*float64(level)),
			AvailableVolume: 1 + r.Int63n(t.MaxVolume),
			ExpirationDate:  now.Add(t.TTL),
		})
	}
	return out
}
