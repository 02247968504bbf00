// 文件: pkg/nats/publisher.go
// NATS 事件发布者：把引擎事件按主题推出去
// 轻量级替代 Kafka，适合本地开发

package nats

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"quoter.com/pkg/quotebook"
)

// =============================================================================
// 主题
// =============================================================================
//
//   quotes.trade.{symbol}   成交报告
//   quotes.bbo.{symbol}     最优报价快照
//   quotes.event.{symbol}   报价增删、拒绝

const (
	SubjectTradePrefix = "quotes.trade."
	SubjectBBOPrefix   = "quotes.bbo."
	SubjectEventPrefix = "quotes.event."

	// SubjectFeed 上游报价行情
	SubjectFeed = "quotes.feed"
)

// SubjectFor 事件对应的主题
func SubjectFor(e quotebook.Event) string {
	switch e.Type {
	case quotebook.EventTrade:
		return SubjectTradePrefix + e.Symbol
	case quotebook.EventTopOfBook:
		return SubjectBBOPrefix + e.Symbol
	default:
		return SubjectEventPrefix + e.Symbol
	}
}

// =============================================================================
// Publisher
// =============================================================================

// rawPublisher 发布原始字节，测试时可替换
type rawPublisher interface {
	Publish(subject string, data []byte) error
}

// Publisher NATS 发布者
type Publisher struct {
	conn *nats.Conn
	out  rawPublisher
}

// NewPublisher 创建发布者
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("quoter-publisher"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Publisher{conn: conn, out: conn}, nil
}

// Publish JSON 编码后发布
func (p *Publisher) Publish(subject string, data any) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return p.out.Publish(subject, bytes)
}

// PublishEvent 发布一条引擎事件
func (p *Publisher) PublishEvent(e quotebook.Event) error {
	data, err := quotebook.NewEventMessage(e).Marshal()
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	return p.out.Publish(SubjectFor(e), data)
}

// Handler 适配为引擎事件处理器，失败只记日志
func (p *Publisher) Handler() quotebook.EventHandler {
	return func(e quotebook.Event) {
		if err := p.PublishEvent(e); err != nil {
			log.Printf("[NATS] publish error: type=%s symbol=%s err=%v", e.Type, e.Symbol, err)
		}
	}
}

// Close 刷新并关闭连接
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Flush(); err != nil {
		log.Printf("[NATS] flush error: %v", err)
	}
	p.conn.Close()
}
