// 文件: pkg/kafka/events.go
// 引擎事件 -> Kafka 消息

package kafka

import (
	"errors"
	"log"

	"quoter.com/pkg/quotebook"
)

// EventTopics 各类事件的 topic
type EventTopics struct {
	Trades string // 成交
	BBO    string // 最优报价
	Quotes string // 报价增删与拒绝
}

// DefaultEventTopics 默认 topic
func DefaultEventTopics() EventTopics {
	return EventTopics{
		Trades: "quote-trades",
		BBO:    "quote-bbo",
		Quotes: "quote-events",
	}
}

func (t EventTopics) topicFor(typ quotebook.EventType) string {
	switch typ {
	case quotebook.EventTrade:
		return t.Trades
	case quotebook.EventTopOfBook:
		return t.BBO
	default:
		return t.Quotes
	}
}

// EventMessage 引擎事件消息，key 为 symbol
type EventMessage struct {
	topic string
	event quotebook.Event
}

// NewEventMessage 创建事件消息
func NewEventMessage(topics EventTopics, e quotebook.Event) EventMessage {
	return EventMessage{topic: topics.topicFor(e.Type), event: e}
}

func (m EventMessage) Topic() string { return m.topic }
func (m EventMessage) Key() string   { return m.event.Symbol }

func (m EventMessage) Value() ([]byte, error) {
	return quotebook.NewEventMessage(m.event).Marshal()
}

// Handler 适配为引擎事件处理器
func (p *Producer) Handler() quotebook.EventHandler {
	return func(e quotebook.Event) {
		// topic 为空表示不发布该类事件
		msg := NewEventMessage(p.topics, e)
		if msg.Topic() == "" {
			return
		}
		if err := p.Send(msg); err != nil {
			log.Printf("[Kafka] publish %s failed: symbol=%s err=%v", e.Type, e.Symbol, err)
		}
	}
}

// FeedHandler 把行情提交函数适配为消费者回调
// 引擎队列满或已停止时可重试，消息不会被提前提交
func FeedHandler(apply func(data []byte) error) MessageHandler {
	return func(topic string, partition int32, offset int64, key, value []byte) error {
		err := apply(value)
		if errors.Is(err, quotebook.ErrQueueFull) || errors.Is(err, quotebook.ErrEngineStopped) {
			return Retryable(err)
		}
		return err
	}
}
