package quotebook

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// 报价行情消息 (Feed)
// =============================================================================
//
// NATS / Kafka 上游推送的 JSON 消息：
//   {"op":"upsert","quote":{...}}
//   {"op":"remove","id":"..."}
//   {"op":"remove_all","symbol":"..."}

// FeedOp 行情操作类型
type FeedOp string

const (
	FeedUpsert    FeedOp = "upsert"
	FeedRemove    FeedOp = "remove"
	FeedRemoveAll FeedOp = "remove_all"
)

// FeedMessage 行情消息
type FeedMessage struct {
	Op     FeedOp `json:"op"`
	Quote  *Quote `json:"quote,omitempty"`
	ID     string `json:"id,omitempty"`
	Symbol string `json:"symbol,omitempty"`
}

// DecodeFeedMessage 解析并校验行情消息
func DecodeFeedMessage(data []byte) (FeedMessage, error) {
	var msg FeedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode feed message: %w", err)
	}

	switch msg.Op {
	case FeedUpsert:
		if msg.Quote == nil {
			return msg, fmt.Errorf("%w: upsert without quote", ErrInvalidQuote)
		}
		if err := msg.Quote.Validate(); err != nil {
			return msg, err
		}
	case FeedRemove:
		if msg.ID == "" {
			return msg, fmt.Errorf("%w: remove without id", ErrInvalidQuote)
		}
	case FeedRemoveAll:
		if msg.Symbol == "" {
			return msg, fmt.Errorf("%w: remove_all without symbol", ErrInvalidQuote)
		}
	default:
		return msg, fmt.Errorf("unknown feed op %q", msg.Op)
	}
	return msg, nil
}

// Apply 把行情消息提交给引擎
func (e *Engine) Apply(msg FeedMessage) error {
	var ok bool
	switch msg.Op {
	case FeedUpsert:
		if msg.Quote == nil {
			return fmt.Errorf("%w: upsert without quote", ErrInvalidQuote)
		}
		ok = e.SubmitQuote(*msg.Quote)
	case FeedRemove:
		ok = e.SubmitRemove(msg.ID)
	case FeedRemoveAll:
		ok = e.SubmitRemoveAll(msg.Symbol)
	default:
		return fmt.Errorf("unknown feed op %q", msg.Op)
	}
	if !ok {
		if e.stopped() {
			return ErrEngineStopped
		}
		return ErrQueueFull
	}
	return nil
}

// FeedHandler 解码 + 提交，供 NATS / Kafka 订阅者使用
func (e *Engine) FeedHandler() func(data []byte) error {
	return func(data []byte) error {
		msg, err := DecodeFeedMessage(data)
		if err != nil {
			return err
		}
		return e.Apply(msg)
	}
}
