package quotebook

import (
	"encoding/json"
	"time"
)

// EventMessage 事件的对外 JSON 格式（NATS / Kafka 共用）
type EventMessage struct {
	Type      string       `json:"type"`
	Symbol    string       `json:"symbol"`
	QuoteID   string       `json:"quote_id,omitempty"`
	Quote     *Quote       `json:"quote,omitempty"`
	Trade     *TradeResult `json:"trade,omitempty"`
	Top       *TopOfBook   `json:"top,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewEventMessage 事件转对外消息
func NewEventMessage(e Event) EventMessage {
	msg := EventMessage{
		Type:      e.Type.String(),
		Symbol:    e.Symbol,
		QuoteID:   e.QuoteID,
		Quote:     e.Quote,
		Trade:     e.Trade,
		Top:       e.Top,
		Timestamp: e.Timestamp,
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

// Marshal 序列化
func (m EventMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}
