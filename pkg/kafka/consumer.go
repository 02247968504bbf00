// 文件: pkg/kafka/consumer.go
// 报价行情消费者（消费者组）
//
// 处理成功才提交 offset：
//   - 成功        -> MarkMessage
//   - 可重试错误  -> 退避后重试同一条，分区内不越过它（引擎队列满）
//   - 其它错误    -> 坏消息，记日志后跳过（MarkMessage，避免卡死分区）

package kafka

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// ErrRetryable 标记可重试的处理失败
var ErrRetryable = errors.New("retryable")

// Retryable 包装为可重试错误
func Retryable(err error) error {
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topics        []string
	OffsetInitial int64         // sarama.OffsetNewest / sarama.OffsetOldest
	RetryBackoff  time.Duration // 首次重试间隔
	MaxBackoff    time.Duration // 重试间隔上限
}

// DefaultConsumerConfig 默认配置，新消费者组从最早的行情开始
func DefaultConsumerConfig(brokers []string, groupID string, topics []string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:       brokers,
		GroupID:       groupID,
		Topics:        topics,
		OffsetInitial: sarama.OffsetOldest,
		RetryBackoff:  10 * time.Millisecond,
		MaxBackoff:    time.Second,
	}
}

// MessageHandler 消息处理函数
type MessageHandler func(topic string, partition int32, offset int64, key, value []byte) error

// ConsumerStats 消费统计
type ConsumerStats struct {
	Handled int64 // 处理成功
	Skipped int64 // 坏消息跳过
	Retries int64 // 重试次数
}

// Consumer 行情消费者
type Consumer struct {
	client  sarama.ConsumerGroup
	topics  []string
	handler *groupHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer 创建消费者
func NewConsumer(cfg ConsumerConfig, handler MessageHandler) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = cfg.OffsetInitial
	// 只提交 MarkMessage 过的 offset
	sc.Consumer.Offsets.AutoCommit.Enable = true

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		client:  client,
		topics:  cfg.Topics,
		handler: newGroupHandler(handler, cfg.RetryBackoff, cfg.MaxBackoff),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start 启动消费
func (c *Consumer) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// rebalance 后 Consume 返回，需要重新加入
			if err := c.client.Consume(c.ctx, c.topics, c.handler); err != nil {
				log.Printf("[Kafka] consume error: %v", err)
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stats 消费统计
func (c *Consumer) Stats() ConsumerStats {
	return c.handler.stats()
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// =============================================================================
// ConsumerGroupHandler
// =============================================================================

// session groupHandler 用到的 ConsumerGroupSession 子集
type session interface {
	Context() context.Context
	MarkMessage(msg *sarama.ConsumerMessage, metadata string)
}

type groupHandler struct {
	handler    MessageHandler
	backoff    time.Duration
	maxBackoff time.Duration

	handled atomic.Int64
	skipped atomic.Int64
	retries atomic.Int64
}

func newGroupHandler(handler MessageHandler, backoff, maxBackoff time.Duration) *groupHandler {
	if backoff <= 0 {
		backoff = 10 * time.Millisecond
	}
	if maxBackoff < backoff {
		maxBackoff = backoff
	}
	return &groupHandler{handler: handler, backoff: backoff, maxBackoff: maxBackoff}
}

func (h *groupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if !h.consume(sess, msg) {
			// 会话结束，未提交的消息由下一个持有者重新消费
			return nil
		}
	}
	return nil
}

// consume 处理单条消息，返回 false 表示会话在成功前结束
func (h *groupHandler) consume(sess session, msg *sarama.ConsumerMessage) bool {
	wait := h.backoff
	for {
		err := h.handler(msg.Topic, msg.Partition, msg.Offset, msg.Key, msg.Value)
		switch {
		case err == nil:
			h.handled.Add(1)
			sess.MarkMessage(msg, "")
			return true

		case errors.Is(err, ErrRetryable):
			h.retries.Add(1)
			select {
			case <-sess.Context().Done():
				return false
			case <-time.After(wait):
			}
			wait = min(wait*2, h.maxBackoff)

		default:
			h.skipped.Add(1)
			log.Printf("[Kafka] skip message: topic=%s, partition=%d, offset=%d, err=%v",
				msg.Topic, msg.Partition, msg.Offset, err)
			sess.MarkMessage(msg, "")
			return true
		}
	}
}

func (h *groupHandler) stats() ConsumerStats {
	return ConsumerStats{
		Handled: h.handled.Load(),
		Skipped: h.skipped.Load(),
		Retries: h.retries.Load(),
	}
}
