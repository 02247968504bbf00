// 文件: pkg/quotebook/idgen.go
// ID 生成与时钟
// 使用开源库: github.com/bwmarrin/snowflake, github.com/google/uuid

package quotebook

import (
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// =============================================================================
// 外部协作者接口
// =============================================================================

// IDGenerator 每次调用返回一个未使用过的 ID（用于 TradeResult）
type IDGenerator interface {
	NextID() string
}

// Clock 返回当前时刻，用于过期判断
type Clock interface {
	Now() time.Time
}

// SystemClock 墙上时钟
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc 函数适配器，测试里冻结时间用
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// =============================================================================
// 雪花算法
// =============================================================================

var (
	defaultNode     *snowflake.Node
	defaultNodeOnce sync.Once
	defaultNodeErr  error
)

// SnowflakeIDGenerator 雪花 ID 生成器
type SnowflakeIDGenerator struct {
	node *snowflake.Node
}

// NewSnowflakeIDGenerator nodeID: 节点ID (0-1023)
func NewSnowflakeIDGenerator(nodeID int64) (*SnowflakeIDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &SnowflakeIDGenerator{node: node}, nil
}

// defaultSnowflake 未配置生成器时使用节点 0
func defaultSnowflake() IDGenerator {
	defaultNodeOnce.Do(func() {
		defaultNode, defaultNodeErr = snowflake.NewNode(0)
	})
	if defaultNodeErr != nil {
		// 节点 0 永远合法，走到这里只可能是库本身的问题
		return UUIDGenerator{}
	}
	return &SnowflakeIDGenerator{node: defaultNode}
}

func (g *SnowflakeIDGenerator) NextID() string {
	return g.node.Generate().String()
}

// =============================================================================
// UUID
// =============================================================================

// UUIDGenerator 随机 UUID (v4)
type UUIDGenerator struct{}

func (UUIDGenerator) NextID() string { return uuid.NewString() }

// NewQuoteID 给调用方生成报价 ID 的便捷方法
func NewQuoteID() string {
	return uuid.NewString()
}
