package quotebook

import (
	"fmt"
	"time"
)

// =============================================================================
// 测试辅助
// =============================================================================

var testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

// fixedClock 冻结在 testNow
func fixedClock() Clock {
	return ClockFunc(func() time.Time { return testNow })
}

// seqIDs 顺序 ID，便于断言
type seqIDs struct{ n int }

func (s *seqIDs) NextID() string {
	s.n++
	return fmt.Sprintf("trade-%d", s.n)
}

func newTestManager() *Manager {
	return NewManager(ManagerConfig{Clock: fixedClock(), IDs: &seqIDs{}})
}

// live 一天后到期的报价
func live(id, symbol string, price float64, volume int64) Quote {
	return Quote{
		ID:              id,
		Symbol:          symbol,
		Price:           price,
		AvailableVolume: volume,
		ExpirationDate:  testNow.Add(24 * time.Hour),
	}
}

// expired 一天前已到期的报价
func expired(id, symbol string, price float64, volume int64) Quote {
	q := live(id, symbol, price, volume)
	q.ExpirationDate = testNow.Add(-24 * time.Hour)
	return q
}

func ids(quotes []Quote) []string {
	out := make([]string, len(quotes))
	for i, q := range quotes {
		out[i] = q.ID
	}
	return out
}
