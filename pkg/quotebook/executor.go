package quotebook

// =============================================================================
// 成交执行器 (Trade Executor)
// =============================================================================
//
// 价格优先、时间优先：
//   1. 取当前最优有效报价（顺手清掉过期/零量报价）
//   2. 吃掉 min(可用量, 剩余需求)
//   3. 吃光则删除（尾删 O(1)），否则写回
//   4. 需求满足或没有有效报价时停止
//
// 每轮要么吃光需求，要么删掉一个报价，循环次数不超过报价数。

// Executor 买单执行器
type Executor struct {
	ledger *Ledger
	clock  Clock
	ids    IDGenerator
}

// NewExecutor 创建执行器
func NewExecutor(ledger *Ledger, clock Clock, ids IDGenerator) *Executor {
	return &Executor{
		ledger: ledger,
		clock:  clock,
		ids:    ids,
	}
}

// Execute 对 symbol 执行一笔 volume 的买入
func (e *Executor) Execute(symbol string, volume int64) (TradeResult, error) {
	if volume < 0 {
		return TradeResult{}, inconsistency("negative trade volume %d", volume)
	}

	now := e.clock.Now()
	remaining := volume
	var fills []Fill

	for remaining > 0 {
		q, ok, err := e.ledger.BestValid(symbol, now)
		if err != nil {
			return TradeResult{}, err
		}
		if !ok {
			break
		}

		take := min(q.AvailableVolume, remaining)
		remaining -= take
		q.AvailableVolume -= take
		if remaining < 0 || q.AvailableVolume < 0 {
			return TradeResult{}, inconsistency("fill drove volume negative (quote %s, remaining %d)", q.ID, remaining)
		}
		fills = append(fills, Fill{QuoteID: q.ID, Price: q.Price, Volume: take})

		if q.AvailableVolume == 0 {
			if _, err := e.ledger.RemoveByID(q.ID); err != nil {
				return TradeResult{}, err
			}
		} else if err := e.ledger.Upsert(q); err != nil {
			return TradeResult{}, err
		}
	}

	executed := volume - remaining
	return TradeResult{
		ID:                         e.ids.NextID(),
		Symbol:                     symbol,
		VolumeRequested:            volume,
		VolumeExecuted:             executed,
		VolumeWeightedAveragePrice: vwap(fills, executed),
		Fills:                      fills,
		ExecutedAt:                 now,
	}, nil
}

// vwap 成交均价；没有成交时返回哨兵值 0
func vwap(fills []Fill, executed int64) float64 {
	if executed == 0 {
		return 0
	}
	var notional float64
	for _, f := range fills {
		notional += float64(f.Volume) * f.Price
	}
	return notional / float64(executed)
}
