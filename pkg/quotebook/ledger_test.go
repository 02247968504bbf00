package quotebook

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 账本基础测试
// =============================================================================

func mustUpsert(t *testing.T, l *Ledger, quotes ...Quote) {
	t.Helper()
	for _, q := range quotes {
		require.NoError(t, l.Upsert(q))
	}
	require.NoError(t, l.CheckIntegrity())
}

func TestLedger_PriceOrder(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l,
		live("b", "ABC", 2, 1),
		live("a", "ABC", 1, 1),
		live("c", "ABC", 3, 1),
	)

	assert.Equal(t, []string{"a", "b", "c"}, ids(l.Quotes("ABC")))
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 3, l.Count("ABC"))
	assert.Equal(t, int64(3), l.Volume("ABC"))
}

func TestLedger_SamePriceIsFIFO(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l,
		live("first", "ABC", 1, 1),
		live("second", "ABC", 1, 1),
		live("cheaper", "ABC", 0.5, 1),
		live("third", "ABC", 1, 1),
	)

	assert.Equal(t, []string{"cheaper", "first", "second", "third"}, ids(l.Quotes("ABC")))
}

func TestLedger_BestSitsAtTail(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l,
		live("a", "ABC", 3, 1),
		live("b", "ABC", 2, 1),
		live("c", "ABC", 1, 1),
	)

	// 降序存放，最优在尾部
	book := l.books["ABC"]
	require.Len(t, book, 3)
	assert.Equal(t, "c", book[len(book)-1].ID)
	assert.Equal(t, position{symbol: "ABC", index: 2}, l.index["c"])

	removed, err := l.RemoveByID("c")
	require.NoError(t, err)
	assert.True(t, removed)
	// 尾删不影响其它下标
	assert.Equal(t, position{symbol: "ABC", index: 0}, l.index["a"])
	assert.Equal(t, position{symbol: "ABC", index: 1}, l.index["b"])
}

func TestLedger_UpdateInPlaceKeepsPriority(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l,
		live("a", "ABC", 1, 10),
		live("b", "ABC", 1, 10),
	)

	// 只改数量：保留队列位置
	mustUpsert(t, l, live("a", "ABC", 1, 3))

	assert.Equal(t, []string{"a", "b"}, ids(l.Quotes("ABC")))
	q, ok, err := l.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), q.AvailableVolume)
}

func TestLedger_PriceChangeReinserts(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l,
		live("a", "ABC", 1, 1),
		live("b", "ABC", 2, 1),
		live("c", "ABC", 2, 1),
	)

	// 改价后重新排队，排在同价老报价之后
	mustUpsert(t, l, live("a", "ABC", 2, 1))
	assert.Equal(t, []string{"b", "c", "a"}, ids(l.Quotes("ABC")))

	mustUpsert(t, l, live("c", "ABC", 0.5, 1))
	assert.Equal(t, []string{"c", "b", "a"}, ids(l.Quotes("ABC")))
}

func TestLedger_SymbolChangeMovesQuote(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l, live("a", "ABC", 1, 1))
	mustUpsert(t, l, live("a", "XYZ", 1, 1))

	assert.Empty(t, l.Quotes("ABC"))
	assert.Equal(t, []string{"XYZ"}, l.Symbols())
	assert.Equal(t, 1, l.Len())
}

func TestLedger_RemoveMiddleReindexes(t *testing.T) {
	l := NewLedger()
	for i := 0; i < 5; i++ {
		mustUpsert(t, l, live(fmt.Sprintf("q%d", i), "ABC", float64(i), 1))
	}

	removed, err := l.RemoveByID("q2")
	require.NoError(t, err)
	assert.True(t, removed)
	require.NoError(t, l.CheckIntegrity())
	assert.Equal(t, []string{"q0", "q1", "q3", "q4"}, ids(l.Quotes("ABC")))

	_, ok, err := l.Get("q2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_RemoveUnknownIsNoop(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l, live("a", "ABC", 1, 1))

	removed, err := l.RemoveByID("nope")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 1, l.Len())
}

func TestLedger_LastRemovalDropsBook(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l, live("a", "ABC", 1, 1))

	_, err := l.RemoveByID("a")
	require.NoError(t, err)

	_, exists := l.books["ABC"]
	assert.False(t, exists)
	assert.Empty(t, l.Symbols())
	assert.Empty(t, l.AllQuotes())
	require.NoError(t, l.CheckIntegrity())
}

func TestLedger_RemoveAllForSymbol(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l,
		live("a", "ABC", 1, 1),
		live("b", "ABC", 2, 1),
		live("x", "XYZ", 5, 1),
	)

	assert.Equal(t, 2, l.RemoveAllForSymbol("ABC"))
	assert.Equal(t, 0, l.RemoveAllForSymbol("ABC"))
	require.NoError(t, l.CheckIntegrity())

	assert.Equal(t, []string{"x"}, ids(l.AllQuotes()))
	_, ok, err := l.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_AllQuotes(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l,
		live("x2", "XYZ", 2, 1),
		live("a1", "ABC", 1, 1),
		live("x1", "XYZ", 1, 1),
	)
	assert.Equal(t, []string{"a1", "x1", "x2"}, ids(l.AllQuotes()))
}

func TestLedger_BestFirstIsRestartable(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l,
		live("a", "ABC", 1, 1),
		live("b", "ABC", 2, 1),
		live("c", "ABC", 3, 1),
	)

	seq := l.BestFirst("ABC")

	var firstTwo []string
	for q := range seq {
		firstTwo = append(firstTwo, q.ID)
		if len(firstTwo) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, firstTwo)

	var all []string
	for q := range seq {
		all = append(all, q.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, all)
}

func TestLedger_ReturnsCopies(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l, live("a", "ABC", 1, 10))

	q, ok, err := l.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	q.AvailableVolume = 0

	again, _, _ := l.Get("a")
	assert.Equal(t, int64(10), again.AvailableVolume)
}

// =============================================================================
// 最优有效报价
// =============================================================================

func TestLedger_BestValidPrunesInvalid(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l,
		live("good", "ABC", 3, 5),
		expired("old", "ABC", 1, 5),
		live("empty", "ABC", 2, 0),
	)

	q, ok, err := l.BestValid("ABC", testNow)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "good", q.ID)

	// 无效报价被物理删除
	assert.Equal(t, []string{"good"}, ids(l.Quotes("ABC")))
	require.NoError(t, l.CheckIntegrity())
}

func TestLedger_BestValidEmpty(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l, expired("old", "ABC", 1, 5))

	_, ok, err := l.BestValid("ABC", testNow)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, l.Symbols())

	_, ok, err = l.BestValid("NONE", testNow)
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// 内部不一致
// =============================================================================

func TestLedger_CorruptIndexFailsFast(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l,
		live("a", "ABC", 2, 1),
		live("b", "ABC", 1, 1),
	)

	// 人为把 a 指向 b 的位置
	l.index["a"] = l.index["b"]

	_, err := l.RemoveByID("a")
	require.ErrorIs(t, err, ErrInternalInconsistency)

	err = l.Upsert(live("a", "ABC", 5, 1))
	require.ErrorIs(t, err, ErrInternalInconsistency)

	_, ok, err := l.Get("a")
	require.ErrorIs(t, err, ErrInternalInconsistency)
	assert.False(t, ok)

	require.ErrorIs(t, l.CheckIntegrity(), ErrInternalInconsistency)
}

func TestLedger_UpsertRejectsInvalidQuote(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l, live("a", "ABC", 2, 1))

	assert.ErrorIs(t, l.Upsert(live("nan", "ABC", math.NaN(), 1)), ErrInvalidPrice)
	assert.ErrorIs(t, l.Upsert(live("inf", "ABC", math.Inf(1), 1)), ErrInvalidPrice)
	assert.ErrorIs(t, l.Upsert(live("neg", "ABC", 1, -1)), ErrInvalidQuantity)
	assert.ErrorIs(t, l.Upsert(live("", "ABC", 1, 1)), ErrInvalidQuote)

	assert.Equal(t, 1, l.Len())
	require.NoError(t, l.CheckIntegrity())
}

func TestLedger_OnPruneReportsRemovedQuotes(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l,
		live("good", "ABC", 3, 5),
		expired("old", "ABC", 1, 5),
		live("empty", "ABC", 2, 0),
	)

	var pruned []string
	l.OnPrune(func(q Quote) { pruned = append(pruned, q.ID) })

	_, ok, err := l.BestValid("ABC", testNow)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"old", "empty"}, pruned)
}

func TestLedger_IndexPastEndFailsFast(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l, live("a", "ABC", 1, 1))
	l.index["a"] = position{symbol: "ABC", index: 7}

	_, err := l.RemoveByID("a")
	require.ErrorIs(t, err, ErrInternalInconsistency)
}

func TestLedger_NegativeVolumeFailsFast(t *testing.T) {
	l := NewLedger()
	mustUpsert(t, l, live("a", "ABC", 1, 1))
	l.books["ABC"][0].AvailableVolume = -1

	_, _, err := l.BestValid("ABC", testNow)
	require.ErrorIs(t, err, ErrInternalInconsistency)
}

// =============================================================================
// 随机操作对照测试
// =============================================================================

// refEntry 参照模型：价格升序，同价按 seq 升序
type refEntry struct {
	q   Quote
	seq int
}

func TestLedger_RandomOpsMatchReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	l := NewLedger()
	ref := make(map[string]refEntry)
	seq := 0

	symbols := []string{"ABC", "XYZ"}
	prices := []float64{1, 1.5, 2, 3}

	for step := 0; step < 3000; step++ {
		id := fmt.Sprintf("q%d", rng.Intn(40))
		switch r := rng.Intn(100); {
		case r < 70:
			q := live(id, symbols[rng.Intn(len(symbols))], prices[rng.Intn(len(prices))], int64(rng.Intn(6)))
			require.NoError(t, l.Upsert(q))

			prev, ok := ref[id]
			if !ok || prev.q.Symbol != q.Symbol || prev.q.Price != q.Price {
				seq++
				ref[id] = refEntry{q: q, seq: seq}
			} else {
				ref[id] = refEntry{q: q, seq: prev.seq}
			}

		case r < 95:
			_, err := l.RemoveByID(id)
			require.NoError(t, err)
			delete(ref, id)

		default:
			symbol := symbols[rng.Intn(len(symbols))]
			l.RemoveAllForSymbol(symbol)
			for k, e := range ref {
				if e.q.Symbol == symbol {
					delete(ref, k)
				}
			}
		}

		require.NoError(t, l.CheckIntegrity(), "step %d", step)
		require.Equal(t, len(ref), l.Len(), "step %d", step)
		for _, symbol := range symbols {
			require.Equal(t, expectedOrder(ref, symbol), ids(l.Quotes(symbol)), "step %d symbol %s", step, symbol)
		}
	}
}

func expectedOrder(ref map[string]refEntry, symbol string) []string {
	var entries []refEntry
	for _, e := range ref {
		if e.q.Symbol == symbol {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].q.Price != entries[j].q.Price {
			return entries[i].q.Price < entries[j].q.Price
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.q.ID
	}
	return out
}
