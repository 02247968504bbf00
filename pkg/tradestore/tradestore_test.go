// 文件: pkg/tradestore/tradestore_test.go
package tradestore

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"quoter.com/pkg/quotebook"
)

// =============================================================================
// 测试辅助
// =============================================================================

const defaultTestDSN = "root:123456@tcp(127.0.0.1:3307)/quoter?charset=utf8mb4&parseTime=True&loc=Local"

var executedAt = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func sampleTrade(id, symbol string) quotebook.TradeResult {
	return quotebook.TradeResult{
		ID:                         id,
		Symbol:                     symbol,
		VolumeRequested:            1000,
		VolumeExecuted:             1000,
		VolumeWeightedAveragePrice: 1.25,
		Fills: []quotebook.Fill{
			{QuoteID: "a", Price: 1, Volume: 750},
			{QuoteID: "b", Price: 2, Volume: 250},
		},
		ExecutedAt: executedAt,
	}
}

// setupTestDB 连接测试库，连不上则跳过
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("QUOTER_TEST_MYSQL_DSN")
	if dsn == "" {
		dsn = defaultTestDSN
	}
	db, err := Open(dsn)
	if err != nil {
		t.Skipf("skipping test; mysql not available: %v", err)
	}
	db.Exec("DELETE FROM quote_trades WHERE symbol LIKE 'TEST%'")
	t.Cleanup(func() {
		db.Exec("DELETE FROM quote_trades WHERE symbol LIKE 'TEST%'")
	})
	return db
}

// memRepo 内存仓库
type memRepo struct {
	mu      sync.Mutex
	records map[string]*TradeRecord
	saves   int
	err     error
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]*TradeRecord)}
}

func (m *memRepo) Save(_ context.Context, records ...*TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	for _, r := range records {
		if _, ok := m.records[r.TradeID]; !ok {
			m.records[r.TradeID] = r
		}
	}
	return nil
}

func (m *memRepo) GetByTradeID(_ context.Context, id string) (*TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	return r, nil
}

func (m *memRepo) ListBySymbol(context.Context, string, int) ([]*TradeRecord, error) {
	return nil, nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// =============================================================================
// 模型
// =============================================================================

func TestTradeRecord_Conversion(t *testing.T) {
	trade := sampleTrade("t1", "ABC")
	rec, err := NewTradeRecord(trade)
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.TradeID)
	assert.Equal(t, 2, rec.FillCount)
	assert.Equal(t, executedAt.UnixMilli(), rec.ExecutedAt)
	assert.JSONEq(t, `[{"quote_id":"a","price":1,"volume":750},{"quote_id":"b","price":2,"volume":250}]`, rec.Fills)

	back, err := rec.Result()
	require.NoError(t, err)
	assert.Equal(t, trade, back)
}

func TestTradeRecord_NoFills(t *testing.T) {
	rec, err := NewTradeRecord(quotebook.TradeResult{ID: "t0", Symbol: "ABC", VolumeRequested: 5, ExecutedAt: executedAt})
	require.NoError(t, err)
	assert.Equal(t, "[]", rec.Fills)
	assert.Equal(t, 0.0, rec.VWAP)

	rec.Fills = "{broken"
	_, err = rec.Result()
	assert.Error(t, err)
}

// =============================================================================
// Writer
// =============================================================================

func TestWriter_FlushOnStop(t *testing.T) {
	repo := newMemRepo()
	cfg := DefaultWriterConfig()
	cfg.FlushInterval = time.Hour
	w := NewWriter(repo, cfg)
	w.Start()

	handle := w.Handler()
	trade := sampleTrade("t1", "ABC")
	handle(quotebook.Event{Type: quotebook.EventTrade, Symbol: "ABC", Trade: &trade})
	handle(quotebook.Event{Type: quotebook.EventTopOfBook, Symbol: "ABC"})

	w.Stop()
	assert.Equal(t, 1, repo.count())
	assert.Equal(t, WriterStats{Received: 1, Written: 1, Batches: 1}, w.Stats())
}

func TestWriter_FlushWhenBatchFull(t *testing.T) {
	repo := newMemRepo()
	cfg := DefaultWriterConfig()
	cfg.BatchSize = 2
	cfg.FlushInterval = time.Hour
	w := NewWriter(repo, cfg)
	w.Start()
	defer w.Stop()

	require.NoError(t, w.Add(sampleTrade("t1", "ABC")))
	require.NoError(t, w.Add(sampleTrade("t2", "ABC")))

	require.Eventually(t, func() bool { return repo.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestWriter_HandleMessage(t *testing.T) {
	repo := newMemRepo()
	w := NewWriter(repo, DefaultWriterConfig())

	trade := sampleTrade("t1", "ABC")
	data, err := quotebook.NewEventMessage(quotebook.Event{Type: quotebook.EventTrade, Symbol: "ABC", Trade: &trade}).Marshal()
	require.NoError(t, err)

	require.NoError(t, w.HandleMessage(data))
	require.NoError(t, w.HandleMessage([]byte(`{"type":"TOP_OF_BOOK","symbol":"ABC"}`)))
	assert.Error(t, w.HandleMessage([]byte(`{`)))

	w.Flush()
	rec, err := repo.GetByTradeID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rec.VolumeExecuted)
	assert.Equal(t, int64(1), w.Stats().Errors)
}

func TestWriter_SaveErrorCounted(t *testing.T) {
	repo := newMemRepo()
	repo.err = errors.New("db down")
	w := NewWriter(repo, DefaultWriterConfig())

	require.NoError(t, w.Add(sampleTrade("t1", "ABC")))
	w.Flush()

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(0), stats.Written)
}

// =============================================================================
// MySQL 集成
// =============================================================================

func TestMySQLTradeRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMySQLTradeRepository(db)
	ctx := context.Background()

	first, err := NewTradeRecord(sampleTrade("test-t1", "TESTABC"))
	require.NoError(t, err)
	later := sampleTrade("test-t2", "TESTABC")
	later.ExecutedAt = executedAt.Add(time.Second)
	second, err := NewTradeRecord(later)
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, first, second))

	// 重复写入幂等
	dup, err := NewTradeRecord(sampleTrade("test-t1", "TESTABC"))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, dup))

	got, err := repo.GetByTradeID(ctx, "test-t1")
	require.NoError(t, err)
	result, err := got.Result()
	require.NoError(t, err)
	assert.Equal(t, sampleTrade("test-t1", "TESTABC"), result)

	list, err := repo.ListBySymbol(ctx, "TESTABC", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "test-t2", list[0].TradeID)

	_, err = repo.GetByTradeID(ctx, "test-missing")
	assert.ErrorIs(t, err, ErrTradeNotFound)
}
