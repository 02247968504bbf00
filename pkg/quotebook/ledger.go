package quotebook

import (
	"iter"
	"maps"
	"slices"
	"sort"
	"time"
)

// =============================================================================
// 报价账本 (Quote Ledger)
// =============================================================================
//
// 双索引：
//   books: symbol → []*Quote，按价格【降序】存放，最优价（最低价）在尾部
//   index: quoteID → (symbol, 下标)
//
//   下标 0                              尾部（最优）
//   ┌──────┬──────┬──────┬──────┬──────┐
//   │ 3.0  │ 2.0  │ 2.0  │ 1.5  │ 1.0  │  ◄── 撮合从这里吃
//   └──────┴──────┴──────┴──────┴──────┘
//            新到    先到
//
// 插入/删除的代价 = 变动位置到尾部之间的元素个数（需要修正下标）。
// 撮合总是从尾部消耗，吃光一个报价就是 O(1) 删除。
//
// 同价位：新报价插在所有同价报价的前面，尾部优先遍历即为 FIFO。
//
// 单写者：调用方负责串行化（见 Engine）。

// position 报价在账本中的位置
type position struct {
	symbol string
	index  int
}

// Ledger 按标的分组、价格有序的报价容器
type Ledger struct {
	books map[string][]*Quote
	index map[string]position

	onPrune func(Quote) // BestValid 清理无效报价时回调
}

// NewLedger 创建空账本
func NewLedger() *Ledger {
	return &Ledger{
		books: make(map[string][]*Quote),
		index: make(map[string]position),
	}
}

// =============================================================================
// 写操作
// =============================================================================

// Upsert 新增或更新报价
//
// ID 未知：二分找到插入点插入，并修正其后报价的下标。
// ID 已知：价格或标的变化则先删后插（失去时间优先级）；
// 否则原地覆盖，保留队列位置。
// NaN 价格会破坏二分查找的前提，入口处拒绝。
func (l *Ledger) Upsert(q Quote) error {
	if err := q.Validate(); err != nil {
		return err
	}
	pos, ok := l.index[q.ID]
	if !ok {
		l.insert(&q)
		return nil
	}

	cur, err := l.at(q.ID, pos)
	if err != nil {
		return err
	}

	if cur.Symbol != q.Symbol || cur.Price != q.Price {
		if err := l.removeAt(pos); err != nil {
			return err
		}
		delete(l.index, q.ID)
		l.insert(&q)
		return nil
	}

	*cur = q
	return nil
}

// RemoveByID 按 ID 删除，未知 ID 直接返回 false
func (l *Ledger) RemoveByID(id string) (bool, error) {
	pos, ok := l.index[id]
	if !ok {
		return false, nil
	}
	if _, err := l.at(id, pos); err != nil {
		return false, err
	}
	if err := l.removeAt(pos); err != nil {
		return false, err
	}
	delete(l.index, id)
	return true, nil
}

// RemoveAllForSymbol 删除标的下全部报价，返回删除数量
func (l *Ledger) RemoveAllForSymbol(symbol string) int {
	book, ok := l.books[symbol]
	if !ok {
		return 0
	}
	for _, q := range book {
		delete(l.index, q.ID)
	}
	delete(l.books, symbol)
	return len(book)
}

// insert 插入新报价（调用方保证 ID 未知）
func (l *Ledger) insert(q *Quote) {
	book := l.books[q.Symbol]

	// 降序序列中第一个价格 <= 新价格的位置
	// 同价的老报价都在它后面（更靠近尾部）
	i := sort.Search(len(book), func(j int) bool {
		return book[j].Price <= q.Price
	})

	book = append(book, nil)
	copy(book[i+1:], book[i:])
	book[i] = q
	l.books[q.Symbol] = book

	l.index[q.ID] = position{symbol: q.Symbol, index: i}
	l.reindex(q.Symbol, book, i+1)
}

// removeAt 从序列中摘除，不动被删报价自己的索引项
func (l *Ledger) removeAt(pos position) error {
	book := l.books[pos.symbol]
	if pos.index < 0 || pos.index >= len(book) {
		return inconsistency("position %d out of range for %s (len %d)", pos.index, pos.symbol, len(book))
	}

	last := len(book) - 1
	if pos.index == last {
		// 尾部删除：O(1)，无需修正下标
		book[last] = nil
		book = book[:last]
	} else {
		copy(book[pos.index:], book[pos.index+1:])
		book[last] = nil
		book = book[:last]
		l.reindex(pos.symbol, book, pos.index)
	}

	if len(book) == 0 {
		delete(l.books, pos.symbol)
		return nil
	}
	l.books[pos.symbol] = book
	return nil
}

// reindex 修正 from 之后所有报价的下标
func (l *Ledger) reindex(symbol string, book []*Quote, from int) {
	for j := from; j < len(book); j++ {
		l.index[book[j].ID] = position{symbol: symbol, index: j}
	}
}

// at 取出索引指向的报价并核对身份
func (l *Ledger) at(id string, pos position) (*Quote, error) {
	book := l.books[pos.symbol]
	if pos.index < 0 || pos.index >= len(book) {
		return nil, inconsistency("index for %s points past %s book (pos %d, len %d)", id, pos.symbol, pos.index, len(book))
	}
	q := book[pos.index]
	if q.ID != id {
		return nil, inconsistency("index for %s points at %s (%s[%d])", id, q.ID, pos.symbol, pos.index)
	}
	return q, nil
}

// =============================================================================
// 读操作
// =============================================================================

// Get 按 ID 查询（返回副本）
// 索引项错位返回 ErrInternalInconsistency，不当作未知 ID
func (l *Ledger) Get(id string) (Quote, bool, error) {
	pos, ok := l.index[id]
	if !ok {
		return Quote{}, false, nil
	}
	q, err := l.at(id, pos)
	if err != nil {
		return Quote{}, false, err
	}
	return *q, true, nil
}

// OnPrune 注册无效报价被清理时的回调，nil 取消
func (l *Ledger) OnPrune(fn func(Quote)) {
	l.onPrune = fn
}

// BestValid 返回标的当前最优有效报价（副本）
// 从尾部开始，遇到过期或零量的报价直接删掉（O(1) 尾删）
func (l *Ledger) BestValid(symbol string, now time.Time) (Quote, bool, error) {
	for {
		book := l.books[symbol]
		if len(book) == 0 {
			return Quote{}, false, nil
		}
		q := book[len(book)-1]

		invalid, err := IsInvalid(q, now)
		if err != nil {
			return Quote{}, false, err
		}
		if !invalid {
			return *q, true, nil
		}
		pruned := *q
		if _, err := l.RemoveByID(q.ID); err != nil {
			return Quote{}, false, err
		}
		if l.onPrune != nil {
			l.onPrune(pruned)
		}
	}
}

// BestFirst 从最优到最差遍历标的报价（副本）
//
// 按下标从尾部向头部走，每次 range 都从头开始，可重复使用。
// 遍历过程中修改账本的行为未定义。
func (l *Ledger) BestFirst(symbol string) iter.Seq[Quote] {
	return func(yield func(Quote) bool) {
		book := l.books[symbol]
		for i := len(book) - 1; i >= 0; i-- {
			if !yield(*book[i]) {
				return
			}
		}
	}
}

// Quotes 标的全部报价，最优在前
func (l *Ledger) Quotes(symbol string) []Quote {
	return slices.Collect(l.BestFirst(symbol))
}

// AllQuotes 所有标的报价的并集（按标的名排序，标的内最优在前）
func (l *Ledger) AllQuotes() []Quote {
	quotes := make([]Quote, 0, len(l.index))
	for _, symbol := range l.Symbols() {
		for q := range l.BestFirst(symbol) {
			quotes = append(quotes, q)
		}
	}
	return quotes
}

// Symbols 有报价的标的（排序）
func (l *Ledger) Symbols() []string {
	return slices.Sorted(maps.Keys(l.books))
}

// Len 账本中报价总数
func (l *Ledger) Len() int {
	return len(l.index)
}

// Count 标的报价数
func (l *Ledger) Count(symbol string) int {
	return len(l.books[symbol])
}

// Volume 标的全部报价的可用量之和（不区分是否过期）
func (l *Ledger) Volume(symbol string) int64 {
	var total int64
	for _, q := range l.books[symbol] {
		total += q.AvailableVolume
	}
	return total
}

// =============================================================================
// 自检
// =============================================================================

// CheckIntegrity 全量校验索引与排序，测试和排障用
func (l *Ledger) CheckIntegrity() error {
	seen := 0
	for symbol, book := range l.books {
		if len(book) == 0 {
			return inconsistency("empty book left for %s", symbol)
		}
		for i, q := range book {
			if q.Symbol != symbol {
				return inconsistency("quote %s with symbol %s stored under %s", q.ID, q.Symbol, symbol)
			}
			if q.AvailableVolume < 0 {
				return inconsistency("quote %s has negative volume %d", q.ID, q.AvailableVolume)
			}
			pos, ok := l.index[q.ID]
			if !ok {
				return inconsistency("quote %s missing from index", q.ID)
			}
			if pos.symbol != symbol || pos.index != i {
				return inconsistency("quote %s indexed at %s[%d], stored at %s[%d]", q.ID, pos.symbol, pos.index, symbol, i)
			}
			if i > 0 && book[i-1].Price < q.Price {
				return inconsistency("%s not price ordered at %d", symbol, i)
			}
			seen++
		}
	}
	if seen != len(l.index) {
		return inconsistency("index holds %d entries, books hold %d quotes", len(l.index), seen)
	}
	return nil
}
