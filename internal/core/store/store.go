// Package store 缓存最近一次输出的订单簿视图。
// 使用单写者模式避免锁和竞态条件。
package store

import (
	"sort"

	"depth-sync/internal/core/model"
)

// Store 最新订单簿视图缓存（单写者）
// 注意：本结构体默认由输出循环单 goroutine 写入；若要跨 goroutine 读，请通过消息或拷贝传递快照。
type Store struct {
	// books 按市场、交易对缓存最新 BookView
	// 第一层 key: dialect（spot/future）
	// 第二层 key: Symbol（如 BTCUSDT）
	books map[model.Dialect]map[string]*model.BookView
}

// New 创建新的订单簿缓存
func New() *Store {
	return &Store{
		books: make(map[model.Dialect]map[string]*model.BookView, 2),
	}
}

// Update 更新缓存
// 返回 false 表示与已缓存视图的 nonce 相同（订单簿未推进）。
func (s *Store) Update(view *model.BookView) bool {
	if view == nil || view.Symbol == "" {
		return false
	}

	books, ok := s.books[view.Dialect]
	if !ok {
		books = make(map[string]*model.BookView)
		s.books[view.Dialect] = books
	}
	if prev, ok := books[view.Symbol]; ok && prev.Nonce == view.Nonce {
		return false
	}
	books[view.Symbol] = view
	return true
}

// Remove 删除缓存（订单簿断档或取消订阅后）
func (s *Store) Remove(dialect model.Dialect, symbol string) {
	delete(s.books[dialect], symbol)
}

// Get 获取指定市场与交易对的最新视图
// 返回值可能为 nil；返回的指针应视为只读。
func (s *Store) Get(dialect model.Dialect, symbol string) *model.BookView {
	books, ok := s.books[dialect]
	if !ok {
		return nil
	}
	return books[symbol]
}

// GetPair 获取同一交易对的现货与合约视图
func (s *Store) GetPair(symbol string) (spot, future *model.BookView) {
	return s.Get(model.DialectSpot, symbol), s.Get(model.DialectFuture, symbol)
}

// Len 缓存的订单簿数量
func (s *Store) Len() int {
	n := 0
	for _, books := range s.books {
		n += len(books)
	}
	return n
}

// Symbols 指定市场已缓存的交易对（排序）
func (s *Store) Symbols(dialect model.Dialect) []string {
	out := make([]string, 0, len(s.books[dialect]))
	for sym := range s.books[dialect] {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
