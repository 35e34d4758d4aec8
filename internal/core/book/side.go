// Package book 实现本地订单簿的数据结构。
// Side 为单侧价格档位集合，State 聚合买卖两侧、nonce 与待回放缓冲。
// 本包不做任何序列号校验，校验由 reconcile 包负责。
package book

import (
	"sort"

	"github.com/shopspring/decimal"

	"depth-sync/internal/core/model"
)

// Side 订单簿单侧（买盘或卖盘）
// 价格唯一；买盘按价格降序、卖盘按价格升序访问。
// Store 为 O(1) 摊还复杂度，排序在读取时按需重建。
type Side struct {
	// desc 是否降序（买盘为 true）
	desc bool
	// levels 价格 -> 档位，key 为去除尾随零后的价格字符串
	levels map[string]model.Level
	// sorted 排序后的价格缓存
	sorted []decimal.Decimal
	// dirty 价格集合变化后置位，下次读取时重建 sorted
	dirty bool
}

// NewBids 创建买盘（价格降序）
func NewBids() *Side {
	return newSide(true)
}

// NewAsks 创建卖盘（价格升序）
func NewAsks() *Side {
	return newSide(false)
}

func newSide(desc bool) *Side {
	return &Side{
		desc:   desc,
		levels: make(map[string]model.Level),
	}
}

// priceKey 规范化价格作为 map key
// decimal.String 会去掉尾随零，"100.10" 与 "100.1" 得到同一个 key
func priceKey(price decimal.Decimal) string {
	return price.String()
}

// Store 写入一个档位的绝对数量
// 数量 <= 0 时删除该价格；价格不存在时删除为空操作（协议允许）。
func (s *Side) Store(price, qty decimal.Decimal) {
	key := priceKey(price)
	if qty.Sign() <= 0 {
		if _, ok := s.levels[key]; ok {
			delete(s.levels, key)
			s.dirty = true
		}
		return
	}

	if _, ok := s.levels[key]; !ok {
		s.dirty = true
	}
	s.levels[key] = model.Level{Price: price, Qty: qty}
}

// StoreAll 依次写入多个档位
func (s *Side) StoreAll(levels []model.Level) {
	for _, l := range levels {
		s.Store(l.Price, l.Qty)
	}
}

// Replace 清空后写入快照档位
func (s *Side) Replace(levels []model.Level) {
	s.levels = make(map[string]model.Level, len(levels))
	s.sorted = nil
	s.dirty = true
	s.StoreAll(levels)
}

// Len 当前档位数量
func (s *Side) Len() int {
	return len(s.levels)
}

// Get 查询指定价格的数量
func (s *Side) Get(price decimal.Decimal) (decimal.Decimal, bool) {
	l, ok := s.levels[priceKey(price)]
	return l.Qty, ok
}

// Best 返回最优档位（买盘最高价，卖盘最低价），空盘返回 false
func (s *Side) Best() (model.Level, bool) {
	s.ensureSorted()
	if len(s.sorted) == 0 {
		return model.Level{}, false
	}
	return s.levels[priceKey(s.sorted[0])], true
}

// Limit 返回最优的 n 个档位（拷贝）
// n <= 0 返回全部档位。不修改本侧数据。
func (s *Side) Limit(n int) []model.Level {
	s.ensureSorted()
	if n <= 0 || n > len(s.sorted) {
		n = len(s.sorted)
	}
	out := make([]model.Level, n)
	for i := 0; i < n; i++ {
		out[i] = s.levels[priceKey(s.sorted[i])]
	}
	return out
}

func (s *Side) ensureSorted() {
	if !s.dirty {
		return
	}
	prices := s.sorted[:0]
	for _, l := range s.levels {
		prices = append(prices, l.Price)
	}
	if s.desc {
		sort.Slice(prices, func(i, j int) bool { return prices[i].GreaterThan(prices[j]) })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })
	}
	s.sorted = prices
	s.dirty = false
}
