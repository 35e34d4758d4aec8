package book

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depth-sync/internal/core/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func prices(levels []model.Level) []string {
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = l.Price.String()
	}
	return out
}

func TestSide_Ordering(t *testing.T) {
	bids := NewBids()
	asks := NewAsks()
	for _, p := range []string{"100.5", "99", "101.25", "100"} {
		bids.Store(d(p), d("1"))
		asks.Store(d(p), d("1"))
	}

	assert.Equal(t, []string{"101.25", "100.5", "100", "99"}, prices(bids.Limit(0)))
	assert.Equal(t, []string{"99", "100", "100.5", "101.25"}, prices(asks.Limit(0)))

	best, ok := bids.Best()
	require.True(t, ok)
	assert.Equal(t, "101.25", best.Price.String())
}

func TestSide_StoreSemantics(t *testing.T) {
	tests := []struct {
		name    string
		ops     [][2]string
		wantLen int
		check   string
		wantQty string
		present bool
	}{
		{"写入后覆盖", [][2]string{{"100", "1"}, {"100", "3"}}, 1, "100", "3", true},
		{"数量为零删除", [][2]string{{"100", "1"}, {"100", "0"}}, 0, "100", "0", false},
		{"负数量删除", [][2]string{{"100", "1"}, {"100", "-1"}}, 0, "100", "0", false},
		{"删除不存在的价格为空操作", [][2]string{{"100", "1"}, {"101", "0"}}, 1, "100", "1", true},
		{"尾随零视为同一价格", [][2]string{{"100.10", "1"}, {"100.1", "2"}}, 1, "100.100", "2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewAsks()
			for _, op := range tt.ops {
				s.Store(d(op[0]), d(op[1]))
			}
			assert.Equal(t, tt.wantLen, s.Len())
			qty, ok := s.Get(d(tt.check))
			assert.Equal(t, tt.present, ok)
			if ok {
				assert.True(t, qty.Equal(d(tt.wantQty)), "qty = %s", qty)
			}
		})
	}
}

func TestSide_Limit(t *testing.T) {
	s := NewBids()
	for i := 1; i <= 5; i++ {
		s.Store(decimal.NewFromInt(int64(i)), d("1"))
	}

	assert.Len(t, s.Limit(3), 3)
	assert.Equal(t, []string{"5", "4", "3"}, prices(s.Limit(3)))
	assert.Len(t, s.Limit(10), 5)
	assert.Len(t, s.Limit(-1), 5)

	// 返回的是拷贝
	top := s.Limit(1)
	top[0].Qty = d("999")
	qty, _ := s.Get(d("5"))
	assert.True(t, qty.Equal(d("1")))
}

func TestSide_Empty(t *testing.T) {
	s := NewAsks()
	_, ok := s.Best()
	assert.False(t, ok)
	assert.Empty(t, s.Limit(10))
}

func TestSide_Replace(t *testing.T) {
	s := NewBids()
	s.Store(d("1"), d("1"))
	s.Replace([]model.Level{{Price: d("2"), Qty: d("1")}, {Price: d("3"), Qty: d("0")}})
	assert.Equal(t, []string{"2"}, prices(s.Limit(0)))
}

// TestSide_Convergence 对同一价格的一串写入，最终状态只取决于最后一次写入
func TestSide_Convergence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("最后一次写入决定最终档位", prop.ForAll(
		func(priceTicks []int, qtys []int) bool {
			n := len(priceTicks)
			if len(qtys) < n {
				n = len(qtys)
			}
			s := NewAsks()
			last := make(map[string]int)
			for i := 0; i < n; i++ {
				price := decimal.New(int64(priceTicks[i]), -2)
				s.Store(price, decimal.NewFromInt(int64(qtys[i])))
				last[price.String()] = qtys[i]
			}

			want := 0
			for key, q := range last {
				got, ok := s.Get(d(key))
				if q <= 0 {
					if ok {
						return false
					}
					continue
				}
				want++
				if !ok || !got.Equal(decimal.NewFromInt(int64(q))) {
					return false
				}
			}
			if s.Len() != want {
				return false
			}

			// 卖盘严格升序
			levels := s.Limit(0)
			for i := 1; i < len(levels); i++ {
				if !levels[i-1].Price.LessThan(levels[i].Price) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 20)),
		gen.SliceOf(gen.IntRange(-1, 3)),
	))

	properties.TestingRun(t)
}

func BenchmarkSide_Store(b *testing.B) {
	s := NewBids()
	levels := make([]decimal.Decimal, 1000)
	for i := range levels {
		levels[i] = d(fmt.Sprintf("%d.%02d", 60000+i/100, i%100))
	}
	qty := d("1.5")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Store(levels[i%len(levels)], qty)
	}
}
