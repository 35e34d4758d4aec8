// Package fastparse 提供交易所消息字段的解析函数。
// 价格与数量统一解析为 decimal，订单簿以价格字符串的精确值作为 key。
package fastparse

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParseDecimal 解析十进制数字字符串，如 "0.00907200"
// 空字符串视为错误
func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("空数值字段")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("解析数值 '%s' 失败: %w", s, err)
	}
	return d, nil
}

// MustParseDecimal 解析十进制数字，失败时返回 0
// 仅用于非对账路径（成交、行情等直通字段）
func MustParseDecimal(s string) decimal.Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParsePair 解析 [price, qty] 档位对
// 返回: 价格、数量；元素不足两个或任一字段非法时返回错误
func ParsePair(pair []string) (price, qty decimal.Decimal, err error) {
	if len(pair) < 2 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("档位元素不足: %d", len(pair))
	}
	if price, err = ParseDecimal(pair[0]); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("价格: %w", err)
	}
	if qty, err = ParseDecimal(pair[1]); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("数量: %w", err)
	}
	return price, qty, nil
}
