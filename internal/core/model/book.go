// Package model 定义深度同步器中使用的核心数据结构。
// 包含价格档位、快照、订单簿视图以及 WebSocket 消息的封闭变体集合。
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange 交易所标识
const ExchangeBinance = "binance"

// Dialect 对账方言
// 由市场类型决定，订阅时确定，之后不随消息改变
type Dialect string

const (
	// DialectSpot 现货方言
	// 快照的 lastUpdateId 为已包含的最后一个 id，桥接判断需要 ±1 偏移
	DialectSpot Dialect = "spot"
	// DialectFuture 合约方言
	// 无偏移比较，并使用 pu（上一事件的 u）做连续性校验
	DialectFuture Dialect = "future"
)

// ParseDialect 解析市场类型字符串
// 参数 s: spot 或 future（大小写不敏感）
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(DialectSpot):
		return DialectSpot, nil
	case string(DialectFuture), "futures", "derivative":
		return DialectFuture, nil
	default:
		return "", fmt.Errorf("未知的市场类型 '%s'", s)
	}
}

// Level 订单簿价格档位
// 数量为 0 表示删除该档位，不会被存储
type Level struct {
	// Price 价格
	Price decimal.Decimal `json:"price"`
	// Qty 数量（绝对值，非增量）
	Qty decimal.Decimal `json:"qty"`
}

// Snapshot REST 深度快照
type Snapshot struct {
	// Symbol 交易对（大写，如 BTCUSDT）
	Symbol string
	// LastUpdateID 快照对应的最后更新 id
	LastUpdateID int64
	// Bids 买盘档位
	Bids []Level
	// Asks 卖盘档位
	Asks []Level
	// TimestampMs 快照时间（毫秒），合约接口返回 E，现货为 0
	TimestampMs int64
}

// BookView 订单簿只读视图
// 由 State.View 生成的拷贝，调用方可以自由持有
type BookView struct {
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Dialect 对账方言
	Dialect Dialect `json:"dialect"`
	// Nonce 最后应用的更新 id
	Nonce int64 `json:"nonce"`
	// TimestampMs 最后应用事件的交易所时间（毫秒）
	TimestampMs int64 `json:"timestamp"`
	// Datetime TimestampMs 的 ISO8601 表示
	Datetime string `json:"datetime,omitempty"`
	// Bids 买盘，价格降序
	Bids []Level `json:"bids"`
	// Asks 卖盘，价格升序
	Asks []Level `json:"asks"`
}

// BestBid 返回最优买价档位，空盘返回 false
func (v *BookView) BestBid() (Level, bool) {
	if len(v.Bids) == 0 {
		return Level{}, false
	}
	return v.Bids[0], true
}

// BestAsk 返回最优卖价档位，空盘返回 false
func (v *BookView) BestAsk() (Level, bool) {
	if len(v.Asks) == 0 {
		return Level{}, false
	}
	return v.Asks[0], true
}

// IsCrossed 买一价 >= 卖一价时视为交叉盘
// 正常同步的订单簿不应出现交叉
func (v *BookView) IsCrossed() bool {
	bid, okBid := v.BestBid()
	ask, okAsk := v.BestAsk()
	if !okBid || !okAsk {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// MidPrice 计算中间价
// 公式: (BestBid + BestAsk) / 2，任一侧为空返回 0
func (v *BookView) MidPrice() decimal.Decimal {
	bid, okBid := v.BestBid()
	ask, okAsk := v.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
}

// Spread 计算买卖价差
// 公式: BestAsk - BestBid，任一侧为空返回 0
func (v *BookView) Spread() decimal.Decimal {
	bid, okBid := v.BestBid()
	ask, okAsk := v.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero
	}
	return ask.Price.Sub(bid.Price)
}

// Time 获取最后事件时间的 time.Time 表示
// 若 TimestampMs 为 0，返回零值
func (v *BookView) Time() time.Time {
	if v.TimestampMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v.TimestampMs)
}
