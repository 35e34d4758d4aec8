// Package metadata 负责从交易所获取交易对元数据并校验订阅列表。
package metadata

import (
	"github.com/shopspring/decimal"

	"depth-sync/internal/core/model"
)

// ExchangeInfoResponse Binance 交易规则接口响应
// API: GET /api/v3/exchangeInfo（现货）/ GET /fapi/v1/exchangeInfo（合约）
type ExchangeInfoResponse struct {
	// Timezone 服务器时区
	Timezone string `json:"timezone"`
	// ServerTime 服务器时间
	ServerTime int64 `json:"serverTime"`
	// Symbols 交易对列表
	Symbols []BinanceSymbol `json:"symbols"`
}

// BinanceSymbol Binance 交易对信息
// 现货与合约共用，合约独有字段在现货响应中为空
type BinanceSymbol struct {
	// Symbol 交易对，如 BTCUSDT
	Symbol string `json:"symbol"`
	// Status 交易对状态: TRADING, BREAK, HALT
	Status string `json:"status"`
	// BaseAsset 标的资产，如 BTC
	BaseAsset string `json:"baseAsset"`
	// QuoteAsset 报价资产，如 USDT
	QuoteAsset string `json:"quoteAsset"`
	// ContractType 合约类型: PERPETUAL, CURRENT_QUARTER（仅合约）
	ContractType string `json:"contractType,omitempty"`
	// Filters 过滤器列表
	Filters []BinanceFilter `json:"filters"`
}

// BinanceFilter Binance 过滤器
type BinanceFilter struct {
	// FilterType 过滤器类型: PRICE_FILTER, LOT_SIZE 等
	FilterType string `json:"filterType"`
	// TickSize 价格步长（PRICE_FILTER）
	TickSize string `json:"tickSize,omitempty"`
	// StepSize 数量步长（LOT_SIZE）
	StepSize string `json:"stepSize,omitempty"`
}

// IsTrading 是否可交易
func (s *BinanceSymbol) IsTrading() bool {
	return s.Status == "TRADING"
}

// filter 查找指定类型的过滤器
func (s *BinanceSymbol) filter(typ string) *BinanceFilter {
	for i := range s.Filters {
		if s.Filters[i].FilterType == typ {
			return &s.Filters[i]
		}
	}
	return nil
}

// Instrument 校验通过的交易对
type Instrument struct {
	// Symbol 交易所交易对（大写）
	Symbol string
	// Dialect 市场
	Dialect model.Dialect
	// BaseAsset 标的资产
	BaseAsset string
	// QuoteAsset 报价资产
	QuoteAsset string
	// TickSize 价格步长，未知时为 0
	TickSize decimal.Decimal
	// StepSize 数量步长，未知时为 0
	StepSize decimal.Decimal
}
