// Package metadata 负责从交易所获取交易对元数据并校验订阅列表。
package metadata

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"depth-sync/internal/config"
	"depth-sync/internal/core/model"
)

// ResolveSymbols 校验配置中的交易对
// 对每个有交易对的市场获取一次 exchangeInfo，全部交易对存在且为 TRADING 时返回按市场分组的结果。
// 参数 ctx: 上下文
// 参数 cfg: 配置
// 参数 f: 元数据获取器
func ResolveSymbols(ctx context.Context, cfg *config.Config, f Fetcher) (map[model.Dialect][]Instrument, error) {
	result := make(map[model.Dialect][]Instrument)
	var errs []string

	for dialect, symbols := range cfg.SymbolsByDialect() {
		info, err := f.FetchExchangeInfo(ctx, cfg.MetadataFor(dialect))
		if err != nil {
			return nil, fmt.Errorf("获取 %s 元数据失败: %w", dialect, err)
		}
		index := buildIndex(info.Symbols)

		for _, input := range symbols {
			sym, ok := index[NormalizeSymbol(input)]
			if !ok {
				errs = append(errs, fmt.Sprintf("%s 未找到交易对: %s", dialect, input))
				continue
			}
			if !sym.IsTrading() {
				errs = append(errs, fmt.Sprintf("%s 交易对 %s 状态为 %s", dialect, sym.Symbol, sym.Status))
				continue
			}
			result[dialect] = append(result[dialect], toInstrument(dialect, sym))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("交易对校验失败: %s", strings.Join(errs, "; "))
	}
	return result, nil
}

// buildIndex 构建交易对索引
// key: 标准化的交易对（如 BTCUSDT）
func buildIndex(syms []BinanceSymbol) map[string]*BinanceSymbol {
	index := make(map[string]*BinanceSymbol, len(syms))
	for i := range syms {
		sym := &syms[i]
		index[strings.ToUpper(sym.Symbol)] = sym
	}
	return index
}

func toInstrument(dialect model.Dialect, sym *BinanceSymbol) Instrument {
	inst := Instrument{
		Symbol:     strings.ToUpper(sym.Symbol),
		Dialect:    dialect,
		BaseAsset:  sym.BaseAsset,
		QuoteAsset: sym.QuoteAsset,
	}
	if f := sym.filter("PRICE_FILTER"); f != nil {
		inst.TickSize, _ = decimal.NewFromString(f.TickSize)
	}
	if f := sym.filter("LOT_SIZE"); f != nil {
		inst.StepSize, _ = decimal.NewFromString(f.StepSize)
	}
	return inst
}

// NormalizeSymbol 标准化交易对格式
// 移除分隔符，转为大写
// 例如: BTC-USDT -> BTCUSDT, btc_usdt -> BTCUSDT, eth/usdt -> ETHUSDT
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "/", "")
	return strings.ToUpper(s)
}

// Symbols 提取交易对名称
func Symbols(insts []Instrument) []string {
	out := make([]string, len(insts))
	for i, inst := range insts {
		out[i] = inst.Symbol
	}
	return out
}
