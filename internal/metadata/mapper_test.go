// Package metadata 元数据模块测试
package metadata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depth-sync/internal/config"
	"depth-sync/internal/core/model"
)

// TestNormalizeSymbol_Consistency 测试 Symbol 标准化一致性
// 属性: 分隔符与大小写不影响标准化结果，且标准化幂等
func TestNormalizeSymbol_Consistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	coins := []string{"BTC", "ETH", "SOL", "DOGE", "XRP", "ADA", "DOT", "LINK", "UNI", "USDT"}

	properties.Property("分隔符与大小写不影响标准化结果", prop.ForAll(
		func(baseIdx int, quoteIdx int) bool {
			base := coins[baseIdx]
			quote := coins[quoteIdx]

			want := base + quote
			for _, in := range []string{
				base + "-" + quote,
				base + "_" + quote,
				base + "/" + quote,
				strings.ToLower(base) + quote,
				" " + strings.ToLower(base+"-"+quote) + " ",
			} {
				if NormalizeSymbol(in) != want {
					return false
				}
			}
			return NormalizeSymbol(NormalizeSymbol(want)) == want
		},
		gen.IntRange(0, len(coins)-1),
		gen.IntRange(0, len(coins)-1),
	))

	properties.TestingRun(t)
}

type fakeFetcher struct {
	infos map[string]*ExchangeInfoResponse
	err   error
	urls  []string
}

func (f *fakeFetcher) FetchExchangeInfo(ctx context.Context, url string) (*ExchangeInfoResponse, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return f.infos[url], nil
}

func testConfig(symbols ...config.SymbolConfig) *config.Config {
	return &config.Config{
		Symbols: symbols,
		Metadata: config.MetadataConfig{
			Spot:   "spot-url",
			Future: "future-url",
		},
	}
}

func spotInfo() *ExchangeInfoResponse {
	return &ExchangeInfoResponse{Symbols: []BinanceSymbol{
		{
			Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT",
			Filters: []BinanceFilter{
				{FilterType: "PRICE_FILTER", TickSize: "0.01000000"},
				{FilterType: "LOT_SIZE", StepSize: "0.00001000"},
			},
		},
		{Symbol: "LUNAUSDT", Status: "BREAK", BaseAsset: "LUNA", QuoteAsset: "USDT"},
	}}
}

func futureInfo() *ExchangeInfoResponse {
	return &ExchangeInfoResponse{Symbols: []BinanceSymbol{
		{Symbol: "ETHUSDT", Status: "TRADING", ContractType: "PERPETUAL", BaseAsset: "ETH", QuoteAsset: "USDT"},
	}}
}

func TestResolveSymbols(t *testing.T) {
	f := &fakeFetcher{infos: map[string]*ExchangeInfoResponse{
		"spot-url":   spotInfo(),
		"future-url": futureInfo(),
	}}
	cfg := testConfig(
		config.SymbolConfig{Symbol: "btc-usdt", Market: "spot"},
		config.SymbolConfig{Symbol: "ETHUSDT", Market: "future"},
	)

	got, err := ResolveSymbols(context.Background(), cfg, f)
	require.NoError(t, err)

	require.Len(t, got[model.DialectSpot], 1)
	btc := got[model.DialectSpot][0]
	assert.Equal(t, "BTCUSDT", btc.Symbol)
	assert.Equal(t, "0.01", btc.TickSize.String())
	assert.Equal(t, "0.00001", btc.StepSize.String())

	assert.Equal(t, []string{"ETHUSDT"}, Symbols(got[model.DialectFuture]))
	assert.True(t, got[model.DialectFuture][0].TickSize.IsZero())
	assert.ElementsMatch(t, []string{"spot-url", "future-url"}, f.urls)
}

func TestResolveSymbols_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		symbols []config.SymbolConfig
		want    string
	}{
		{"不存在", []config.SymbolConfig{{Symbol: "NOPEUSDT", Market: "spot"}}, "未找到交易对"},
		{"非 TRADING", []config.SymbolConfig{{Symbol: "LUNAUSDT", Market: "spot"}}, "BREAK"},
		{"市场不匹配", []config.SymbolConfig{{Symbol: "BTCUSDT", Market: "future"}}, "未找到交易对"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{infos: map[string]*ExchangeInfoResponse{
				"spot-url":   spotInfo(),
				"future-url": futureInfo(),
			}}
			_, err := ResolveSymbols(context.Background(), testConfig(tt.symbols...), f)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestResolveSymbols_FetchError(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeFetcher{err: boom}
	_, err := ResolveSymbols(context.Background(), testConfig(config.SymbolConfig{Symbol: "BTCUSDT", Market: "spot"}), f)
	assert.ErrorIs(t, err, boom)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"timezone":"UTC","serverTime":1,"symbols":[{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","filters":[]}]}`))
		case "/empty":
			_, _ = w.Write([]byte(`{"symbols":[]}`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(1000)

	info, err := f.FetchExchangeInfo(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	require.Len(t, info.Symbols, 1)
	assert.True(t, info.Symbols[0].IsTrading())

	_, err = f.FetchExchangeInfo(context.Background(), srv.URL+"/empty")
	assert.Error(t, err)

	_, err = f.FetchExchangeInfo(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "418")
}
