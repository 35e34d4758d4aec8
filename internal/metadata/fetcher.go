// Package metadata 负责从交易所获取交易对元数据并校验订阅列表。
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"depth-sync/internal/util/restutil"
)

// Fetcher 元数据获取器接口
type Fetcher interface {
	// FetchExchangeInfo 获取指定市场的交易规则
	FetchExchangeInfo(ctx context.Context, url string) (*ExchangeInfoResponse, error)
}

// HTTPFetcher HTTP 元数据获取器
type HTTPFetcher struct {
	// client HTTP 客户端
	client *http.Client
}

// NewHTTPFetcher 创建 HTTP 元数据获取器
// 参数 timeoutMs: HTTP 请求超时时间（毫秒）
func NewHTTPFetcher(timeoutMs int) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
	}
}

// FetchExchangeInfo 获取 Binance 交易规则
// 参数 ctx: 上下文，用于取消请求
// 参数 url: exchangeInfo 接口地址
func (f *HTTPFetcher) FetchExchangeInfo(ctx context.Context, url string) (*ExchangeInfoResponse, error) {
	body, err := restutil.Get(ctx, f.client, url)
	if err != nil {
		return nil, fmt.Errorf("请求 Binance 元数据失败: %w", err)
	}

	var resp ExchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析 Binance 元数据失败: %w", err)
	}
	if len(resp.Symbols) == 0 {
		return nil, fmt.Errorf("Binance 元数据不含任何交易对")
	}

	return &resp, nil
}
