package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"depth-sync/internal/core/model"
	"depth-sync/internal/util/restutil"
)

// SnapshotClient REST 深度快照客户端
// 现货: GET /api/v3/depth?symbol=BTCUSDT&limit=1000
// 合约: GET /fapi/v1/depth?symbol=BTCUSDT&limit=1000
type SnapshotClient struct {
	// endpoint 深度接口完整地址
	endpoint string
	// limit 快照档位数
	limit int
	// client HTTP 客户端
	client *http.Client
}

// NewSnapshotClient 创建快照客户端
// 参数 endpoint: 深度接口完整地址
// 参数 limit: 快照档位数，<= 0 时使用 1000
// 参数 timeoutMs: 请求超时时间（毫秒）
func NewSnapshotClient(endpoint string, limit, timeoutMs int) *SnapshotClient {
	if limit <= 0 {
		limit = 1000
	}
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}
	return &SnapshotClient{
		endpoint: endpoint,
		limit:    limit,
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
	}
}

// FetchSnapshot 获取指定交易对的深度快照
// 档位或 lastUpdateId 非法时整个快照视为获取失败（可重试）。
func (c *SnapshotClient) FetchSnapshot(ctx context.Context, symbol string) (*model.Snapshot, error) {
	symbol = strings.ToUpper(symbol)

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("limit", strconv.Itoa(c.limit))

	body, err := restutil.Get(ctx, c.client, c.endpoint+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resp snapshotResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析深度快照失败: %w", err)
	}
	if resp.LastUpdateID == nil {
		return nil, fmt.Errorf("深度快照缺少 lastUpdateId: symbol=%s", symbol)
	}

	bids, err := parseLevels(resp.Bids)
	if err != nil {
		return nil, fmt.Errorf("深度快照 bids 非法: %w", err)
	}
	asks, err := parseLevels(resp.Asks)
	if err != nil {
		return nil, fmt.Errorf("深度快照 asks 非法: %w", err)
	}

	return &model.Snapshot{
		Symbol:       symbol,
		LastUpdateID: *resp.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
		TimestampMs:  resp.EventTimeMs,
	}, nil
}
