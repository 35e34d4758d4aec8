// Package restutil 封装交易所 REST 接口的 GET 请求。
// 深度快照与 exchangeInfo 共用同一套请求头与错误格式。
package restutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// UserAgent 请求头中的客户端标识
const UserAgent = "depth-sync/1.0"

// maxErrorSample 非 200 响应体在错误中保留的最大字节数
const maxErrorSample = 200

// StatusError 非 200 响应
type StatusError struct {
	// Code HTTP 状态码
	Code int
	// Body 响应体前 maxErrorSample 字节
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP 状态码错误: %d", e.Code)
	}
	return fmt.Sprintf("HTTP 状态码错误: %d: %s", e.Code, e.Body)
}

// Get 执行 GET 请求并返回响应体
// 非 200 响应返回 *StatusError，携带截断后的响应体（交易所错误码在其中）。
func Get(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		sample := body
		if len(sample) > maxErrorSample {
			sample = sample[:maxErrorSample]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(sample)}
	}
	return body, nil
}
