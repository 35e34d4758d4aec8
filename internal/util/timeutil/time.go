// Package timeutil 提供时间相关的工具函数。
// 用于本机到达时间戳、交易所毫秒时间戳转换与 ISO8601 格式化。
package timeutil

import (
	"time"
)

var (
	// baseTime 基准时间点（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 基准时间点对应的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// iso8601Ms 毫秒精度的 ISO8601 格式（UTC）
const iso8601Ms = "2006-01-02T15:04:05.000Z"

// NowNano 获取当前时间的纳秒时间戳
// NowNano = baseUnixNs + time.Since(baseTime).Nanoseconds()
// 系统时间跳变（NTP/手动调整）时仍保持单调，快照耗时统计不会出现负值。
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// FormatMsISO8601 将毫秒时间戳格式化为 ISO8601 字符串（UTC）
// 例如 1577554482280 -> 2019-12-28T17:34:42.280Z
func FormatMsISO8601(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(iso8601Ms)
}

// SinceNano 计算从指定纳秒时间戳到现在的时间差
func SinceNano(startNs int64) time.Duration {
	return time.Duration(NowNano() - startNs)
}

// AgeMs 计算从指定纳秒时间戳到现在的毫秒数，startNs 为 0 时返回 0
func AgeMs(startNs int64) int64 {
	if startNs == 0 {
		return 0
	}
	return (NowNano() - startNs) / 1_000_000
}
