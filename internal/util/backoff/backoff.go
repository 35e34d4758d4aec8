// Package backoff 实现指数退避。
// 用于 WebSocket 断线重连，以及断档/快照失败后按交易对重建订单簿的延迟计算。
// 默认基础间隔 1s，最大间隔 30s，抖动 ±20%
package backoff

import (
	"math/rand/v2"
	"time"
)

// Backoff 指数退避计算器（非并发安全）
// 第 n 次调用 Next() 返回 min(base*2^n, max) 并施加抖动，结果始终落在 (0, max] 内。
type Backoff struct {
	base   time.Duration
	max    time.Duration
	jitter float64
	// attempt 已调用 Next 的次数
	attempt int
	// capped 指数部分已达到 max，之后不再翻倍
	capped bool
}

// New 创建新的退避计算器
// 参数 base: 基础等待时间，<=0 时取 1s
// 参数 max: 最大等待时间，小于 base 时取 base
// 参数 jitter: 抖动比例，截断到 [0, 1)
func New(base, max time.Duration, jitter float64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	switch {
	case jitter < 0:
		jitter = 0
	case jitter >= 1:
		jitter = 0.99
	}
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault 创建默认配置的退避计算器
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0.2)
}

// Next 获取下次重试的等待时间
func (b *Backoff) Next() time.Duration {
	delay := b.max
	if !b.capped {
		// 超过 max 后停止移位，避免 attempt 增大时溢出
		delay = b.base << b.attempt
		if delay <= 0 || delay >= b.max || b.attempt >= 62 {
			delay = b.max
			b.capped = true
		}
	}
	b.attempt++

	if b.jitter > 0 {
		factor := 1 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * factor)
	}
	if delay > b.max {
		delay = b.max
	}
	if delay <= 0 {
		delay = b.base
	}
	return delay
}

// Reset 连接或同步成功后调用
func (b *Backoff) Reset() {
	b.attempt = 0
	b.capped = false
}

// Attempt 获取当前重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
