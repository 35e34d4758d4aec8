package backoff

import (
	"sync"
	"time"
)

// Keyed 按 key 独立维护的退避计算器集合（并发安全）
// 用于按交易对重建：一个交易对反复断档不会拖慢其他交易对。
type Keyed struct {
	base   time.Duration
	max    time.Duration
	jitter float64

	mu    sync.Mutex
	items map[string]*Backoff
}

// NewKeyed 创建按 key 退避集合
func NewKeyed(base, max time.Duration, jitter float64) *Keyed {
	return &Keyed{
		base:   base,
		max:    max,
		jitter: jitter,
		items:  make(map[string]*Backoff),
	}
}

// Next 获取指定 key 的下次等待时间
func (k *Keyed) Next(key string) time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()

	b, ok := k.items[key]
	if !ok {
		b = New(k.base, k.max, k.jitter)
		k.items[key] = b
	}
	return b.Next()
}

// Reset 重置指定 key（同步成功后调用）
func (k *Keyed) Reset(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.items, key)
}

// Attempt 获取指定 key 的当前重试次数
func (k *Keyed) Attempt(key string) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	if b, ok := k.items[key]; ok {
		return b.Attempt()
	}
	return 0
}
