// Package syncstats 统计每个交易对的订单簿同步质量。
// 计数器覆盖应用、缓冲、断档、重建与快照失败；快照耗时与回放长度使用滚动窗口分位数。
package syncstats

import (
	"sort"
	"sync"
)

// SymbolStats 单个交易对的统计快照
type SymbolStats struct {
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Applied 已应用的增量数（含回放）
	Applied int64 `json:"applied"`
	// Buffered 进入缓冲的增量数
	Buffered int64 `json:"buffered"`
	// Dropped 拼接时因早于快照被丢弃的增量数
	Dropped int64 `json:"dropped"`
	// Malformed 格式错误被丢弃的消息数
	Malformed int64 `json:"malformed"`
	// Gaps 断档次数
	Gaps int64 `json:"gaps"`
	// Resyncs 重建次数
	Resyncs int64 `json:"resyncs"`
	// Syncs 成功拼接次数
	Syncs int64 `json:"syncs"`
	// SnapshotFailures 快照失败次数
	SnapshotFailures int64 `json:"snapshot_failures"`

	// SnapshotP50Ms 快照获取耗时 P50（毫秒）
	SnapshotP50Ms float64 `json:"snapshot_p50_ms"`
	// SnapshotP90Ms 快照获取耗时 P90（毫秒）
	SnapshotP90Ms float64 `json:"snapshot_p90_ms"`
	// SnapshotP99Ms 快照获取耗时 P99（毫秒）
	SnapshotP99Ms float64 `json:"snapshot_p99_ms"`
	// ReplayP50 拼接回放长度 P50
	ReplayP50 int64 `json:"replay_p50"`
	// ReplayP99 拼接回放长度 P99
	ReplayP99 int64 `json:"replay_p99"`
}

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.count++
	if w.size <= 0 {
		return
	}

	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

func (w *rollingWindow) quantiles(qs ...float64) []int64 {
	values := make([]int64, len(qs))
	if len(w.buf) == 0 {
		return values
	}

	tmp := make([]int64, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	n := len(tmp)
	for i, q := range qs {
		switch {
		case q <= 0:
			values[i] = tmp[0]
		case q >= 1:
			values[i] = tmp[n-1]
		default:
			values[i] = tmp[int(float64(n-1)*q)]
		}
	}
	return values
}

type symbolTracker struct {
	counters   SymbolStats
	snapshotNs *rollingWindow
	replay     *rollingWindow
}

// Tracker 同步质量统计（并发安全）
type Tracker struct {
	windowSize int

	mu      sync.Mutex
	symbols map[string]*symbolTracker
}

// NewTracker 创建统计器
// 参数 windowSize: 滚动窗口大小，用于快照耗时与回放长度分位数
func NewTracker(windowSize int) *Tracker {
	return &Tracker{
		windowSize: windowSize,
		symbols:    make(map[string]*symbolTracker),
	}
}

func (t *Tracker) get(symbol string) *symbolTracker {
	st, ok := t.symbols[symbol]
	if !ok {
		st = &symbolTracker{
			counters:   SymbolStats{Symbol: symbol},
			snapshotNs: newRollingWindow(t.windowSize),
			replay:     newRollingWindow(t.windowSize),
		}
		t.symbols[symbol] = st
	}
	return st
}

func (t *Tracker) update(symbol string, fn func(st *symbolTracker)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.get(symbol))
}

// AddApplied 记录实时应用的增量
func (t *Tracker) AddApplied(symbol string) {
	t.update(symbol, func(st *symbolTracker) { st.counters.Applied++ })
}

// AddBuffered 记录进入缓冲的增量
func (t *Tracker) AddBuffered(symbol string) {
	t.update(symbol, func(st *symbolTracker) { st.counters.Buffered++ })
}

// AddMalformed 记录格式错误的消息
func (t *Tracker) AddMalformed(symbol string) {
	t.update(symbol, func(st *symbolTracker) { st.counters.Malformed++ })
}

// AddGap 记录断档
func (t *Tracker) AddGap(symbol string) {
	t.update(symbol, func(st *symbolTracker) { st.counters.Gaps++ })
}

// AddResync 记录重建
func (t *Tracker) AddResync(symbol string) {
	t.update(symbol, func(st *symbolTracker) { st.counters.Resyncs++ })
}

// AddSnapshotFailure 记录快照失败
func (t *Tracker) AddSnapshotFailure(symbol string) {
	t.update(symbol, func(st *symbolTracker) { st.counters.SnapshotFailures++ })
}

// AddSnapshotLatency 记录一次快照获取耗时（纳秒）
func (t *Tracker) AddSnapshotLatency(symbol string, ns int64) {
	t.update(symbol, func(st *symbolTracker) { st.snapshotNs.add(ns) })
}

// AddSplice 记录一次成功拼接
// 参数 buffered: 回放前缓冲长度；applied/dropped: 回放中应用/丢弃的事件数
func (t *Tracker) AddSplice(symbol string, buffered, applied, dropped int) {
	t.update(symbol, func(st *symbolTracker) {
		st.counters.Syncs++
		st.counters.Applied += int64(applied)
		st.counters.Dropped += int64(dropped)
		st.replay.add(int64(buffered))
	})
}

// Stats 获取指定交易对的统计快照
func (t *Tracker) Stats(symbol string) SymbolStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.symbols[symbol]
	if !ok {
		return SymbolStats{Symbol: symbol}
	}
	return st.snapshotLocked()
}

// All 获取所有交易对的统计快照（按交易对排序）
func (t *Tracker) All() []SymbolStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SymbolStats, 0, len(t.symbols))
	for _, st := range t.symbols {
		out = append(out, st.snapshotLocked())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (st *symbolTracker) snapshotLocked() SymbolStats {
	s := st.counters
	snapQs := st.snapshotNs.quantiles(0.50, 0.90, 0.99)
	s.SnapshotP50Ms = float64(snapQs[0]) / 1_000_000.0
	s.SnapshotP90Ms = float64(snapQs[1]) / 1_000_000.0
	s.SnapshotP99Ms = float64(snapQs[2]) / 1_000_000.0
	replayQs := st.replay.quantiles(0.50, 0.99)
	s.ReplayP50 = replayQs[0]
	s.ReplayP99 = replayQs[1]
	return s
}
