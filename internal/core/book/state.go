package book

import (
	"depth-sync/internal/core/model"
	"depth-sync/internal/util/timeutil"
)

// State 本地订单簿
// 由买卖两侧、nonce（最后应用的更新 id）、事件时间与待回放缓冲组成。
// State 信任调用方：ApplyDelta 不校验序列号，并发保护由上层负责。
type State struct {
	// Symbol 交易对
	Symbol string
	// Dialect 对账方言
	Dialect model.Dialect

	bids *Side
	asks *Side

	// nonce 最后应用的更新 id，hasNonce 为 false 表示尚未拼接快照
	nonce    int64
	hasNonce bool
	// timestampMs 最后应用事件的交易所时间（毫秒）
	timestampMs int64

	// pending 拼接快照前收到的增量，按到达顺序追加
	pending []*model.DepthUpdate
}

// NewState 创建空订单簿
func NewState(symbol string, dialect model.Dialect) *State {
	return &State{
		Symbol:  symbol,
		Dialect: dialect,
		bids:    NewBids(),
		asks:    NewAsks(),
	}
}

// Bids 买盘
func (s *State) Bids() *Side { return s.bids }

// Asks 卖盘
func (s *State) Asks() *Side { return s.asks }

// Nonce 返回最后应用的更新 id；快照拼接前返回 false
func (s *State) Nonce() (int64, bool) {
	return s.nonce, s.hasNonce
}

// TimestampMs 最后应用事件的时间（毫秒）
func (s *State) TimestampMs() int64 {
	return s.timestampMs
}

// Reset 用快照整体替换两侧档位与 nonce
// 待回放缓冲保留，由调用方在回放后丢弃。
func (s *State) Reset(snap *model.Snapshot) {
	s.bids.Replace(snap.Bids)
	s.asks.Replace(snap.Asks)
	s.nonce = snap.LastUpdateID
	s.hasNonce = true
	s.timestampMs = snap.TimestampMs
}

// ApplyDelta 应用一条增量：逐档写入两侧，然后推进 nonce 与时间
func (s *State) ApplyDelta(asks, bids []model.Level, finalID, eventTimeMs int64) {
	s.asks.StoreAll(asks)
	s.bids.StoreAll(bids)
	s.nonce = finalID
	s.hasNonce = true
	s.timestampMs = eventTimeMs
}

// Buffer 追加一条待回放增量（严格 FIFO）
func (s *State) Buffer(u *model.DepthUpdate) {
	s.pending = append(s.pending, u)
}

// Pending 返回待回放缓冲（按到达顺序）
func (s *State) Pending() []*model.DepthUpdate {
	return s.pending
}

// PendingLen 待回放缓冲长度
func (s *State) PendingLen() int {
	return len(s.pending)
}

// DiscardPending 丢弃待回放缓冲
func (s *State) DiscardPending() {
	s.pending = nil
}

// View 生成最多 limit 档的只读视图（limit <= 0 表示全部）
func (s *State) View(limit int) *model.BookView {
	v := &model.BookView{
		Symbol:      s.Symbol,
		Dialect:     s.Dialect,
		Nonce:       s.nonce,
		TimestampMs: s.timestampMs,
		Bids:        s.bids.Limit(limit),
		Asks:        s.asks.Limit(limit),
	}
	if s.timestampMs > 0 {
		v.Datetime = timeutil.FormatMsISO8601(s.timestampMs)
	}
	return v
}
