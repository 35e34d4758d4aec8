package model

// SyncEventType 同步生命周期事件类型
type SyncEventType string

const (
	// SyncEventSubscribed 已发送订阅请求，订单簿进入 BUFFERING
	SyncEventSubscribed SyncEventType = "subscribed"
	// SyncEventSynced 快照拼接完成
	SyncEventSynced SyncEventType = "synced"
	// SyncEventGap 检测到断档，订单簿已丢弃
	SyncEventGap SyncEventType = "gap"
	// SyncEventSnapshotFailed 快照获取失败
	SyncEventSnapshotFailed SyncEventType = "snapshot_failed"
	// SyncEventResync 已安排重建
	SyncEventResync SyncEventType = "resync"
	// SyncEventSubscribeError 订阅请求被拒绝
	SyncEventSubscribeError SyncEventType = "subscribe_error"
	// SyncEventUnsubscribed 已取消订阅
	SyncEventUnsubscribed SyncEventType = "unsubscribed"
	// SyncEventReset 连接断开，订单簿已丢弃，重连后从 BUFFERING 重建
	SyncEventReset SyncEventType = "reset"
)

// SyncEvent 同步生命周期事件（输出到 events.jsonl）
type SyncEvent struct {
	// TsUnixNs 事件时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// Dialect 市场
	Dialect Dialect `json:"market"`
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Type 事件类型
	Type SyncEventType `json:"type"`
	// SnapshotID 快照 lastUpdateId（synced）
	SnapshotID int64 `json:"snapshot_id,omitempty"`
	// Nonce 事件发生时的 nonce
	Nonce int64 `json:"nonce,omitempty"`
	// Buffered 回放前缓冲长度（synced）
	Buffered int `json:"buffered,omitempty"`
	// Applied 回放中应用数（synced）
	Applied int `json:"applied,omitempty"`
	// Dropped 回放中丢弃数（synced）
	Dropped int `json:"dropped,omitempty"`
	// DelayMs 重建延迟（resync）
	DelayMs int64 `json:"delay_ms,omitempty"`
	// Error 错误描述
	Error string `json:"error,omitempty"`
}
