package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrSequenceGap 检测到更新 id 不连续，订单簿需要重建
	ErrSequenceGap = errors.New("序列号断档")
	// ErrSnapshotFetch 快照获取失败（可重试）
	ErrSnapshotFetch = errors.New("快照获取失败")
	// ErrMalformedMessage 消息缺少必需字段
	ErrMalformedMessage = errors.New("消息格式错误")
	// ErrBufferOverflow 待回放缓冲超出上限，按断档处理
	ErrBufferOverflow = errors.New("待回放缓冲溢出")
	// ErrClosed 订单簿已被注销
	ErrClosed = errors.New("订单簿已关闭")
	// ErrNotSynced 订单簿尚未完成快照拼接
	ErrNotSynced = errors.New("订单簿尚未同步")
	// ErrSyncInFlight 已有快照拼接在进行中
	ErrSyncInFlight = errors.New("快照拼接进行中")
	// ErrAlreadySynced 快照拼接只允许执行一次
	ErrAlreadySynced = errors.New("订单簿已同步")
)

// GapError 断档详情
// errors.Is(err, ErrSequenceGap) 为 true；溢出与字段缺失升级的断档同时匹配其原因。
type GapError struct {
	// Symbol 交易对
	Symbol string
	// Nonce 检测时的 nonce
	Nonce int64
	// First 触发事件的 U
	First int64
	// Final 触发事件的 u
	Final int64
	// PrevFinal 触发事件的 pu（仅合约）
	PrevFinal int64
	// Reason 断档原因
	Reason string
	// Cause 底层原因（可选）
	Cause error
}

func (e *GapError) Error() string {
	msg := fmt.Sprintf("%s: symbol=%s nonce=%d U=%d u=%d pu=%d: %s",
		ErrSequenceGap.Error(), e.Symbol, e.Nonce, e.First, e.Final, e.PrevFinal, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is 使 errors.Is(err, ErrSequenceGap) 成立
func (e *GapError) Is(target error) bool {
	return target == ErrSequenceGap
}

// Unwrap 返回底层原因
func (e *GapError) Unwrap() error {
	return e.Cause
}
