package reconcile

import (
	"depth-sync/internal/core/model"
)

// verdict 对一条增量的判定
type verdict int

const (
	verdictApply verdict = iota
	verdictDrop
	verdictGap
)

// bridgeVerdict 快照拼接阶段、首条事件应用之前的判定
//
// 现货: u <= nonce 丢弃；U-1 <= nonce <= u-1 为桥接事件
// 合约: u < nonce 丢弃；U <= nonce <= u 为桥接事件
// 其余情况说明快照早于缓冲中最早的事件，中间缺失的更新无法补齐。
func bridgeVerdict(dialect model.Dialect, nonce int64, u *model.DepthUpdate) (verdict, string) {
	switch dialect {
	case model.DialectFuture:
		if u.FinalID < nonce {
			return verdictDrop, ""
		}
		if u.FirstID <= nonce && nonce <= u.FinalID {
			return verdictApply, ""
		}
		return verdictGap, "首个事件未覆盖快照 lastUpdateId（U > nonce）"
	default:
		if u.FinalID <= nonce {
			return verdictDrop, ""
		}
		if u.FirstID-1 <= nonce && nonce <= u.FinalID-1 {
			return verdictApply, ""
		}
		return verdictGap, "首个事件未覆盖快照 lastUpdateId+1（U-1 > nonce）"
	}
}

// liveVerdict 已同步状态下的判定
//
// 现货: 要求 u > nonce，且 U-1 == nonce 或 U < nonce；U == nonce 视为断档。
// maxOverlap > 0 时重叠部分（nonce+1-U）不得超过 maxOverlap。
// 合约: 要求 u >= nonce，且 U <= nonce 或 pu == nonce；缺少 pu 时只能依赖 U <= nonce。
func liveVerdict(dialect model.Dialect, nonce int64, u *model.DepthUpdate, maxOverlap int64) (verdict, string) {
	switch dialect {
	case model.DialectFuture:
		if u.FinalID < nonce {
			return verdictGap, "u < nonce"
		}
		if u.FirstID <= nonce {
			return verdictApply, ""
		}
		if !u.HasPrevFinalID {
			return verdictGap, "缺少 pu 且 U > nonce"
		}
		if u.PrevFinalID == nonce {
			return verdictApply, ""
		}
		return verdictGap, "pu != nonce"
	default:
		if u.FinalID <= nonce {
			return verdictGap, "u <= nonce"
		}
		if u.FirstID-1 == nonce {
			return verdictApply, ""
		}
		if u.FirstID >= nonce {
			return verdictGap, "U-1 != nonce 且 U >= nonce"
		}
		if maxOverlap > 0 && nonce+1-u.FirstID > maxOverlap {
			return verdictGap, "重叠区间超过上限"
		}
		return verdictApply, ""
	}
}
