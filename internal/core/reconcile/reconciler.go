// Package reconcile 实现单个交易对的订单簿对账状态机。
//
// 生命周期: BUFFERING -> SYNCING -> SYNCED，检测到断档后进入 GAP_DETECTED（终态）。
// 快照拼接与实时增量应用修改同一份状态，二者在同一把锁内串行执行。
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"depth-sync/internal/core/book"
	"depth-sync/internal/core/model"
)

// Phase 同步阶段
type Phase int32

const (
	// PhaseBuffering 尚未拼接快照，增量全部进入缓冲
	PhaseBuffering Phase = iota
	// PhaseSyncing 快照获取中，增量继续进入缓冲
	PhaseSyncing
	// PhaseSynced 已同步，增量实时应用
	PhaseSynced
	// PhaseGapDetected 检测到断档，状态已丢弃
	PhaseGapDetected
)

func (p Phase) String() string {
	switch p {
	case PhaseBuffering:
		return "BUFFERING"
	case PhaseSyncing:
		return "SYNCING"
	case PhaseSynced:
		return "SYNCED"
	case PhaseGapDetected:
		return "GAP_DETECTED"
	default:
		return "UNKNOWN"
	}
}

// Result Ingest 的处理结果
type Result int

const (
	// ResultBuffered 进入待回放缓冲
	ResultBuffered Result = iota
	// ResultApplied 已应用
	ResultApplied
	// ResultRejected 触发断档或订单簿已关闭
	ResultRejected
)

// Options 对账参数
type Options struct {
	// MaxPending 待回放缓冲上限，0 表示不限制；溢出按断档处理
	MaxPending int
	// MaxOverlap 现货实时阶段允许的最大重叠 id 数（nonce+1-U），0 表示不限制
	MaxOverlap int64
}

// SpliceReport 快照拼接结果
type SpliceReport struct {
	// SnapshotID 快照 lastUpdateId
	SnapshotID int64
	// Buffered 回放前的缓冲长度
	Buffered int
	// Applied 回放中应用的事件数
	Applied int
	// Dropped 回放中因早于快照被丢弃的事件数
	Dropped int
	// Nonce 拼接完成后的 nonce
	Nonce int64
}

// Reconciler 单交易对对账状态机
type Reconciler struct {
	symbol  string
	dialect model.Dialect
	opts    Options

	mu sync.Mutex
	// state 本地订单簿，进入 GAP_DETECTED 或关闭后置空
	state *book.State
	phase Phase
	// closed 取消订阅后置位，之后的拼接为空操作
	closed bool
	// err 终态错误（断档或关闭）
	err error
	// waiters 等待同步结果的调用方
	waiters []chan error
}

// New 创建处于 BUFFERING 阶段的对账器
func New(symbol string, dialect model.Dialect, opts Options) *Reconciler {
	return &Reconciler{
		symbol:  symbol,
		dialect: dialect,
		opts:    opts,
		state:   book.NewState(symbol, dialect),
		phase:   PhaseBuffering,
	}
}

// Symbol 交易对
func (r *Reconciler) Symbol() string { return r.symbol }

// Dialect 对账方言
func (r *Reconciler) Dialect() model.Dialect { return r.dialect }

// Phase 当前阶段
func (r *Reconciler) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Err 终态错误；未进入终态时为 nil
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Nonce 当前 nonce；未同步时返回 false
func (r *Reconciler) Nonce() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseSynced {
		return 0, false
	}
	return r.state.Nonce()
}

// PendingLen 待回放缓冲长度
func (r *Reconciler) PendingLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return 0
	}
	return r.state.PendingLen()
}

// Ingest 接收一条增量
// 未同步时追加到缓冲；已同步时校验连续性后应用。
// 返回的错误满足 errors.Is(err, ErrSequenceGap) 时，对账器已进入终态。
func (r *Reconciler) Ingest(u *model.DepthUpdate) (Result, error) {
	if u == nil {
		return ResultRejected, fmt.Errorf("%w: 空增量", ErrMalformedMessage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return ResultRejected, r.err
	}

	switch r.phase {
	case PhaseBuffering, PhaseSyncing:
		if r.opts.MaxPending > 0 && r.state.PendingLen() >= r.opts.MaxPending {
			return ResultRejected, r.failLocked(&GapError{
				Symbol: r.symbol,
				First:  u.FirstID,
				Final:  u.FinalID,
				Reason: fmt.Sprintf("缓冲达到上限 %d", r.opts.MaxPending),
				Cause:  ErrBufferOverflow,
			})
		}
		r.state.Buffer(u)
		return ResultBuffered, nil

	case PhaseSynced:
		if err := r.applyLiveLocked(u); err != nil {
			return ResultRejected, r.failLocked(err)
		}
		return ResultApplied, nil

	default:
		return ResultRejected, fmt.Errorf("非法阶段 %s", r.phase)
	}
}

// BeginSync BUFFERING -> SYNCING，调用方随后负责获取快照
func (r *Reconciler) BeginSync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	switch r.phase {
	case PhaseBuffering:
		r.phase = PhaseSyncing
		return nil
	case PhaseSyncing:
		return ErrSyncInFlight
	default:
		return ErrAlreadySynced
	}
}

// FailSync 快照获取失败：回到 BUFFERING，保留缓冲以便重试，
// 并以一次性错误通知当前等待方。
func (r *Reconciler) FailSync(cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	if r.phase != PhaseSyncing {
		return fmt.Errorf("FailSync 非法阶段 %s", r.phase)
	}
	r.phase = PhaseBuffering
	err := fmt.Errorf("%w: symbol=%s: %v", ErrSnapshotFetch, r.symbol, cause)
	r.resolveLocked(err)
	return err
}

// Splice 拼接快照并按到达顺序回放缓冲
// 只允许在 SYNCING 阶段执行一次；对账器已关闭时为空操作并返回 ErrClosed。
func (r *Reconciler) Splice(snap *model.Snapshot) (SpliceReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return SpliceReport{}, ErrClosed
	}
	if r.err != nil {
		return SpliceReport{}, r.err
	}
	switch r.phase {
	case PhaseSyncing:
	case PhaseSynced:
		return SpliceReport{}, ErrAlreadySynced
	default:
		return SpliceReport{}, fmt.Errorf("Splice 非法阶段 %s", r.phase)
	}
	if snap == nil {
		return SpliceReport{}, fmt.Errorf("%w: 空快照", ErrMalformedMessage)
	}

	r.state.Reset(snap)
	pending := r.state.Pending()
	report := SpliceReport{SnapshotID: snap.LastUpdateID, Buffered: len(pending)}

	bridged := false
	for _, u := range pending {
		nonce, _ := r.state.Nonce()

		if !bridged {
			v, reason := bridgeVerdict(r.dialect, nonce, u)
			switch v {
			case verdictDrop:
				report.Dropped++
				continue
			case verdictGap:
				return report, r.failLocked(r.gapError(nonce, u, reason))
			}
			r.state.ApplyDelta(u.Asks, u.Bids, u.FinalID, u.EventTimeMs)
			report.Applied++
			bridged = true
			continue
		}

		if err := r.applyLiveLocked(u); err != nil {
			return report, r.failLocked(err)
		}
		report.Applied++
	}

	r.state.DiscardPending()
	r.phase = PhaseSynced
	report.Nonce, _ = r.state.Nonce()
	r.resolveLocked(nil)
	return report, nil
}

// Invalidate 外部检测到无法跳过的故障（如增量档位无法解析），按断档处理
func (r *Reconciler) Invalidate(cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	nonce, _ := r.state.Nonce()
	return r.failLocked(&GapError{
		Symbol: r.symbol,
		Nonce:  nonce,
		Reason: "不可跳过的消息故障",
		Cause:  cause,
	})
}

// Close 取消订阅：丢弃状态并通知等待方，之后的拼接为空操作
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.state = nil
	if r.err == nil {
		r.err = ErrClosed
	}
	r.resolveLocked(r.err)
}

// View 返回最多 limit 档的订单簿视图
func (r *Reconciler) View(limit int) (*model.BookView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	if r.phase != PhaseSynced {
		return nil, ErrNotSynced
	}
	return r.state.View(limit), nil
}

// Wait 阻塞直到同步完成、快照失败、断档或关闭
// 快照失败只通知一次，之后重新调用 Wait 会等待下一次拼接。
func (r *Reconciler) Wait(ctx context.Context) error {
	r.mu.Lock()
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return err
	}
	if r.phase == PhaseSynced {
		r.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	r.waiters = append(r.waiters, ch)
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		return err
	}
}

func (r *Reconciler) applyLiveLocked(u *model.DepthUpdate) *GapError {
	nonce, _ := r.state.Nonce()
	v, reason := liveVerdict(r.dialect, nonce, u, r.opts.MaxOverlap)
	if v != verdictApply {
		return r.gapError(nonce, u, reason)
	}
	r.state.ApplyDelta(u.Asks, u.Bids, u.FinalID, u.EventTimeMs)
	return nil
}

func (r *Reconciler) gapError(nonce int64, u *model.DepthUpdate, reason string) *GapError {
	return &GapError{
		Symbol:    r.symbol,
		Nonce:     nonce,
		First:     u.FirstID,
		Final:     u.FinalID,
		PrevFinal: u.PrevFinalID,
		Reason:    reason,
	}
}

// failLocked 进入 GAP_DETECTED：丢弃状态并通知等待方
func (r *Reconciler) failLocked(err *GapError) error {
	if nonce, ok := r.nonceLocked(); ok && err.Nonce == 0 {
		err.Nonce = nonce
	}
	r.phase = PhaseGapDetected
	r.state = nil
	r.err = err
	r.resolveLocked(err)
	return err
}

func (r *Reconciler) nonceLocked() (int64, bool) {
	if r.state == nil {
		return 0, false
	}
	return r.state.Nonce()
}

func (r *Reconciler) resolveLocked(err error) {
	for _, ch := range r.waiters {
		ch <- err
	}
	r.waiters = nil
}
