// Package registry 持有所有交易对的对账器，是唯一可以增删订单簿的组件。
// 对外只暴露订阅、快照拼接、增量接收与只读视图；交易对之间互不影响。
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"depth-sync/internal/core/model"
	"depth-sync/internal/core/reconcile"
	"depth-sync/internal/stats/syncstats"
	"depth-sync/internal/util/timeutil"
)

// ErrNotSubscribed 交易对未订阅（或已因断档被移除）
var ErrNotSubscribed = errors.New("交易对未订阅")

// SnapshotFetcher 快照获取接口
type SnapshotFetcher interface {
	// FetchSnapshot 获取指定交易对的完整深度快照
	FetchSnapshot(ctx context.Context, symbol string) (*model.Snapshot, error)
}

// Hooks 同步生命周期回调
// 回调在调用方 goroutine 中执行，且不持有任何锁；为 nil 的回调会被忽略。
type Hooks struct {
	// OnSynced 快照拼接完成
	OnSynced func(symbol string, report reconcile.SpliceReport)
	// OnGap 检测到断档，订单簿已被移除，调用方负责重新订阅
	OnGap func(symbol string, err error)
	// OnSnapshotError 快照获取失败，订单簿回到 BUFFERING 并保留缓冲
	OnSnapshotError func(symbol string, err error)
}

// Registry 交易对 -> 对账器
type Registry struct {
	fetcher SnapshotFetcher
	opts    reconcile.Options
	stats   *syncstats.Tracker
	logger  *zap.Logger
	hooks   Hooks

	mu    sync.RWMutex
	books map[string]*reconcile.Reconciler
	// gens 交易对 -> 当前订单簿的代号，每次创建订单簿递增
	gens map[string]uint64
	seq  uint64

	// flight 保证同一订单簿实例同时只有一个快照请求；
	// key 带代号，替换后的新订单簿不会复用旧实例的在途请求
	flight singleflight.Group
	// wg 跟踪后台拼接 goroutine
	wg sync.WaitGroup
}

// New 创建注册表
// 参数 fetcher: 快照获取器
// 参数 opts: 对账参数（缓冲上限、重叠上限）
// 参数 stats: 同步统计，可为 nil
func New(fetcher SnapshotFetcher, opts reconcile.Options, stats *syncstats.Tracker, logger *zap.Logger, hooks Hooks) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		fetcher: fetcher,
		opts:    opts,
		stats:   stats,
		logger:  logger.Named("registry"),
		hooks:   hooks,
		books:   make(map[string]*reconcile.Reconciler),
		gens:    make(map[string]uint64),
	}
}

// Subscribe 为交易对创建新的 BUFFERING 订单簿
// 已存在的订单簿会被关闭并替换（其进行中的拼接将成为空操作）。
func (r *Registry) Subscribe(symbol string, dialect model.Dialect) *reconcile.Reconciler {
	rec := reconcile.New(symbol, dialect, r.opts)

	r.mu.Lock()
	old := r.books[symbol]
	r.books[symbol] = rec
	r.seq++
	r.gens[symbol] = r.seq
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	r.logger.Debug("订单簿已创建", zap.String("symbol", symbol), zap.String("dialect", string(dialect)))
	return rec
}

// Unsubscribe 移除交易对
// 进行中的快照请求允许完成，但其结果会被丢弃。
func (r *Registry) Unsubscribe(symbol string) {
	r.mu.Lock()
	rec := r.books[symbol]
	delete(r.books, symbol)
	delete(r.gens, symbol)
	r.mu.Unlock()

	if rec != nil {
		rec.Close()
		r.logger.Debug("订单簿已注销", zap.String("symbol", symbol))
	}
}

// StartSync 进入 SYNCING 并在后台获取快照、拼接
// 同一订单簿重复调用返回 reconcile.ErrSyncInFlight / ErrAlreadySynced。
func (r *Registry) StartSync(ctx context.Context, symbol string) error {
	rec, key, err := r.begin(symbol)
	if err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _ = r.splice(ctx, rec, key)
	}()
	return nil
}

// Sync 同步版本的 StartSync：获取快照并拼接后返回
func (r *Registry) Sync(ctx context.Context, symbol string) (reconcile.SpliceReport, error) {
	rec, key, err := r.begin(symbol)
	if err != nil {
		return reconcile.SpliceReport{}, err
	}
	return r.splice(ctx, rec, key)
}

// begin 进入 SYNCING，返回订单簿及其快照请求 key
func (r *Registry) begin(symbol string) (*reconcile.Reconciler, string, error) {
	r.mu.RLock()
	rec := r.books[symbol]
	gen := r.gens[symbol]
	r.mu.RUnlock()

	if rec == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrNotSubscribed, symbol)
	}
	if err := rec.BeginSync(); err != nil {
		return nil, "", err
	}
	return rec, fmt.Sprintf("%s#%d", symbol, gen), nil
}

func (r *Registry) splice(ctx context.Context, rec *reconcile.Reconciler, key string) (reconcile.SpliceReport, error) {
	symbol := rec.Symbol()

	startNs := timeutil.NowNano()
	ch := r.flight.DoChan(key, func() (any, error) {
		return r.fetcher.FetchSnapshot(ctx, symbol)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		res = singleflight.Result{Err: ctx.Err()}
	case res = <-ch:
	}

	if res.Err != nil {
		r.stats.AddSnapshotFailure(symbol)
		err := rec.FailSync(res.Err)
		if errors.Is(err, reconcile.ErrClosed) {
			return reconcile.SpliceReport{}, err
		}
		r.logger.Warn("快照获取失败", zap.String("symbol", symbol), zap.Error(res.Err))
		if r.hooks.OnSnapshotError != nil {
			r.hooks.OnSnapshotError(symbol, err)
		}
		return reconcile.SpliceReport{}, err
	}
	r.stats.AddSnapshotLatency(symbol, int64(timeutil.SinceNano(startNs)))

	snap, _ := res.Val.(*model.Snapshot)
	report, err := rec.Splice(snap)
	if err != nil {
		if errors.Is(err, reconcile.ErrClosed) {
			r.logger.Debug("订单簿已注销，丢弃快照", zap.String("symbol", symbol))
			return report, err
		}
		if errors.Is(err, reconcile.ErrSequenceGap) {
			r.teardown(rec, err)
		}
		return report, err
	}

	r.stats.AddSplice(symbol, report.Buffered, report.Applied, report.Dropped)
	r.logger.Info("快照拼接完成",
		zap.String("symbol", symbol),
		zap.Int64("snapshot_id", report.SnapshotID),
		zap.Int("buffered", report.Buffered),
		zap.Int("applied", report.Applied),
		zap.Int("dropped", report.Dropped),
		zap.Int64("nonce", report.Nonce),
	)
	if r.hooks.OnSynced != nil {
		r.hooks.OnSynced(symbol, report)
	}
	return report, nil
}

// Ingest 将一条增量路由到对应交易对
// 断档时订单簿被移除并触发 OnGap；返回的错误仅影响该交易对。
func (r *Registry) Ingest(u *model.DepthUpdate) (reconcile.Result, error) {
	if u == nil {
		return reconcile.ResultRejected, fmt.Errorf("%w: 空增量", reconcile.ErrMalformedMessage)
	}
	rec := r.lookup(u.Symbol)
	if rec == nil {
		return reconcile.ResultRejected, fmt.Errorf("%w: %s", ErrNotSubscribed, u.Symbol)
	}

	res, err := rec.Ingest(u)
	switch {
	case err == nil && res == reconcile.ResultBuffered:
		r.stats.AddBuffered(u.Symbol)
	case err == nil && res == reconcile.ResultApplied:
		r.stats.AddApplied(u.Symbol)
	case errors.Is(err, reconcile.ErrSequenceGap):
		r.teardown(rec, err)
	}
	return res, err
}

// Invalidate 将无法跳过的消息故障升级为断档
func (r *Registry) Invalidate(symbol string, cause error) error {
	rec := r.lookup(symbol)
	if rec == nil {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, symbol)
	}
	err := rec.Invalidate(cause)
	if errors.Is(err, reconcile.ErrSequenceGap) {
		r.teardown(rec, err)
	}
	return err
}

// teardown 移除断档的订单簿并通知调用方
// 只有仍注册在表中的同一实例才会被移除，避免误删已重建的新订单簿。
func (r *Registry) teardown(rec *reconcile.Reconciler, err error) {
	symbol := rec.Symbol()

	r.mu.Lock()
	current := r.books[symbol] == rec
	if current {
		delete(r.books, symbol)
		delete(r.gens, symbol)
	}
	r.mu.Unlock()

	if !current {
		return
	}

	r.stats.AddGap(symbol)
	r.logger.Warn("检测到序列号断档，订单簿已丢弃", zap.String("symbol", symbol), zap.Error(err))
	if r.hooks.OnGap != nil {
		r.hooks.OnGap(symbol, err)
	}
}

// GetBook 获取已同步订单簿最多 limit 档的视图
func (r *Registry) GetBook(symbol string, limit int) (*model.BookView, error) {
	rec := r.lookup(symbol)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotSubscribed, symbol)
	}
	return rec.View(limit)
}

// Wait 等待交易对完成同步后返回视图
// 快照失败、断档或注销时返回对应错误。
func (r *Registry) Wait(ctx context.Context, symbol string, limit int) (*model.BookView, error) {
	rec := r.lookup(symbol)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotSubscribed, symbol)
	}
	if err := rec.Wait(ctx); err != nil {
		return nil, err
	}
	return rec.View(limit)
}

// Phase 获取交易对当前阶段
func (r *Registry) Phase(symbol string) (reconcile.Phase, bool) {
	rec := r.lookup(symbol)
	if rec == nil {
		return 0, false
	}
	return rec.Phase(), true
}

// Symbols 已注册的交易对（排序）
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.books))
	for s := range r.books {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Close 注销全部交易对并等待后台拼接退出
func (r *Registry) Close() {
	r.mu.Lock()
	books := r.books
	r.books = make(map[string]*reconcile.Reconciler)
	r.gens = make(map[string]uint64)
	r.mu.Unlock()

	for _, rec := range books {
		rec.Close()
	}
	r.wg.Wait()
}

func (r *Registry) lookup(symbol string) *reconcile.Reconciler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.books[symbol]
}
