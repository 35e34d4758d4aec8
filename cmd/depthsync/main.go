// Package main 是深度同步器的入口点。
// 本程序为配置中的每个交易对维护一份与 Binance 一致的本地订单簿：
// WebSocket 增量先缓冲，订阅确认后获取 REST 快照拼接，之后实时应用并检测断档。
//
// 输出: books.jsonl（已同步订单簿的周期快照）、events.jsonl（同步生命周期事件）、metrics.jsonl（指标）。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"depth-sync/internal/config"
	"depth-sync/internal/core/model"
	"depth-sync/internal/core/reconcile"
	"depth-sync/internal/core/store"
	"depth-sync/internal/exchange/binance"
	"depth-sync/internal/metadata"
	"depth-sync/internal/output/jsonl"
	"depth-sync/internal/stats/syncstats"
	"depth-sync/internal/util/timeutil"
)

// marketMetrics 单个市场的指标
type marketMetrics struct {
	// Market 市场
	Market model.Dialect `json:"market"`
	// Connection 连接指标
	Connection binance.ConnectionMetrics `json:"connection"`
	// Symbols 按交易对的同步统计
	Symbols []syncstats.SymbolStats `json:"symbols"`
}

type metricsSnapshot struct {
	// TsUnixNs 指标采集时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// Markets 各市场指标
	Markets []marketMetrics `json:"markets"`
	// Passthrough 非深度消息计数（按种类）
	Passthrough map[string]int64 `json:"passthrough,omitempty"`
	// Writers 输出文件计数
	Writers []jsonl.WriterStats `json:"writers,omitempty"`
}

// bookRecord books.jsonl 的一行
type bookRecord struct {
	// TsUnixNs 采样时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	*model.BookView
	// Mid 中间价
	Mid decimal.Decimal `json:"mid"`
	// Spread 买卖价差
	Spread decimal.Decimal `json:"spread"`
	// Crossed 是否交叉盘
	Crossed bool `json:"crossed,omitempty"`
}

// market 一个市场的客户端与统计
type market struct {
	client *binance.Client
	stats  *syncstats.Tracker
}

type outputs struct {
	books   *jsonl.Writer
	events  *jsonl.Writer
	metrics *jsonl.Writer
}

func (o *outputs) all() []*jsonl.Writer {
	var out []*jsonl.Writer
	for _, w := range []*jsonl.Writer{o.books, o.events, o.metrics} {
		if w != nil {
			out = append(out, w)
		}
	}
	return out
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel).Named(cfg.App.Name)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	symbols := cfg.SymbolsByDialect()
	if cfg.Metadata.Enabled {
		resolved, err := metadata.ResolveSymbols(ctx, cfg, metadata.NewHTTPFetcher(cfg.Metadata.TimeoutMs))
		if err != nil {
			logger.Error("交易对校验失败", zap.Error(err))
			os.Exit(1)
		}
		symbols = make(map[model.Dialect][]string, len(resolved))
		for dialect, insts := range resolved {
			symbols[dialect] = metadata.Symbols(insts)
			for _, inst := range insts {
				logger.Info("交易对校验通过",
					zap.String("market", string(dialect)),
					zap.String("symbol", inst.Symbol),
					zap.Stringer("tick_size", inst.TickSize),
					zap.Stringer("step_size", inst.StepSize),
				)
			}
		}
	}

	opts := binance.BookOptions{
		Reconcile: reconcile.Options{
			MaxPending: cfg.Book.MaxPending,
			MaxOverlap: cfg.Book.MaxOverlap,
		},
		ResyncBase: time.Duration(cfg.Book.ResyncBaseMs) * time.Millisecond,
		ResyncMax:  time.Duration(cfg.Book.ResyncMaxMs) * time.Millisecond,
	}

	// 每个市场一条连接，交易对按市场分组
	dialects := make([]model.Dialect, 0, len(symbols))
	for d := range symbols {
		dialects = append(dialects, d)
	}
	sort.Slice(dialects, func(i, j int) bool { return dialects[i] < dialects[j] })

	markets := make([]*market, 0, len(dialects))
	for _, d := range dialects {
		stats := syncstats.NewTracker(1000)
		fetcher := binance.NewSnapshotClient(cfg.RESTFor(d), cfg.REST.SnapshotLimit, cfg.REST.TimeoutMs)
		client := binance.NewClient(d, cfg.WSFor(d), symbols[d], fetcher, opts, stats, logger)
		markets = append(markets, &market{client: client, stats: stats})
	}

	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	defer startCancel()

	for _, m := range markets {
		if err := m.client.Connect(startCtx); err != nil {
			logger.Error("Binance 连接失败", zap.String("market", string(m.client.Dialect())), zap.Error(err))
			os.Exit(1)
		}
		if err := m.client.Subscribe(); err != nil {
			logger.Error("Binance 订阅失败", zap.String("market", string(m.client.Dialect())), zap.Error(err))
			os.Exit(1)
		}
	}
	for _, m := range markets {
		go m.client.Run(ctx)
	}

	out, err := openOutputs(cfg.Output)
	if err != nil {
		logger.Error("创建输出文件失败", zap.Error(err))
		os.Exit(1)
	}

	passthrough := runAggregator(ctx, logger, markets, out, cfg.Book.DepthLimit, cfg.Output.SnapshotIntervalMs, cfg.Output.MetricsIntervalMs)

	// 输出最后一条 metrics 快照（便于离线复盘）
	if out.metrics != nil {
		_ = out.metrics.Write(collectMetrics(markets, passthrough, out))
		_ = out.metrics.Flush()
	}

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, m := range markets {
			_ = m.client.Close()
		}
		for _, w := range out.all() {
			_ = w.Close()
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成")
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openOutputs(cfg config.OutputConfig) (*outputs, error) {
	out := &outputs{}
	var err error
	if cfg.BooksEnabled {
		if out.books, err = jsonl.Open(cfg.Dir, "books.jsonl", cfg.BufferSize); err != nil {
			return nil, err
		}
	}
	if cfg.EventsEnabled {
		if out.events, err = jsonl.Open(cfg.Dir, "events.jsonl", cfg.BufferSize); err != nil {
			return nil, err
		}
	}
	if cfg.MetricsEnabled {
		if out.metrics, err = jsonl.Open(cfg.Dir, "metrics.jsonl", cfg.BufferSize); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// runAggregator 汇总各市场的事件并周期输出
// 返回非深度消息计数
func runAggregator(
	ctx context.Context,
	logger *zap.Logger,
	markets []*market,
	out *outputs,
	depthLimit int,
	snapshotIntervalMs int,
	metricsIntervalMs int,
) map[string]int64 {
	syncEvents := make(chan model.SyncEvent, 1000)
	messages := make(chan model.Message, 1000)
	for _, m := range markets {
		go forward(ctx, m.client.SyncCh(), syncEvents)
		go forward(ctx, m.client.EventCh(), messages)
	}

	snapshotTicker := time.NewTicker(time.Duration(snapshotIntervalMs) * time.Millisecond)
	defer snapshotTicker.Stop()
	metricsTicker := time.NewTicker(time.Duration(metricsIntervalMs) * time.Millisecond)
	defer metricsTicker.Stop()

	books := store.New()
	passthrough := make(map[string]int64)

	for {
		select {
		case <-ctx.Done():
			return passthrough

		case ev := <-syncEvents:
			switch ev.Type {
			case model.SyncEventGap, model.SyncEventUnsubscribed, model.SyncEventReset:
				books.Remove(ev.Dialect, ev.Symbol)
			}
			if out.events != nil {
				_ = out.events.Write(ev)
			}

		case msg := <-messages:
			passthrough[msg.Kind().String()]++

		case <-snapshotTicker.C:
			written := writeBooks(markets, books, out.books, depthLimit)
			logger.Debug("订单簿快照已输出", zap.Int("written", written), zap.Int("cached", books.Len()))

		case <-metricsTicker.C:
			if out.metrics == nil {
				continue
			}
			_ = out.metrics.Write(collectMetrics(markets, passthrough, out))
			_ = out.metrics.Flush()
		}
	}
}

// forward 将客户端通道汇入共享通道，源通道关闭或 ctx 取消后退出
func forward[T any](ctx context.Context, src <-chan T, dst chan<- T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-src:
			if !ok {
				return
			}
			select {
			case dst <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}

// writeBooks 输出自上次以来有推进的已同步订单簿
func writeBooks(markets []*market, books *store.Store, w *jsonl.Writer, depthLimit int) int {
	nowNs := timeutil.NowNano()
	written := 0
	for _, m := range markets {
		for _, symbol := range m.client.Registry().Symbols() {
			view, err := m.client.GetBook(symbol, depthLimit)
			if err != nil {
				// 尚未同步
				continue
			}
			if !books.Update(view) || w == nil {
				continue
			}
			rec := bookRecord{
				TsUnixNs: nowNs,
				BookView: view,
				Mid:      view.MidPrice(),
				Spread:   view.Spread(),
				Crossed:  view.IsCrossed(),
			}
			if err := w.TryWrite(rec); err == nil {
				written++
			}
		}
	}
	return written
}

func collectMetrics(markets []*market, passthrough map[string]int64, out *outputs) metricsSnapshot {
	snap := metricsSnapshot{
		TsUnixNs:    timeutil.NowNano(),
		Passthrough: make(map[string]int64, len(passthrough)),
	}
	for _, m := range markets {
		snap.Markets = append(snap.Markets, marketMetrics{
			Market:     m.client.Dialect(),
			Connection: m.client.Metrics(),
			Symbols:    m.stats.All(),
		})
	}
	for k, v := range passthrough {
		snap.Passthrough[k] = v
	}
	for _, w := range out.all() {
		snap.Writers = append(snap.Writers, w.Stats())
	}
	return snap
}
