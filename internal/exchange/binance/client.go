// Package binance 实现 Binance 交易所的 WebSocket 客户端。
// 连接地址: wss://stream.binance.com:9443/ws（现货）/ wss://fstream.binance.com/ws（合约）
// 订阅频道: <symbol>@depth@100ms，订阅确认后获取 REST 快照并拼接
// 心跳机制: 协议层 ping/pong
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"depth-sync/internal/config"
	"depth-sync/internal/core/model"
	"depth-sync/internal/core/reconcile"
	"depth-sync/internal/core/registry"
	"depth-sync/internal/stats/syncstats"
	"depth-sync/internal/util/backoff"
	"depth-sync/internal/util/timeutil"
)

// ErrClientClosed 客户端已关闭
var ErrClientClosed = errors.New("Binance 客户端已关闭")

// BookOptions 订单簿对账与重建参数
type BookOptions struct {
	// Reconcile 缓冲上限与重叠上限
	Reconcile reconcile.Options
	// ResyncBase 重建初始延迟
	ResyncBase time.Duration
	// ResyncMax 重建延迟上限
	ResyncMax time.Duration
}

// Client Binance WebSocket 客户端
// 一个客户端对应一个市场（现货或合约）的一条连接。
type Client struct {
	// dialect 市场方言
	dialect model.Dialect
	// cfg WebSocket 配置
	cfg *config.MarketWSConfig
	// logger 日志记录器
	logger *zap.Logger
	// parser 消息解析器
	parser *Parser
	// registry 本市场的订单簿注册表
	registry *registry.Registry
	// stats 同步统计
	stats *syncstats.Tracker

	// conn WebSocket 连接
	conn *websocket.Conn
	// connMu 连接锁（同时串行化写操作）
	connMu sync.Mutex

	// subsMu 保护 symbols 与 pendingReqs
	subsMu sync.Mutex
	// symbols 期望维护的交易对
	symbols map[string]bool
	// pendingReqs 订阅请求 id -> 交易对，收到确认后触发快照
	pendingReqs map[int64][]string
	// nextID 请求 id
	nextID int64

	// eventCh 非深度消息输出通道（成交、K 线、行情、账户、订单）
	eventCh chan model.Message
	// syncCh 同步生命周期事件输出通道
	syncCh chan model.SyncEvent

	// metrics 连接指标
	metrics ConnectionMetrics
	// metricsMu 指标锁
	metricsMu sync.RWMutex

	// lastMsgTime 最后消息时间（纳秒）
	lastMsgTime int64
	// updateCount 深度更新计数（用于计算 QPS）
	updateCount int64
	// backoff 重连退避
	backoff *backoff.Backoff
	// resync 按交易对的重建退避
	resync *backoff.Keyed
	// closed 是否已关闭
	closed int32

	// ctx 客户端生命周期，Close 或 Run 的父 ctx 取消时结束
	ctx    context.Context
	cancel context.CancelFunc
	// lifeMu 保护 stopping，保证 Close 之后不再启动后台 goroutine
	lifeMu   sync.Mutex
	stopping bool
	wg       sync.WaitGroup

	// parseErrSampleCount 解析错误计数（用于采样日志）
	parseErrSampleCount uint64
	// lastParseErrLogNs 上次解析错误日志时间（纳秒）
	lastParseErrLogNs int64
}

// NewClient 创建 Binance WebSocket 客户端
// 参数 dialect: 市场方言
// 参数 cfg: WebSocket 配置
// 参数 symbols: 交易对（大小写均可）
// 参数 fetcher: 快照获取器
// 参数 opts: 对账与重建参数
// 参数 stats: 同步统计，可为 nil
// 参数 logger: 日志记录器
func NewClient(
	dialect model.Dialect,
	cfg *config.MarketWSConfig,
	symbols []string,
	fetcher registry.SnapshotFetcher,
	opts BookOptions,
	stats *syncstats.Tracker,
	logger *zap.Logger,
) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ResyncBase <= 0 {
		opts.ResyncBase = 500 * time.Millisecond
	}
	if opts.ResyncMax < opts.ResyncBase {
		opts.ResyncMax = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		dialect:     dialect,
		cfg:         cfg,
		logger:      logger.Named("binance").With(zap.String("market", string(dialect))),
		parser:      NewParser(),
		stats:       stats,
		symbols:     make(map[string]bool, len(symbols)),
		pendingReqs: make(map[int64][]string),
		eventCh:     make(chan model.Message, 1000),
		syncCh:      make(chan model.SyncEvent, 1000),
		backoff:     backoff.NewDefault(),
		resync:      backoff.NewKeyed(opts.ResyncBase, opts.ResyncMax, 0.2),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, s := range symbols {
		c.symbols[strings.ToUpper(s)] = true
	}

	c.registry = registry.New(fetcher, opts.Reconcile, stats, logger, registry.Hooks{
		OnSynced:        c.onSynced,
		OnGap:           c.onGap,
		OnSnapshotError: c.onSnapshotError,
	})
	return c
}

// Connect 建立 WebSocket 连接
// 参数 ctx: 上下文，用于取消连接
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", "depth-sync/1.0")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("连接 Binance WebSocket 失败: %w", err)
	}

	readTimeout := time.Duration(c.readTimeoutMs()) * time.Millisecond
	if readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			atomic.StoreInt64(&c.lastMsgTime, timeutil.NowNano())
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
	}

	c.conn = conn
	c.backoff.Reset()
	c.logger.Info("Binance WebSocket 连接成功", zap.String("url", c.cfg.URL))
	return nil
}

// Subscribe 订阅全部已配置交易对的增量深度
// 每个交易对都会获得一个新的 BUFFERING 订单簿，旧订单簿被丢弃。
func (c *Client) Subscribe() error {
	c.subsMu.Lock()
	symbols := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		symbols = append(symbols, s)
	}
	c.subsMu.Unlock()

	if len(symbols) == 0 {
		return nil
	}
	return c.subscribe(symbols)
}

// SubscribeSymbol 新增一个交易对
func (c *Client) SubscribeSymbol(symbol string) error {
	if c.isStopping() {
		return ErrClientClosed
	}
	symbol = strings.ToUpper(symbol)
	c.subsMu.Lock()
	c.symbols[symbol] = true
	c.subsMu.Unlock()
	return c.subscribe([]string{symbol})
}

// Unsubscribe 取消交易对订阅并移除订单簿
// 进行中的快照请求完成后结果被丢弃。
func (c *Client) Unsubscribe(symbol string) error {
	if c.isStopping() {
		return ErrClientClosed
	}
	symbol = strings.ToUpper(symbol)

	c.subsMu.Lock()
	delete(c.symbols, symbol)
	c.subsMu.Unlock()

	c.registry.Unsubscribe(symbol)
	c.resync.Reset(symbol)
	c.emit(model.SyncEvent{Symbol: symbol, Type: model.SyncEventUnsubscribed})

	return c.send("UNSUBSCRIBE", []string{c.streamName(symbol)}, c.allocID())
}

func (c *Client) subscribe(symbols []string) error {
	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		c.registry.Subscribe(s, c.dialect)
		params = append(params, c.streamName(s))
	}

	id := c.allocID()
	c.subsMu.Lock()
	c.pendingReqs[id] = symbols
	c.subsMu.Unlock()

	if err := c.send("SUBSCRIBE", params, id); err != nil {
		c.subsMu.Lock()
		delete(c.pendingReqs, id)
		c.subsMu.Unlock()
		return err
	}

	for _, s := range symbols {
		c.emit(model.SyncEvent{Symbol: s, Type: model.SyncEventSubscribed})
	}
	c.logger.Info("Binance 订阅请求已发送", zap.Int64("id", id), zap.Int("symbols", len(params)))
	return nil
}

func (c *Client) send(method string, params []string, id int64) error {
	req := SubscribeRequest{
		Method: method,
		Params: params,
		ID:     id,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("序列化订阅请求失败: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}
	return nil
}

// streamName Binance 订阅参数要求小写 symbol
func (c *Client) streamName(symbol string) string {
	speed := c.cfg.UpdateSpeedMs
	if speed <= 0 {
		speed = 100
	}
	return fmt.Sprintf("%s@depth@%dms", strings.ToLower(symbol), speed)
}

func (c *Client) allocID() int64 {
	return atomic.AddInt64(&c.nextID, 1)
}

// Run 启动客户端主循环
// 包含读取循环、心跳与指标统计；父 ctx 取消或 Close 后返回
func (c *Client) Run(ctx context.Context) {
	if !c.track() {
		return
	}
	defer c.wg.Done()

	stop := context.AfterFunc(ctx, c.cancel)
	defer stop()

	c.goTracked(func() { c.pingLoop(c.ctx) })
	c.goTracked(func() { c.metricsLoop(c.ctx) })
	c.readLoop(c.ctx)
}

func (c *Client) readLoop(ctx context.Context) {
	readTimeout := time.Duration(c.readTimeoutMs()) * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if atomic.LoadInt32(&c.closed) == 1 {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || atomic.LoadInt32(&c.closed) == 1 {
				return
			}
			c.logger.Warn("读取 Binance 消息失败", zap.Error(err))
			c.incrementReconnectCount()
			c.reconnect(ctx)
			continue
		}

		if readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		}

		atomic.StoreInt64(&c.lastMsgTime, timeutil.NowNano())

		msg, err := c.parser.Parse(data)
		c.dispatch(ctx, msg, err, data)
	}
}

// dispatch 按消息种类分发
// 深度增量进入注册表；订阅确认触发快照；其余消息转发到 eventCh。
func (c *Client) dispatch(ctx context.Context, msg model.Message, err error, data []byte) {
	if err != nil {
		c.handleParseError(msg, err, data)
		return
	}
	if msg == nil {
		return
	}

	switch m := msg.(type) {
	case *model.DepthUpdate:
		atomic.AddInt64(&c.updateCount, 1)
		if _, err := c.registry.Ingest(m); err != nil && errors.Is(err, registry.ErrNotSubscribed) {
			// 断档后重建前、或取消订阅后仍在途的增量
			c.logger.Debug("丢弃未注册交易对的增量", zap.String("symbol", m.Symbol))
		}

	case *model.SubscriptionAck:
		c.handleAck(ctx, m)

	case *model.Trade, *model.Kline, *model.Ticker, *model.BalanceUpdate, *model.ExecutionReport:
		select {
		case c.eventCh <- msg:
		default:
			c.logger.Warn("Binance eventCh 已满，丢弃事件", zap.Stringer("kind", msg.Kind()))
		}

	default:
		c.logger.Debug("未处理的消息种类", zap.Stringer("kind", msg.Kind()))
	}
}

// handleParseError 处理解析失败
// 缺少 U/u 的增量直接丢弃；U/u 完整但档位非法的增量无法跳过，升级为断档。
func (c *Client) handleParseError(msg model.Message, err error, data []byte) {
	c.incrementParseErrorCount()

	if u, ok := msg.(*model.DepthUpdate); ok && errors.Is(err, ErrMalformedLevels) {
		c.stats.AddMalformed(u.Symbol)
		if ierr := c.registry.Invalidate(u.Symbol, err); ierr != nil && !errors.Is(ierr, reconcile.ErrSequenceGap) {
			c.logger.Debug("档位非法的增量无对应订单簿", zap.String("symbol", u.Symbol), zap.Error(ierr))
		}
		return
	}

	c.maybeLogParseError(err, data)
}

func (c *Client) handleAck(ctx context.Context, ack *model.SubscriptionAck) {
	c.subsMu.Lock()
	symbols, ok := c.pendingReqs[ack.ID]
	delete(c.pendingReqs, ack.ID)
	c.subsMu.Unlock()

	if !ok {
		// UNSUBSCRIBE 等无需跟踪的请求
		return
	}

	if ack.Err != "" {
		c.logger.Error("Binance 订阅被拒绝", zap.Int64("id", ack.ID), zap.String("error", ack.Err), zap.Strings("symbols", symbols))
		for _, s := range symbols {
			c.registry.Unsubscribe(s)
			c.emit(model.SyncEvent{Symbol: s, Type: model.SyncEventSubscribeError, Error: ack.Err})
		}
		return
	}

	for _, s := range symbols {
		if err := c.registry.StartSync(ctx, s); err != nil && !isBenignSyncErr(err) {
			c.logger.Warn("启动快照拼接失败", zap.String("symbol", s), zap.Error(err))
		}
	}
}

// isBenignSyncErr 重复触发或订单簿已被替换时的错误，可忽略
func isBenignSyncErr(err error) bool {
	return errors.Is(err, reconcile.ErrSyncInFlight) ||
		errors.Is(err, reconcile.ErrAlreadySynced) ||
		errors.Is(err, reconcile.ErrClosed) ||
		errors.Is(err, registry.ErrNotSubscribed)
}

func (c *Client) onSynced(symbol string, report reconcile.SpliceReport) {
	c.resync.Reset(symbol)
	c.emit(model.SyncEvent{
		Symbol:     symbol,
		Type:       model.SyncEventSynced,
		SnapshotID: report.SnapshotID,
		Nonce:      report.Nonce,
		Buffered:   report.Buffered,
		Applied:    report.Applied,
		Dropped:    report.Dropped,
	})
}

// onGap 断档：立即重新注册订单簿开始缓冲，延迟后再获取快照
func (c *Client) onGap(symbol string, err error) {
	ev := model.SyncEvent{Symbol: symbol, Type: model.SyncEventGap, Error: err.Error()}
	var gap *reconcile.GapError
	if errors.As(err, &gap) {
		ev.Nonce = gap.Nonce
	}
	c.emit(ev)

	if !c.wants(symbol) || c.ctx.Err() != nil {
		return
	}
	c.registry.Subscribe(symbol, c.dialect)
	c.scheduleSync(symbol)
}

// onSnapshotError 快照失败：订单簿保留缓冲，延迟后重试
func (c *Client) onSnapshotError(symbol string, err error) {
	c.emit(model.SyncEvent{Symbol: symbol, Type: model.SyncEventSnapshotFailed, Error: err.Error()})
	if !c.wants(symbol) || c.ctx.Err() != nil {
		return
	}
	c.scheduleSync(symbol)
}

func (c *Client) scheduleSync(symbol string) {
	delay := c.resync.Next(symbol)
	c.stats.AddResync(symbol)
	c.logger.Info("安排订单簿重建", zap.String("symbol", symbol), zap.Duration("delay", delay))
	c.emit(model.SyncEvent{Symbol: symbol, Type: model.SyncEventResync, DelayMs: delay.Milliseconds()})

	c.goTracked(func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
		}
		if err := c.registry.StartSync(c.ctx, symbol); err != nil && !isBenignSyncErr(err) {
			c.logger.Warn("重建快照拼接失败", zap.String("symbol", symbol), zap.Error(err))
		}
	})
}

func (c *Client) wants(symbol string) bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	return c.symbols[symbol]
}

// emit 非阻塞写入 syncCh
// 持有 lifeMu 期间 Close 无法置位 stopping，因此不会写入已关闭的通道。
func (c *Client) emit(ev model.SyncEvent) {
	if ev.TsUnixNs == 0 {
		ev.TsUnixNs = timeutil.NowNano()
	}
	ev.Dialect = c.dialect

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.stopping {
		return
	}
	select {
	case c.syncCh <- ev:
	default:
		c.logger.Warn("Binance syncCh 已满，丢弃事件", zap.String("symbol", ev.Symbol), zap.String("type", string(ev.Type)))
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	intervalMs := c.cfg.PingIntervalMs
	if intervalMs <= 0 {
		intervalMs = c.readTimeoutMs() / 2
		if intervalMs <= 0 {
			intervalMs = 15000
		}
	}

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			c.connMu.Lock()
			conn := c.conn
			if conn == nil {
				c.connMu.Unlock()
				continue
			}

			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				c.connMu.Unlock()
				c.logger.Warn("发送 Binance ping 失败", zap.Error(err))
				continue
			}
			c.connMu.Unlock()
		}
	}
}

func (c *Client) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			count := atomic.LoadInt64(&c.updateCount)
			qps := float64(count - lastCount)
			lastCount = count

			ageMs := timeutil.AgeMs(atomic.LoadInt64(&c.lastMsgTime))

			c.metricsMu.Lock()
			c.metrics.UpdatesPerSec = qps
			c.metrics.LastMessageAgeMs = ageMs
			c.metricsMu.Unlock()
		}
	}
}

// reconnect 断线重连
// 重连前后到达顺序无法保证，全部订单簿丢弃后从 BUFFERING 重建。
func (c *Client) reconnect(ctx context.Context) {
	c.closeConn()
	c.dropBooks()

	delay := c.backoff.Next()
	c.logger.Info("Binance 准备重连", zap.Duration("delay", delay))

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("Binance 重连失败", zap.Error(err))
		return
	}
	if err := c.Subscribe(); err != nil {
		c.logger.Error("Binance 重新订阅失败", zap.Error(err))
	}
}

// dropBooks 移除全部订单簿并清空未确认的订阅请求
func (c *Client) dropBooks() {
	c.subsMu.Lock()
	c.pendingReqs = make(map[int64][]string)
	c.subsMu.Unlock()

	for _, s := range c.registry.Symbols() {
		c.registry.Unsubscribe(s)
		c.emit(model.SyncEvent{Symbol: s, Type: model.SyncEventReset})
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) isStopping() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.stopping
}

// track 登记一个后台 goroutine；Close 之后返回 false
func (c *Client) track() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.stopping {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Client) goTracked(fn func()) {
	if !c.track() {
		return
	}
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Close 关闭客户端
// 等待读取循环与重建任务退出后关闭注册表与输出通道。
func (c *Client) Close() error {
	c.lifeMu.Lock()
	if c.stopping {
		c.lifeMu.Unlock()
		return nil
	}
	c.stopping = true
	c.lifeMu.Unlock()

	atomic.StoreInt32(&c.closed, 1)
	c.cancel()
	c.closeConn()
	c.wg.Wait()
	c.registry.Close()

	close(c.eventCh)
	close(c.syncCh)
	c.logger.Info("Binance 客户端已关闭")
	return nil
}

// Dialect 市场方言
func (c *Client) Dialect() model.Dialect {
	return c.dialect
}

// Registry 获取订单簿注册表（只读查询使用）
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// GetBook 获取已同步订单簿最多 limit 档的视图
func (c *Client) GetBook(symbol string, limit int) (*model.BookView, error) {
	return c.registry.GetBook(strings.ToUpper(symbol), limit)
}

// EventCh 获取非深度消息通道
func (c *Client) EventCh() <-chan model.Message {
	return c.eventCh
}

// SyncCh 获取同步生命周期事件通道
func (c *Client) SyncCh() <-chan model.SyncEvent {
	return c.syncCh
}

// Metrics 获取连接指标
func (c *Client) Metrics() ConnectionMetrics {
	c.metricsMu.RLock()
	m := c.metrics
	c.metricsMu.RUnlock()
	m.Books = len(c.registry.Symbols())
	return m
}

func (c *Client) incrementReconnectCount() {
	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()
}

func (c *Client) incrementParseErrorCount() {
	c.metricsMu.Lock()
	c.metrics.ParseErrorCount++
	c.metricsMu.Unlock()
}

func (c *Client) readTimeoutMs() int {
	if c.cfg.ReadTimeoutMs > 0 {
		return c.cfg.ReadTimeoutMs
	}
	// 未配置时使用 30s
	return 30000
}

// maybeLogParseError 采样记录解析错误原始消息，避免刷盘
// 采样策略：每 100 次错误记录 1 条，且同一类日志至少间隔 1 分钟。
func (c *Client) maybeLogParseError(err error, data []byte) {
	count := atomic.AddUint64(&c.parseErrSampleCount, 1)
	if count%100 != 1 {
		return
	}

	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&c.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&c.lastParseErrLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	c.logger.Warn("解析 Binance 消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
