// Package config 负责加载和验证 YAML 配置文件。
// 提供交易对、WebSocket/REST 端点、订单簿对账参数与输出设置，
// 部分端点与日志级别可通过环境变量（或 .env 文件）覆盖。
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"depth-sync/internal/core/model"
)

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Symbols 需要维护本地订单簿的交易对
	Symbols []SymbolConfig `yaml:"symbols"`
	// WS WebSocket 连接配置
	WS WSConfig `yaml:"ws"`
	// REST 深度快照接口配置
	REST RESTConfig `yaml:"rest"`
	// Metadata 交易对元数据配置
	Metadata MetadataConfig `yaml:"metadata"`
	// Book 订单簿对账参数
	Book BookConfig `yaml:"book"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// SymbolConfig 交易对配置
type SymbolConfig struct {
	// Symbol 交易对，如 BTCUSDT（大小写均可）
	Symbol string `yaml:"symbol"`
	// Market 市场: spot 或 future
	Market string `yaml:"market"`
}

// WSConfig WebSocket 连接配置
type WSConfig struct {
	// Spot 现货
	Spot MarketWSConfig `yaml:"spot"`
	// Future U 本位合约
	Future MarketWSConfig `yaml:"future"`
}

// MarketWSConfig 单个市场的 WebSocket 配置
type MarketWSConfig struct {
	// URL WebSocket 连接地址
	URL string `yaml:"url"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// ReadTimeoutMs 读取超时（毫秒）
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
	// UpdateSpeedMs 深度推送频率: 100 或 1000
	UpdateSpeedMs int `yaml:"update_speed_ms"`
}

// RESTConfig 深度快照接口配置
type RESTConfig struct {
	// Spot 现货 /api/v3/depth
	Spot MarketRESTConfig `yaml:"spot"`
	// Future 合约 /fapi/v1/depth
	Future MarketRESTConfig `yaml:"future"`
	// TimeoutMs HTTP 请求超时时间（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
	// SnapshotLimit 快照档位数
	SnapshotLimit int `yaml:"snapshot_limit"`
}

// MarketRESTConfig 单个市场的快照地址
type MarketRESTConfig struct {
	// URL 深度快照接口完整地址
	URL string `yaml:"url"`
}

// MetadataConfig 交易对元数据（exchangeInfo）配置
type MetadataConfig struct {
	// Enabled 启动时是否校验交易对存在且处于 TRADING 状态
	Enabled bool `yaml:"enabled"`
	// Spot 现货 /api/v3/exchangeInfo
	Spot string `yaml:"spot"`
	// Future 合约 /fapi/v1/exchangeInfo
	Future string `yaml:"future"`
	// TimeoutMs HTTP 请求超时时间（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
}

// BookConfig 订单簿对账参数
type BookConfig struct {
	// MaxPending 同步前待回放缓冲上限，0 表示不限制
	MaxPending int `yaml:"max_pending"`
	// MaxOverlap 现货实时阶段允许的最大重叠 id 数，0 表示不限制
	MaxOverlap int64 `yaml:"max_overlap"`
	// DepthLimit 输出与查询时的默认档位数
	DepthLimit int `yaml:"depth_limit"`
	// ResyncBaseMs 断档或快照失败后重建的初始延迟（毫秒）
	ResyncBaseMs int `yaml:"resync_base_ms"`
	// ResyncMaxMs 重建延迟上限（毫秒）
	ResyncMaxMs int `yaml:"resync_max_ms"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// BooksEnabled 是否周期性输出订单簿快照
	BooksEnabled bool `yaml:"books_enabled"`
	// EventsEnabled 是否输出同步生命周期事件
	EventsEnabled bool `yaml:"events_enabled"`
	// MetricsEnabled 是否输出指标文件
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// SnapshotIntervalMs 订单簿快照输出间隔（毫秒）
	SnapshotIntervalMs int `yaml:"snapshot_interval_ms"`
	// MetricsIntervalMs 指标输出间隔（毫秒）
	MetricsIntervalMs int `yaml:"metrics_interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// EnvOverrides 环境变量覆盖项，为空的字段不覆盖
type EnvOverrides struct {
	LogLevel      string `env:"LOG_LEVEL"`
	SpotWSURL     string `env:"SPOT_WS_URL"`
	FutureWSURL   string `env:"FUTURE_WS_URL"`
	SpotRESTURL   string `env:"SPOT_REST_URL"`
	FutureRESTURL string `env:"FUTURE_REST_URL"`
}

// envPrefix 环境变量前缀
const envPrefix = "DEPTHSYNC_"

// Load 从文件加载配置，叠加环境变量后验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// .env 文件不存在时忽略
	_ = godotenv.Load()

	var overrides EnvOverrides
	if err := env.ParseWithOptions(&overrides, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}
	cfg.ApplyOverrides(overrides)

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// ApplyOverrides 用非空的环境变量覆盖配置
func (c *Config) ApplyOverrides(o EnvOverrides) {
	if o.LogLevel != "" {
		c.App.LogLevel = o.LogLevel
	}
	if o.SpotWSURL != "" {
		c.WS.Spot.URL = o.SpotWSURL
	}
	if o.FutureWSURL != "" {
		c.WS.Future.URL = o.FutureWSURL
	}
	if o.SpotRESTURL != "" {
		c.REST.Spot.URL = o.SpotRESTURL
	}
	if o.FutureRESTURL != "" {
		c.REST.Future.URL = o.FutureRESTURL
	}
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "depth-sync"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	for i := range c.Symbols {
		c.Symbols[i].Symbol = strings.ToUpper(strings.TrimSpace(c.Symbols[i].Symbol))
		if c.Symbols[i].Market == "" {
			c.Symbols[i].Market = string(model.DialectSpot)
		}
	}

	// WebSocket 默认配置
	if c.WS.Spot.URL == "" {
		c.WS.Spot.URL = "wss://stream.binance.com:9443/ws"
	}
	if c.WS.Future.URL == "" {
		c.WS.Future.URL = "wss://fstream.binance.com/ws"
	}
	for _, ws := range []*MarketWSConfig{&c.WS.Spot, &c.WS.Future} {
		if ws.ReadTimeoutMs == 0 {
			ws.ReadTimeoutMs = 30000 // 30 秒
		}
		if ws.PingIntervalMs == 0 {
			ws.PingIntervalMs = 15000 // 15 秒
		}
		if ws.UpdateSpeedMs == 0 {
			ws.UpdateSpeedMs = 100
		}
	}

	// 快照接口默认配置
	if c.REST.Spot.URL == "" {
		c.REST.Spot.URL = "https://api.binance.com/api/v3/depth"
	}
	if c.REST.Future.URL == "" {
		c.REST.Future.URL = "https://fapi.binance.com/fapi/v1/depth"
	}
	if c.REST.TimeoutMs == 0 {
		c.REST.TimeoutMs = 10000 // 10 秒
	}
	if c.REST.SnapshotLimit == 0 {
		c.REST.SnapshotLimit = 1000
	}

	// 元数据默认配置
	if c.Metadata.Spot == "" {
		c.Metadata.Spot = "https://api.binance.com/api/v3/exchangeInfo"
	}
	if c.Metadata.Future == "" {
		c.Metadata.Future = "https://fapi.binance.com/fapi/v1/exchangeInfo"
	}
	if c.Metadata.TimeoutMs == 0 {
		c.Metadata.TimeoutMs = 10000 // 10 秒
	}

	// 对账默认值
	if c.Book.MaxPending == 0 {
		c.Book.MaxPending = 10000
	}
	if c.Book.MaxOverlap == 0 {
		c.Book.MaxOverlap = 10000
	}
	if c.Book.DepthLimit == 0 {
		c.Book.DepthLimit = 20
	}
	if c.Book.ResyncBaseMs == 0 {
		c.Book.ResyncBaseMs = 500
	}
	if c.Book.ResyncMaxMs == 0 {
		c.Book.ResyncMaxMs = 30000 // 30 秒
	}

	// 输出默认值
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.SnapshotIntervalMs == 0 {
		c.Output.SnapshotIntervalMs = 5000 // 5 秒
	}
	if c.Output.MetricsIntervalMs == 0 {
		c.Output.MetricsIntervalMs = 10000 // 10 秒
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
}

// Validate 验证配置合法性
// 返回: 若配置无效则返回包含全部问题的错误
func (c *Config) Validate() error {
	var errs []string

	// 验证交易对配置
	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: 至少需要配置一个交易对")
	}
	seen := make(map[string]bool)
	for i, sym := range c.Symbols {
		if sym.Symbol == "" {
			errs = append(errs, fmt.Sprintf("symbols[%d].symbol: 交易对不能为空", i))
			continue
		}
		dialect, err := model.ParseDialect(sym.Market)
		if err != nil {
			errs = append(errs, fmt.Sprintf("symbols[%d].market: %v", i, err))
			continue
		}
		key := string(dialect) + ":" + strings.ToUpper(sym.Symbol)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("symbols[%d]: 重复的交易对 %s", i, key))
		}
		seen[key] = true
	}

	// 验证 WebSocket 配置
	if c.WS.Spot.URL == "" {
		errs = append(errs, "ws.spot.url: 现货 WebSocket 地址不能为空")
	}
	if c.WS.Future.URL == "" {
		errs = append(errs, "ws.future.url: 合约 WebSocket 地址不能为空")
	}
	for name, speed := range map[string]int{"ws.spot": c.WS.Spot.UpdateSpeedMs, "ws.future": c.WS.Future.UpdateSpeedMs} {
		if speed != 100 && speed != 1000 {
			errs = append(errs, fmt.Sprintf("%s.update_speed_ms: 推送频率只能是 100 或 1000，当前值: %d", name, speed))
		}
	}

	// 验证快照配置
	if c.REST.Spot.URL == "" {
		errs = append(errs, "rest.spot.url: 现货快照地址不能为空")
	}
	if c.REST.Future.URL == "" {
		errs = append(errs, "rest.future.url: 合约快照地址不能为空")
	}
	if c.REST.TimeoutMs < 0 {
		errs = append(errs, "rest.timeout_ms: 超时时间不能为负数")
	}
	if c.REST.SnapshotLimit <= 0 || c.REST.SnapshotLimit > 5000 {
		errs = append(errs, fmt.Sprintf("rest.snapshot_limit: 快照档位数必须在 1-5000 之间，当前值: %d", c.REST.SnapshotLimit))
	}

	// 验证元数据配置
	if c.Metadata.Enabled && (c.Metadata.Spot == "" || c.Metadata.Future == "") {
		errs = append(errs, "metadata: 启用校验时 spot/future 地址不能为空")
	}
	if c.Metadata.TimeoutMs < 0 {
		errs = append(errs, "metadata.timeout_ms: 超时时间不能为负数")
	}

	// 验证对账参数
	if c.Book.MaxPending < 0 {
		errs = append(errs, "book.max_pending: 缓冲上限不能为负数")
	}
	if c.Book.MaxOverlap < 0 {
		errs = append(errs, "book.max_overlap: 重叠上限不能为负数")
	}
	if c.Book.DepthLimit < 0 {
		errs = append(errs, "book.depth_limit: 档位数不能为负数")
	}
	if c.Book.ResyncBaseMs <= 0 {
		errs = append(errs, "book.resync_base_ms: 重建延迟必须为正数")
	}
	if c.Book.ResyncMaxMs < c.Book.ResyncBaseMs {
		errs = append(errs, "book.resync_max_ms: 重建延迟上限不能小于初始延迟")
	}

	// 验证输出参数
	if c.Output.SnapshotIntervalMs <= 0 {
		errs = append(errs, "output.snapshot_interval_ms: 输出间隔必须为正数")
	}
	if c.Output.MetricsIntervalMs <= 0 {
		errs = append(errs, "output.metrics_interval_ms: 输出间隔必须为正数")
	}
	if c.Output.BufferSize <= 0 {
		errs = append(errs, "output.buffer_size: 缓冲区大小必须为正数")
	}

	// 验证日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// SymbolsByDialect 按市场分组交易对（大写，保持配置顺序）
// 需在 Validate 通过后调用
func (c *Config) SymbolsByDialect() map[model.Dialect][]string {
	out := make(map[model.Dialect][]string)
	for _, sym := range c.Symbols {
		dialect, err := model.ParseDialect(sym.Market)
		if err != nil {
			continue
		}
		out[dialect] = append(out[dialect], strings.ToUpper(sym.Symbol))
	}
	return out
}

// WSFor 返回指定市场的 WebSocket 配置
func (c *Config) WSFor(dialect model.Dialect) *MarketWSConfig {
	if dialect == model.DialectFuture {
		return &c.WS.Future
	}
	return &c.WS.Spot
}

// RESTFor 返回指定市场的快照地址
func (c *Config) RESTFor(dialect model.Dialect) string {
	if dialect == model.DialectFuture {
		return c.REST.Future.URL
	}
	return c.REST.Spot.URL
}

// MetadataFor 返回指定市场的 exchangeInfo 地址
func (c *Config) MetadataFor(dialect model.Dialect) string {
	if dialect == model.DialectFuture {
		return c.Metadata.Future
	}
	return c.Metadata.Spot
}
