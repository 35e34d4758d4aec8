package model

import (
	"github.com/shopspring/decimal"
)

// MessageKind 消息种类
// 封闭集合，新增种类需要同步修改分发处的 switch
type MessageKind int

const (
	// KindDepthUpdate 增量深度（depthUpdate）
	KindDepthUpdate MessageKind = iota + 1
	// KindTrade 逐笔成交（trade）
	KindTrade
	// KindKline K 线（kline）
	KindKline
	// KindTicker 24 小时行情（24hrTicker）
	KindTicker
	// KindBalanceUpdate 账户余额（outboundAccountInfo）
	KindBalanceUpdate
	// KindExecutionReport 订单回报（executionReport）
	KindExecutionReport
	// KindSubscriptionAck 订阅确认（{"result":null,"id":N}）
	KindSubscriptionAck
)

// String 返回消息种类名称，用于日志
func (k MessageKind) String() string {
	switch k {
	case KindDepthUpdate:
		return "depthUpdate"
	case KindTrade:
		return "trade"
	case KindKline:
		return "kline"
	case KindTicker:
		return "24hrTicker"
	case KindBalanceUpdate:
		return "outboundAccountInfo"
	case KindExecutionReport:
		return "executionReport"
	case KindSubscriptionAck:
		return "subscriptionAck"
	default:
		return "unknown"
	}
}

// Message 解析后的 WebSocket 消息
type Message interface {
	Kind() MessageKind
}

// DepthUpdate 增量深度事件
// U/u 为事件覆盖的更新 id 区间，合约市场额外携带 pu
type DepthUpdate struct {
	// Symbol 交易对（大写）
	Symbol string
	// EventTimeMs 事件时间 E（毫秒）
	EventTimeMs int64
	// TransactTimeMs 撮合时间 T（毫秒），仅合约
	TransactTimeMs int64
	// FirstID 首个更新 id（U）
	FirstID int64
	// FinalID 最后更新 id（u）
	FinalID int64
	// PrevFinalID 上一事件的最后更新 id（pu），仅合约
	PrevFinalID int64
	// HasPrevFinalID 消息中是否存在 pu 字段
	HasPrevFinalID bool
	// Bids 买盘变动（绝对数量）
	Bids []Level
	// Asks 卖盘变动（绝对数量）
	Asks []Level
	// ArrivedAtUnixNs 本机收到消息的时间戳（纳秒）
	ArrivedAtUnixNs int64
}

// Kind 实现 Message
func (*DepthUpdate) Kind() MessageKind { return KindDepthUpdate }

// Trade 逐笔成交
type Trade struct {
	Symbol      string
	EventTimeMs int64
	TradeID     int64
	Price       decimal.Decimal
	Qty         decimal.Decimal
	TradeTimeMs int64
	// BuyerMaker 买方是否为 maker
	BuyerMaker bool
}

// Kind 实现 Message
func (*Trade) Kind() MessageKind { return KindTrade }

// Kline K 线
type Kline struct {
	Symbol      string
	EventTimeMs int64
	Interval    string
	OpenTimeMs  int64
	CloseTimeMs int64
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	// Closed 该 K 线是否已收盘
	Closed bool
}

// Kind 实现 Message
func (*Kline) Kind() MessageKind { return KindKline }

// Ticker 24 小时滚动行情
type Ticker struct {
	Symbol        string
	EventTimeMs   int64
	CloseTimeMs   int64
	Last          decimal.Decimal
	Open          decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	Bid           decimal.Decimal
	BidQty        decimal.Decimal
	Ask           decimal.Decimal
	AskQty        decimal.Decimal
	VWAP          decimal.Decimal
	PrevClose     decimal.Decimal
	Change        decimal.Decimal
	ChangePercent decimal.Decimal
	BaseVolume    decimal.Decimal
	QuoteVolume   decimal.Decimal
}

// Kind 实现 Message
func (*Ticker) Kind() MessageKind { return KindTicker }

// Balance 单个资产余额
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// BalanceUpdate 账户余额推送
type BalanceUpdate struct {
	EventTimeMs int64
	Balances    []Balance
}

// Kind 实现 Message
func (*BalanceUpdate) Kind() MessageKind { return KindBalanceUpdate }

// ExecutionReport 订单执行回报
type ExecutionReport struct {
	Symbol          string
	EventTimeMs     int64
	ClientOrderID   string
	OrderID         int64
	Side            string
	OrderType       string
	TimeInForce     string
	Status          string
	Price           decimal.Decimal
	Qty             decimal.Decimal
	FilledQty       decimal.Decimal
	LastFilledPrice decimal.Decimal
	TransactTimeMs  int64
}

// Kind 实现 Message
func (*ExecutionReport) Kind() MessageKind { return KindExecutionReport }

// SubscriptionAck 订阅请求的确认
type SubscriptionAck struct {
	// ID 请求 id
	ID int64
	// Err 服务端返回的错误信息（成功为空）
	Err string
}

// Kind 实现 Message
func (*SubscriptionAck) Kind() MessageKind { return KindSubscriptionAck }
