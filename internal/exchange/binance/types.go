// Package binance 定义 Binance 交易所消息类型。
//
// 注意: encoding/json 对字段名大小写不敏感，未精确匹配的 key 会落到
// 只差大小写的字段上（如 "T" 覆盖 "t"）。Binance 大量使用大小写成对的短 key，
// 因此每个结构体都同时声明成对的两个字段，即使其中一个不被使用。
package binance

import "encoding/json"

// SubscribeRequest Binance WebSocket 订阅请求
type SubscribeRequest struct {
	// Method 订阅方法: SUBSCRIBE / UNSUBSCRIBE
	Method string `json:"method"`
	// Params 订阅参数列表，如 "btcusdt@depth@100ms"
	Params []string `json:"params"`
	// ID 请求 ID
	ID int64 `json:"id"`
}

// envelope 所有推送的公共字段，用于按事件类型分发
// 订阅响应形如 {"result":null,"id":1} 或 {"error":{...},"id":1}；
// 组合流形如 {"stream":"btcusdt@depth","data":{...}}。
type envelope struct {
	EventType   string          `json:"e"`
	EventTimeMs int64           `json:"E"`
	ID          *int64          `json:"id"`
	Result      json.RawMessage `json:"result"`
	Error       *wsError        `json:"error"`
	Stream      string          `json:"stream"`
	Data        json.RawMessage `json:"data"`
}

// wsError 订阅错误
type wsError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// depthUpdateMsg 增量深度推送（depthUpdate）
// 现货: e E s U u b a
// 合约: e E T s U u pu b a
type depthUpdateMsg struct {
	EventType      string `json:"e"`
	EventTimeMs    int64  `json:"E"`
	TransactTimeMs int64  `json:"T"`
	Symbol         string `json:"s"`
	FirstID        *int64 `json:"U"`
	FinalID        *int64 `json:"u"`
	PrevFinalID    *int64 `json:"pu"`
	// Bids/Asks 延迟到 U/u 读取之后再解析，档位可能是字符串或数字
	Bids json.RawMessage `json:"b"`
	Asks json.RawMessage `json:"a"`
}

// tradeMsg 逐笔成交（trade）
type tradeMsg struct {
	EventType   string `json:"e"`
	EventTimeMs int64  `json:"E"`
	Symbol      string `json:"s"`
	TradeID     int64  `json:"t"`
	Price       string `json:"p"`
	Qty         string `json:"q"`
	TradeTimeMs int64  `json:"T"`
	BuyerMaker  bool   `json:"m"`
	Ignore      bool   `json:"M"`
}

// klineMsg K 线（kline）
type klineMsg struct {
	EventType   string       `json:"e"`
	EventTimeMs int64        `json:"E"`
	Symbol      string       `json:"s"`
	Kline       klinePayload `json:"k"`
}

type klinePayload struct {
	OpenTimeMs   int64  `json:"t"`
	CloseTimeMs  int64  `json:"T"`
	Symbol       string `json:"s"`
	Interval     string `json:"i"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"L"`
	Open         string `json:"o"`
	Close        string `json:"c"`
	High         string `json:"h"`
	Low          string `json:"l"`
	Volume       string `json:"v"`
	TakerVolume  string `json:"V"`
	Trades       int64  `json:"n"`
	Closed       bool   `json:"x"`
	QuoteVolume  string `json:"q"`
	TakerQuote   string `json:"Q"`
}

// tickerMsg 24 小时滚动行情（24hrTicker）
type tickerMsg struct {
	EventType     string `json:"e"`
	EventTimeMs   int64  `json:"E"`
	Symbol        string `json:"s"`
	Change        string `json:"p"`
	ChangePercent string `json:"P"`
	VWAP          string `json:"w"`
	PrevClose     string `json:"x"`
	Last          string `json:"c"`
	CloseTimeMs   int64  `json:"C"`
	LastQty       string `json:"Q"`
	QuoteVolume   string `json:"q"`
	Bid           string `json:"b"`
	BidQty        string `json:"B"`
	Ask           string `json:"a"`
	AskQty        string `json:"A"`
	Open          string `json:"o"`
	OpenTimeMs    int64  `json:"O"`
	High          string `json:"h"`
	Low           string `json:"l"`
	LastTradeID   int64  `json:"L"`
	BaseVolume    string `json:"v"`
	FirstTradeID  int64  `json:"F"`
	Trades        int64  `json:"n"`
}

// accountMsg 账户推送（outboundAccountInfo / outboundAccountPosition）
type accountMsg struct {
	EventType    string       `json:"e"`
	EventTimeMs  int64        `json:"E"`
	UpdateTimeMs int64        `json:"u"`
	Balances     []balanceMsg `json:"B"`
	// 旧版 outboundAccountInfo 中与上面成对的字段（b/t 为费率，T 为布尔），不解析
	BuyerCommission json.RawMessage `json:"b"`
	TakerCommission json.RawMessage `json:"t"`
	CanTrade        json.RawMessage `json:"T"`
}

type balanceMsg struct {
	Asset  string `json:"a"`
	Free   string `json:"f"`
	Locked string `json:"l"`
}

// executionReportMsg 订单回报（executionReport）
type executionReportMsg struct {
	EventType        string `json:"e"`
	EventTimeMs      int64  `json:"E"`
	Symbol           string `json:"s"`
	Side             string `json:"S"`
	ClientOrderID    string `json:"c"`
	OrigClientID     string `json:"C"`
	OrderType        string `json:"o"`
	OrderTimeMs      int64  `json:"O"`
	TimeInForce      string `json:"f"`
	IcebergQty       string `json:"F"`
	Qty              string `json:"q"`
	QuoteQty         string `json:"Q"`
	Price            string `json:"p"`
	StopPrice        string `json:"P"`
	ExecutionType    string `json:"x"`
	Status           string `json:"X"`
	OrderID          int64  `json:"i"`
	Ignore           int64  `json:"I"`
	LastFilledQty    string `json:"l"`
	LastFilledPrice  string `json:"L"`
	Commission       string `json:"n"`
	CommissionAsset  string `json:"N"`
	TransactTimeMs   int64  `json:"T"`
	TradeID          int64  `json:"t"`
	Maker            bool   `json:"m"`
	IgnoreM          bool   `json:"M"`
	FilledQty        string `json:"z"`
	FilledQuoteQty   string `json:"Z"`
	RejectReason     string `json:"r"`
	Working          bool   `json:"w"`
	WorkingTimeMs    int64  `json:"W"`
	PreventedMatchID int64  `json:"v"`
	SelfTradeMode    string `json:"V"`
}

// snapshotResp REST 深度快照响应
// 现货: {"lastUpdateId":..,"bids":[..],"asks":[..]}
// 合约额外携带 E（消息时间）与 T（撮合时间）
type snapshotResp struct {
	LastUpdateID   *int64          `json:"lastUpdateId"`
	EventTimeMs    int64           `json:"E"`
	TransactTimeMs int64           `json:"T"`
	Bids           json.RawMessage `json:"bids"`
	Asks           json.RawMessage `json:"asks"`
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64 `json:"reconnect_count"`
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64 `json:"parse_error_count"`
	// UpdatesPerSec 每秒深度更新次数
	UpdatesPerSec float64 `json:"updates_per_sec"`
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64 `json:"last_message_age_ms"`
	// Books 当前注册的订单簿数量
	Books int `json:"books"`
}
