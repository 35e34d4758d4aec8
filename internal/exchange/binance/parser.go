// Package binance 实现 Binance 交易所消息解析。
// 按事件类型 e 分发到封闭的消息变体集合，未知类型返回 nil。
package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"depth-sync/internal/core/model"
	"depth-sync/internal/core/reconcile"
	"depth-sync/internal/util/fastparse"
	"depth-sync/internal/util/timeutil"
)

var (
	// ErrMalformedLevels 增量的 U/u 完整但档位无法解析
	// 该增量既不能应用也不能跳过，调用方应按断档处理
	ErrMalformedLevels = fmt.Errorf("%w: 档位无法解析", reconcile.ErrMalformedMessage)
	// ErrMissingIDs 增量缺少 U 或 u，无法判断连续性，直接丢弃
	ErrMissingIDs = fmt.Errorf("%w: 缺少 U/u", reconcile.ErrMalformedMessage)
)

// Parser Binance 消息解析器
type Parser struct{}

// NewParser 创建 Binance 消息解析器
func NewParser() *Parser {
	return &Parser{}
}

// Parse 解析一条 WebSocket 消息
// 参数 data: 原始消息字节
// 返回: 解析后的消息；非关心的事件类型返回 (nil, nil)。
// 档位非法时同时返回 *model.DepthUpdate（携带 U/u）与 ErrMalformedLevels。
func (p *Parser) Parse(data []byte) (model.Message, error) {
	arrivedAt := timeutil.NowNano()

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("解析 Binance 消息失败: %w", err)
	}

	// 组合流：{"stream":..,"data":{..}}
	if env.Stream != "" && len(env.Data) > 0 {
		return p.Parse(env.Data)
	}

	if env.EventType == "" {
		if env.ID != nil {
			ack := &model.SubscriptionAck{ID: *env.ID}
			if env.Error != nil {
				ack.Err = fmt.Sprintf("code=%d msg=%s", env.Error.Code, env.Error.Msg)
			}
			return ack, nil
		}
		return nil, nil
	}

	switch env.EventType {
	case "depthUpdate":
		return parseDepthUpdate(data, arrivedAt)
	case "trade":
		return parseTrade(data)
	case "kline":
		return parseKline(data)
	case "24hrTicker":
		return parseTicker(data)
	case "outboundAccountInfo", "outboundAccountPosition":
		return parseAccount(data)
	case "executionReport":
		return parseExecutionReport(data)
	default:
		return nil, nil
	}
}

func parseDepthUpdate(data []byte, arrivedAt int64) (model.Message, error) {
	var msg depthUpdateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: depthUpdate: %v", reconcile.ErrMalformedMessage, err)
	}
	if msg.FirstID == nil || msg.FinalID == nil {
		return nil, fmt.Errorf("%w: symbol=%s", ErrMissingIDs, msg.Symbol)
	}

	u := &model.DepthUpdate{
		Symbol:          strings.ToUpper(msg.Symbol),
		EventTimeMs:     msg.EventTimeMs,
		TransactTimeMs:  msg.TransactTimeMs,
		FirstID:         *msg.FirstID,
		FinalID:         *msg.FinalID,
		ArrivedAtUnixNs: arrivedAt,
	}
	if msg.PrevFinalID != nil {
		u.PrevFinalID = *msg.PrevFinalID
		u.HasPrevFinalID = true
	}

	var err error
	if u.Bids, err = parseLevels(msg.Bids); err != nil {
		return u, fmt.Errorf("%w: symbol=%s bids: %v", ErrMalformedLevels, u.Symbol, err)
	}
	if u.Asks, err = parseLevels(msg.Asks); err != nil {
		return u, fmt.Errorf("%w: symbol=%s asks: %v", ErrMalformedLevels, u.Symbol, err)
	}
	return u, nil
}

// parseLevels 解析 [[price, qty], ...]，price/qty 可为字符串或数字，任一档位非法则整体失败
// 字段缺失或为 null 时返回空档位
func parseLevels(raw json.RawMessage) ([]model.Level, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []model.Level{}, nil
	}
	// json.Number 保留数字字面量原文，避免经过 float64 损失精度
	var pairs [][]json.Number
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("档位结构: %w", err)
	}
	levels := make([]model.Level, 0, len(pairs))
	for i, pair := range pairs {
		fields := make([]string, len(pair))
		for j, n := range pair {
			fields[j] = n.String()
		}
		price, qty, err := fastparse.ParsePair(fields)
		if err != nil {
			return nil, fmt.Errorf("档位 %d: %w", i, err)
		}
		levels = append(levels, model.Level{Price: price, Qty: qty})
	}
	return levels, nil
}

func parseTrade(data []byte) (model.Message, error) {
	var msg tradeMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 trade 失败: %w", err)
	}
	return &model.Trade{
		Symbol:      strings.ToUpper(msg.Symbol),
		EventTimeMs: msg.EventTimeMs,
		TradeID:     msg.TradeID,
		Price:       fastparse.MustParseDecimal(msg.Price),
		Qty:         fastparse.MustParseDecimal(msg.Qty),
		TradeTimeMs: msg.TradeTimeMs,
		BuyerMaker:  msg.BuyerMaker,
	}, nil
}

func parseKline(data []byte) (model.Message, error) {
	var msg klineMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 kline 失败: %w", err)
	}
	k := msg.Kline
	return &model.Kline{
		Symbol:      strings.ToUpper(msg.Symbol),
		EventTimeMs: msg.EventTimeMs,
		Interval:    k.Interval,
		OpenTimeMs:  k.OpenTimeMs,
		CloseTimeMs: k.CloseTimeMs,
		Open:        fastparse.MustParseDecimal(k.Open),
		High:        fastparse.MustParseDecimal(k.High),
		Low:         fastparse.MustParseDecimal(k.Low),
		Close:       fastparse.MustParseDecimal(k.Close),
		Volume:      fastparse.MustParseDecimal(k.Volume),
		Closed:      k.Closed,
	}, nil
}

func parseTicker(data []byte) (model.Message, error) {
	var msg tickerMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 24hrTicker 失败: %w", err)
	}
	return &model.Ticker{
		Symbol:        strings.ToUpper(msg.Symbol),
		EventTimeMs:   msg.EventTimeMs,
		CloseTimeMs:   msg.CloseTimeMs,
		Last:          fastparse.MustParseDecimal(msg.Last),
		Open:          fastparse.MustParseDecimal(msg.Open),
		High:          fastparse.MustParseDecimal(msg.High),
		Low:           fastparse.MustParseDecimal(msg.Low),
		Bid:           fastparse.MustParseDecimal(msg.Bid),
		BidQty:        fastparse.MustParseDecimal(msg.BidQty),
		Ask:           fastparse.MustParseDecimal(msg.Ask),
		AskQty:        fastparse.MustParseDecimal(msg.AskQty),
		VWAP:          fastparse.MustParseDecimal(msg.VWAP),
		PrevClose:     fastparse.MustParseDecimal(msg.PrevClose),
		Change:        fastparse.MustParseDecimal(msg.Change),
		ChangePercent: fastparse.MustParseDecimal(msg.ChangePercent),
		BaseVolume:    fastparse.MustParseDecimal(msg.BaseVolume),
		QuoteVolume:   fastparse.MustParseDecimal(msg.QuoteVolume),
	}, nil
}

func parseAccount(data []byte) (model.Message, error) {
	var msg accountMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析账户推送失败: %w", err)
	}
	out := &model.BalanceUpdate{
		EventTimeMs: msg.EventTimeMs,
		Balances:    make([]model.Balance, 0, len(msg.Balances)),
	}
	for _, b := range msg.Balances {
		out.Balances = append(out.Balances, model.Balance{
			Asset:  b.Asset,
			Free:   fastparse.MustParseDecimal(b.Free),
			Locked: fastparse.MustParseDecimal(b.Locked),
		})
	}
	return out, nil
}

func parseExecutionReport(data []byte) (model.Message, error) {
	var msg executionReportMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 executionReport 失败: %w", err)
	}
	clientID := msg.ClientOrderID
	// 撤单回报中 c 为撤单请求 id，原始订单 id 在 C
	if msg.OrigClientID != "" {
		clientID = msg.OrigClientID
	}
	return &model.ExecutionReport{
		Symbol:          strings.ToUpper(msg.Symbol),
		EventTimeMs:     msg.EventTimeMs,
		ClientOrderID:   clientID,
		OrderID:         msg.OrderID,
		Side:            strings.ToLower(msg.Side),
		OrderType:       strings.ToLower(msg.OrderType),
		TimeInForce:     msg.TimeInForce,
		Status:          parseOrderStatus(msg.Status),
		Price:           fastparse.MustParseDecimal(msg.Price),
		Qty:             fastparse.MustParseDecimal(msg.Qty),
		FilledQty:       fastparse.MustParseDecimal(msg.FilledQty),
		LastFilledPrice: fastparse.MustParseDecimal(msg.LastFilledPrice),
		TransactTimeMs:  msg.TransactTimeMs,
	}, nil
}

// parseOrderStatus 统一订单状态
func parseOrderStatus(s string) string {
	switch s {
	case "NEW", "PARTIALLY_FILLED":
		return "open"
	case "FILLED":
		return "closed"
	case "CANCELED", "PENDING_CANCEL":
		return "canceled"
	case "REJECTED":
		return "rejected"
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return "expired"
	default:
		return strings.ToLower(s)
	}
}
