// Package binance Binance 解析器测试
package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"depth-sync/internal/core/model"
	"depth-sync/internal/core/reconcile"
)

// TestParser_DepthRoundTrip 测试增量解析往返一致性
// 属性: 解析后的 DepthUpdate 保留原始 U/u/pu、价格与数量的精确值
func TestParser_DepthRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	parser := NewParser()

	properties.Property("解析保留 id、价格和数量", prop.ForAll(
		func(first, span, pxTicks, qtyTicks int64, ts int64) bool {
			final := first + span
			prev := first - 1
			px := decimal.New(pxTicks, -2)
			qty := decimal.New(qtyTicks, -8)

			msg := depthUpdateMsg{
				EventType:   "depthUpdate",
				EventTimeMs: ts,
				Symbol:      "BTCUSDT",
				FirstID:     &first,
				FinalID:     &final,
				PrevFinalID: &prev,
				Bids:        mustRawLevels([][]string{{px.StringFixed(2), qty.StringFixed(8)}}),
				Asks:        mustRawLevels([][]string{{px.Add(decimal.NewFromInt(1)).StringFixed(2), "0.00000000"}}),
			}
			data, err := json.Marshal(msg)
			if err != nil {
				return false
			}

			out, err := parser.Parse(data)
			if err != nil {
				return false
			}
			u, ok := out.(*model.DepthUpdate)
			if !ok {
				return false
			}
			return u.FirstID == first &&
				u.FinalID == final &&
				u.HasPrevFinalID && u.PrevFinalID == prev &&
				u.EventTimeMs == ts &&
				u.Bids[0].Price.Equal(px) &&
				u.Bids[0].Qty.Equal(qty) &&
				u.Asks[0].Qty.IsZero()
		},
		gen.Int64Range(1, 1<<40),
		gen.Int64Range(0, 1000),
		gen.Int64Range(1, 10_000_000),
		gen.Int64Range(0, 1_000_000_000),
		gen.Int64Range(1_600_000_000_000, 1_900_000_000_000),
	))

	properties.TestingRun(t)
}

// mustRawLevels 将档位编码为 json.RawMessage
func mustRawLevels(levels [][]string) json.RawMessage {
	b, err := json.Marshal(levels)
	if err != nil {
		panic(err)
	}
	return b
}

func TestParser_SpotDepthHasNoPrevFinal(t *testing.T) {
	data := []byte(`{"e":"depthUpdate","E":1700000000000,"s":"BNBBTC","U":157,"u":160,"b":[["0.0024","10"]],"a":[["0.0026","100"]]}`)
	out, err := NewParser().Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	u := out.(*model.DepthUpdate)
	if u.HasPrevFinalID {
		t.Error("现货增量不应携带 pu")
	}
	if u.FirstID != 157 || u.FinalID != 160 || u.Symbol != "BNBBTC" {
		t.Errorf("u = %+v", u)
	}
	if u.ArrivedAtUnixNs == 0 {
		t.Error("ArrivedAtUnixNs 未设置")
	}
}

func TestParser_FutureDepth(t *testing.T) {
	data := []byte(`{"e":"depthUpdate","E":1700000000123,"T":1700000000120,"s":"BTCUSDT","U":198,"u":205,"pu":199,"b":[["37000.10","1.5"]],"a":[]}`)
	out, err := NewParser().Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	u := out.(*model.DepthUpdate)
	if !u.HasPrevFinalID || u.PrevFinalID != 199 {
		t.Errorf("pu = %d/%v, want 199", u.PrevFinalID, u.HasPrevFinalID)
	}
	if u.TransactTimeMs != 1700000000120 || u.EventTimeMs != 1700000000123 {
		t.Errorf("时间字段错误: E=%d T=%d", u.EventTimeMs, u.TransactTimeMs)
	}
	if len(u.Asks) != 0 {
		t.Errorf("len(Asks) = %d", len(u.Asks))
	}
}

func TestParser_MalformedDepth(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		wantUpdate bool
		wantErr    error
	}{
		{"缺少 U", `{"e":"depthUpdate","E":1,"s":"BTCUSDT","u":160,"b":[],"a":[]}`, false, ErrMissingIDs},
		{"缺少 u", `{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":157,"b":[],"a":[]}`, false, ErrMissingIDs},
		{"价格非法", `{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":157,"u":160,"b":[["abc","1"]],"a":[]}`, true, ErrMalformedLevels},
		{"档位元素不足", `{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":157,"u":160,"b":[],"a":[["1"]]}`, true, ErrMalformedLevels},
		{"档位为 null", `{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":157,"u":160,"b":[[null,"1"]],"a":[]}`, true, ErrMalformedLevels},
		{"档位结构错误", `{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":157,"u":160,"b":{"100":"1"},"a":[]}`, true, ErrMalformedLevels},
		{"档位为布尔值", `{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":157,"u":160,"b":[[true,1]],"a":[]}`, true, ErrMalformedLevels},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewParser().Parse([]byte(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, reconcile.ErrMalformedMessage) {
				t.Fatalf("err 应匹配 ErrMalformedMessage: %v", err)
			}
			u, ok := out.(*model.DepthUpdate)
			if ok != tt.wantUpdate {
				t.Fatalf("返回增量 = %v, want %v", ok, tt.wantUpdate)
			}
			if ok && (u.FirstID != 157 || u.FinalID != 160) {
				t.Errorf("u = %+v", u)
			}
		})
	}
}

// TestParser_NumericLevels 档位为数字字面量时与字符串形式等价，且不经过浮点
func TestParser_NumericLevels(t *testing.T) {
	data := `{"e":"depthUpdate","E":1,"s":"btcusdt","U":101,"u":105,"b":[[100.5,1],["100.4","0.30000000"]],"a":[[100.60000001,0]]}`
	out, err := NewParser().Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	u, ok := out.(*model.DepthUpdate)
	if !ok {
		t.Fatalf("out = %T", out)
	}
	if u.Symbol != "BTCUSDT" || u.FirstID != 101 || u.FinalID != 105 {
		t.Fatalf("u = %+v", u)
	}
	if len(u.Bids) != 2 || len(u.Asks) != 1 {
		t.Fatalf("bids=%d asks=%d", len(u.Bids), len(u.Asks))
	}
	if u.Bids[0].Price.String() != "100.5" || u.Bids[0].Qty.String() != "1" {
		t.Errorf("bid0 = %s/%s", u.Bids[0].Price, u.Bids[0].Qty)
	}
	if u.Bids[1].Qty.String() != "0.3" {
		t.Errorf("bid1 qty = %s", u.Bids[1].Qty)
	}
	if u.Asks[0].Price.String() != "100.60000001" || !u.Asks[0].Qty.IsZero() {
		t.Errorf("ask0 = %s/%s", u.Asks[0].Price, u.Asks[0].Qty)
	}
}

func TestParser_SubscriptionAck(t *testing.T) {
	out, err := NewParser().Parse([]byte(`{"result":null,"id":1574649734450}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ack, ok := out.(*model.SubscriptionAck)
	if !ok || ack.ID != 1574649734450 || ack.Err != "" {
		t.Fatalf("ack = %+v", out)
	}

	out, err = NewParser().Parse([]byte(`{"error":{"code":2,"msg":"Invalid request"},"id":7}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ack = out.(*model.SubscriptionAck)
	if ack.ID != 7 || ack.Err == "" {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestParser_PassThrough(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind model.MessageKind
	}{
		{"trade", `{"e":"trade","E":123456789,"s":"BNBBTC","t":12345,"p":"0.001","q":"100","b":88,"a":50,"T":123456785,"m":true,"M":true}`, model.KindTrade},
		{"kline", `{"e":"kline","E":123456789,"s":"BNBBTC","k":{"t":123400000,"T":123460000,"s":"BNBBTC","i":"1m","f":100,"L":200,"o":"0.0010","c":"0.0020","h":"0.0025","l":"0.0015","v":"1000","n":100,"x":false,"q":"1.0000","V":"500","Q":"0.500","B":"123456"}}`, model.KindKline},
		{"24hrTicker", `{"e":"24hrTicker","E":123456789,"s":"BNBBTC","p":"0.0015","P":"250.00","w":"0.0018","x":"0.0009","c":"0.0025","Q":"10","b":"0.0024","B":"10","a":"0.0026","A":"100","o":"0.0010","h":"0.0025","l":"0.0010","v":"10000","q":"18","O":0,"C":86400000,"F":0,"L":18150,"n":18151}`, model.KindTicker},
		{"outboundAccountInfo", `{"e":"outboundAccountInfo","E":1499405658849,"m":0,"t":0,"b":0,"s":0,"T":true,"W":true,"D":true,"u":1499405658848,"B":[{"a":"LTC","f":"17366.18538083","l":"0.00000000"}]}`, model.KindBalanceUpdate},
		{"executionReport", `{"e":"executionReport","E":1499405658658,"s":"ETHBTC","c":"mUvoqJxFIILMdfAW5iGSOW","S":"BUY","o":"LIMIT","f":"GTC","q":"1.00000000","p":"0.10264410","P":"0.00000000","F":"0.00000000","g":-1,"C":null,"x":"NEW","X":"NEW","r":"NONE","i":4293153,"l":"0.00000000","z":"0.00000000","L":"0.00000000","n":"0","N":null,"T":1499405658657,"t":-1,"I":8641984,"w":true,"m":false,"M":false,"O":1499405658657,"Z":"0.00000000","Y":"0.00000000","Q":"0.00000000"}`, model.KindExecutionReport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewParser().Parse([]byte(tt.data))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if out == nil || out.Kind() != tt.kind {
				t.Fatalf("kind = %v, want %v", out, tt.kind)
			}
		})
	}
}

// TestParser_CaseCollidingKeys 大小写成对的 key 不能互相覆盖
func TestParser_CaseCollidingKeys(t *testing.T) {
	out, err := NewParser().Parse([]byte(`{"e":"trade","E":1,"s":"BTCUSDT","t":42,"p":"1","q":"2","T":99,"m":true,"M":false}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tr := out.(*model.Trade)
	if tr.TradeID != 42 || tr.TradeTimeMs != 99 || !tr.BuyerMaker {
		t.Errorf("trade = %+v", tr)
	}

	out, err = NewParser().Parse([]byte(`{"e":"24hrTicker","E":1,"s":"BTCUSDT","b":"100.5","B":"3","a":"101","A":"4","c":"100.7","C":5,"o":"99","O":6}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tk := out.(*model.Ticker)
	if tk.Bid.String() != "100.5" || tk.BidQty.String() != "3" || tk.Last.String() != "100.7" || tk.CloseTimeMs != 5 {
		t.Errorf("ticker = %+v", tk)
	}

	out, err = NewParser().Parse([]byte(`{"e":"executionReport","E":1,"s":"ETHBTC","c":"cancel-req","C":"orig-id","S":"SELL","o":"LIMIT","x":"CANCELED","X":"CANCELED","i":7,"I":8}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	er := out.(*model.ExecutionReport)
	if er.ClientOrderID != "orig-id" || er.OrderID != 7 || er.Status != "canceled" || er.Side != "sell" {
		t.Errorf("executionReport = %+v", er)
	}
}

func TestParser_CombinedStream(t *testing.T) {
	inner := `{"e":"depthUpdate","E":1,"s":"btcusdt","U":1,"u":2,"b":[],"a":[]}`
	data := []byte(fmt.Sprintf(`{"stream":"btcusdt@depth@100ms","data":%s}`, inner))
	out, err := NewParser().Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	u, ok := out.(*model.DepthUpdate)
	if !ok || u.Symbol != "BTCUSDT" {
		t.Fatalf("out = %+v", out)
	}
}

func TestParser_UnknownAndInvalid(t *testing.T) {
	out, err := NewParser().Parse([]byte(`{"e":"aggTrade","E":1}`))
	if err != nil || out != nil {
		t.Fatalf("未知事件应返回 (nil, nil), got (%v, %v)", out, err)
	}
	if _, err := NewParser().Parse([]byte(`not json`)); err == nil {
		t.Fatal("非法 JSON 应返回错误")
	}
}
