package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tickerd/internal/market"
	symbolpkg "tickerd/internal/pkg/symbol"

	"github.com/tidwall/gjson"
)

// BinanceDialect speaks the raw Binance stream protocol: lowercase
// <symbol>@ticker stream names and numeric request ids. Binance pings at
// the websocket control level, so PingMessage is nil and the connection
// falls back to control-frame heartbeats.
type BinanceDialect struct{}

func (BinanceDialect) Name() string { return "binance" }

type binanceRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (d BinanceDialect) SubscribeMessage(symbols []string) ([]byte, error) {
	return d.streamRequest("SUBSCRIBE", symbols)
}

func (d BinanceDialect) UnsubscribeMessage(symbols []string) ([]byte, error) {
	return d.streamRequest("UNSUBSCRIBE", symbols)
}

func (BinanceDialect) streamRequest(method string, symbols []string) ([]byte, error) {
	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		clean := symbolpkg.Binance.ToExchange(s)
		if clean == "" {
			continue
		}
		params = append(params, strings.ToLower(clean)+"@ticker")
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("binance %s: no valid symbols", method)
	}
	return json.Marshal(binanceRequest{
		Method: method,
		Params: params,
		ID:     time.Now().UnixMilli(),
	})
}

func (BinanceDialect) PingMessage() []byte { return nil }

func (BinanceDialect) PongMessage() []byte { return nil }

func (BinanceDialect) Parse(raw []byte) market.Message {
	if !gjson.ValidBytes(raw) {
		return market.Message{Kind: market.KindUnrecognized, Source: "binance"}
	}
	body := gjson.ParseBytes(raw)

	// {"result":null,"id":...} acknowledges a SUBSCRIBE/UNSUBSCRIBE.
	if body.Get("id").Exists() && !body.Get("e").Exists() {
		return market.Message{Kind: market.KindSubscribeAck, Source: "binance"}
	}

	if body.Get("e").String() == "24hrTicker" {
		sym := symbolpkg.Binance.FromExchange(body.Get("s").String())
		price := body.Get("c").Float()
		if sym == "" || price <= 0 {
			return market.Message{Kind: market.KindUnrecognized, Source: "binance"}
		}
		ts := time.Now()
		if ms := body.Get("E").Int(); ms > 0 {
			ts = time.UnixMilli(ms)
		}
		return market.Message{
			Kind:      market.KindTicker,
			Symbol:    sym,
			Price:     price,
			Timestamp: ts,
			Source:    "binance",
		}
	}

	return market.Message{Kind: market.KindUnrecognized, Source: "binance"}
}
