package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"tickerd/internal/market"
	symbolpkg "tickerd/internal/pkg/symbol"

	"github.com/tidwall/gjson"
)

// KrakenDialect speaks the Kraken websocket v2 ticker protocol. Symbols
// go over the wire in BASE/QUOTE form; heartbeat frames arrive on their
// own channel and are never forwarded as data.
type KrakenDialect struct{}

func (KrakenDialect) Name() string { return "kraken" }

type krakenRequest struct {
	Method string        `json:"method"`
	Params *krakenParams `json:"params,omitempty"`
}

type krakenParams struct {
	Channel string   `json:"channel"`
	Symbol  []string `json:"symbol"`
}

func (d KrakenDialect) SubscribeMessage(symbols []string) ([]byte, error) {
	return d.channelRequest("subscribe", symbols)
}

func (d KrakenDialect) UnsubscribeMessage(symbols []string) ([]byte, error) {
	return d.channelRequest("unsubscribe", symbols)
}

func (KrakenDialect) channelRequest(method string, symbols []string) ([]byte, error) {
	wire := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := symbolpkg.Normalize(s)
		if norm == "" {
			continue
		}
		wire = append(wire, norm)
	}
	if len(wire) == 0 {
		return nil, fmt.Errorf("kraken %s: no valid symbols", method)
	}
	return json.Marshal(krakenRequest{
		Method: method,
		Params: &krakenParams{Channel: "ticker", Symbol: wire},
	})
}

func (KrakenDialect) PingMessage() []byte {
	return []byte(`{"method":"ping"}`)
}

func (KrakenDialect) PongMessage() []byte {
	return []byte(`{"method":"pong"}`)
}

func (KrakenDialect) Parse(raw []byte) market.Message {
	if !gjson.ValidBytes(raw) {
		return market.Message{Kind: market.KindUnrecognized, Source: "kraken"}
	}
	body := gjson.ParseBytes(raw)

	switch body.Get("method").String() {
	case "pong":
		return market.Message{Kind: market.KindPong, Source: "kraken"}
	case "ping":
		return market.Message{Kind: market.KindProviderPing, Source: "kraken"}
	case "subscribe", "unsubscribe":
		return market.Message{Kind: market.KindSubscribeAck, Source: "kraken"}
	}

	switch body.Get("channel").String() {
	case "heartbeat", "status":
		return market.Message{Kind: market.KindHeartbeat, Source: "kraken"}
	case "ticker":
		entry := body.Get("data.0")
		if !entry.Exists() {
			return market.Message{Kind: market.KindUnrecognized, Source: "kraken"}
		}
		sym := symbolpkg.Kraken.FromExchange(entry.Get("symbol").String())
		price := entry.Get("last").Float()
		if sym == "" || price <= 0 {
			return market.Message{Kind: market.KindUnrecognized, Source: "kraken"}
		}
		// v2 ticker payloads carry no event timestamp; arrival time is
		// the best ordering signal available.
		return market.Message{
			Kind:      market.KindTicker,
			Symbol:    sym,
			Price:     price,
			Timestamp: time.Now(),
			Source:    "kraken",
		}
	}

	return market.Message{Kind: market.KindUnrecognized, Source: "kraken"}
}
