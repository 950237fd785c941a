package stream

import (
	"fmt"
	"strings"

	"tickerd/internal/market"
)

// Dialect maps one provider's wire format onto the tagged message union.
// Parsing happens exactly once here; consumers never re-sniff payloads.
type Dialect interface {
	Name() string

	SubscribeMessage(symbols []string) ([]byte, error)

	UnsubscribeMessage(symbols []string) ([]byte, error)

	// PingMessage returns the application-level ping frame, or nil when
	// the provider expects websocket control pings instead.
	PingMessage() []byte

	// PongMessage answers a provider-initiated application-level ping.
	PongMessage() []byte

	Parse(raw []byte) market.Message
}

func ForProvider(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "kraken":
		return KrakenDialect{}, nil
	case "binance":
		return BinanceDialect{}, nil
	default:
		return nil, fmt.Errorf("unknown websocket provider %q", name)
	}
}
