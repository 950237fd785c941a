package market

import "time"

// PriceTick is one normalized price observation. Immutable once built;
// ticks are forwarded, never persisted.
type PriceTick struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
	Source    string
}

// MessageKind tags the provider payload variants a stream dialect can
// resolve. Everything else is KindUnrecognized and dropped after a log
// line; re-sniffing downstream is not allowed.
type MessageKind int

const (
	KindUnrecognized MessageKind = iota
	KindTicker
	KindHeartbeat
	KindPong
	KindSubscribeAck
	KindProviderPing
)

func (k MessageKind) String() string {
	switch k {
	case KindTicker:
		return "ticker"
	case KindHeartbeat:
		return "heartbeat"
	case KindPong:
		return "pong"
	case KindSubscribeAck:
		return "subscribe_ack"
	case KindProviderPing:
		return "ping"
	default:
		return "unrecognized"
	}
}

// Message is the tagged union a dialect produces from one raw frame.
// Symbol/Price/Timestamp are only meaningful for KindTicker.
type Message struct {
	Kind      MessageKind
	Symbol    string
	Price     float64
	Timestamp time.Time
	Source    string
}
