package market

import (
	"sync"

	"tickerd/internal/logger"
	symbolpkg "tickerd/internal/pkg/symbol"
)

// Normalizer turns dialect messages into PriceTicks. Per symbol it
// enforces monotonic timestamps and suppresses no-op repeats, so the
// engine downstream only ever sees fresh, ordered prices.
type Normalizer struct {
	mu   sync.Mutex
	last map[string]PriceTick
}

func NewNormalizer() *Normalizer {
	return &Normalizer{last: make(map[string]PriceTick)}
}

// Normalize returns the tick to forward, or false when the message is
// not a ticker, malformed, stale, or a duplicate of the last forwarded
// tick. It never returns an error: bad provider data is logged and
// dropped, per the contract that the stream keeps running.
func (n *Normalizer) Normalize(msg Message) (PriceTick, bool) {
	if msg.Kind != KindTicker {
		return PriceTick{}, false
	}
	sym := symbolpkg.Normalize(msg.Symbol)
	if sym == "" || msg.Price <= 0 {
		logger.Debugf("[normalizer] dropping malformed ticker symbol=%q price=%v source=%s", msg.Symbol, msg.Price, msg.Source)
		return PriceTick{}, false
	}

	tick := PriceTick{
		Symbol:    sym,
		Price:     msg.Price,
		Timestamp: msg.Timestamp,
		Source:    msg.Source,
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	prev, seen := n.last[sym]
	if seen {
		if tick.Timestamp.Before(prev.Timestamp) {
			logger.Debugf("[normalizer] dropping stale tick %s ts=%s < %s", sym, tick.Timestamp, prev.Timestamp)
			return PriceTick{}, false
		}
		if tick.Price == prev.Price && tick.Timestamp.Equal(prev.Timestamp) {
			return PriceTick{}, false
		}
	}
	n.last[sym] = tick
	return tick, true
}

// LastTick returns the most recently forwarded tick for a symbol.
func (n *Normalizer) LastTick(symbol string) (PriceTick, bool) {
	sym := symbolpkg.Normalize(symbol)
	n.mu.Lock()
	defer n.mu.Unlock()
	tick, ok := n.last[sym]
	return tick, ok
}

// Reset clears per-symbol history, used when a subscription set changes.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	n.last = make(map[string]PriceTick)
	n.mu.Unlock()
}
