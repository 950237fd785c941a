package indicator

import (
	"fmt"
	"sync"
	"time"

	talib "github.com/markcheno/go-talib"
)

const (
	smaPeriod  = 20
	emaPeriod  = 20
	rsiPeriod  = 14
	bandPeriod = 20
	bandDev    = 2.0
)

// minSamples is what the slowest indicator needs before a snapshot is
// meaningful.
const minSamples = bandPeriod + 1

// Snapshot is the indicator view for one symbol, computed on demand from
// the rolling tick window.
type Snapshot struct {
	Symbol         string    `json:"symbol"`
	Samples        int       `json:"samples"`
	LastPrice      float64   `json:"lastPrice"`
	SMA            float64   `json:"sma"`
	EMA            float64   `json:"ema"`
	RSI            float64   `json:"rsi"`
	BollingerUpper float64   `json:"bollingerUpper"`
	BollingerMid   float64   `json:"bollingerMid"`
	BollingerLower float64   `json:"bollingerLower"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Series keeps a bounded per-symbol price history fed from the tick
// pipeline. Old samples roll off; capacity bounds memory per symbol.
type Series struct {
	mu       sync.RWMutex
	capacity int
	prices   map[string][]float64
	updated  map[string]time.Time
}

func NewSeries(capacity int) *Series {
	if capacity < minSamples {
		capacity = 200
	}
	return &Series{
		capacity: capacity,
		prices:   make(map[string][]float64),
		updated:  make(map[string]time.Time),
	}
}

func (s *Series) Observe(symbol string, price float64, at time.Time) {
	if price <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	window := append(s.prices[symbol], price)
	if len(window) > s.capacity {
		window = window[len(window)-s.capacity:]
	}
	s.prices[symbol] = window
	s.updated[symbol] = at
}

func (s *Series) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prices[symbol])
}

// Snapshot computes the indicator set for one symbol. Errors only when
// the window is still too short.
func (s *Series) Snapshot(symbol string) (Snapshot, error) {
	s.mu.RLock()
	window := make([]float64, len(s.prices[symbol]))
	copy(window, s.prices[symbol])
	updated := s.updated[symbol]
	s.mu.RUnlock()

	if len(window) < minSamples {
		return Snapshot{}, fmt.Errorf("indicator: %s has %d samples, need %d", symbol, len(window), minSamples)
	}

	sma := talib.Sma(window, smaPeriod)
	ema := talib.Ema(window, emaPeriod)
	rsi := talib.Rsi(window, rsiPeriod)
	upper, mid, lower := talib.BBands(window, bandPeriod, bandDev, bandDev, talib.SMA)

	last := len(window) - 1
	return Snapshot{
		Symbol:         symbol,
		Samples:        len(window),
		LastPrice:      window[last],
		SMA:            sma[last],
		EMA:            ema[last],
		RSI:            rsi[last],
		BollingerUpper: upper[last],
		BollingerMid:   mid[last],
		BollingerLower: lower[last],
		UpdatedAt:      updated,
	}, nil
}

// History returns a copy of the raw window, oldest first (chart data).
func (s *Series) History(symbol string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.prices[symbol]))
	copy(out, s.prices[symbol])
	return out
}

func (s *Series) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.prices))
	for sym := range s.prices {
		out = append(out, sym)
	}
	return out
}
