package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tickerd/internal/analysis/indicator"
	"tickerd/internal/engine"
	"tickerd/internal/guard"
	"tickerd/internal/market"
	"tickerd/internal/store"
	"tickerd/internal/stream"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu           sync.Mutex
	settings     map[string]*store.AutoTradeSettings
	transactions []store.TransactionRecord
	holdings     map[string]float64
	cash         float64
}

func newMemStore() *memStore {
	return &memStore{
		settings: make(map[string]*store.AutoTradeSettings),
		holdings: make(map[string]float64),
	}
}

func (m *memStore) SettingsFor(ctx context.Context, symbol string) (*store.AutoTradeSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[symbol]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) SaveSettings(ctx context.Context, s *store.AutoTradeSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settings[s.Symbol] = &cp
	return nil
}

func (m *memStore) ListSettings(ctx context.Context) ([]store.AutoTradeSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.AutoTradeSettings, 0, len(m.settings))
	for _, s := range m.settings {
		out = append(out, *s)
	}
	return out, nil
}

func (m *memStore) RecordTransaction(ctx context.Context, rec *store.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = append(m.transactions, *rec)
	return nil
}

func (m *memStore) ListTransactions(ctx context.Context, limit int) ([]store.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.transactions) {
		limit = len(m.transactions)
	}
	return append([]store.TransactionRecord(nil), m.transactions[:limit]...), nil
}

func (m *memStore) ApplyTrade(ctx context.Context, symbol string, shareDelta, cashDelta float64) error {
	return nil
}

func (m *memStore) Holding(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holdings[symbol], nil
}

func (m *memStore) CashBalance(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cash, nil
}

func (m *memStore) SetCashBalance(ctx context.Context, usd float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cash = usd
	return nil
}

func (m *memStore) Close() error { return nil }

type okExecutor struct{}

func (okExecutor) Execute(ctx context.Context, cmd engine.TradeCommand) engine.TradeResult {
	return engine.TradeResult{
		Success:          true,
		ExecutedPrice:    cmd.LastPrice,
		ExecutedQuantity: decimal.NewFromInt(1),
		TransactionID:    "tx-1",
	}
}

func newTestServer(t *testing.T, st store.Store) (*Server, *engine.Engine) {
	t.Helper()
	g := guard.New(guard.Config{})
	eng := engine.New(st, okExecutor{}, g, true)
	conn, err := stream.NewConn(stream.Config{
		Provider: "kraken",
		URL:      "wss://ws.kraken.com/v2",
		Symbols:  []string{"BTC/USDT"},
	})
	require.NoError(t, err)
	return NewServer(":0", st, eng, g, conn, indicator.NewSeries(0)), eng
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t, newMemStore())
	w := doRequest(s, http.MethodGet, "/api/status", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tradingEnabled":true`)
	assert.Contains(t, w.Body.String(), `"stream"`)
	assert.Contains(t, w.Body.String(), `"guard"`)
}

func TestPutSettingsRejectsBadPayloads(t *testing.T) {
	s, _ := newTestServer(t, newMemStore())

	t.Run("not json", func(t *testing.T) {
		w := doRequest(s, http.MethodPut, "/api/settings/BTCUSDT", `{{`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		w := doRequest(s, http.MethodPut, "/api/settings/BTCUSDT",
			`{"symbol":"BTC/USDT","leverage":10}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad next action", func(t *testing.T) {
		w := doRequest(s, http.MethodPut, "/api/settings/BTCUSDT",
			`{"symbol":"BTC/USDT","nextAction":"hold"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid url symbol", func(t *testing.T) {
		w := doRequest(s, http.MethodPut, "/api/settings/nonsense",
			`{"symbol":"BTC/USDT"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPutSettingsRejectsSymbolMismatch(t *testing.T) {
	st := newMemStore()
	s, _ := newTestServer(t, st)

	w := doRequest(s, http.MethodPut, "/api/settings/ETHUSDT",
		`{"symbol":"BTC/USDT","enabled":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "does not match")
	assert.Empty(t, st.settings, "mismatched payload never reaches the store")
}

func TestPutSettingsSavesAndInvalidatesEngineCache(t *testing.T) {
	st := newMemStore()
	st.settings["BTC/USDT"] = &store.AutoTradeSettings{Symbol: "BTC/USDT", Enabled: false}
	s, eng := newTestServer(t, st)
	ctx := context.Background()

	// The engine caches the disabled settings on the first tick.
	assert.False(t, eng.HandleTick(ctx, market.PriceTick{
		Symbol: "BTC/USDT", Price: 90, Timestamp: time.Now(), Source: "test",
	}))

	w := doRequest(s, http.MethodPut, "/api/settings/BTCUSDT", `{
		"symbol": "BTC/USDT",
		"enabled": true,
		"buyThresholdPercent": 5,
		"referencePrice": 100,
		"sizingMode": "shares",
		"sizingShares": 1
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	saved, err := st.SettingsFor(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.True(t, saved.Enabled)
	assert.Equal(t, store.ActionBuy, saved.NextAction, "missing nextAction defaults to buy")
	assert.False(t, saved.UpdatedAt.IsZero())

	// The update is visible immediately: the same dip now fires.
	assert.True(t, eng.HandleTick(ctx, market.PriceTick{
		Symbol: "BTC/USDT", Price: 90, Timestamp: time.Now(), Source: "test",
	}))
	eng.Shutdown()
}

func TestGetSettings(t *testing.T) {
	st := newMemStore()
	st.settings["BTC/USDT"] = &store.AutoTradeSettings{Symbol: "BTC/USDT", Enabled: true}
	s, _ := newTestServer(t, st)

	t.Run("found", func(t *testing.T) {
		w := doRequest(s, http.MethodGet, "/api/settings/BTCUSDT", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"symbol":"BTC/USDT"`)
	})

	t.Run("missing", func(t *testing.T) {
		w := doRequest(s, http.MethodGet, "/api/settings/DOGEUSDT", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid", func(t *testing.T) {
		w := doRequest(s, http.MethodGet, "/api/settings/nonsense", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTransactionsLimitValidation(t *testing.T) {
	s, _ := newTestServer(t, newMemStore())

	w := doRequest(s, http.MethodGet, "/api/transactions?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(s, http.MethodGet, "/api/transactions?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(s, http.MethodGet, "/api/transactions", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIndicatorsNeedSamples(t *testing.T) {
	s, _ := newTestServer(t, newMemStore())
	w := doRequest(s, http.MethodGet, "/api/indicators/BTCUSDT", "")
	assert.Equal(t, http.StatusConflict, w.Code, "too few samples is a state conflict, not a server error")
}

func TestPortfolio(t *testing.T) {
	st := newMemStore()
	st.cash = 1000
	st.settings["BTC/USDT"] = &store.AutoTradeSettings{Symbol: "BTC/USDT"}
	st.holdings["BTC/USDT"] = 2
	s, _ := newTestServer(t, st)

	w := doRequest(s, http.MethodGet, "/api/portfolio", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cashUsd":1000`)
	assert.Contains(t, w.Body.String(), `"BTC/USDT":2`)
}
