package config

import (
	"os"
	"path/filepath"
	"testing"

	"tickerd/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
trading:
  symbols: [btc/usdt, ETHUSDT]
exchange:
  name: kraken
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "kraken", cfg.Stream.Provider)
	assert.Equal(t, "wss://ws.kraken.com/v2", cfg.Stream.URL)
	assert.Equal(t, 15, cfg.Stream.HeartbeatIntervalSec)
	assert.Equal(t, 10, cfg.Stream.HeartbeatTimeoutSec)
	assert.Equal(t, 5, cfg.Stream.Retry.MaxAttempts)
	assert.Equal(t, 1, cfg.Stream.Retry.BaseDelaySec)
	assert.Equal(t, 30, cfg.Stream.Retry.MaxDelaySec)
	assert.Equal(t, "data/tickerd.db", cfg.Store.Path)
	assert.Equal(t, ":8642", cfg.HTTP.Listen)
}

func TestLoadNormalizesSymbols(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Trading.Symbols)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", `
log_level: debug
trading:
  enabled: true
  test_mode: true
  symbols: [BTC/USDT]
stream:
  provider: binance
  url: wss://stream.binance.com:9443/ws
  fallback_url: wss://stream1.binance.com:9443/ws
  heartbeat_interval_sec: 20
exchange:
  name: binance
  api_key: k
  api_secret: s
guard:
  rate_limit: 10
  breaker_limit: 3
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Trading.Enabled)
	assert.True(t, cfg.Trading.TestMode)
	assert.Equal(t, "binance", cfg.Stream.Provider)
	assert.Equal(t, "wss://stream1.binance.com:9443/ws", cfg.Stream.FallbackURL)
	assert.Equal(t, 20, cfg.Stream.HeartbeatIntervalSec)
	assert.Equal(t, 10, cfg.Guard.RateLimit)
	assert.Equal(t, 3, cfg.Guard.BreakerLimit)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
	t.Run("empty path", func(t *testing.T) {
		_, err := Load("")
		assert.Error(t, err)
	})
	t.Run("unknown provider", func(t *testing.T) {
		_, err := Load(writeFile(t, "config.yaml", `
trading:
  symbols: [BTC/USDT]
stream:
  provider: coinbase
`))
		assert.Error(t, err)
	})
	t.Run("no symbols", func(t *testing.T) {
		_, err := Load(writeFile(t, "config.yaml", `
trading:
  symbols: []
`))
		assert.Error(t, err)
	})
	t.Run("unknown exchange", func(t *testing.T) {
		_, err := Load(writeFile(t, "config.yaml", `
trading:
  symbols: [BTC/USDT]
exchange:
  name: ftx
`))
		assert.Error(t, err)
	})
}

func TestValidateSettingsPayload(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		err := ValidateSettingsPayload([]byte(`{
			"symbol": "BTC/USDT",
			"enabled": true,
			"buyThresholdPercent": 5,
			"sellThresholdPercent": 3,
			"nextAction": "buy",
			"sizingMode": "value",
			"sizingValueUsd": 100
		}`))
		assert.NoError(t, err)
	})
	t.Run("not json", func(t *testing.T) {
		assert.Error(t, ValidateSettingsPayload([]byte(`{{`)))
	})
	t.Run("missing symbol", func(t *testing.T) {
		assert.Error(t, ValidateSettingsPayload([]byte(`{"enabled":true}`)))
	})
	t.Run("bad action", func(t *testing.T) {
		assert.Error(t, ValidateSettingsPayload([]byte(`{"symbol":"BTC/USDT","nextAction":"hold"}`)))
	})
	t.Run("negative threshold", func(t *testing.T) {
		assert.Error(t, ValidateSettingsPayload([]byte(`{"symbol":"BTC/USDT","buyThresholdPercent":-1}`)))
	})
	t.Run("unknown field", func(t *testing.T) {
		assert.Error(t, ValidateSettingsPayload([]byte(`{"symbol":"BTC/USDT","leverage":10}`)))
	})
}

func TestLoadSeed(t *testing.T) {
	path := writeFile(t, "seed.yaml", `
initial_cash_usd: 5000
settings:
  - symbol: btc/usdt
    enabled: true
    buy_threshold_percent: 5
    sell_threshold_percent: 3
    sizing_mode: value
    sizing_value_usd: 100
    reference_price: 90000
  - symbol: ETH/USDT
`)
	seed, err := LoadSeed(path)
	require.NoError(t, err)

	assert.Equal(t, 5000.0, seed.InitialCashUSD)
	require.Len(t, seed.Settings, 2)

	first := seed.Settings[0]
	assert.Equal(t, "BTC/USDT", first.Symbol)
	assert.True(t, first.Enabled)
	assert.Equal(t, store.SizingValue, first.SizingMode)
	assert.Equal(t, 90000.0, first.ReferencePrice)

	second := seed.Settings[1]
	assert.Equal(t, store.ActionBuy, second.NextAction, "missing next_action defaults to buy")
	assert.Equal(t, store.SizingShares, second.SizingMode)
}

func TestLoadSeedRejectsBadEntries(t *testing.T) {
	t.Run("bad symbol", func(t *testing.T) {
		_, err := LoadSeed(writeFile(t, "seed.yaml", "settings:\n  - symbol: nonsense\n"))
		assert.Error(t, err)
	})
	t.Run("bad action", func(t *testing.T) {
		_, err := LoadSeed(writeFile(t, "seed.yaml", "settings:\n  - symbol: BTC/USDT\n    next_action: hold\n"))
		assert.Error(t, err)
	})
	t.Run("negative cash", func(t *testing.T) {
		_, err := LoadSeed(writeFile(t, "seed.yaml", "initial_cash_usd: -1\n"))
		assert.Error(t, err)
	})
}
