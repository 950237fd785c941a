package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tickerd/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	s, err := NewSqliteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleSettings() *store.AutoTradeSettings {
	return &store.AutoTradeSettings{
		Symbol:               "BTC/USDT",
		Enabled:              true,
		BuyThresholdPercent:  5,
		SellThresholdPercent: 3,
		NextAction:           store.ActionBuy,
		SizingMode:           store.SizingShares,
		SizingShares:         0.5,
		ReferencePrice:       100,
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.SettingsFor(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Nil(t, missing, "absent settings are nil, not an error")

	require.NoError(t, s.SaveSettings(ctx, sampleSettings()))

	got, err := s.SettingsFor(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Enabled)
	assert.Equal(t, 5.0, got.BuyThresholdPercent)
	assert.Equal(t, store.ActionBuy, got.NextAction)
	assert.Equal(t, 0.5, got.SizingShares)
}

func TestSaveSettingsUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSettings(ctx, sampleSettings()))

	updated := sampleSettings()
	updated.NextAction = store.ActionSell
	updated.LastBuyPrice = 95
	require.NoError(t, s.SaveSettings(ctx, updated))

	got, err := s.SettingsFor(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, store.ActionSell, got.NextAction)
	assert.Equal(t, 95.0, got.LastBuyPrice)

	all, err := s.ListSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "second save updates in place, no duplicate row")
}

func TestSaveSettingsValidation(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.SaveSettings(context.Background(), nil))
	assert.Error(t, s.SaveSettings(context.Background(), &store.AutoTradeSettings{Symbol: "  "}))
}

func TestRecordAndListTransactions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTransaction(ctx, &store.TransactionRecord{
		ID: "tx-1", Symbol: "BTC/USDT", Action: "buy",
		Shares: 0.5, Price: 100, TotalAmount: 50, Success: true,
		APIRequest:  `{"pair":"XBTUSDT"}`,
		APIResponse: `{"txid":["O1"]}`,
		CreatedAt:   time.Now().Add(-time.Minute),
	}))
	require.NoError(t, s.RecordTransaction(ctx, &store.TransactionRecord{
		ID: "tx-2", Symbol: "BTC/USDT", Action: "error",
		Shares: 0.5, Price: 100, Success: false,
		ErrorKind: "insufficient_funds",
		LogInfo:   "not a json payload",
		CreatedAt: time.Now(),
	}))

	records, err := s.ListTransactions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "tx-2", records[0].ID, "newest first")
	assert.Equal(t, "error", records[0].Action)
	assert.Equal(t, "insufficient_funds", records[0].ErrorKind)

	assert.Equal(t, `{"pair":"XBTUSDT"}`, records[1].APIRequest)
	assert.Equal(t, `{"txid":["O1"]}`, records[1].APIResponse)
}

func TestListTransactionsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordTransaction(ctx, &store.TransactionRecord{
			ID: string(rune('a' + i)), Symbol: "BTC/USDT", Action: "buy", Success: true,
		}))
	}
	records, err := s.ListTransactions(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestApplyTradeMovesBothLegs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetCashBalance(ctx, 1000))

	require.NoError(t, s.ApplyTrade(ctx, "BTC/USDT", 2, -200))

	shares, err := s.Holding(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 2.0, shares)

	cash, err := s.CashBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 800.0, cash)

	require.NoError(t, s.ApplyTrade(ctx, "BTC/USDT", -2, 210))
	shares, _ = s.Holding(ctx, "BTC/USDT")
	cash, _ = s.CashBalance(ctx)
	assert.Equal(t, 0.0, shares)
	assert.Equal(t, 1010.0, cash)
}

func TestApplyTradeRejectsNegativeBooks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetCashBalance(ctx, 100))

	t.Run("negative holding", func(t *testing.T) {
		err := s.ApplyTrade(ctx, "BTC/USDT", -1, 50)
		require.Error(t, err)
		cash, _ := s.CashBalance(ctx)
		assert.Equal(t, 100.0, cash, "rejected trade must not move cash either")
	})

	t.Run("negative cash rolls back holdings", func(t *testing.T) {
		err := s.ApplyTrade(ctx, "BTC/USDT", 1, -500)
		require.Error(t, err)
		shares, _ := s.Holding(ctx, "BTC/USDT")
		assert.Equal(t, 0.0, shares, "both legs or neither")
	})
}

func TestHoldingDefaultsToZero(t *testing.T) {
	s := newTestStore(t)
	shares, err := s.Holding(context.Background(), "DOGE/USDT")
	require.NoError(t, err)
	assert.Equal(t, 0.0, shares)
}
