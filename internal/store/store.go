package store

import (
	"context"
	"time"
)

// NextAction values for AutoTradeSettings.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
)

// Sizing modes.
const (
	SizingShares = "shares"
	SizingValue  = "value"
)

// AutoTradeSettings is the persisted per-symbol trading rule the engine
// evaluates on every tick. Loaded once per subscription, refreshed after
// each completed trade; the engine's per-symbol serialization guarantees
// no evaluation reads a half-applied update.
type AutoTradeSettings struct {
	Symbol               string    `json:"symbol"`
	Enabled              bool      `json:"enabled"`
	BuyThresholdPercent  float64   `json:"buyThresholdPercent"`
	SellThresholdPercent float64   `json:"sellThresholdPercent"`
	NextAction           string    `json:"nextAction"`
	ContinuousTrading    bool      `json:"continuousTrading"`
	OneShotBuy           bool      `json:"oneShotBuy"`
	OneShotSell          bool      `json:"oneShotSell"`
	SizingMode           string    `json:"sizingMode"`
	SizingShares         float64   `json:"sizingShares,omitempty"`
	SizingValueUSD       float64   `json:"sizingValueUsd,omitempty"`
	ReferencePrice       float64   `json:"referencePrice"`
	LastBuyPrice         float64   `json:"lastBuyPrice"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// TransactionRecord is written for every execution attempt, success or
// not. Failed attempts carry Action "error" plus the classified kind so
// the audit trail survives exchange outages.
type TransactionRecord struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	Action      string     `json:"action"` // buy | sell | error
	Shares      float64    `json:"shares"`
	Price       float64    `json:"price"`
	TotalAmount float64    `json:"totalAmount"`
	Success     bool       `json:"success"`
	ErrorKind   string     `json:"errorKind,omitempty"`
	APIRequest  string     `json:"apiRequest,omitempty"`
	APIResponse string     `json:"apiResponse,omitempty"`
	LogInfo     string     `json:"logInfo,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Store is the narrow read/write contract over the relational store.
// Everything the streaming/decision core persists goes through here,
// always behind the resilience guard.
type Store interface {
	SettingsFor(ctx context.Context, symbol string) (*AutoTradeSettings, error)

	SaveSettings(ctx context.Context, settings *AutoTradeSettings) error

	ListSettings(ctx context.Context) ([]AutoTradeSettings, error)

	RecordTransaction(ctx context.Context, rec *TransactionRecord) error

	ListTransactions(ctx context.Context, limit int) ([]TransactionRecord, error)

	// ApplyTrade moves shares and cash in one transaction; either both
	// land or neither does.
	ApplyTrade(ctx context.Context, symbol string, shareDelta, cashDelta float64) error

	Holding(ctx context.Context, symbol string) (float64, error)

	CashBalance(ctx context.Context) (float64, error)

	SetCashBalance(ctx context.Context, usd float64) error

	Close() error
}
