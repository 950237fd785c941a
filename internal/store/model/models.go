package model

import (
	"gorm.io/datatypes"
)

type AutoTradeSettingModel struct {
	ID                   int64   `gorm:"column:id;primaryKey"`
	Symbol               string  `gorm:"column:symbol;uniqueIndex"`
	Enabled              bool    `gorm:"column:enabled"`
	BuyThresholdPercent  float64 `gorm:"column:buy_threshold_percent"`
	SellThresholdPercent float64 `gorm:"column:sell_threshold_percent"`
	NextAction           string  `gorm:"column:next_action"`
	ContinuousTrading    bool    `gorm:"column:continuous_trading"`
	OneShotBuy           bool    `gorm:"column:one_shot_buy"`
	OneShotSell          bool    `gorm:"column:one_shot_sell"`
	SizingMode           string  `gorm:"column:sizing_mode"`
	SizingShares         float64 `gorm:"column:sizing_shares"`
	SizingValueUSD       float64 `gorm:"column:sizing_value_usd"`
	ReferencePrice       float64 `gorm:"column:reference_price"`
	LastBuyPrice         float64 `gorm:"column:last_buy_price"`
	CreatedAtUnix        int64   `gorm:"column:created_at"`
	UpdatedAtUnix        int64   `gorm:"column:updated_at"`
}

func (AutoTradeSettingModel) TableName() string { return "auto_trade_settings" }

type TransactionModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	TxID          string         `gorm:"column:tx_id;uniqueIndex"`
	Symbol        string         `gorm:"column:symbol;index"`
	Action        string         `gorm:"column:action"`
	Shares        float64        `gorm:"column:shares"`
	Price         float64        `gorm:"column:price"`
	TotalAmount   float64        `gorm:"column:total_amount"`
	Success       bool           `gorm:"column:success"`
	ErrorKind     string         `gorm:"column:error_kind"`
	APIRequest    datatypes.JSON `gorm:"column:api_request;type:TEXT"`
	APIResponse   datatypes.JSON `gorm:"column:api_response;type:TEXT"`
	LogInfo       string         `gorm:"column:log_info"`
	ExpiresAtUnix *int64         `gorm:"column:expires_at"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (TransactionModel) TableName() string { return "transactions" }

type HoldingModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	Symbol        string  `gorm:"column:symbol;uniqueIndex"`
	Shares        float64 `gorm:"column:shares"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (HoldingModel) TableName() string { return "holdings" }

type BalanceModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	CashUSD       float64 `gorm:"column:cash_usd"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (BalanceModel) TableName() string { return "balances" }
