package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest is the signed-call input. For limit orders Price and
// TimeInForce are explicit; nothing is implied downstream.
type OrderRequest struct {
	Symbol         string
	Side           Side
	Type           OrderType
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	TimeInForce    string // "GTC" for limit orders
	IdempotencyKey string
	Timestamp      time.Time
}

type Fill struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

type OrderResult struct {
	OrderID     string
	Status      string
	Price       decimal.Decimal
	ExecutedQty decimal.Decimal
	Fills       []Fill
	RawRequest  string
	RawResponse string
}

// Exchange is the opaque PlaceOrder capability. Signing and transport
// live behind it; callers never see credentials.
type Exchange interface {
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}
