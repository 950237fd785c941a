package exchange

import (
	"context"
	"fmt"

	symbolpkg "tickerd/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// BinanceExchange places spot orders through the go-binance SDK. The
// idempotency key rides as newClientOrderId so a retried submit cannot
// execute twice.
type BinanceExchange struct {
	client *binance.Client
}

type BinanceConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

func NewBinance(cfg BinanceConfig) *BinanceExchange {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	return &BinanceExchange{client: client}
}

func (b *BinanceExchange) Name() string { return "binance" }

func (b *BinanceExchange) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	pair := symbolpkg.Binance.ToExchange(req.Symbol)
	if pair == "" {
		return nil, fmt.Errorf("binance: invalid symbol %q", req.Symbol)
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("binance: non-positive quantity %s", req.Quantity)
	}

	side := binance.SideTypeBuy
	if req.Side == SideSell {
		side = binance.SideTypeSell
	}

	svc := b.client.NewCreateOrderService().
		Symbol(pair).
		Side(side).
		Quantity(req.Quantity.String()).
		NewClientOrderID(req.IdempotencyKey)

	switch req.Type {
	case OrderTypeLimit:
		if req.Price.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("binance: limit order requires a price")
		}
		tif := binance.TimeInForceTypeGTC
		if req.TimeInForce != "" {
			tif = binance.TimeInForceType(req.TimeInForce)
		}
		svc = svc.Type(binance.OrderTypeLimit).TimeInForce(tif).Price(req.Price.String())
	default:
		svc = svc.Type(binance.OrderTypeMarket)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, NewAPIError(err.Error())
	}

	out := &OrderResult{
		OrderID:     fmt.Sprintf("%d", res.OrderID),
		Status:      string(res.Status),
		Price:       parseDecimal(res.Price),
		ExecutedQty: parseDecimal(res.ExecutedQuantity),
		RawRequest:  fmt.Sprintf("symbol=%s side=%s type=%s qty=%s clientOrderId=%s", pair, side, req.Type, req.Quantity, req.IdempotencyKey),
		RawResponse: fmt.Sprintf("orderId=%d status=%s executedQty=%s cumQuote=%s", res.OrderID, res.Status, res.ExecutedQuantity, res.CummulativeQuoteQuantity),
	}
	for _, f := range res.Fills {
		if f == nil {
			continue
		}
		out.Fills = append(out.Fills, Fill{
			Price:    parseDecimal(f.Price),
			Quantity: parseDecimal(f.Quantity),
		})
	}
	return out, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
