package engine

import (
	"context"
	"fmt"
	"time"

	"tickerd/internal/exchange"

	"github.com/shopspring/decimal"
)

// TradeCommand is created by the engine and consumed exactly once by the
// executor. LastPrice carries the triggering tick so the executor has a
// final price estimate when the exchange reports nothing usable.
type TradeCommand struct {
	Symbol         string
	Action         exchange.Side
	Quantity       decimal.Decimal
	OrderType      exchange.OrderType
	LimitPrice     decimal.Decimal
	LastPrice      decimal.Decimal
	IdempotencyKey string
	CreatedAt      time.Time
}

// TradeResult is terminal for one execution attempt; the transaction log
// already holds it by the time the engine sees it.
type TradeResult struct {
	Success          bool
	ExecutedPrice    decimal.Decimal
	ExecutedQuantity decimal.Decimal
	TotalAmount      decimal.Decimal
	TransactionID    string
	ErrorKind        exchange.ErrorKind
	Err              error
}

// Executor turns a command into a confirmed (or recorded-failed)
// exchange transaction.
type Executor interface {
	Execute(ctx context.Context, cmd TradeCommand) TradeResult
}

// NewIdempotencyKey derives the retry-safe order key from the command
// identity; a resubmission of the same command reuses it.
func NewIdempotencyKey(symbol string, action exchange.Side, createdAt time.Time) string {
	return fmt.Sprintf("tk-%s-%s-%d", sanitizeSymbol(symbol), action, createdAt.UnixMilli())
}

func sanitizeSymbol(symbol string) string {
	out := make([]rune, 0, len(symbol))
	for _, r := range symbol {
		if r == '/' {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
