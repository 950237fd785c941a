package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tickerd/internal/engine"
	"tickerd/internal/exchange"
	"tickerd/internal/guard"
	"tickerd/internal/logger"
	"tickerd/internal/pkg/retry"
	"tickerd/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeExecutor carries commands from the engine to the exchange. Every
// attempt, including ones the guard rejects before any network call,
// ends up in the transaction log.
type TradeExecutor struct {
	exchange exchange.Exchange
	store    store.Store
	guard    *guard.Guard

	// testMode skips the holdings/cash mutation so orders can be
	// rehearsed against a live exchange sandbox without touching books.
	testMode  bool
	recordTry retry.Policy
	now       func() time.Time
	newID     func() string
}

func New(ex exchange.Exchange, st store.Store, g *guard.Guard, testMode bool) *TradeExecutor {
	return &TradeExecutor{
		exchange:  ex,
		store:     st,
		guard:     g,
		testMode:  testMode,
		recordTry: retry.Policy{MaxAttempts: 3, Base: 200 * time.Millisecond, Cap: 2 * time.Second},
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

var _ engine.Executor = (*TradeExecutor)(nil)

// Execute places the order and settles the books. The returned result is
// terminal; by the time the engine sees it the transaction record has
// already been persisted (or persistence itself has been retried out).
func (t *TradeExecutor) Execute(ctx context.Context, cmd engine.TradeCommand) engine.TradeResult {
	if t.guard != nil {
		if err := t.guard.ShouldAllowRequest(); err != nil {
			kind := exchange.ErrKindCircuitOpen
			if errors.Is(err, guard.ErrRateLimited) {
				kind = exchange.ErrKindRateLimit
			}
			logger.Warnf("[executor] %s %s rejected before dispatch: %v (retry in %s)",
				cmd.Symbol, cmd.Action, err, t.guard.BackoffDelay())
			return t.fail(ctx, cmd, kind, err, "", "")
		}
		t.guard.RecordRequest()
	}

	req := exchange.OrderRequest{
		Symbol:         cmd.Symbol,
		Side:           cmd.Action,
		Type:           cmd.OrderType,
		Quantity:       cmd.Quantity,
		Price:          cmd.LimitPrice,
		IdempotencyKey: cmd.IdempotencyKey,
		Timestamp:      t.now(),
	}
	if cmd.OrderType == exchange.OrderTypeLimit {
		req.TimeInForce = "GTC"
	}

	res, err := t.exchange.PlaceOrder(ctx, req)
	if err != nil {
		if t.guard != nil {
			t.guard.RecordError()
		}
		kind := exchange.ErrKindUnknown
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) {
			kind = apiErr.Kind
		} else {
			kind = exchange.Classify(err.Error())
		}
		rawReq, rawResp := "", ""
		if res != nil {
			rawReq, rawResp = res.RawRequest, res.RawResponse
		}
		logger.Errorf("[executor] %s %s order failed (%s): %v", cmd.Symbol, cmd.Action, kind, err)
		return t.fail(ctx, cmd, kind, err, rawReq, rawResp)
	}
	if t.guard != nil {
		t.guard.RecordSuccess()
	}

	price := executedPrice(res, cmd)
	qty := res.ExecutedQty
	if qty.LessThanOrEqual(decimal.Zero) {
		qty = cmd.Quantity
	}
	total := price.Mul(qty)

	logInfo := ""
	if t.testMode {
		logInfo = "test mode: holdings and cash untouched"
	} else if err := t.applyTrade(ctx, cmd, price, qty); err != nil {
		// The order is already live on the exchange; the books failure is
		// surfaced on the record rather than pretending the trade failed.
		logInfo = fmt.Sprintf("books update failed: %v", err)
		logger.Errorf("[executor] %s %s filled but books update failed: %v", cmd.Symbol, cmd.Action, err)
	}

	rec := t.baseRecord(cmd)
	rec.Action = string(cmd.Action)
	rec.Shares, _ = qty.Float64()
	rec.Price, _ = price.Float64()
	rec.TotalAmount, _ = total.Float64()
	rec.Success = true
	rec.APIRequest = res.RawRequest
	rec.APIResponse = res.RawResponse
	rec.LogInfo = logInfo
	t.record(ctx, rec)

	return engine.TradeResult{
		Success:          true,
		ExecutedPrice:    price,
		ExecutedQuantity: qty,
		TotalAmount:      total,
		TransactionID:    rec.ID,
	}
}

// executedPrice prefers the fill-weighted average, then the exchange's
// reported price, then the triggering tick as a last resort.
func executedPrice(res *exchange.OrderResult, cmd engine.TradeCommand) decimal.Decimal {
	if len(res.Fills) > 0 {
		totalQty := decimal.Zero
		totalCost := decimal.Zero
		for _, f := range res.Fills {
			totalQty = totalQty.Add(f.Quantity)
			totalCost = totalCost.Add(f.Price.Mul(f.Quantity))
		}
		if totalQty.GreaterThan(decimal.Zero) {
			return totalCost.Div(totalQty)
		}
	}
	if res.Price.GreaterThan(decimal.Zero) {
		return res.Price
	}
	return cmd.LastPrice
}

func (t *TradeExecutor) applyTrade(ctx context.Context, cmd engine.TradeCommand, price, qty decimal.Decimal) error {
	shares, _ := qty.Float64()
	cash, _ := price.Mul(qty).Float64()
	if cmd.Action == exchange.SideBuy {
		return t.store.ApplyTrade(ctx, cmd.Symbol, shares, -cash)
	}
	return t.store.ApplyTrade(ctx, cmd.Symbol, -shares, cash)
}

// fail persists a failed attempt with Action "error" and returns the
// matching result.
func (t *TradeExecutor) fail(ctx context.Context, cmd engine.TradeCommand, kind exchange.ErrorKind, cause error, rawReq, rawResp string) engine.TradeResult {
	rec := t.baseRecord(cmd)
	rec.Action = "error"
	rec.Shares, _ = cmd.Quantity.Float64()
	rec.Price, _ = cmd.LastPrice.Float64()
	rec.Success = false
	rec.ErrorKind = string(kind)
	rec.APIRequest = rawReq
	rec.APIResponse = rawResp
	rec.LogInfo = exchange.UserMessage(kind)
	t.record(ctx, rec)

	return engine.TradeResult{
		Success:       false,
		TransactionID: rec.ID,
		ErrorKind:     kind,
		Err:           cause,
	}
}

func (t *TradeExecutor) baseRecord(cmd engine.TradeCommand) *store.TransactionRecord {
	return &store.TransactionRecord{
		ID:        t.newID(),
		Symbol:    cmd.Symbol,
		CreatedAt: t.now(),
	}
}

// record writes the transaction with retries; the audit trail is the one
// thing that must not be dropped, so the last failure is loud.
func (t *TradeExecutor) record(ctx context.Context, rec *store.TransactionRecord) {
	err := t.recordTry.Do(ctx, func() error {
		return t.store.RecordTransaction(ctx, rec)
	})
	if err != nil {
		logger.Errorf("[executor] recording transaction %s for %s failed: %v", rec.ID, rec.Symbol, err)
	}
}
