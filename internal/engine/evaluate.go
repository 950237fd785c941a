package engine

import (
	"tickerd/internal/exchange"
	"tickerd/internal/store"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

const quantityScale = 8

// decision is what one evaluation produces: fire or don't.
type decision struct {
	fire     bool
	action   exchange.Side
	quantity decimal.Decimal
}

// evaluate applies the threshold rules to one tick. held is the current
// share count, only consulted for sells. A zero or missing reference
// price skips the evaluation instead of dividing into garbage.
func evaluate(settings *store.AutoTradeSettings, price decimal.Decimal, held decimal.Decimal) decision {
	if settings == nil || !settings.Enabled {
		return decision{}
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decision{}
	}

	switch settings.NextAction {
	case store.ActionBuy:
		ref := decimal.NewFromFloat(settings.ReferencePrice)
		if ref.LessThanOrEqual(decimal.Zero) {
			return decision{}
		}
		threshold := decimal.NewFromFloat(settings.BuyThresholdPercent).Div(hundred)
		trigger := ref.Mul(one.Sub(threshold))
		if price.LessThanOrEqual(trigger) {
			qty := buyQuantity(settings, price)
			if qty.GreaterThan(decimal.Zero) {
				return decision{fire: true, action: exchange.SideBuy, quantity: qty}
			}
		}
	case store.ActionSell:
		last := decimal.NewFromFloat(settings.LastBuyPrice)
		if last.LessThanOrEqual(decimal.Zero) {
			return decision{}
		}
		threshold := decimal.NewFromFloat(settings.SellThresholdPercent).Div(hundred)
		trigger := last.Mul(one.Add(threshold))
		if price.GreaterThanOrEqual(trigger) {
			qty := sellQuantity(settings, price, held)
			if qty.GreaterThan(decimal.Zero) {
				return decision{fire: true, action: exchange.SideSell, quantity: qty}
			}
		}
	}
	return decision{}
}

func buyQuantity(settings *store.AutoTradeSettings, price decimal.Decimal) decimal.Decimal {
	switch settings.SizingMode {
	case store.SizingValue:
		usd := decimal.NewFromFloat(settings.SizingValueUSD)
		if usd.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero
		}
		return usd.Div(price).Round(quantityScale)
	default:
		return decimal.NewFromFloat(settings.SizingShares).Round(quantityScale)
	}
}

// sellQuantity sells the held amount by default; value or share sizing
// caps it to a partial exit, never above what is actually held.
func sellQuantity(settings *store.AutoTradeSettings, price decimal.Decimal, held decimal.Decimal) decimal.Decimal {
	if held.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	switch settings.SizingMode {
	case store.SizingValue:
		usd := decimal.NewFromFloat(settings.SizingValueUSD)
		if usd.LessThanOrEqual(decimal.Zero) {
			return held
		}
		qty := usd.Div(price).Round(quantityScale)
		return decimal.Min(held, qty)
	case store.SizingShares:
		qty := decimal.NewFromFloat(settings.SizingShares)
		if qty.LessThanOrEqual(decimal.Zero) {
			return held
		}
		return decimal.Min(held, qty)
	default:
		return held
	}
}
