package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"tickerd/internal/pkg/symbol"
	"tickerd/internal/stream"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func validate(cfg *Config) error {
	if _, err := stream.ForProvider(cfg.Stream.Provider); err != nil {
		return fmt.Errorf("config stream.provider: %w", err)
	}
	if len(cfg.Trading.Symbols) == 0 {
		return fmt.Errorf("config trading.symbols cannot be empty")
	}
	for _, s := range cfg.Trading.Symbols {
		if !symbol.IsValid(s) {
			return fmt.Errorf("config trading.symbols: %q is not a valid pair", s)
		}
	}
	switch cfg.Exchange.Name {
	case "kraken", "binance":
	default:
		return fmt.Errorf("config exchange.name must be kraken or binance, got %q", cfg.Exchange.Name)
	}
	if cfg.Store.InitialCashUSD < 0 {
		return fmt.Errorf("config store.initial_cash_usd cannot be negative")
	}
	return nil
}

// settingsSchema validates externally supplied auto-trade settings
// payloads (HTTP PUT, seed files) before they reach the store.
const settingsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["symbol"],
  "properties": {
    "symbol": {"type": "string", "minLength": 3},
    "enabled": {"type": "boolean"},
    "buyThresholdPercent": {"type": "number", "minimum": 0, "maximum": 100},
    "sellThresholdPercent": {"type": "number", "minimum": 0, "maximum": 1000},
    "nextAction": {"enum": ["buy", "sell"]},
    "continuousTrading": {"type": "boolean"},
    "oneShotBuy": {"type": "boolean"},
    "oneShotSell": {"type": "boolean"},
    "sizingMode": {"enum": ["shares", "value"]},
    "sizingShares": {"type": "number", "minimum": 0},
    "sizingValueUsd": {"type": "number", "minimum": 0},
    "referencePrice": {"type": "number", "minimum": 0},
    "lastBuyPrice": {"type": "number", "minimum": 0},
    "updatedAt": {"type": "string"}
  },
  "additionalProperties": false
}`

var compiledSettingsSchema = jsonschema.MustCompileString("settings.schema.json", settingsSchema)

// ValidateSettingsPayload checks a raw JSON settings document against
// the schema. The error text is already user-presentable.
func ValidateSettingsPayload(raw []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("settings payload is not valid JSON: %w", err)
	}
	if err := compiledSettingsSchema.Validate(doc); err != nil {
		return fmt.Errorf("settings payload rejected: %w", err)
	}
	return nil
}
