package config

import (
	"fmt"
	"os"

	"tickerd/internal/pkg/symbol"
	"tickerd/internal/store"

	"gopkg.in/yaml.v3"
)

// Seed is the optional first-start fixture: an opening cash balance plus
// per-symbol trade settings. Applied only for symbols that have no
// stored settings yet.
type Seed struct {
	InitialCashUSD float64
	Settings       []store.AutoTradeSettings
}

type seedFile struct {
	InitialCashUSD float64       `yaml:"initial_cash_usd"`
	Settings       []seedSetting `yaml:"settings"`
}

type seedSetting struct {
	Symbol               string  `yaml:"symbol"`
	Enabled              bool    `yaml:"enabled"`
	BuyThresholdPercent  float64 `yaml:"buy_threshold_percent"`
	SellThresholdPercent float64 `yaml:"sell_threshold_percent"`
	NextAction           string  `yaml:"next_action"`
	ContinuousTrading    bool    `yaml:"continuous_trading"`
	OneShotBuy           bool    `yaml:"one_shot_buy"`
	OneShotSell          bool    `yaml:"one_shot_sell"`
	SizingMode           string  `yaml:"sizing_mode"`
	SizingShares         float64 `yaml:"sizing_shares"`
	SizingValueUSD       float64 `yaml:"sizing_value_usd"`
	ReferencePrice       float64 `yaml:"reference_price"`
}

// LoadSeed parses and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw seedFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing seed file failed (%s): %w", path, err)
	}
	if raw.InitialCashUSD < 0 {
		return nil, fmt.Errorf("seed initial_cash_usd cannot be negative")
	}
	out := &Seed{InitialCashUSD: raw.InitialCashUSD}
	for i, entry := range raw.Settings {
		norm := symbol.Normalize(entry.Symbol)
		if norm == "" {
			return nil, fmt.Errorf("seed settings[%d]: %q is not a valid pair", i, entry.Symbol)
		}
		next := entry.NextAction
		if next == "" {
			next = store.ActionBuy
		}
		if next != store.ActionBuy && next != store.ActionSell {
			return nil, fmt.Errorf("seed settings[%d]: next_action must be buy or sell", i)
		}
		mode := entry.SizingMode
		if mode == "" {
			mode = store.SizingShares
		}
		if mode != store.SizingShares && mode != store.SizingValue {
			return nil, fmt.Errorf("seed settings[%d]: sizing_mode must be shares or value", i)
		}
		out.Settings = append(out.Settings, store.AutoTradeSettings{
			Symbol:               norm,
			Enabled:              entry.Enabled,
			BuyThresholdPercent:  entry.BuyThresholdPercent,
			SellThresholdPercent: entry.SellThresholdPercent,
			NextAction:           next,
			ContinuousTrading:    entry.ContinuousTrading,
			OneShotBuy:           entry.OneShotBuy,
			OneShotSell:          entry.OneShotSell,
			SizingMode:           mode,
			SizingShares:         entry.SizingShares,
			SizingValueUSD:       entry.SizingValueUSD,
			ReferencePrice:       entry.ReferencePrice,
		})
	}
	return out, nil
}
