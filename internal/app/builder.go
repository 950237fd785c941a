package app

import (
	"context"
	"fmt"
	"time"

	"tickerd/internal/analysis/indicator"
	"tickerd/internal/config"
	"tickerd/internal/engine"
	"tickerd/internal/exchange"
	"tickerd/internal/executor"
	"tickerd/internal/guard"
	"tickerd/internal/logger"
	"tickerd/internal/pkg/retry"
	"tickerd/internal/store"
	"tickerd/internal/store/sqlite"
	"tickerd/internal/stream"
	transporthttp "tickerd/internal/transport/http"
)

// AppBuilder assembles the daemon from config. Override hooks let tests
// slot in fakes for the store, exchange, and stream without touching the
// wiring itself.
type AppBuilder struct {
	cfg *config.Config

	storeOverride    store.Store
	exchangeOverride exchange.Exchange
	executorOverride engine.Executor
	connOverride     *stream.Conn
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		if st != nil {
			b.storeOverride = st
		}
	}
}

func WithExchange(ex exchange.Exchange) AppBuilderOption {
	return func(b *AppBuilder) {
		if ex != nil {
			b.exchangeOverride = ex
		}
	}
}

func WithExecutor(exec engine.Executor) AppBuilderOption {
	return func(b *AppBuilder) {
		if exec != nil {
			b.executorOverride = exec
		}
	}
}

func WithConn(conn *stream.Conn) AppBuilderOption {
	return func(b *AppBuilder) {
		if conn != nil {
			b.connOverride = conn
		}
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.LogLevel)

	st, err := b.resolveStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := applySeed(ctx, cfg, st); err != nil {
		st.Close()
		return nil, err
	}

	g := guard.New(guard.Config{
		RateLimit:       cfg.Guard.RateLimit,
		RateWindow:      time.Duration(cfg.Guard.RateWindowSec) * time.Second,
		BreakerLimit:    cfg.Guard.BreakerLimit,
		BreakerCooldown: time.Duration(cfg.Guard.BreakerCooldownSec) * time.Second,
		ErrorWindow:     time.Duration(cfg.Guard.ErrorWindowSec) * time.Second,
		CacheTTL:        time.Duration(cfg.Guard.CacheTTLSec) * time.Second,
	})
	g.SetStateChangeHandler(func(name string, from, to guard.State) {
		logger.Event("breaker_state", "breaker", name, "from", from.String(), "to", to.String())
	})

	exec := b.executorOverride
	if exec == nil {
		ex, err := b.resolveExchange(cfg)
		if err != nil {
			st.Close()
			return nil, err
		}
		exec = executor.New(ex, st, g, cfg.Trading.TestMode)
	}

	eng := engine.New(st, exec, g, cfg.Trading.Enabled)

	conn := b.connOverride
	if conn == nil {
		conn, err = stream.NewConn(stream.Config{
			Provider:          cfg.Stream.Provider,
			URL:               cfg.Stream.URL,
			FallbackURL:       cfg.Stream.FallbackURL,
			Symbols:           cfg.Trading.Symbols,
			HeartbeatInterval: time.Duration(cfg.Stream.HeartbeatIntervalSec) * time.Second,
			HeartbeatTimeout:  time.Duration(cfg.Stream.HeartbeatTimeoutSec) * time.Second,
			Buffer:            cfg.Stream.BufferSize,
			Retry: retry.Policy{
				MaxAttempts: cfg.Stream.Retry.MaxAttempts,
				Base:        time.Duration(cfg.Stream.Retry.BaseDelaySec) * time.Second,
				Cap:         time.Duration(cfg.Stream.Retry.MaxDelaySec) * time.Second,
			},
		})
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	series := indicator.NewSeries(0)

	var httpSrv *transporthttp.Server
	if cfg.HTTP.Enabled {
		httpSrv = transporthttp.NewServer(cfg.HTTP.Listen, st, eng, g, conn, series)
	}

	return &App{
		cfg:     cfg,
		store:   st,
		guard:   g,
		engine:  eng,
		conn:    conn,
		series:  series,
		httpSrv: httpSrv,
	}, nil
}

func (b *AppBuilder) resolveStore(cfg *config.Config) (store.Store, error) {
	if b.storeOverride != nil {
		return b.storeOverride, nil
	}
	st, err := sqlite.NewSqliteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store failed: %w", err)
	}
	return st, nil
}

func (b *AppBuilder) resolveExchange(cfg *config.Config) (exchange.Exchange, error) {
	if b.exchangeOverride != nil {
		return b.exchangeOverride, nil
	}
	switch cfg.Exchange.Name {
	case "kraken":
		return exchange.NewKraken(exchange.KrakenConfig{
			APIKey:    cfg.Exchange.APIKey,
			APISecret: cfg.Exchange.APISecret,
			BaseURL:   cfg.Exchange.BaseURL,
		}), nil
	case "binance":
		return exchange.NewBinance(exchange.BinanceConfig{
			APIKey:    cfg.Exchange.APIKey,
			APISecret: cfg.Exchange.APISecret,
			BaseURL:   cfg.Exchange.BaseURL,
		}), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q", cfg.Exchange.Name)
	}
}

// applySeed fills in anything the store does not have yet: the opening
// cash balance (seed file value, else store.initial_cash_usd from the
// config) and any per-symbol settings the seed file carries. Existing
// data always wins.
func applySeed(ctx context.Context, cfg *config.Config, st store.Store) error {
	var seed *config.Seed
	if cfg.Trading.SeedFile != "" {
		loaded, err := config.LoadSeed(cfg.Trading.SeedFile)
		if err != nil {
			return fmt.Errorf("loading seed file failed: %w", err)
		}
		seed = loaded
	}

	initialCash := cfg.Store.InitialCashUSD
	if seed != nil && seed.InitialCashUSD > 0 {
		initialCash = seed.InitialCashUSD
	}
	if initialCash > 0 {
		cash, err := st.CashBalance(ctx)
		if err != nil {
			return err
		}
		if cash == 0 {
			if err := st.SetCashBalance(ctx, initialCash); err != nil {
				return err
			}
			logger.Infof("[app] seeded cash balance: %.2f USD", initialCash)
		}
	}
	if seed == nil {
		return nil
	}
	seeded := 0
	for i := range seed.Settings {
		entry := seed.Settings[i]
		existing, err := st.SettingsFor(ctx, entry.Symbol)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		entry.UpdatedAt = time.Now()
		if err := st.SaveSettings(ctx, &entry); err != nil {
			return err
		}
		seeded++
	}
	if seeded > 0 {
		logger.Infof("[app] seeded settings for %d symbols", seeded)
	}
	return nil
}
