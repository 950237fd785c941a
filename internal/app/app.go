package app

import (
	"context"
	"fmt"

	"tickerd/internal/analysis/indicator"
	"tickerd/internal/config"
	"tickerd/internal/engine"
	"tickerd/internal/guard"
	"tickerd/internal/logger"
	"tickerd/internal/market"
	"tickerd/internal/store"
	"tickerd/internal/stream"
	transporthttp "tickerd/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App owns the whole daemon: stream in, engine decisions out, HTTP on
// the side. Build wires it, Run drives it until the context dies.
type App struct {
	cfg     *config.Config
	store   store.Store
	guard   *guard.Guard
	engine  *engine.Engine
	conn    *stream.Conn
	series  *indicator.Series
	httpSrv *transporthttp.Server
}

// NewApp builds the application from config without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Engine exposes the decision engine (config hot-reload, tests).
func (a *App) Engine() *engine.Engine { return a.engine }

// Run starts the stream, the tick pipeline, and the HTTP server, then
// blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if err := a.conn.Connect(ctx); err != nil {
		return fmt.Errorf("starting stream failed: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.runPipeline(ctx)
	})

	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Run(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	err := group.Wait()
	a.shutdown()
	return err
}

// runPipeline is the single consumer of the stream: every message goes
// through the normalizer once, clean ticks feed the indicator window and
// the engine.
func (a *App) runPipeline(ctx context.Context) error {
	normalizer := market.NewNormalizer()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-a.conn.Messages():
			if !ok {
				return nil
			}
			tick, ok := normalizer.Normalize(msg)
			if !ok {
				continue
			}
			a.series.Observe(tick.Symbol, tick.Price, tick.Timestamp)
			a.engine.HandleTick(ctx, tick)
		}
	}
}

// ApplyConfig absorbs a hot-reloaded config. Only the log level and the
// trading kill switch take effect without a restart; everything else
// needs a process bounce and is deliberately ignored here.
func (a *App) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	logger.SetLevel(cfg.LogLevel)
	a.engine.SetEnabled(cfg.Trading.Enabled)
}

func (a *App) shutdown() {
	a.conn.Shutdown()
	a.engine.Shutdown()
	if err := a.store.Close(); err != nil {
		logger.Warnf("[app] closing store failed: %v", err)
	}
}
