package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tickerd/internal/exchange"
	"tickerd/internal/guard"
	"tickerd/internal/logger"
	"tickerd/internal/market"
	"tickerd/internal/pkg/retry"
	"tickerd/internal/store"

	"github.com/shopspring/decimal"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseEvaluating
	PhaseBuying
	PhaseSelling
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseBuying:
		return "buying"
	case PhaseSelling:
		return "selling"
	default:
		return "unknown"
	}
}

// symbolState serializes everything for one symbol: evaluation, command
// emission, and the post-trade settings update all run under mu, so a
// tick can never read settings mid-update.
type symbolState struct {
	mu       sync.Mutex
	phase    Phase
	inFlight bool
	settings *store.AutoTradeSettings
	loaded   bool
}

// Engine is the per-symbol trade decision state machine. Ticks drive it
// entirely; there is no polling. Different symbols evaluate concurrently,
// one in-flight command per symbol, never two.
type Engine struct {
	store    store.Store
	executor Executor
	guard    *guard.Guard
	saveTry  retry.Policy

	enabled     atomic.Bool
	execTimeout time.Duration

	mu      sync.Mutex
	symbols map[string]*symbolState
	wg      sync.WaitGroup
}

func New(st store.Store, exec Executor, g *guard.Guard, globallyEnabled bool) *Engine {
	e := &Engine{
		store:       st,
		executor:    exec,
		guard:       g,
		saveTry:     retry.Policy{MaxAttempts: 3, Base: 200 * time.Millisecond, Cap: 2 * time.Second},
		execTimeout: 30 * time.Second,
		symbols:     make(map[string]*symbolState),
	}
	e.enabled.Store(globallyEnabled)
	return e
}

// SetEnabled flips the global kill switch (config hot-reload path).
func (e *Engine) SetEnabled(on bool) {
	prev := e.enabled.Swap(on)
	if prev != on {
		logger.Event("engine_enabled", "enabled", on)
	}
}

func (e *Engine) Enabled() bool { return e.enabled.Load() }

// InvalidateSettings drops the cached settings for a symbol so the next
// tick reloads them (used after external settings edits).
func (e *Engine) InvalidateSettings(symbol string) {
	st := e.stateFor(symbol)
	st.mu.Lock()
	st.loaded = false
	st.settings = nil
	st.mu.Unlock()
}

// HandleTick evaluates one tick. Returns true when a command was
// emitted; the in-flight guard makes a second concurrent emission for
// the same symbol impossible.
func (e *Engine) HandleTick(ctx context.Context, tick market.PriceTick) bool {
	if !e.enabled.Load() {
		return false
	}
	st := e.stateFor(tick.Symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.loaded {
		st.settings = e.loadSettings(ctx, tick.Symbol)
		st.loaded = true
	}
	settings := st.settings
	if settings == nil || !settings.Enabled {
		return false
	}

	price := decimal.NewFromFloat(tick.Price)
	held := decimal.Zero
	if settings.NextAction == store.ActionSell {
		held = e.heldShares(ctx, tick.Symbol)
	}

	if st.inFlight {
		// Still evaluated for observability, but a symbol with a pending
		// command cannot emit another one.
		if dec := evaluate(settings, price, held); dec.fire {
			logger.Debugf("[engine] %s trigger while %s in flight, suppressed", tick.Symbol, st.phase)
		}
		return false
	}

	st.phase = PhaseEvaluating
	dec := evaluate(settings, price, held)
	if !dec.fire {
		st.phase = PhaseIdle
		return false
	}

	now := time.Now()
	cmd := TradeCommand{
		Symbol:         tick.Symbol,
		Action:         dec.action,
		Quantity:       dec.quantity,
		OrderType:      exchange.OrderTypeMarket,
		LastPrice:      price,
		IdempotencyKey: NewIdempotencyKey(tick.Symbol, dec.action, now),
		CreatedAt:      now,
	}

	if dec.action == exchange.SideBuy {
		st.phase = PhaseBuying
	} else {
		st.phase = PhaseSelling
	}
	st.inFlight = true
	logger.Infof("[engine] %s %s trigger at %s qty=%s", tick.Symbol, dec.action, price, dec.quantity)

	e.wg.Add(1)
	go e.dispatch(ctx, st, cmd)
	return true
}

// dispatch runs the executor off the tick path and applies the outcome
// under the symbol lock. A failed trade leaves nextAction untouched so
// the same trigger fires again on a later tick.
func (e *Engine) dispatch(ctx context.Context, st *symbolState, cmd TradeCommand) {
	defer e.wg.Done()

	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.execTimeout)
	defer cancel()
	res := e.executor.Execute(execCtx, cmd)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.inFlight = false
	st.phase = PhaseIdle

	if !res.Success {
		logger.Warnf("[engine] %s %s failed (%s): %v", cmd.Symbol, cmd.Action, res.ErrorKind, res.Err)
		return
	}
	e.applyOutcome(execCtx, st, cmd, res)
}

// applyOutcome flips nextAction exactly once per successful trade and
// persists the updated settings. Caller holds st.mu.
func (e *Engine) applyOutcome(ctx context.Context, st *symbolState, cmd TradeCommand, res TradeResult) {
	settings := st.settings
	if settings == nil {
		return
	}
	executed, _ := res.ExecutedPrice.Float64()

	if cmd.Action == exchange.SideBuy {
		settings.LastBuyPrice = executed
		settings.NextAction = store.ActionSell
		if settings.OneShotBuy && !settings.ContinuousTrading {
			settings.Enabled = false
		}
	} else {
		settings.LastBuyPrice = 0
		settings.NextAction = store.ActionBuy
		if executed > 0 {
			// The sell price becomes the anchor the next buy dip is
			// measured against.
			settings.ReferencePrice = executed
		}
		if settings.OneShotSell && !settings.ContinuousTrading {
			settings.Enabled = false
		}
	}
	settings.UpdatedAt = time.Now()

	if err := e.saveSettings(ctx, settings); err != nil {
		logger.Errorf("[engine] persisting settings for %s failed: %v", cmd.Symbol, err)
	}
	logger.Infof("[engine] %s %s complete tx=%s price=%s next=%s enabled=%v",
		cmd.Symbol, cmd.Action, res.TransactionID, res.ExecutedPrice, settings.NextAction, settings.Enabled)
}

// Shutdown waits for in-flight executions; their results are recorded
// before the process exits, never dropped.
func (e *Engine) Shutdown() {
	e.wg.Wait()
}

// Snapshot reports per-symbol phases for the dashboard.
func (e *Engine) Snapshot() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.symbols))
	for sym, st := range e.symbols {
		st.mu.Lock()
		out[sym] = st.phase.String()
		st.mu.Unlock()
	}
	return out
}

func (e *Engine) stateFor(symbol string) *symbolState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.symbols[symbol]
	if !ok {
		st = &symbolState{phase: PhaseIdle}
		e.symbols[symbol] = st
	}
	return st
}

func (e *Engine) loadSettings(ctx context.Context, symbol string) *store.AutoTradeSettings {
	cacheKey := "settings:" + symbol
	if e.guard != nil {
		if err := e.guard.ShouldAllowRequest(); err != nil {
			if cached, ok := e.guard.CacheGet(cacheKey); ok {
				return cached.(*store.AutoTradeSettings)
			}
			logger.Warnf("[engine] settings read for %s rejected: %v", symbol, err)
			return nil
		}
		e.guard.RecordRequest()
		if e.guard.Degraded() {
			if cached, ok := e.guard.CacheGet(cacheKey); ok {
				return cached.(*store.AutoTradeSettings)
			}
		}
	}
	settings, err := e.store.SettingsFor(ctx, symbol)
	if err != nil {
		if e.guard != nil {
			e.guard.RecordError()
			if cached, ok := e.guard.CacheGet(cacheKey); ok {
				return cached.(*store.AutoTradeSettings)
			}
		}
		logger.Warnf("[engine] settings load for %s failed: %v", symbol, err)
		return nil
	}
	if e.guard != nil {
		e.guard.RecordSuccess()
		if settings != nil {
			e.guard.CacheSet(cacheKey, settings)
		}
	}
	// Missing settings evaluate as disabled, never as an error.
	return settings
}

func (e *Engine) saveSettings(ctx context.Context, settings *store.AutoTradeSettings) error {
	err := e.saveTry.Do(ctx, func() error {
		if e.guard != nil {
			if err := e.guard.ShouldAllowRequest(); err != nil {
				return err
			}
			e.guard.RecordRequest()
		}
		saveErr := e.store.SaveSettings(ctx, settings)
		if e.guard != nil {
			if saveErr != nil {
				e.guard.RecordError()
			} else {
				e.guard.RecordSuccess()
				e.guard.CacheSet("settings:"+settings.Symbol, settings)
			}
		}
		return saveErr
	})
	return err
}

// heldShares reads the position behind the guard like every other
// persistence call; a rejected read evaluates as zero held, so sells
// stay quiet while the breaker is open.
func (e *Engine) heldShares(ctx context.Context, symbol string) decimal.Decimal {
	if e.guard != nil {
		if err := e.guard.ShouldAllowRequest(); err != nil {
			logger.Warnf("[engine] holding read for %s rejected: %v", symbol, err)
			return decimal.Zero
		}
		e.guard.RecordRequest()
	}
	shares, err := e.store.Holding(ctx, symbol)
	if err != nil {
		if e.guard != nil {
			e.guard.RecordError()
		}
		logger.Warnf("[engine] holding read for %s failed: %v", symbol, err)
		return decimal.Zero
	}
	if e.guard != nil {
		e.guard.RecordSuccess()
	}
	return decimal.NewFromFloat(shares)
}
