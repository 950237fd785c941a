package guard

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen = errors.New("guard: circuit open")
	ErrRateLimited = errors.New("guard: rate limit exceeded")
)

// Config tunes the guard. Zero values fall back to defaults.
type Config struct {
	RateLimit       int           // max requests per window
	RateWindow      time.Duration // sliding window size
	BreakerLimit    int           // consecutive errors before the circuit opens
	BreakerCooldown time.Duration // open duration before a trial call
	ErrorWindow     time.Duration // streak staleness window
	CacheTTL        time.Duration
}

func (c Config) withDefaults() Config {
	if c.RateLimit <= 0 {
		c.RateLimit = 30
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.BreakerLimit <= 0 {
		c.BreakerLimit = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = time.Minute
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = 5 * time.Minute
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Second
	}
	return c
}

// BreakerState is the read-only view served to the dashboard.
type BreakerState struct {
	Open               bool      `json:"open"`
	ConsecutiveErrors  int       `json:"consecutiveErrors"`
	OpenedAt           time.Time `json:"openedAt"`
	PartialDegradation bool      `json:"partialDegradation"`
}

// Guard fronts every persistence/exchange call shared by the engine and
// executor: sliding-window rate limiting, circuit breaking, and a short
// TTL response cache for degraded periods. One instance per process,
// injected, never a package global, so tests can build their own.
type Guard struct {
	cfg     Config
	breaker *CircuitBreaker
	cache   *responseCache

	mu       sync.Mutex
	requests []time.Time
}

func New(cfg Config) *Guard {
	final := cfg.withDefaults()
	return &Guard{
		cfg:     final,
		breaker: NewCircuitBreaker("downstream", final.BreakerLimit, final.BreakerCooldown, final.ErrorWindow),
		cache:   newResponseCache(final.CacheTTL),
	}
}

// ShouldAllowRequest gates a downstream call. ErrCircuitOpen and
// ErrRateLimited are the only errors returned; callers match on them.
func (g *Guard) ShouldAllowRequest() error {
	if !g.breaker.Allow() {
		return ErrCircuitOpen
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked(time.Now())
	if len(g.requests) >= g.cfg.RateLimit {
		return ErrRateLimited
	}
	return nil
}

func (g *Guard) RecordRequest() {
	now := time.Now()
	g.mu.Lock()
	g.pruneLocked(now)
	g.requests = append(g.requests, now)
	g.mu.Unlock()
}

func (g *Guard) RecordError() {
	g.breaker.RecordFailure()
}

func (g *Guard) RecordSuccess() {
	g.breaker.RecordSuccess()
}

// BackoffDelay tells a rejected caller how long to wait before retrying:
// the remaining cooldown when the circuit is open, otherwise the time
// until the oldest windowed request expires.
func (g *Guard) BackoffDelay() time.Duration {
	state, _, openedAt := g.breaker.Snapshot()
	if state == StateOpen {
		remain := g.cfg.BreakerCooldown - time.Since(openedAt)
		if remain < 0 {
			remain = 0
		}
		return remain
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked(time.Now())
	if len(g.requests) < g.cfg.RateLimit || len(g.requests) == 0 {
		return 0
	}
	remain := g.cfg.RateWindow - time.Since(g.requests[0])
	if remain < 0 {
		remain = 0
	}
	return remain
}

// Degraded reports partial degradation; callers should serve from cache
// when possible instead of hitting the live dependency.
func (g *Guard) Degraded() bool {
	return g.breaker.Degraded()
}

func (g *Guard) CacheGet(key string) (any, bool) {
	return g.cache.Get(key)
}

func (g *Guard) CacheSet(key string, value any) {
	g.cache.Set(key, value)
}

func (g *Guard) State() BreakerState {
	state, failures, openedAt := g.breaker.Snapshot()
	return BreakerState{
		Open:               state == StateOpen,
		ConsecutiveErrors:  failures,
		OpenedAt:           openedAt,
		PartialDegradation: g.breaker.Degraded(),
	}
}

func (g *Guard) SetStateChangeHandler(handler func(name string, from, to State)) {
	g.breaker.SetStateChangeHandler(handler)
}

func (g *Guard) pruneLocked(now time.Time) {
	cutoff := now.Add(-g.cfg.RateWindow)
	idx := 0
	for idx < len(g.requests) && g.requests[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		g.requests = g.requests[idx:]
	}
}
