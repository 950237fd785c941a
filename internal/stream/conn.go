package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"tickerd/internal/logger"
	"tickerd/internal/market"
	"tickerd/internal/pkg/retry"
	symbolpkg "tickerd/internal/pkg/symbol"

	"github.com/gorilla/websocket"
)

var (
	ErrClosed           = errors.New("stream: connection closed")
	ErrHeartbeatTimeout = errors.New("stream: heartbeat timeout")
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultHeartbeatTimeout  = 10 * time.Second
	defaultBuffer            = 512
	handshakeTimeout         = 10 * time.Second
	writeTimeout             = 5 * time.Second
)

type Config struct {
	Provider          string
	URL               string
	FallbackURL       string
	Symbols           []string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	Retry             retry.Policy
	Buffer            int
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Buffer <= 0 {
		c.Buffer = defaultBuffer
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = retry.DefaultPolicy()
	}
	return c
}

// Conn owns one provider websocket for its whole lifetime: dial,
// subscribe, heartbeat, reconnect with backoff, one-time endpoint
// fallback, shutdown. Raw provider frames come out of Messages() as
// dialect-resolved market.Message values; normalization happens
// downstream.
type Conn struct {
	cfg     Config
	dialect Dialect

	out chan market.Message

	mu            sync.Mutex
	state         ConnectionState
	symbols       []string
	attempts      int
	lastErr       error
	usingFallback bool
	fallbackUsed  bool
	started       bool
	cancel        context.CancelFunc

	writeMu sync.Mutex
	ws      *websocket.Conn

	reconnectCh chan struct{}
	wg          sync.WaitGroup
}

func NewConn(cfg Config) (*Conn, error) {
	final := cfg.withDefaults()
	dialect, err := ForProvider(final.Provider)
	if err != nil {
		return nil, err
	}
	symbols := symbolpkg.NormalizeList(final.Symbols)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("stream: no valid symbols for %s", final.Provider)
	}
	if final.URL == "" {
		return nil, fmt.Errorf("stream: missing endpoint for %s", final.Provider)
	}
	return &Conn{
		cfg:         final,
		dialect:     dialect,
		out:         make(chan market.Message, final.Buffer),
		state:       StateDisconnected,
		symbols:     symbols,
		reconnectCh: make(chan struct{}, 1),
	}, nil
}

func (c *Conn) Messages() <-chan market.Message { return c.out }

// Connect starts the connection loop. Calling it while a connect is in
// flight or the socket is already up is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateConnecting, StateConnected:
		return nil
	case StateClosed:
		return ErrClosed
	}
	if !c.started {
		c.started = true
		runCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		c.wg.Add(1)
		go c.run(runCtx)
	}
	return nil
}

// Reconnect short-circuits any pending backoff wait. No-op while a
// connect attempt is in progress or the socket is already up.
func (c *Conn) Reconnect() {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == StateConnecting || state == StateConnected {
		return
	}
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

// UpdateSymbols swaps the subscription in place while connected;
// while down the new set simply applies on the next connect.
func (c *Conn) UpdateSymbols(newSymbols []string) error {
	normalized := symbolpkg.NormalizeList(newSymbols)
	if len(normalized) == 0 {
		return fmt.Errorf("stream: no valid symbols")
	}
	c.mu.Lock()
	old := c.symbols
	c.symbols = normalized
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return nil
	}
	if msg, err := c.dialect.UnsubscribeMessage(old); err == nil && msg != nil {
		if err := c.writeMessage(msg); err != nil {
			return fmt.Errorf("unsubscribe failed: %w", err)
		}
	}
	msg, err := c.dialect.SubscribeMessage(normalized)
	if err != nil {
		return err
	}
	return c.writeMessage(msg)
}

// Shutdown unsubscribes best-effort, closes the socket, cancels every
// timer, and waits for the loop to drain. Terminal.
func (c *Conn) Shutdown() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	connected := c.state == StateConnected
	symbols := c.symbols
	started := c.started
	c.mu.Unlock()

	if connected {
		if msg, err := c.dialect.UnsubscribeMessage(symbols); err == nil && msg != nil {
			_ = c.writeMessage(msg)
		}
	}
	if cancel != nil {
		cancel()
	}
	c.closeSocket()
	if started {
		c.wg.Wait()
	}
	c.setState(StateClosed)
}

func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	endpoint := c.cfg.URL
	if c.usingFallback {
		endpoint = c.cfg.FallbackURL
	}
	st := Status{
		Provider:  c.cfg.Provider,
		State:     c.state,
		StateName: c.state.String(),
		Endpoint:  endpoint,
		Fallback:  c.usingFallback,
		Attempts:  c.attempts,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Conn) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.out)

	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return
		}
		c.setState(StateConnecting)

		ws, err := c.dial(ctx)
		if err == nil {
			err = c.open(ws)
		}
		if err != nil {
			attempt++
			c.noteError(err, attempt)
			if c.cfg.Retry.Exhausted(attempt) && c.switchToFallback() {
				attempt = 0
				continue
			}
			c.setState(StateReconnecting)
			if !c.waitBackoff(ctx, c.cfg.Retry.Delay(attempt)) {
				c.setState(StateClosed)
				return
			}
			continue
		}

		// Open resets the failure budget.
		attempt = 0
		c.noteError(nil, 0)
		c.setState(StateConnected)

		err = c.session(ctx, ws)
		c.closeSocket()
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return
		}
		attempt++
		c.noteError(err, attempt)
		c.setState(StateReconnecting)
		if !c.waitBackoff(ctx, c.cfg.Retry.Delay(attempt)) {
			c.setState(StateClosed)
			return
		}
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	raw := c.cfg.URL
	if c.usingFallback {
		raw = c.cfg.FallbackURL
	}
	c.mu.Unlock()

	endpoint, err := secureEndpoint(raw)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Provider, err)
	}
	return ws, nil
}

// open attaches the socket and sends the subscribe request for the
// current canonical symbol set. Any error closes the socket so no exit
// path leaks a half-open connection.
func (c *Conn) open(ws *websocket.Conn) error {
	c.writeMu.Lock()
	c.ws = ws
	c.writeMu.Unlock()

	c.mu.Lock()
	symbols := c.symbols
	c.mu.Unlock()

	msg, err := c.dialect.SubscribeMessage(symbols)
	if err == nil && msg != nil {
		err = c.writeMessage(msg)
	}
	if err != nil {
		c.closeSocket()
		return fmt.Errorf("subscribe %s: %w", c.cfg.Provider, err)
	}
	logger.Event("stream_subscribed", "provider", c.cfg.Provider, "symbols", symbols)
	return nil
}

// session pumps frames and heartbeats until something breaks. The read
// pump and the heartbeat schedule share errCh; the first failure wins
// and triggers a reconnect in run.
func (c *Conn) session(ctx context.Context, ws *websocket.Conn) error {
	errCh := make(chan error, 2)
	pongCh := make(chan struct{}, 1)

	ws.SetPongHandler(func(string) error {
		select {
		case pongCh <- struct{}{}:
		default:
		}
		return nil
	})
	ws.SetPingHandler(func(string) error {
		return ws.WriteControl(websocket.PongMessage, nil, time.Now().Add(writeTimeout))
	})

	go c.readLoop(ws, errCh, pongCh)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			if err := c.sendPing(ws); err != nil {
				return fmt.Errorf("ping send: %w", err)
			}
			if err := c.awaitPong(ctx, errCh, pongCh); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) awaitPong(ctx context.Context, errCh <-chan error, pongCh <-chan struct{}) error {
	timer := time.NewTimer(c.cfg.HeartbeatTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case <-pongCh:
			return nil
		case <-timer.C:
			logger.Warnf("[%s] no pong within %s, forcing reconnect", c.cfg.Provider, c.cfg.HeartbeatTimeout)
			return ErrHeartbeatTimeout
		}
	}
}

func (c *Conn) readLoop(ws *websocket.Conn, errCh chan<- error, pongCh chan<- struct{}) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}
		msg := c.dialect.Parse(raw)
		switch msg.Kind {
		case market.KindPong:
			select {
			case pongCh <- struct{}{}:
			default:
			}
		case market.KindProviderPing:
			if pong := c.dialect.PongMessage(); pong != nil {
				if err := c.writeMessage(pong); err != nil {
					logger.Warnf("[%s] pong reply failed: %v", c.cfg.Provider, err)
				}
			}
		case market.KindHeartbeat, market.KindSubscribeAck:
			// Keepalive and ack frames are recognized but never data.
		case market.KindUnrecognized:
			logger.Debugf("[%s] unrecognized frame: %.200s", c.cfg.Provider, string(raw))
		default:
			select {
			case c.out <- msg:
			default:
				logger.Warnf("[%s] message channel full, drop %s", c.cfg.Provider, msg.Symbol)
			}
		}
	}
}

func (c *Conn) sendPing(ws *websocket.Conn) error {
	if ping := c.dialect.PingMessage(); ping != nil {
		return c.writeMessage(ping)
	}
	return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *Conn) writeMessage(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return ErrClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) closeSocket() {
	c.writeMu.Lock()
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.writeMu.Unlock()
}

// switchToFallback flips to the fallback endpoint exactly once per
// process. Heartbeat loss never resets endpoint choice; only attempt
// exhaustion gets here.
func (c *Conn) switchToFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fallbackUsed || c.cfg.FallbackURL == "" {
		return false
	}
	c.fallbackUsed = true
	c.usingFallback = true
	logger.Warnf("[%s] attempts exhausted, switching to fallback endpoint %s", c.cfg.Provider, c.cfg.FallbackURL)
	return true
}

func (c *Conn) waitBackoff(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.reconnectCh:
		return true
	case <-timer.C:
		return true
	}
}

func (c *Conn) setState(next ConnectionState) {
	c.mu.Lock()
	prev := c.state
	if prev == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()
	if prev != next {
		logger.Event("stream_state", "provider", c.cfg.Provider, "from", prev.String(), "to", next.String())
	}
}

func (c *Conn) noteError(err error, attempt int) {
	c.mu.Lock()
	c.lastErr = err
	c.attempts = attempt
	c.mu.Unlock()
	if err != nil {
		logger.Warnf("[%s] connection error (attempt %d): %v", c.cfg.Provider, attempt, err)
	}
}

// secureEndpoint upgrades insecure schemes to wss and appends a
// cache-busting token. Loopback hosts stay plain ws so local test
// servers work.
func secureEndpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "wss":
	case "ws", "http":
		if !isLoopback(u.Hostname()) {
			u.Scheme = "wss"
		} else {
			u.Scheme = "ws"
		}
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("cb", strconv.FormatInt(time.Now().UnixNano(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
