package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tickerd/internal/market"
	"tickerd/internal/pkg/retry"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

// newWSServer runs handler once per websocket connection. The returned
// URL is ws:// on loopback so secureEndpoint leaves it dialable.
func newWSServer(t *testing.T, handler func(conn int32, ws *websocket.Conn)) (string, *int32) {
	t.Helper()
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(atomic.AddInt32(&conns, 1), ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &conns
}

func testConfig(url string) Config {
	return Config{
		Provider:          "kraken",
		URL:               url,
		Symbols:           []string{"BTC/USD"},
		HeartbeatInterval: time.Minute,
		HeartbeatTimeout:  time.Minute,
		Retry:             retry.Policy{MaxAttempts: 5, Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond},
	}
}

func recvTick(t *testing.T, c *Conn) market.Message {
	t.Helper()
	select {
	case msg := <-c.Messages():
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no message within deadline")
		return market.Message{}
	}
}

// echoPings replies to application-level pings so long sessions survive.
func echoPings(ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if strings.Contains(string(raw), `"ping"`) {
			_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"method":"pong"}`))
		}
	}
}

const tickerFrame = `{"channel":"ticker","type":"update","data":[{"symbol":"BTC/USD","last":97000.5}]}`

func TestConnSubscribesAndDeliversTicks(t *testing.T) {
	subscribed := make(chan string, 1)
	url, _ := newWSServer(t, func(_ int32, ws *websocket.Conn) {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(raw)
		_ = ws.WriteMessage(websocket.TextMessage, []byte(tickerFrame))
		echoPings(ws)
	})

	c, err := NewConn(testConfig(url))
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Shutdown()

	select {
	case sub := <-subscribed:
		assert.Contains(t, sub, `"subscribe"`)
		assert.Contains(t, sub, "BTC/USD")
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw a subscribe")
	}

	msg := recvTick(t, c)
	assert.Equal(t, market.KindTicker, msg.Kind)
	assert.Equal(t, "BTC/USD", msg.Symbol)
	assert.Equal(t, 97000.5, msg.Price)

	assert.Equal(t, StateConnected, c.Status().State)
}

func TestConnHeartbeatTimeoutForcesReconnect(t *testing.T) {
	url, conns := newWSServer(t, func(conn int32, ws *websocket.Conn) {
		_, _, err := ws.ReadMessage() // subscribe
		if err != nil {
			return
		}
		if conn == 1 {
			// Swallow everything, including pings; the client must give
			// up on its own heartbeat schedule.
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}
		_ = ws.WriteMessage(websocket.TextMessage, []byte(tickerFrame))
		echoPings(ws)
	})

	cfg := testConfig(url)
	cfg.HeartbeatInterval = 40 * time.Millisecond
	cfg.HeartbeatTimeout = 40 * time.Millisecond
	c, err := NewConn(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Shutdown()

	// The tick only exists on the second connection, so receiving it
	// proves the silent session was torn down and resubscribed.
	msg := recvTick(t, c)
	assert.Equal(t, market.KindTicker, msg.Kind)
	assert.GreaterOrEqual(t, atomic.LoadInt32(conns), int32(2))

	status := c.Status()
	assert.False(t, status.Fallback, "heartbeat loss must not switch endpoints")
}

func TestConnFallbackAfterExhaustion(t *testing.T) {
	fallbackURL, conns := newWSServer(t, func(_ int32, ws *websocket.Conn) {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		_ = ws.WriteMessage(websocket.TextMessage, []byte(tickerFrame))
		echoPings(ws)
	})

	cfg := testConfig("ws://127.0.0.1:1") // nothing listens here
	cfg.FallbackURL = fallbackURL
	cfg.Retry = retry.Policy{MaxAttempts: 2, Base: 5 * time.Millisecond, Cap: 10 * time.Millisecond}
	c, err := NewConn(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Shutdown()

	msg := recvTick(t, c)
	assert.Equal(t, market.KindTicker, msg.Kind)

	status := c.Status()
	assert.True(t, status.Fallback)
	assert.Equal(t, fallbackURL, status.Endpoint)
	assert.Equal(t, int32(1), atomic.LoadInt32(conns), "fallback reached on the first switched dial")
}

func TestConnReconnectSkipsBackoff(t *testing.T) {
	url, _ := newWSServer(t, func(conn int32, ws *websocket.Conn) {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		if conn == 1 {
			return // immediate close, client enters backoff
		}
		_ = ws.WriteMessage(websocket.TextMessage, []byte(tickerFrame))
		echoPings(ws)
	})

	cfg := testConfig(url)
	// Long enough that only an explicit Reconnect can beat the deadline.
	cfg.Retry = retry.Policy{MaxAttempts: 5, Base: 30 * time.Second, Cap: 30 * time.Second}
	c, err := NewConn(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Shutdown()

	// Give the first session a moment to fail, then short-circuit.
	time.Sleep(100 * time.Millisecond)
	c.Reconnect()

	msg := recvTick(t, c)
	assert.Equal(t, market.KindTicker, msg.Kind)
}

func TestConnUpdateSymbolsInPlace(t *testing.T) {
	frames := make(chan string, 8)
	url, _ := newWSServer(t, func(_ int32, ws *websocket.Conn) {
		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(raw)
		}
	})

	c, err := NewConn(testConfig(url))
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Shutdown()

	readFrame := func() string {
		select {
		case f := <-frames:
			return f
		case <-time.After(3 * time.Second):
			t.Fatal("no frame within deadline")
			return ""
		}
	}

	first := readFrame()
	assert.Contains(t, first, `"subscribe"`)

	// Wait for the connected state before swapping.
	require.Eventually(t, func() bool {
		return c.Status().State == StateConnected
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, c.UpdateSymbols([]string{"ETH/USD"}))

	unsub := readFrame()
	assert.Contains(t, unsub, `"unsubscribe"`)
	assert.Contains(t, unsub, "BTC/USD")

	resub := readFrame()
	assert.Contains(t, resub, `"subscribe"`)
	assert.Contains(t, resub, "ETH/USD")
}

func TestConnShutdownIsTerminal(t *testing.T) {
	url, _ := newWSServer(t, func(_ int32, ws *websocket.Conn) {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		echoPings(ws)
	})

	c, err := NewConn(testConfig(url))
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return c.Status().State == StateConnected
	}, 3*time.Second, 10*time.Millisecond)

	c.Shutdown()
	assert.Equal(t, StateClosed, c.Status().State)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)

	// The message channel drains and closes.
	require.Eventually(t, func() bool {
		select {
		case _, open := <-c.Messages():
			return !open
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}

func TestNewConnValidation(t *testing.T) {
	t.Run("bad provider", func(t *testing.T) {
		_, err := NewConn(Config{Provider: "coinbase", URL: "wss://x", Symbols: []string{"BTC/USD"}})
		assert.Error(t, err)
	})
	t.Run("no symbols", func(t *testing.T) {
		_, err := NewConn(Config{Provider: "kraken", URL: "wss://x", Symbols: []string{"junk"}})
		assert.Error(t, err)
	})
	t.Run("no endpoint", func(t *testing.T) {
		_, err := NewConn(Config{Provider: "kraken", Symbols: []string{"BTC/USD"}})
		assert.Error(t, err)
	})
}

func TestSecureEndpoint(t *testing.T) {
	t.Run("insecure public upgraded", func(t *testing.T) {
		out, err := secureEndpoint("ws://ws.kraken.com/v2")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "wss://ws.kraken.com/v2"))
		assert.Contains(t, out, "cb=")
	})
	t.Run("https becomes wss", func(t *testing.T) {
		out, err := secureEndpoint("https://stream.binance.com/ws")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "wss://"))
	})
	t.Run("loopback stays plain", func(t *testing.T) {
		out, err := secureEndpoint("http://127.0.0.1:8080/ws")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "ws://127.0.0.1:8080/ws"))
	})
	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := secureEndpoint("ftp://example.com")
		assert.Error(t, err)
	})
}
