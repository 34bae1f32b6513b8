package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/azanium/cryptoindex/internal/metrics"
)

// State is the connection state machine of spec.md §4.1:
// Disconnected -> Connecting -> Subscribed -> Reading. Any read error or
// socket close transitions back to Disconnected.
type State int

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Reading
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Reading:
		return "reading"
	default:
		return "unknown"
	}
}

// wsConn is the subset of *websocket.Conn the client engine needs, so
// tests can substitute a fake without opening a real socket.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a wsConn to url. The default dials a real websocket;
// tests inject a fake.
type Dialer func(ctx context.Context, url string) (wsConn, error)

func defaultDialer(ctx context.Context, url string) (wsConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// FrameSender sends a single frame over a client's shared writer.
type FrameSender interface {
	Send(frame []byte) error
}

// HandleContext bundles the shared handles a Protocol needs to translate
// an inbound frame into ticker-store and trade-cache updates. These are
// owned by the Client and passed in by reference: the Protocol never
// holds a pointer back to the Client, avoiding the cycle spec.md §9 calls
// out.
type HandleContext struct {
	Exchange ID
	Symbols  *SymbolMapping
	Tickers  *TickerStore
	Trades   *TradeCache
	Sender   FrameSender
}

// Protocol is the exchange-specific capability set of spec.md §4.1: each
// concrete exchange supplies only framing and parsing, and the shared
// Client engine below provides connect/subscribe/heartbeat/reconnect on
// top of it.
type Protocol interface {
	ExchangeName() string
	WSURL() string
	PingMsg() string
	PingInterval() time.Duration
	BuildSubscribe(natives []NativeSymbol) ([]byte, bool)
	HandleMessage(hc HandleContext, raw []byte) error
}

// Client is the shared engine described in spec.md §9: it owns the
// connection, ticker store, subscription set, and connected flag
// exclusively, exposing them only as read-only borrows, and drives the
// capability set supplied by a concrete Protocol implementation.
type Client struct {
	id       ID
	protocol Protocol
	dialer   Dialer
	metrics  *metrics.Metrics

	chunkSize int

	symbols *SymbolMapping
	tickers *TickerStore
	trades  *TradeCache

	mu            sync.RWMutex
	conn          wsConn
	connected     bool
	state         State
	subscriptions map[NativeSymbol]struct{}

	writerMu sync.Mutex
	connMu   sync.Mutex // serializes the actual dial+subscribe-all sequence
}

// NewClient builds a client around a concrete Protocol. trades and the
// initial symbol mapping are owned elsewhere (the exchange manager /
// config loader) and passed in as shared handles.
func NewClient(id ID, protocol Protocol, symbols *SymbolMapping, trades *TradeCache, chunkSize int) *Client {
	if chunkSize <= 0 {
		chunkSize = 20
	}
	return &Client{
		id:            id,
		protocol:      protocol,
		dialer:        defaultDialer,
		chunkSize:     chunkSize,
		symbols:       symbols,
		tickers:       NewTickerStore(),
		trades:        trades,
		subscriptions: make(map[NativeSymbol]struct{}),
	}
}

// SetDialer overrides the websocket dialer, for tests.
func (c *Client) SetDialer(d Dialer) { c.dialer = d }

// SetMetrics attaches the metrics instance the client reports ticks and
// frame parse errors to. Optional: a nil metrics (the zero value) means
// readLoop skips instrumentation entirely.
func (c *Client) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// ExchangeName returns the exchange's canonical name.
func (c *Client) ExchangeName() string { return c.protocol.ExchangeName() }

// WSURL returns the configured websocket endpoint.
func (c *Client) WSURL() string { return c.protocol.WSURL() }

// PingMsg returns the heartbeat payload.
func (c *Client) PingMsg() string { return c.protocol.PingMsg() }

// PingInterval returns the configured heartbeat period.
func (c *Client) PingInterval() time.Duration { return c.protocol.PingInterval() }

// IsConnected observes the connection flag.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// GetTicker is a snapshot lookup against the client's ticker store.
func (c *Client) GetTicker(symbol CanonicalSymbol) (Ticker, bool) {
	return c.tickers.Get(symbol)
}

// Tickers returns the client's ticker store handle. It is the same
// shared handle passed into Protocol.HandleMessage via HandleContext, so
// this is not a new read-only borrow but the existing one, exposed to
// callers outside the package (e.g. the price updater's tests).
func (c *Client) Tickers() *TickerStore { return c.tickers }

// Send serializes frame sends through a single exclusive writer lock, per
// spec.md §5: "per-connection write frames are serialized through a
// single exclusive writer lock".
func (c *Client) Send(frame []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("%s: not connected", c.protocol.ExchangeName())
	}
	c.writerMu.Lock()
	defer c.writerMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Connect is idempotent with respect to the subscription set: it merges
// symbols into the current set, opens the connection if closed, sends
// subscribe frames in chunks of at most chunkSize symbols, sets
// connected = true, and spawns a read task. Ordering: if two reconnect
// dispatches race, the second observes connected already set by the
// first and returns promptly, or opens a new socket that replaces the
// prior (last writer to the connected flag wins) per spec.md §4.2.
func (c *Client) Connect(ctx context.Context, symbols []NativeSymbol) error {
	c.mu.Lock()
	added := make([]NativeSymbol, 0, len(symbols))
	for _, s := range symbols {
		if _, exists := c.subscriptions[s]; !exists {
			added = append(added, s)
		}
		c.subscriptions[s] = struct{}{}
	}
	alreadyConnected := c.connected
	c.mu.Unlock()

	// Already open: just subscribe to whatever is new over the live
	// connection, no reconnect needed.
	if alreadyConnected {
		if len(added) == 0 {
			return nil
		}
		return c.sendSubscriptions(added)
	}

	// Not connected: serialize the actual dial+subscribe-all sequence so
	// two racing reconnect dispatches cannot open two sockets for the
	// same client. The second to arrive here observes connected already
	// true (set by the first) and returns promptly, per spec.md §4.2.
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.IsConnected() {
		return nil
	}

	c.mu.Lock()
	c.state = Connecting
	merged := make([]NativeSymbol, 0, len(c.subscriptions))
	for s := range c.subscriptions {
		merged = append(merged, s)
	}
	c.mu.Unlock()

	conn, err := c.dialer(ctx, c.protocol.WSURL())
	if err != nil {
		c.mu.Lock()
		c.connected = false
		c.state = Disconnected
		c.mu.Unlock()
		return &ConnectError{Exchange: c.id, Endpoint: c.protocol.WSURL(), Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.sendSubscriptions(merged); err != nil {
		c.mu.Lock()
		c.connected = false
		c.state = Disconnected
		conn.Close()
		c.mu.Unlock()
		return &ConnectError{Exchange: c.id, Endpoint: c.protocol.WSURL(), Err: err}
	}

	c.mu.Lock()
	c.state = Subscribed
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.heartbeatLoop(conn)

	log.Info().Str("exchange", c.protocol.ExchangeName()).Int("symbols", len(merged)).Msg("exchange client connected")
	return nil
}

// sendSubscriptions chunks the subscribe frame into groups of at most
// chunkSize symbols, per spec.md §4.1.
func (c *Client) sendSubscriptions(symbols []NativeSymbol) error {
	for start := 0; start < len(symbols); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(symbols) {
			end = len(symbols)
		}
		chunk := symbols[start:end]
		frame, ok := c.protocol.BuildSubscribe(chunk)
		if !ok {
			continue
		}
		if err := c.Send(frame); err != nil {
			return err
		}
	}
	return nil
}

// readLoop consumes inbound frames until the socket errors or closes,
// per spec.md §4.1's Reading state. Any read error transitions to
// Disconnected and clears the connected flag; the manager's reconnect
// supervisor handles rehydration.
func (c *Client) readLoop(conn wsConn) {
	c.mu.Lock()
	c.state = Reading
	c.mu.Unlock()

	hc := HandleContext{
		Exchange: c.id,
		Symbols:  c.symbols,
		Tickers:  c.tickers,
		Trades:   c.trades,
		Sender:   c,
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.connected = false
				c.state = Disconnected
				c.conn = nil
			}
			c.mu.Unlock()
			log.Warn().Str("exchange", c.protocol.ExchangeName()).Err(err).Msg("exchange client read error")
			return
		}

		if c.metrics != nil {
			c.metrics.TicksTotal.WithLabelValues(c.protocol.ExchangeName()).Inc()
		}

		if err := c.protocol.HandleMessage(hc, message); err != nil {
			log.Debug().Str("exchange", c.protocol.ExchangeName()).Err(err).Msg("frame dropped")
			var frameErr *FrameParseError
			if c.metrics != nil && errors.As(err, &frameErr) {
				c.metrics.FrameParseErrors.WithLabelValues(c.protocol.ExchangeName()).Inc()
			}
		}
	}
}

// heartbeatLoop is the per-connect heartbeat task of spec.md §4.1: at
// PingInterval it sends PingMsg over the shared writer. The first send
// error terminates the heartbeat task only, leaving the read loop to
// detect the dead socket on its own.
func (c *Client) heartbeatLoop(conn wsConn) {
	interval := c.protocol.PingInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.RLock()
		stillCurrent := c.conn == conn
		c.mu.RUnlock()
		if !stillCurrent {
			return
		}
		if err := c.Send([]byte(c.protocol.PingMsg())); err != nil {
			log.Debug().Str("exchange", c.protocol.ExchangeName()).Err(err).Msg("heartbeat send failed, stopping heartbeat task")
			return
		}
	}
}
