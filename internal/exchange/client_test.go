package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azanium/cryptoindex/internal/metrics"
)

// fakeConn is a wsConn test double. Reads are served from a channel;
// writes are recorded and can optionally block or error.
type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	attempts int // every WriteMessage call, failed ones included
	reads    chan []byte
	closed   bool
	writeErr error
	blockOn  chan struct{} // if non-nil, WriteMessage blocks until this is closed
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16)}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	if f.blockOn != nil {
		<-f.blockOn
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := append([]byte(nil), data...)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-f.reads
	if !ok {
		return 0, nil, errors.New("closed")
	}
	return 1, msg, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.reads)
	}
	return nil
}

func (f *fakeConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeConn) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// fakeProtocol is a minimal Protocol for exercising the shared Client
// engine independent of any one exchange's wire format.
type fakeProtocol struct {
	name           string
	pingInterval   time.Duration
	subscribeCalls [][]NativeSymbol
	handled        []string
}

func (p *fakeProtocol) ExchangeName() string        { return p.name }
func (p *fakeProtocol) WSURL() string               { return "wss://fake/" + p.name }
func (p *fakeProtocol) PingMsg() string             { return "ping" }
func (p *fakeProtocol) PingInterval() time.Duration { return p.pingInterval }

func (p *fakeProtocol) BuildSubscribe(natives []NativeSymbol) ([]byte, bool) {
	if len(natives) == 0 {
		return nil, false
	}
	p.subscribeCalls = append(p.subscribeCalls, natives)
	raw, _ := json.Marshal(natives)
	return raw, true
}

func (p *fakeProtocol) HandleMessage(hc HandleContext, raw []byte) error {
	p.handled = append(p.handled, string(raw))
	if string(raw) == "malformed" {
		return &FrameParseError{Exchange: hc.Exchange, Raw: string(raw), Err: errEmptyTick}
	}
	recordTick(hc, hc.Exchange, "BTCUSDT", string(raw), time.Now())
	return nil
}

func newTestClient(proto Protocol, conn *fakeConn, chunkSize int) *Client {
	symbols := NewSymbolMapping(map[NativeSymbol]CanonicalSymbol{"BTCUSDT": "BTCUSDT"})
	trades := NewTradeCache(10)
	c := NewClient(Binance, proto, symbols, trades, chunkSize)
	c.SetDialer(func(ctx context.Context, url string) (wsConn, error) {
		return conn, nil
	})
	return c
}

func TestConnectSubscribesInChunks(t *testing.T) {
	proto := &fakeProtocol{name: "fake"}
	conn := newFakeConn()
	c := newTestClient(proto, conn, 2)

	symbols := []NativeSymbol{"A", "B", "C", "D", "E"}
	err := c.Connect(context.Background(), symbols)
	require.NoError(t, err)

	assert.True(t, c.IsConnected())
	// 5 symbols chunked by 2 => 3 subscribe frames.
	assert.Equal(t, 3, len(proto.subscribeCalls))
}

func TestConnectIdempotentMergesSubscriptions(t *testing.T) {
	proto := &fakeProtocol{name: "fake"}
	conn := newFakeConn()
	c := newTestClient(proto, conn, 20)

	require.NoError(t, c.Connect(context.Background(), []NativeSymbol{"A"}))
	require.NoError(t, c.Connect(context.Background(), []NativeSymbol{"B"}))

	// The second Connect call finds the client already connected and
	// sends a subscribe frame only for the newly added symbol.
	require.Equal(t, 2, len(proto.subscribeCalls))
	assert.Equal(t, []NativeSymbol{"A"}, proto.subscribeCalls[0])
	assert.Equal(t, []NativeSymbol{"B"}, proto.subscribeCalls[1])
	assert.Contains(t, c.subscriptions, NativeSymbol("A"))
	assert.Contains(t, c.subscriptions, NativeSymbol("B"))

	// Re-issuing the same symbol set is a true no-op.
	require.NoError(t, c.Connect(context.Background(), []NativeSymbol{"A", "B"}))
	assert.Equal(t, 2, len(proto.subscribeCalls))
}

func TestConnectFailurePropagatesConnectError(t *testing.T) {
	proto := &fakeProtocol{name: "fake"}
	c := newTestClient(proto, newFakeConn(), 20)
	wantErr := errors.New("dial refused")
	c.SetDialer(func(ctx context.Context, url string) (wsConn, error) {
		return nil, wantErr
	})

	err := c.Connect(context.Background(), []NativeSymbol{"A"})
	require.Error(t, err)
	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.False(t, c.IsConnected())
}

func TestReadErrorClearsConnectedFlag(t *testing.T) {
	proto := &fakeProtocol{name: "fake"}
	conn := newFakeConn()
	c := newTestClient(proto, conn, 20)
	require.NoError(t, c.Connect(context.Background(), []NativeSymbol{"A"}))
	require.True(t, c.IsConnected())

	conn.Close()

	require.Eventually(t, func() bool {
		return !c.IsConnected()
	}, time.Second, 5*time.Millisecond)
}

func TestHandleMessageUpdatesTickerAndTradeCache(t *testing.T) {
	proto := &fakeProtocol{name: "fake"}
	conn := newFakeConn()
	c := newTestClient(proto, conn, 20)
	require.NoError(t, c.Connect(context.Background(), []NativeSymbol{"BTCUSDT"}))

	conn.reads <- []byte("60000.5")

	require.Eventually(t, func() bool {
		tk, ok := c.GetTicker("BTCUSDT")
		return ok && tk.LastPriceString == "60000.5"
	}, time.Second, 5*time.Millisecond)

	trade, ok := c.trades.GetTrade(QuoteIndex{Exchange: Binance, Symbol: "BTCUSDT"})
	require.True(t, ok)
	assert.Equal(t, "60000.5", trade.Price.String())
}

func TestReadLoopReportsTicksAndFrameParseErrors(t *testing.T) {
	proto := &fakeProtocol{name: "fake"}
	conn := newFakeConn()
	c := newTestClient(proto, conn, 20)
	m := metrics.New()
	c.SetMetrics(m)
	require.NoError(t, c.Connect(context.Background(), []NativeSymbol{"BTCUSDT"}))

	conn.reads <- []byte("60000.5")
	conn.reads <- []byte("malformed")

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.TicksTotal.WithLabelValues("fake")) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FrameParseErrors.WithLabelValues("fake")))
}

func TestHeartbeatStopsOnFirstSendError(t *testing.T) {
	proto := &fakeProtocol{name: "fake", pingInterval: 5 * time.Millisecond}
	conn := newFakeConn()
	c := newTestClient(proto, conn, 20)
	require.NoError(t, c.Connect(context.Background(), []NativeSymbol{"A"}))

	conn.mu.Lock()
	conn.writeErr = errors.New("broken pipe")
	conn.mu.Unlock()

	before := conn.attemptCount()
	time.Sleep(50 * time.Millisecond)
	after := conn.attemptCount()

	// The heartbeat loop should have stopped trying after its first
	// failed send: over ~10 ping intervals, at most one send already in
	// flight plus the failing one are attempted.
	assert.LessOrEqual(t, after-before, 2)
}
