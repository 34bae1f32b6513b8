package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azanium/cryptoindex/internal/candle"
	"github.com/azanium/cryptoindex/internal/metrics"
)

// blockingWriter blocks every InsertCandle call for symbol until release
// is closed, and records arrival order for every other symbol.
type blockingWriter struct {
	mu      sync.Mutex
	blocked string
	release chan struct{}
	order   map[string][]int64
}

func newBlockingWriter(blocked string) *blockingWriter {
	return &blockingWriter{blocked: blocked, release: make(chan struct{}), order: make(map[string][]int64)}
}

func (w *blockingWriter) InsertCandle(ctx context.Context, symbol string, ev candle.Event) error {
	if symbol == w.blocked {
		<-w.release
	}
	w.mu.Lock()
	w.order[symbol] = append(w.order[symbol], ev.Cell.SampleCount)
	w.mu.Unlock()
	return nil
}

func candleEvent(symbol string, sample int64) candle.Event {
	return candle.Event{
		Kind: candle.EventLive,
		Cell: candle.Cell{
			IndexName:   symbol,
			Interval:    candle.Interval1m,
			Open:        decimal.NewFromInt(100),
			High:        decimal.NewFromInt(100),
			Low:         decimal.NewFromInt(100),
			Close:       decimal.NewFromInt(100),
			SampleCount: sample,
		},
	}
}

// TestPersisterPerSymbolIsolation is scenario E5: symbol A's writer
// blocks indefinitely while symbol B keeps draining at line rate,
// because each symbol owns its own queue and worker.
func TestPersisterPerSymbolIsolation(t *testing.T) {
	writer := newBlockingWriter("A")
	p := NewPersister(writer, metrics.New(), 256, 256)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := int64(1); i <= 100; i++ {
		p.Ingress() <- candleEvent("A", i)
		p.Ingress() <- candleEvent("B", i)
	}

	require.Eventually(t, func() bool {
		writer.mu.Lock()
		defer writer.mu.Unlock()
		return len(writer.order["B"]) == 100
	}, time.Second, 5*time.Millisecond, "symbol B must drain independently of blocked symbol A")

	writer.mu.Lock()
	blockedSoFar := len(writer.order["A"])
	writer.mu.Unlock()
	assert.Equal(t, 0, blockedSoFar, "symbol A should still be stuck on its first write")

	close(writer.release)

	require.Eventually(t, func() bool {
		writer.mu.Lock()
		defer writer.mu.Unlock()
		return len(writer.order["A"]) == 100
	}, time.Second, 5*time.Millisecond)
}

// TestPersisterPreservesPerSymbolOrder checks events for a single symbol
// are written in arrival order, since a symbol's queue has one worker.
func TestPersisterPreservesPerSymbolOrder(t *testing.T) {
	writer := newBlockingWriter("")
	p := NewPersister(writer, metrics.New(), 256, 256)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i := int64(1); i <= 50; i++ {
		p.Ingress() <- candleEvent("BTCUSDT", i)
	}

	require.Eventually(t, func() bool {
		writer.mu.Lock()
		defer writer.mu.Unlock()
		return len(writer.order["BTCUSDT"]) == 50
	}, time.Second, 5*time.Millisecond)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	for i, v := range writer.order["BTCUSDT"] {
		assert.Equal(t, int64(i+1), v)
	}
}
