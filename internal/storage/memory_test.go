package storage

import (
	"context"
	"testing"

	"github.com/azanium/cryptoindex/internal/candle"
	"github.com/azanium/cryptoindex/internal/index"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRecordsSnapshotsAndCandles(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sample := index.Sample{ID: uuid.New(), IndexName: "BTCUSDT", Last: decimal.NewFromInt(60000)}
	require.NoError(t, store.Insert(ctx, "BTCUSDT", sample))
	assert.Len(t, store.Snapshots("BTCUSDT"), 1)

	ev := candle.Event{Kind: candle.EventLive, Cell: candle.Cell{IndexName: "BTCUSDT", Interval: candle.Interval1m}}
	require.NoError(t, store.InsertCandle(ctx, "BTCUSDT", ev))
	assert.Len(t, store.Candles("BTCUSDT"), 1)
}

func TestMemoryStoreSnapshotFailureIsReported(t *testing.T) {
	store := NewMemoryStore()
	store.FailSnapshot = func(name string) bool { return name == "BTCUSDT" }

	err := store.Insert(context.Background(), "BTCUSDT", index.Sample{})
	require.Error(t, err)
	assert.Empty(t, store.Snapshots("BTCUSDT"))
}
