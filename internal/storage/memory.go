package storage

import (
	"context"
	"sync"

	"github.com/azanium/cryptoindex/internal/candle"
	"github.com/azanium/cryptoindex/internal/index"
)

// MemoryConfigStore is a fixed-result ConfigStore test double.
type MemoryConfigStore struct {
	Configs []IndexConfigRow
	Tasks   []TaskRow
	Syms    []SymbolRow
}

func (m *MemoryConfigStore) ActiveIndexConfigs(ctx context.Context) ([]IndexConfigRow, error) {
	return m.Configs, nil
}

func (m *MemoryConfigStore) EnabledTasks(ctx context.Context) ([]TaskRow, error) {
	return m.Tasks, nil
}

func (m *MemoryConfigStore) Symbols(ctx context.Context) ([]SymbolRow, error) {
	return m.Syms, nil
}

// MemoryStore records every snapshot and candle write it receives,
// guarded by a mutex, for assertions in pipeline tests.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string][]index.Sample
	candles   map[string][]candle.Event

	// FailSnapshot / FailCandle let tests exercise the
	// logged-but-non-blocking storage error path of spec.md §7.
	FailSnapshot func(indexName string) bool
	FailCandle   func(symbol string) bool
}

// NewMemoryStore creates an empty in-memory snapshot/candle store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]index.Sample),
		candles:   make(map[string][]candle.Event),
	}
}

func (m *MemoryStore) Insert(ctx context.Context, indexName string, sample index.Sample) error {
	if m.FailSnapshot != nil && m.FailSnapshot(indexName) {
		return &Error{Operation: "insert_snapshot", Err: context.DeadlineExceeded}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[indexName] = append(m.snapshots[indexName], sample)
	return nil
}

func (m *MemoryStore) InsertCandle(ctx context.Context, symbol string, ev candle.Event) error {
	if m.FailCandle != nil && m.FailCandle(symbol) {
		return &Error{Operation: "insert_candle", Err: context.DeadlineExceeded}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[symbol] = append(m.candles[symbol], ev)
	return nil
}

// Snapshots returns a copy of the recorded snapshots for indexName.
func (m *MemoryStore) Snapshots(indexName string) []index.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]index.Sample, len(m.snapshots[indexName]))
	copy(out, m.snapshots[indexName])
	return out
}

// Candles returns a copy of the recorded candle events for symbol.
func (m *MemoryStore) Candles(symbol string) []candle.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]candle.Event, len(m.candles[symbol]))
	copy(out, m.candles[symbol])
	return out
}
