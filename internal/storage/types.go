// Package storage defines the external collaborators named at their
// interfaces by spec.md §1: a read-only configuration loader and two
// dynamic-table writers for index snapshots and candle events, plus a
// gorm/postgres implementation and in-memory test doubles.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/azanium/cryptoindex/internal/candle"
	"github.com/azanium/cryptoindex/internal/index"
)

// IndexConfigRow is a row of index_config: an active-flagged formula
// definition.
type IndexConfigRow struct {
	ID        int64
	Name      string
	Formula   string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskRow is a row of task: an exchange bound to a CSV set of symbol ids.
type TaskRow struct {
	ID        int64
	Exchange  string
	SymbolIDs string
	IsEnabled bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SymbolRow is a row of symbol: a native symbol name scoped to an
// exchange, with an optional third-party symbol alias.
type SymbolRow struct {
	ID              int64
	SymbolName      string
	ExchangeName    string
	ThirdSymbolName string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ConfigStore is the read-only loader for index_config, task, and symbol,
// per spec.md §6.
type ConfigStore interface {
	ActiveIndexConfigs(ctx context.Context) ([]IndexConfigRow, error)
	EnabledTasks(ctx context.Context) ([]TaskRow, error)
	Symbols(ctx context.Context) ([]SymbolRow, error)
}

// SnapshotWriter upserts index samples into index_data_{name}.
type SnapshotWriter interface {
	Insert(ctx context.Context, indexName string, sample index.Sample) error
}

// CandleWriter upserts candle events into index_kline_{lower(symbol)}.
type CandleWriter interface {
	InsertCandle(ctx context.Context, symbol string, ev candle.Event) error
}

// Error marks a failed storage operation. Per spec.md §7, StorageError is
// logged per attempt and never aborts the pipeline.
type Error struct {
	Operation string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage operation %q failed: %v", e.Operation, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
