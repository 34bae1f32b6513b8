package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/azanium/cryptoindex/internal/candle"
	"github.com/azanium/cryptoindex/internal/index"
)

// indexConfigModel, taskModel, symbolModel are the gorm row models for
// the read-only tables. Table names are fixed, unlike the per-index and
// per-symbol dynamic tables below.
type indexConfigModel struct {
	ID        int64 `gorm:"primaryKey"`
	Name      string
	Formula   string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (indexConfigModel) TableName() string { return "index_config" }

type taskModel struct {
	ID        int64  `gorm:"primaryKey"`
	Exchange  string `gorm:"column:exchange_name"`
	SymbolIDs string `gorm:"column:symbol_ids"`
	IsEnabled bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (taskModel) TableName() string { return "task" }

type symbolModel struct {
	ID              int64 `gorm:"primaryKey"`
	SymbolName      string
	ExchangeName    string
	ThirdSymbolName string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (symbolModel) TableName() string { return "symbol" }

// snapshotRow is the row shape of index_data_{name}.
type snapshotRow struct {
	ID        int64 `gorm:"primaryKey"`
	Symbol    string
	Last      string
	Formula   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// candleRow is the row shape of index_kline_{lower(symbol)}.
type candleRow struct {
	ID        int64 `gorm:"primaryKey"`
	Symbol    string
	Interval  string
	Open      string
	High      string
	Low       string
	Close     string
	TS        int64 `gorm:"column:ts"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PostgresStore implements ConfigStore, SnapshotWriter, and CandleWriter
// over gorm.io/gorm, grounded on the teacher's postgresql_storage.go
// shape but generalized to dynamic per-index/per-symbol tables.
type PostgresStore struct {
	db *gorm.DB

	tablesMu sync.Mutex
	migrated map[string]struct{}
}

// Open connects to Postgres via dsn and caps the pool at maxConns.
func Open(dsn string, maxConns uint32) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, &Error{Operation: "open", Err: err}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, &Error{Operation: "open", Err: err}
	}
	sqlDB.SetMaxOpenConns(int(maxConns))

	return &PostgresStore{db: db, migrated: make(map[string]struct{})}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStore) ActiveIndexConfigs(ctx context.Context) ([]IndexConfigRow, error) {
	var rows []indexConfigModel
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, &Error{Operation: "active_index_configs", Err: err}
	}
	out := make([]IndexConfigRow, len(rows))
	for i, r := range rows {
		out[i] = IndexConfigRow{ID: r.ID, Name: r.Name, Formula: r.Formula, IsActive: r.IsActive, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	}
	return out, nil
}

func (s *PostgresStore) EnabledTasks(ctx context.Context) ([]TaskRow, error) {
	var rows []taskModel
	if err := s.db.WithContext(ctx).Where("is_enabled = ?", true).Order("id").Find(&rows).Error; err != nil {
		return nil, &Error{Operation: "enabled_tasks", Err: err}
	}
	out := make([]TaskRow, len(rows))
	for i, r := range rows {
		out[i] = TaskRow{ID: r.ID, Exchange: r.Exchange, SymbolIDs: r.SymbolIDs, IsEnabled: r.IsEnabled, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	}
	return out, nil
}

func (s *PostgresStore) Symbols(ctx context.Context) ([]SymbolRow, error) {
	var rows []symbolModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, &Error{Operation: "symbols", Err: err}
	}
	out := make([]SymbolRow, len(rows))
	for i, r := range rows {
		out[i] = SymbolRow{ID: r.ID, SymbolName: r.SymbolName, ExchangeName: r.ExchangeName, ThirdSymbolName: r.ThirdSymbolName, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	}
	return out, nil
}

// Insert upserts a snapshot into index_data_{indexName} on id conflict,
// per spec.md §6.
func (s *PostgresStore) Insert(ctx context.Context, indexName string, sample index.Sample) error {
	table := "index_data_" + sanitizeTableSuffix(indexName)
	s.ensureSnapshotTable(table)

	row := snapshotRow{
		ID:        sample.TimestampMS,
		Symbol:    sample.IndexName,
		Last:      sample.Last.String(),
		Formula:   sample.OriginalFormula,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Table(table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"symbol", "last", "formula", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return &Error{Operation: "insert_snapshot:" + table, Err: err}
	}
	return nil
}

// InsertCandle upserts a candle event into index_kline_{lower(symbol)} on
// id conflict, per spec.md §6. The table holds every tracked interval
// for the symbol, so the row id must encode both the bucket start and
// the interval: two different intervals routinely share a bucket start
// (e.g. every tick in [0,60)s aligns 1m/5m/15m/1h/4h/1d all to 0), and
// keying on bucket start alone would let one interval's candle silently
// overwrite another's OHLC values under a frozen, stale interval label.
func (s *PostgresStore) InsertCandle(ctx context.Context, symbol string, ev candle.Event) error {
	table := "index_kline_" + sanitizeTableSuffix(strings.ToLower(symbol))
	s.ensureCandleTable(table)

	tsMS := ev.Cell.BucketStart.UnixMilli()
	row := candleRow{
		ID:        candleRowID(tsMS, ev.Cell.Interval),
		Symbol:    symbol,
		Interval:  string(ev.Cell.Interval),
		Open:      ev.Cell.Open.String(),
		High:      ev.Cell.High.String(),
		Low:       ev.Cell.Low.String(),
		Close:     ev.Cell.Close.String(),
		TS:        tsMS,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Table(table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"interval", "ts", "open", "high", "low", "close", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return &Error{Operation: "insert_candle:" + table, Err: err}
	}
	return nil
}

// intervalIDSpace bounds every Interval.Seconds() value (max is 1d =
// 86400), so bucketStartMS*intervalIDSpace+interval.Seconds() is a
// bijection between (bucket start, interval) pairs and row ids.
const intervalIDSpace = 100000

func candleRowID(bucketStartMS int64, iv candle.Interval) int64 {
	return bucketStartMS*intervalIDSpace + iv.Seconds()
}

func (s *PostgresStore) ensureSnapshotTable(table string) {
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()
	if _, ok := s.migrated[table]; ok {
		return
	}
	s.db.Table(table).AutoMigrate(&snapshotRow{})
	s.migrated[table] = struct{}{}
}

func (s *PostgresStore) ensureCandleTable(table string) {
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()
	if _, ok := s.migrated[table]; ok {
		return
	}
	s.db.Table(table).AutoMigrate(&candleRow{})
	s.migrated[table] = struct{}{}
}

// sanitizeTableSuffix keeps generated table names to the characters a
// postgres identifier allows, lower-cased per spec.md §6.
func sanitizeTableSuffix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
