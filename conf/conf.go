// Package conf loads process configuration: required database credentials
// from the environment, and optional operational tuning from a YAML file.
package conf

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/kr/pretty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

var (
	conf *Config
	once sync.Once
)

// Config is the fully resolved process configuration: required environment
// bootstrap plus optional YAML tuning, loaded exactly once.
type Config struct {
	DB     DB
	Tuning Tuning
}

// DB holds the environment-sourced database bootstrap values named in
// spec.md §6. All fields are required; a missing or unparseable value
// aborts startup.
type DB struct {
	Host           string
	Port           string
	Name           string
	User           string
	Password       string
	MaxConnections uint32
}

// Tuning holds operational knobs that are safe to default when absent.
// Loaded from an optional YAML file pointed to by TUNING_CONFIG_PATH;
// when that variable is unset no file is read and the coded defaults
// apply.
type Tuning struct {
	HeartbeatSupervisorPeriodMS uint32 `yaml:"heartbeat_supervisor_period_ms" validate:"min=1"`
	ReconnectSupervisorPeriodMS uint32 `yaml:"reconnect_supervisor_period_ms" validate:"min=1"`
	PriceUpdaterPeriodMS        uint32 `yaml:"price_updater_period_ms" validate:"min=1"`
	IndexLoopTickPeriodMS       uint32 `yaml:"index_loop_tick_period_ms" validate:"min=1"`
	SnapshotThrottleSeconds     uint32 `yaml:"snapshot_throttle_seconds" validate:"min=1"`
	LoopLatencyWarnMS           uint32 `yaml:"loop_latency_warn_ms" validate:"min=1"`
	CandleQueueSize             uint32 `yaml:"candle_queue_size" validate:"min=1"`
	TradeCacheTTLMinutes        uint32 `yaml:"trade_cache_ttl_minutes" validate:"min=1"`
	TradeCacheSweepSeconds      uint32 `yaml:"trade_cache_sweep_seconds" validate:"min=1"`
	MetricsAddress              string `yaml:"metrics_address"`
	SubscribeChunkSize          int    `yaml:"subscribe_chunk_size" validate:"min=1"`
}

func defaultTuning() Tuning {
	return Tuning{
		HeartbeatSupervisorPeriodMS: 15000,
		ReconnectSupervisorPeriodMS: 5000,
		PriceUpdaterPeriodMS:        1000,
		IndexLoopTickPeriodMS:       1000,
		SnapshotThrottleSeconds:     5,
		LoopLatencyWarnMS:           50,
		CandleQueueSize:             4096,
		TradeCacheTTLMinutes:        10,
		TradeCacheSweepSeconds:      60,
		MetricsAddress:              ":9090",
		SubscribeChunkSize:          20,
	}
}

// ConfigLoadError wraps a bootstrap failure, per spec.md §7: bootstrap
// errors abort startup.
type ConfigLoadError struct {
	Field string
	Err   error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("config load failed for %q: %v", e.Field, e.Err)
}

func (e *ConfigLoadError) Unwrap() error { return e.Err }

// GetConf returns the process-wide configuration, loading it on first call.
// Panics with a *ConfigLoadError if bootstrap env vars are missing or
// malformed, matching the teacher's "bootstrap aborts startup" contract.
func GetConf() *Config {
	once.Do(func() {
		var err error
		conf, err = load()
		if err != nil {
			panic(err)
		}
	})
	return conf
}

func load() (*Config, error) {
	setupLogging()

	db, err := loadDB()
	if err != nil {
		return nil, err
	}

	tuning := defaultTuning()
	if path := os.Getenv("TUNING_CONFIG_PATH"); path != "" {
		if err := loadTuningFile(path, &tuning); err != nil {
			return nil, err
		}
	}

	c := &Config{DB: db, Tuning: tuning}
	pretty.Printf("%# v\n", c)
	return c, nil
}

func loadDB() (DB, error) {
	required := map[string]*string{}
	db := DB{}
	required["DB_HOST"] = &db.Host
	required["DB_PORT"] = &db.Port
	required["DB_NAME"] = &db.Name
	required["DB_USER"] = &db.User
	required["DB_PASSWORD"] = &db.Password

	for key, dst := range required {
		v := os.Getenv(key)
		if v == "" {
			return DB{}, &ConfigLoadError{Field: key, Err: fmt.Errorf("required environment variable is unset")}
		}
		*dst = v
	}

	maxConnStr := os.Getenv("DB_MAX_CONNECTIONS")
	if maxConnStr == "" {
		return DB{}, &ConfigLoadError{Field: "DB_MAX_CONNECTIONS", Err: fmt.Errorf("required environment variable is unset")}
	}
	maxConn, err := strconv.ParseUint(maxConnStr, 10, 32)
	if err != nil {
		return DB{}, &ConfigLoadError{Field: "DB_MAX_CONNECTIONS", Err: err}
	}
	db.MaxConnections = uint32(maxConn)

	return db, nil
}

func loadTuningFile(path string, tuning *Tuning) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return &ConfigLoadError{Field: path, Err: err}
	}
	if err := yaml.Unmarshal(content, tuning); err != nil {
		return &ConfigLoadError{Field: path, Err: err}
	}
	if err := validator.Validate(tuning); err != nil {
		return &ConfigLoadError{Field: path, Err: err}
	}
	return nil
}

func setupLogging() {
	level := zerolog.InfoLevel
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if parsed, err := zerolog.ParseLevel(lvl); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// ResetForTest clears the singleton so tests can exercise load() repeatedly
// under different environments.
func ResetForTest() {
	once = sync.Once{}
	conf = nil
}
