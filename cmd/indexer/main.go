package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/azanium/cryptoindex/conf"
	"github.com/azanium/cryptoindex/internal/candle"
	"github.com/azanium/cryptoindex/internal/exchange"
	"github.com/azanium/cryptoindex/internal/index"
	"github.com/azanium/cryptoindex/internal/metrics"
	"github.com/azanium/cryptoindex/internal/pipeline"
	"github.com/azanium/cryptoindex/internal/storage"
)

// defaultWSURLs are the production endpoints for each exchange. The
// tuning file carries no per-exchange override today; an env var per
// exchange is the escape hatch until one is added.
var defaultWSURLs = map[exchange.ID]string{
	exchange.Binance: "wss://stream.binance.com:9443/ws",
	exchange.Bitget:  "wss://ws.bitget.com/v2/ws/public",
	exchange.OKEx:    "wss://ws.okx.com:8443/ws/v5/public",
}

func wsURLFor(id exchange.ID) string {
	envKey := strings.ToUpper(id.String()) + "_WS_URL"
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return defaultWSURLs[id]
}

func exchangeIDFor(name string) (exchange.ID, bool) {
	switch name {
	case exchange.Binance.String():
		return exchange.Binance, true
	case exchange.Bitget.String():
		return exchange.Bitget, true
	case exchange.OKEx.String():
		return exchange.OKEx, true
	default:
		return 0, false
	}
}

func newProtocol(id exchange.ID, url string, pingInterval time.Duration) exchange.Protocol {
	switch id {
	case exchange.Binance:
		return exchange.NewBinanceProtocol(url, pingInterval)
	case exchange.Bitget:
		return exchange.NewBitgetProtocol(url, pingInterval)
	case exchange.OKEx:
		return exchange.NewOKExProtocol(url, pingInterval)
	default:
		return nil
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	cfg := conf.GetConf()
	tuning := cfg.Tuning

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name)
	store, err := storage.Open(dsn, cfg.DB.MaxConnections)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	calculators, err := loadCalculators(ctx, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load index configs")
	}

	m := metrics.New()
	metricsSrv := metrics.NewServer(tuning.MetricsAddress, m)
	metricsSrv.Start()
	defer metricsSrv.Stop(context.Background())

	exchanges, bindings, err := loadExchanges(ctx, store, tuning, m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load exchange tasks")
	}

	persister := pipeline.NewPersister(store, m, 1024, int(tuning.CandleQueueSize))
	go persister.Run(ctx)

	aggregator := candle.NewAggregator(candle.AllIntervals)
	indexLoop := pipeline.NewIndexLoop(calculators, aggregator, store, persister.Ingress(), m,
		time.Duration(tuning.IndexLoopTickPeriodMS)*time.Millisecond)

	priceUpdater := pipeline.NewPriceUpdater(exchanges, calculators, bindings,
		time.Duration(tuning.PriceUpdaterPeriodMS)*time.Millisecond)

	go exchanges.RunHeartbeatSupervisor(ctx)
	go exchanges.RunReconnectSupervisor(ctx)
	go priceUpdater.Run(ctx)
	go indexLoop.Run(ctx)

	log.Info().Int("indexes", len(calculators.Definitions())).Int("bindings", len(bindings)).Msg("indexer started")

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown error")
	}
	log.Info().Msg("indexer stopped")
}

// loadCalculators builds an index.Manager from the active index_config
// rows.
func loadCalculators(ctx context.Context, store storage.ConfigStore) (*index.Manager, error) {
	rows, err := store.ActiveIndexConfigs(ctx)
	if err != nil {
		return nil, err
	}
	manager := index.NewManager()
	for _, row := range rows {
		manager.AddCalculator(index.Definition{
			ID:      row.ID,
			Name:    row.Name,
			Formula: row.Formula,
			Active:  row.IsActive,
		}, decimal.Zero)
	}
	return manager, nil
}

// loadExchanges builds an exchange.Manager with one client per enabled
// task, and the price-updater bindings that drive it, per spec.md §6's
// task/symbol schema.
func loadExchanges(ctx context.Context, store storage.ConfigStore, tuning conf.Tuning, m *metrics.Metrics) (*exchange.Manager, []pipeline.Binding, error) {
	tasks, err := store.EnabledTasks(ctx)
	if err != nil {
		return nil, nil, err
	}
	symbols, err := store.Symbols(ctx)
	if err != nil {
		return nil, nil, err
	}
	symbolsByID := make(map[int64]storage.SymbolRow, len(symbols))
	for _, s := range symbols {
		symbolsByID[s.ID] = s
	}

	manager := exchange.NewManager(
		time.Duration(tuning.HeartbeatSupervisorPeriodMS)*time.Millisecond,
		time.Duration(tuning.ReconnectSupervisorPeriodMS)*time.Millisecond,
	)
	manager.SetMetrics(m)

	var bindings []pipeline.Binding
	for _, task := range tasks {
		id, ok := exchangeIDFor(task.Exchange)
		if !ok {
			log.Warn().Str("exchange", task.Exchange).Msg("unknown exchange in task row, skipped")
			continue
		}

		pairs := make(map[exchange.NativeSymbol]exchange.CanonicalSymbol)
		var natives []exchange.NativeSymbol
		for _, idStr := range strings.Split(task.SymbolIDs, ",") {
			idStr = strings.TrimSpace(idStr)
			if idStr == "" {
				continue
			}
			symID, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				log.Warn().Str("task_symbol_id", idStr).Msg("malformed symbol id in task row, skipped")
				continue
			}
			row, ok := symbolsByID[symID]
			if !ok {
				continue
			}
			native := exchange.NativeSymbol(row.SymbolName)
			if row.ThirdSymbolName != "" {
				native = exchange.NativeSymbol(row.ThirdSymbolName)
			}
			canonical := exchange.CanonicalSymbol(row.SymbolName)
			pairs[native] = canonical
			natives = append(natives, native)
			bindings = append(bindings, pipeline.Binding{ExchangeID: id, ExchangeName: id.String(), Symbol: canonical})
		}

		symbolMapping := exchange.NewSymbolMapping(pairs)
		trades := exchange.NewTradeCache(tuning.TradeCacheTTLMinutes)
		go trades.RunSweeper(ctx, time.Duration(tuning.TradeCacheSweepSeconds)*time.Second)

		protocol := newProtocol(id, wsURLFor(id), time.Duration(tuning.HeartbeatSupervisorPeriodMS)*time.Millisecond)
		client := exchange.NewClient(id, protocol, symbolMapping, trades, tuning.SubscribeChunkSize)
		client.SetMetrics(m)

		if err := manager.AddExchange(ctx, id, client, natives); err != nil {
			log.Warn().Str("exchange", id.String()).Err(err).Msg("initial connect failed, reconnect supervisor will retry")
		}
	}

	return manager, bindings, nil
}
