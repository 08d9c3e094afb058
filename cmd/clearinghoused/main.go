package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/clearing"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/event"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/market"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/observability"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/oracle"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/perpmath"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/persistence"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/publish"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/server"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/vault"
)

// Config holds all daemon configuration, loaded from environment
// variables.
type Config struct {
	// Postgres. Empty disables the event log and snapshots.
	PostgresURL string
	// NATS. Empty disables outbound publishing.
	NATSURL string

	MigrationsDir string

	// Owner is the only identity allowed to register markets.
	Owner string
	// MarketsFile is a JSON file of markets to register at startup.
	MarketsFile string

	MaxMarketsPerTrader    int
	TwapIntervalSec        int
	InitialMarginRatioPips int
	DebtMarginRatioPips    int
	SettlementDecimals     int

	PersistBufferSize   int
	PersistBatchSize    int
	PersistFlushTimeout time.Duration
	PublishBufferSize   int
	SnapshotInterval    time.Duration

	GRPCAddr string
	HTTPAddr string
}

func DefaultConfig() Config {
	return Config{
		PostgresURL:            os.Getenv("CLEARING_POSTGRES_DSN"),
		NATSURL:                os.Getenv("CLEARING_NATS_URL"),
		MigrationsDir:          envOrDefault("CLEARING_MIGRATIONS_DIR", "migrations"),
		Owner:                  envOrDefault("CLEARING_OWNER", "admin"),
		MarketsFile:            os.Getenv("CLEARING_MARKETS_FILE"),
		MaxMarketsPerTrader:    envIntOrDefault("CLEARING_MAX_MARKETS_PER_TRADER", 5),
		TwapIntervalSec:        envIntOrDefault("CLEARING_TWAP_INTERVAL_SEC", 900),
		InitialMarginRatioPips: envIntOrDefault("CLEARING_IM_RATIO_PIPS", 100_000),
		DebtMarginRatioPips:    envIntOrDefault("CLEARING_DEBT_RATIO_PIPS", 100_000),
		SettlementDecimals:     envIntOrDefault("CLEARING_SETTLEMENT_DECIMALS", 6),
		PersistBufferSize:      envIntOrDefault("CLEARING_PERSIST_BUFFER", 1024),
		PersistBatchSize:       envIntOrDefault("CLEARING_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout:    10 * time.Millisecond,
		PublishBufferSize:      envIntOrDefault("CLEARING_PUBLISH_BUFFER", 4096),
		SnapshotInterval:       time.Duration(envIntOrDefault("CLEARING_SNAPSHOT_INTERVAL_SEC", 300)) * time.Second,
		GRPCAddr:               envOrDefault("CLEARING_GRPC_ADDR", ":9090"),
		HTTPAddr:               envOrDefault("CLEARING_HTTP_ADDR", ":8080"),
	}
}

// marketSpec is one entry in the markets file.
type marketSpec struct {
	ID           string `json:"id"`
	BaseToken    string `json:"base_token"`
	QuoteToken   string `json:"quote_token"`
	FeeRatioPips uint64 `json:"fee_ratio_pips"`
	InitialTick  int    `json:"initial_tick"`
	// IndexPrice seeds the static feed, decimal at 1e18 scale.
	IndexPrice string `json:"index_price"`
}

// fanoutSink delivers each event to every attached sink.
type fanoutSink struct {
	sinks []clearing.EventSink
}

func (f *fanoutSink) Publish(evt event.Event) {
	for _, s := range f.sinks {
		s.Publish(evt)
	}
}

func main() {
	cfg := DefaultConfig()
	logger := observability.NewLogger("clearinghoused")
	logger.Info().Msg("clearing house starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	markets := market.NewRegistry(cfg.Owner)
	engine := clearing.NewEngine(clearing.Config{
		MaxMarketsPerTrader:    cfg.MaxMarketsPerTrader,
		TwapIntervalSec:        uint32(cfg.TwapIntervalSec),
		InitialMarginRatioPips: uint64(cfg.InitialMarginRatioPips),
		DebtMarginRatioPips:    uint64(cfg.DebtMarginRatioPips),
	}, markets, observability.NewLogger("clearing"), metrics)

	v := vault.New(uint8(cfg.SettlementDecimals), engine, observability.NewLogger("vault"), metrics)
	engine.SetCollateralSource(v)

	errChan := make(chan error, 8)
	sink := &fanoutSink{}

	// --- Postgres: migrations, event log, snapshots ---
	var snapStore *persistence.SnapshotStore
	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal().Err(err).Msg("postgres ping")
		}
		logger.Info().Msg("postgres connected")

		migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}

		worker := persistence.NewWorker(db, cfg.PersistBufferSize, cfg.PersistBatchSize,
			cfg.PersistFlushTimeout, observability.NewLogger("persistence"), metrics)
		sink.sinks = append(sink.sinks, worker)
		go func() {
			errChan <- worker.Run(ctx)
		}()

		snapStore = persistence.NewSnapshotStore(db)
	} else {
		logger.Warn().Msg("CLEARING_POSTGRES_DSN not set, event log disabled")
	}

	// --- NATS: outbound publisher ---
	if cfg.NATSURL != "" {
		nc, js, err := publish.Connect(cfg.NATSURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		if err := publish.EnsureStream(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure outbound stream")
		}
		logger.Info().Msg("nats connected")

		publisher := publish.NewPublisher(js, cfg.PublishBufferSize, observability.NewLogger("publish"), metrics)
		sink.sinks = append(sink.sinks, publisher)
		go func() {
			errChan <- publisher.Run(ctx)
		}()
	} else {
		logger.Warn().Msg("CLEARING_NATS_URL not set, outbound publishing disabled")
	}

	engine.SetEventSink(sink)

	// --- Markets ---
	if cfg.MarketsFile != "" {
		if err := registerMarkets(engine, cfg); err != nil {
			logger.Fatal().Err(err).Msg("register markets")
		}
	} else {
		logger.Warn().Msg("CLEARING_MARKETS_FILE not set, starting with no markets")
	}

	// --- Servers ---
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, observability.NewLogger("grpc"))
	go func() {
		errChan <- grpcServer.Run(ctx)
	}()

	httpServer := server.NewHTTPServer(cfg.HTTPAddr, engine, markets, v,
		healthChecker, observability.NewLogger("http"), metrics)
	go func() {
		errChan <- httpServer.Run(ctx)
	}()

	// --- Periodic snapshots ---
	if snapStore != nil {
		go runPeriodicSnapshots(ctx, engine, snapStore, cfg.SnapshotInterval, logger, metrics)
	}

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Str("grpc_addr", cfg.GRPCAddr).
		Str("http_addr", cfg.HTTPAddr).
		Msg("clearing house ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("goroutine failed, shutting down")
		}
	}

	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	cancel()

	if snapStore != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := snapStore.Save(shutCtx, engine); err != nil {
			logger.Error().Err(err).Msg("final snapshot failed")
		} else {
			logger.Info().Msg("final snapshot saved")
		}
		shutCancel()
	}

	// Give workers a moment to flush their batches.
	time.Sleep(200 * time.Millisecond)
	logger.Info().Msg("shutdown complete")
}

func registerMarkets(engine *clearing.Engine, cfg Config) error {
	data, err := os.ReadFile(cfg.MarketsFile)
	if err != nil {
		return fmt.Errorf("read markets file: %w", err)
	}
	var specs []marketSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("parse markets file: %w", err)
	}
	for _, spec := range specs {
		sqrtPrice, err := perpmath.SqrtRatioAtTick(spec.InitialTick)
		if err != nil {
			return fmt.Errorf("market %s: %w", spec.ID, err)
		}
		price, ok := new(big.Int).SetString(spec.IndexPrice, 10)
		if !ok {
			return fmt.Errorf("market %s: malformed index price %q", spec.ID, spec.IndexPrice)
		}
		feed := oracle.NewStaticFeed(price)
		if err := engine.AddMarket(cfg.Owner, spec.ID, spec.BaseToken, spec.QuoteToken,
			spec.FeeRatioPips, sqrtPrice, feed); err != nil {
			return fmt.Errorf("add market %s: %w", spec.ID, err)
		}
	}
	return nil
}

func runPeriodicSnapshots(ctx context.Context, engine *clearing.Engine, store *persistence.SnapshotStore,
	interval time.Duration, logger zerolog.Logger, metrics *observability.Metrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := store.Save(ctx, engine); err != nil {
				logger.Error().Err(err).Msg("snapshot failed")
				continue
			}
			metrics.SnapshotTaken.Inc()
			metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		}
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
