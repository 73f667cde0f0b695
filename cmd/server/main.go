// Package main runs the chart service: the HTTP API, the upstream cache with
// its polling schedules, the optional live kline stream and persistence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-chart-lab/internal/api"
	"agent-chart-lab/internal/config"
	"agent-chart-lab/internal/domain"
	"agent-chart-lab/internal/marketstream"
	"agent-chart-lab/internal/querycache"
	"agent-chart-lab/internal/storage"
	chstore "agent-chart-lab/internal/storage/clickhouse"
	"agent-chart-lab/internal/storage/memory"
	"agent-chart-lab/internal/storage/migrations"
	pgstore "agent-chart-lab/internal/storage/postgres"
	"agent-chart-lab/internal/upstream"
	"agent-chart-lab/internal/viewstate"
)

// stores holds the persistence backends.
type stores struct {
	viewStates storage.ViewStateStore
	series     storage.SeriesStore
}

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Load .env file if exists
	if err := config.LoadEnvFile(); err != nil {
		logger.Printf("env file: %v", err)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	baseURL := flag.String("base-url", "", "Upstream API base URL (overrides config)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (overrides config)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	stream := flag.Bool("stream", false, "Enable the live kline stream")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Explicit flags win over file and env.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "base-url":
			cfg.Upstream.BaseURL = *baseURL
		case "postgres-dsn":
			cfg.Storage.PostgresDSN = *postgresDSN
		case "clickhouse-dsn":
			cfg.Storage.ClickhouseDSN = *clickhouseDSN
		case "use-memory":
			cfg.Storage.UseMemory = *useMemory
		case "stream":
			cfg.Stream.Enabled = *stream
		}
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	client := upstream.NewClient(cfg.Upstream.BaseURL,
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithMaxRetries(cfg.Upstream.MaxRetries),
		upstream.WithKlineURL(cfg.Upstream.KlineURL),
	)
	cache := querycache.New(client,
		querycache.WithTTL(cfg.Cache.TTL),
		querycache.WithLogger(log.New(os.Stdout, "[cache] ", log.LstdFlags|log.Lshortfile)),
	)

	poller := querycache.NewPoller(cache, log.New(os.Stdout, "[poller] ", log.LstdFlags|log.Lshortfile))
	if err := poller.Register(cfg.Cache.ChartSchedule,
		domain.SourceVaultBalance, domain.SourceStrategyBalance, domain.SourceKline); err != nil {
		logger.Fatalf("Failed to register chart poll: %v", err)
	}
	if err := poller.Register(cfg.Cache.HistorySchedule, domain.SourceFundingTrend); err != nil {
		logger.Fatalf("Failed to register history poll: %v", err)
	}

	lastViewed, err := viewstate.NewLastViewed(cfg.LastViewed.MaxEntries)
	if err != nil {
		logger.Fatalf("Failed to create last-viewed cache: %v", err)
	}
	defer lastViewed.Close()

	deps := api.Dependencies{
		Views:          viewstate.NewStore(),
		Source:         cache,
		ViewStore:      st.viewStates,
		Archiver:       storage.NewArchiver(st.series),
		LastViewed:     lastViewed,
		Logger:         log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lshortfile),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	}

	if cfg.Stream.Enabled {
		streamCfg := marketstream.DefaultConfig()
		sc, err := marketstream.NewClient(ctx, cfg.Stream.Endpoint, &streamCfg,
			log.New(os.Stdout, "[stream] ", log.LstdFlags|log.Lshortfile))
		if err != nil {
			logger.Fatalf("Failed to connect kline stream: %v", err)
		}
		defer sc.Close()
		deps.Stream = sc
	}

	srv := api.NewServer(deps)
	defer srv.Close()

	if err := srv.Restore(ctx); err != nil {
		logger.Printf("Restore view-state: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	poller.Start()
	defer poller.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Starting HTTP server on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-errCh:
		logger.Printf("Server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	go func() {
		// Second signal forces exit
		sig := <-sigCh
		logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
		os.Exit(1)
	}()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}
	cancel()

	logger.Println("Shutdown complete")
}

// createStores creates the persistence backends and runs migrations.
func createStores(ctx context.Context, cfg *config.Config) (*stores, func(), error) {
	if cfg.Storage.UseMemory {
		return &stores{
			viewStates: memory.NewViewStateStore(),
			series:     memory.NewSeriesStore(),
		}, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}

	// ClickHouse
	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return &stores{
		viewStates: pgstore.NewViewStateStore(pool),
		series:     chstore.NewSeriesStore(chConn),
	}, cleanup, nil
}
