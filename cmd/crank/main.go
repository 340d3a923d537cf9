// Package main runs the scope crank: it keeps every configured slot of a feed
// fresh and optionally records the observed prices in ClickHouse.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vuittont60/scope/internal/config"
	"github.com/vuittont60/scope/internal/crank"
	"github.com/vuittont60/scope/internal/logging"
	"github.com/vuittont60/scope/internal/observability"
	"github.com/vuittont60/scope/internal/solana"
	"github.com/vuittont60/scope/internal/storage"
	chstore "github.com/vuittont60/scope/internal/storage/clickhouse"
	"github.com/vuittont60/scope/internal/storage/migrations"
)

func main() {
	configPath := flag.String("config", envOr("SCOPE_CRANK_CONFIG", "crank.yaml"), "Path to the crank configuration file")
	once := flag.Bool("once", false, "Run a single refresh cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	logger = logging.Component(logger, "crank")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Stringer("signal", sig).Msg("shutting down")
		cancel()

		// Second signal or a stuck cycle forces exit
		select {
		case <-sigCh:
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error().Msg("graceful shutdown timed out after 30s")
			os.Exit(1)
		}
	}()

	if err := run(ctx, cfg, logger, *once); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("crank failed")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, once bool) error {
	client, err := newScopeClient(cfg, logger)
	if err != nil {
		return err
	}

	if cfg.Crank.TokenList != "" {
		list, err := config.LoadTokenList(cfg.Crank.TokenList)
		if err != nil {
			return err
		}
		if err := client.SetLocalMapping(list); err != nil {
			return fmt.Errorf("apply token list: %w", err)
		}
		logger.Info().
			Str("path", cfg.Crank.TokenList).
			Int("slots", len(list.Tokens)).
			Msg("token list loaded")
	}

	if cfg.Crank.UploadOnStart {
		if err := client.UploadMapping(ctx); err != nil {
			return fmt.Errorf("upload mapping: %w", err)
		}
	}

	history, closeHistory, err := openHistory(ctx, cfg.History)
	if err != nil {
		return err
	}
	defer closeHistory()

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.Addr, logger)
	}

	runner := crank.NewRunner(crank.RunnerOptions{
		Client:          client,
		History:         history,
		Interval:        cfg.Crank.Interval.ToDuration(),
		DownloadOnStart: cfg.Crank.DownloadOnStart,
		Logger:          logger,
	})

	if once {
		report, err := runner.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !report.OK() {
			return fmt.Errorf("%d of %d chunks failed", len(report.Failed), report.Chunks)
		}
		return nil
	}
	return runner.Run(ctx)
}

func newScopeClient(cfg *config.Config, logger zerolog.Logger) (*crank.ScopeClient, error) {
	programID, err := cfg.ProgramID()
	if err != nil {
		return nil, err
	}
	payer, err := solana.LoadKeypair(cfg.Program.Keypair)
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}

	rpc := solana.NewHTTPClient(cfg.RPC.Endpoint,
		solana.WithTimeout(cfg.RPC.Timeout.ToDuration()),
		solana.WithMaxRetries(cfg.RPC.MaxRetries),
	)

	return crank.NewScopeClient(rpc, crank.Options{
		ProgramID: programID,
		Feed:      cfg.Program.Feed,
		Payer:     payer,
		ChunkSize: cfg.Crank.ChunkSize,
		Logger:    logger,
	})
}

// openHistory connects to ClickHouse when a DSN is configured; history is
// disabled otherwise. Migration and plain connect use the same database.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (storage.PriceHistoryStore, func(), error) {
	if cfg.ClickHouseDSN == "" {
		return nil, func() {}, nil
	}

	database, err := chstore.ResolveDatabase(cfg.ClickHouseDSN, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	var conn *chstore.Conn
	if cfg.Migrate {
		conn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN, database)
	} else {
		conn, err = chstore.NewConnWithDatabase(ctx, cfg.ClickHouseDSN, database)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	return chstore.NewPriceHistoryStore(conn), func() { conn.Close() }, nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	logger.Info().Str("addr", addr).Msg("metrics server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
