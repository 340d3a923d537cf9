// Package main runs a ledger node with the scope program deployed and serves
// it over JSON-RPC and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vuittont60/scope/internal/ledger"
	"github.com/vuittont60/scope/internal/localnet"
	"github.com/vuittont60/scope/internal/logging"
	"github.com/vuittont60/scope/internal/node"
	"github.com/vuittont60/scope/internal/solana"
	"github.com/vuittont60/scope/internal/storage"
	"github.com/vuittont60/scope/internal/storage/memory"
	"github.com/vuittont60/scope/internal/storage/migrations"
	pgstore "github.com/vuittont60/scope/internal/storage/postgres"
)

const defaultGenesis = "2024-01-01T00:00:00Z"

func main() {
	loadEnvFile()

	listen := flag.String("listen", envOr("SCOPE_LISTEN", ":8899"), "JSON-RPC/WebSocket listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string for account state")
	useMemory := flag.Bool("use-memory", false, "Keep account state in memory instead of PostgreSQL")
	programID := flag.String("program-id", os.Getenv("SCOPE_PROGRAM_ID"), "Scope program ID")
	authority := flag.String("authority", os.Getenv("SCOPE_AUTHORITY"), "Upgrade authority of the scope program")
	enableMock := flag.Bool("enable-mock-oracle", false, "Deploy the mock oracle program")
	mockProgramID := flag.String("mock-program-id", os.Getenv("SCOPE_MOCK_PROGRAM_ID"), "Mock oracle program ID")
	genesis := flag.String("genesis", envOr("SCOPE_GENESIS", defaultGenesis), "Genesis time (RFC3339); slot 0 starts here")
	maxSlotAge := flag.Uint64("max-recent-slot-age", ledger.DefaultMaxRecentSlotAge, "Oldest accepted recent slot, in slots")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", envOr("LOG_FORMAT", "json"), "Log format (json, text)")

	flag.Parse()

	logger, err := logging.Init(*logLevel, *logFormat, "stdout")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	logger = logging.Component(logger, "scope-node")

	cfg, err := buildConfig(*programID, *authority, *enableMock, *mockProgramID)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid flags")
	}
	cfg.MaxRecentSlotAge = *maxSlotAge
	cfg.Logger = logger

	genesisTime, err := time.Parse(time.RFC3339, *genesis)
	if err != nil {
		logger.Fatal().Err(err).Str("genesis", *genesis).Msg("invalid genesis time")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal().Msg("--postgres-dsn is required (use --use-memory for in-memory state)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, storeName, cleanup, err := createStore(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create account store")
	}
	defer cleanup()
	cfg.StoreName = storeName

	net, err := localnet.Start(ctx, store, ledger.NewWallClock(genesisTime), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to deploy programs")
	}

	server := node.NewServer(net.Bank, node.Options{Logger: logger})
	httpServer := &http.Server{
		Addr:              *listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logEvent := logger.Info().
		Str("listen", *listen).
		Str("store", storeName).
		Stringer("program_id", cfg.ScopeProgramID).
		Uint64("slot", net.Bank.Clock().Slot)
	if net.Mock != nil {
		logEvent = logEvent.Stringer("mock_program_id", cfg.MockProgramID)
	}
	logEvent.Msg("node started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Stringer("signal", sig).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("shutdown complete")
}

func buildConfig(programID, authority string, enableMock bool, mockProgramID string) (localnet.Config, error) {
	var cfg localnet.Config
	var err error

	if programID == "" {
		return cfg, fmt.Errorf("--program-id is required")
	}
	if cfg.ScopeProgramID, err = solana.PubkeyFromString(programID); err != nil {
		return cfg, fmt.Errorf("--program-id: %w", err)
	}
	if authority == "" {
		return cfg, fmt.Errorf("--authority is required")
	}
	if cfg.Authority, err = solana.PubkeyFromString(authority); err != nil {
		return cfg, fmt.Errorf("--authority: %w", err)
	}

	cfg.EnableMockOracle = enableMock
	if enableMock {
		if mockProgramID == "" {
			return cfg, fmt.Errorf("--mock-program-id is required with --enable-mock-oracle")
		}
		if cfg.MockProgramID, err = solana.PubkeyFromString(mockProgramID); err != nil {
			return cfg, fmt.Errorf("--mock-program-id: %w", err)
		}
	}
	return cfg, nil
}

// createStore opens the account store and applies migrations when it is PostgreSQL.
func createStore(ctx context.Context, postgresDSN string, useMemory bool) (storage.AccountStore, string, func(), error) {
	if useMemory {
		return memory.NewAccountStore(), "memory", func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, "", nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, "", nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return pgstore.NewAccountStore(pool), "postgres", pool.Close, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		// Existing env vars win
		if os.Getenv(key) == "" {
			os.Setenv(key, strings.TrimSpace(value))
		}
	}
}
