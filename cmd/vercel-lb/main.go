package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	keyfileadapter "github.com/newnol/vercel-lb/internal/adapter/driven/keyfile"
	pocketbaseadapter "github.com/newnol/vercel-lb/internal/adapter/driven/pocketbase"
	sqliteadapter "github.com/newnol/vercel-lb/internal/adapter/driven/sqlite"
	verceladapter "github.com/newnol/vercel-lb/internal/adapter/driven/vercel"
	httphandler "github.com/newnol/vercel-lb/internal/adapter/driving/http"
	"github.com/newnol/vercel-lb/internal/application"
	"github.com/newnol/vercel-lb/internal/config"
	"github.com/newnol/vercel-lb/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load .env if present, then configuration (fail fast on missing
	// required env vars).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DatabasePath,
		"gateway_url", cfg.GatewayURL,
		"credit_cache_ttl", cfg.CreditCacheTTL,
		"use_pocketbase", cfg.UsePocketBase,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode) and migrate.
	db, err := sqliteadapter.NewDB(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DatabasePath)

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 4. Wire driven adapters.
	keyStore := sqliteadapter.NewClientKeyRepo(db)
	usageStore := sqliteadapter.NewUsageRepo(db)
	credits := verceladapter.NewCreditsClient(cfg.GatewayURL)
	fallback := keyfileadapter.NewLoader(cfg.KeyListPath)

	var source driven.UpstreamKeySource
	if cfg.UsePocketBase && cfg.HasPocketBaseCredentials() {
		source = pocketbaseadapter.NewClient(
			cfg.PocketBaseURL,
			cfg.PocketBaseCollection,
			cfg.PocketBaseEmail,
			cfg.PocketBasePassword,
			slog.Default(),
		)
		slog.Info("pocketbase key source enabled", "url", cfg.PocketBaseURL)
	} else {
		slog.Info("pocketbase disabled, loading keys from file", "path", cfg.KeyListPath)
	}

	// 5. Build the pool and start the background refresh loop. The first
	// cycle loads the key list and fetches every balance.
	pool := application.NewPool(source, fallback, credits, application.PoolOptions{
		MinCredit:   cfg.MinCredit,
		CreditTTL:   cfg.CreditCacheTTL,
		KeysRefresh: cfg.KeysRefresh,
	}, slog.Default())

	refreshSvc := application.NewRefreshService(pool, cfg.CreditCacheTTL, slog.Default())
	go refreshSvc.Start(ctx)

	// 6. Assemble the HTTP pipeline.
	keySvc := application.NewKeyService(keyStore)
	handler := httphandler.NewHandler(pool, keySvc, keyStore, usageStore, slog.Default())
	proxy := httphandler.NewProxy(pool, usageStore, cfg.GatewayURL, cfg.RequestTimeout, slog.Default())
	gate := httphandler.NewGate(cfg.AdminSecret, keyStore, usageStore, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(handler, proxy, gate, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: streamed completions legitimately run for minutes
		// and are bounded per request by REQUEST_TIMEOUT instead.
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("vercel-lb started",
		"listen_addr", cfg.ListenAddr,
		"gateway_url", cfg.GatewayURL,
	)

	// 7. Wait for shutdown signal, then drain.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
