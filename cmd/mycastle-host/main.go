// Package main is the entry point for the mycastle-host service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jojopeligroso/MyCastle/internal/audit"
	"github.com/jojopeligroso/MyCastle/internal/auth"
	"github.com/jojopeligroso/MyCastle/internal/config"
	"github.com/jojopeligroso/MyCastle/internal/dbutil"
	"github.com/jojopeligroso/MyCastle/internal/policy"
	"github.com/jojopeligroso/MyCastle/internal/server"
	"github.com/jojopeligroso/MyCastle/internal/store"
	"github.com/jojopeligroso/MyCastle/internal/telemetry"
	"github.com/jojopeligroso/MyCastle/internal/tools"
	"github.com/jojopeligroso/MyCastle/internal/transform"
	"github.com/jojopeligroso/MyCastle/migrations"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "mycastle-host").Str("version", version).Logger()
	if cfg.DevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger := log.With().Str("component", "main").Logger()
	logger.Info().Str("addr", cfg.ListenAddr).Msg("starting mycastle-host")
	if cfg.DevMode {
		logger.Warn().Msg("dev mode enabled: unauthenticated requests get a synthetic super_admin context")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownOTel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "mycastle-host",
		ServiceVersion: version,
		MetricsEnabled: cfg.MetricsEnabled,
		TracesEnabled:  cfg.TracesEnabled,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize OpenTelemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := shutdownOTel(shutdownCtx); shutdownErr != nil {
			logger.Error().Err(shutdownErr).Msg("failed to shut down OpenTelemetry")
		}
	}()

	db, err := dbutil.Connect(ctx, dbutil.PoolConfig{DSN: cfg.DBDSN})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	migration, err := dbutil.RunMigrations(db, migrations.FS, "postgres")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to apply migrations")
	}
	logger.Info().Uint("version", migration.Version).Bool("dirty", migration.Dirty).Msg("schema migrated")

	gateway := store.NewGateway(db)

	guard, err := policy.NewGuard(cfg.Mode, cfg.EnableWrite)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid mode configuration")
	}
	logger.Info().Str("mode", guard.Mode()).Bool("write_enabled", cfg.EnableWrite).Msg("execution policy initialized")

	var tokenService *auth.TokenService
	if cfg.JWTSecret != "" {
		tokenService, err = auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build token service")
		}
	}

	host, err := tools.BuildHost(gateway, version, log.Logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build tool host")
	}
	logger.Info().Int("servers", host.ServerCount()).Int("tools", host.TotalToolCount()).Msg("tool host assembled")

	transforms, err := transform.NewService(cfg.UploadDir, gateway, log.Logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize transform service")
	}

	api := server.New(
		cfg, host, guard, tokenService, transforms,
		audit.NewLogger(log.Logger), gateway,
		version, commit, buildDate, log.Logger,
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if serveErr := srv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case serveErr := <-errCh:
		logger.Error().Err(serveErr).Msg("HTTP server error")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error().Err(shutdownErr).Msg("HTTP server shutdown error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped gracefully")
}
