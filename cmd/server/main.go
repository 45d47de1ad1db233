package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"codeexec/internal/api"
	"codeexec/internal/config"
	"codeexec/internal/engine"
	"codeexec/internal/monitor"
	"codeexec/internal/storage"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := monitor.SetupTracing(ctx, cfg.TracingOptions())
	if err != nil {
		log.Warn().Err(err).Msg("tracing unavailable, continuing without export")
	}

	metrics := monitor.NewMetrics()

	eng, err := engine.New(cfg.EngineOptions(), metrics)
	if err != nil {
		return fmt.Errorf("starting execution engine: %w", err)
	}

	store, auditWriter := openAudit(ctx, cfg)
	if store != nil {
		defer store.Close()
	}
	if auditWriter != nil {
		// Runs before store.Close so queued rows reach the database.
		defer auditWriter.Flush(10 * time.Second)
	}

	server := api.NewServer(cfg, eng, store, auditWriter, metrics)

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", store != nil).
		Strs("languages", eng.Languages()).
		Msg("server starting")

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = eng.Close()
			return fmt.Errorf("serving: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := eng.Close(); err != nil {
		log.Error().Err(err).Msg("engine close error")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown error")
	}
	return nil
}

// loadConfig reads CONFIG_PATH (default configs/config.yaml) when present
// and applies environment overrides on top.
func loadConfig() (*config.Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "configs/config.yaml"
	}

	cfg := config.DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		if cfg, err = config.Load(path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	} else {
		log.Info().Str("path", path).Msg("no config file found, using defaults")
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment override: %w", err)
	}
	return cfg, nil
}

// openAudit connects the execution store. Auditing is optional, so a
// missing DSN or an unreachable database leaves both return values nil.
func openAudit(ctx context.Context, cfg *config.Config) (storage.Store, *storage.AuditWriter) {
	if cfg.Database.DSN == "" {
		return nil, nil
	}
	store, err := storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		log.Warn().Err(err).Str("driver", cfg.Database.Driver).Msg("database unavailable, audit logging disabled")
		return nil, nil
	}
	w := storage.NewAuditWriter(store, cfg.Database.AuditBuffer)
	w.Start()
	return store, w
}
