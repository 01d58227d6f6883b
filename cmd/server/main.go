package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/caseimport/internal/config"
	"github.com/JonMunkholm/caseimport/internal/core"
	_ "github.com/JonMunkholm/caseimport/internal/core/entities" // Register all entities
	"github.com/JonMunkholm/caseimport/internal/logging"
	"github.com/JonMunkholm/caseimport/internal/store/backend"
	"github.com/JonMunkholm/caseimport/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	// An invalid entity catalogue must stop the process before it accepts imports.
	registry, err := core.LoadRegistry()
	if err != nil {
		slog.Error("invalid entity definitions", "error", err)
		os.Exit(1)
	}
	slog.Info("entities registered", "count", registry.Len(), "order", registry.EntityTypes())

	ctx := context.Background()
	st, err := backend.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("store opened", "driver", cfg.Store.Driver)

	service := core.NewService(core.NewImporter(registry, st), core.ServiceOptions{
		Workers:           cfg.Import.Workers,
		MaxRetries:        cfg.Import.RetryLimit(),
		RetryBaseDelay:    cfg.Import.RetryBaseDelay,
		RetryMaxDelay:     cfg.Import.RetryMaxDelay,
		WriteRate:         cfg.Import.WriteRate,
		WriteBurst:        cfg.Import.WriteBurst,
		MaxConcurrentRuns: cfg.Import.MaxConcurrentRuns,
		MaxWait:           cfg.Import.MaxWaitTime,
		RunTimeout:        cfg.Import.RunTimeout,
		Retention:         cfg.Import.Retention,
		Sink:              st,
	})

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-sigCtx.Done()

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Let active runs finish for half the budget, then cancel the rest
		// at their next entity boundary.
		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for import runs to complete", "active", status.Active)
			drainCtx, cancelDrain := context.WithTimeout(shutdownCtx, cfg.Server.ShutdownTimeout/2)
			err := service.Drain(drainCtx)
			cancelDrain()
			if err != nil {
				slog.Warn("import runs still active, cancelling", "error", err)
				if err := service.Shutdown(shutdownCtx); err != nil {
					slog.Error("import runs did not stop in time", "error", err)
				}
			}
		}
		slog.Info("shutdown complete")
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
}
