package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/Kundan10424/loom/internal/auth"
	"github.com/Kundan10424/loom/internal/collab"
	"github.com/Kundan10424/loom/internal/config"
	"github.com/Kundan10424/loom/internal/logging"
	"github.com/Kundan10424/loom/internal/metrics"
	"github.com/Kundan10424/loom/internal/presence"
	"github.com/Kundan10424/loom/internal/server"
	"github.com/Kundan10424/loom/internal/version"
)

func runGracefulShutdown(srv *server.Server, hub *collab.Hub) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		hub.Stop()
		close(done)
	}()

	return done
}

func main() {
	// Best-effort: .env is a local development convenience.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	info := version.Get()
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.BuildTime, runtime.Version()).Set(1)

	clock := clockwork.NewRealClock()
	registry := presence.NewRegistry()
	hub := collab.NewHub(registry, clock)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	srv := server.New(cfg, verifier, hub)

	done := runGracefulShutdown(srv, hub)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
