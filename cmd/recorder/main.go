package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/planweave/realtime-go/internal/archive"
	"github.com/planweave/realtime-go/internal/config"
	"github.com/planweave/realtime-go/internal/connection"
	"github.com/planweave/realtime-go/internal/database"
	"github.com/planweave/realtime-go/internal/model"
	"github.com/planweave/realtime-go/internal/queue"
	"github.com/planweave/realtime-go/internal/session"
	"github.com/planweave/realtime-go/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/recorder.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting recorder",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"user_id", cfg.Realtime.UserID,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Realtime connection
	conn := connection.NewConn(connection.Config{
		DirectURL:            cfg.Realtime.DirectURL,
		APIURL:               cfg.Realtime.APIURL,
		OriginURL:            cfg.Realtime.OriginURL,
		HandshakeTimeout:     cfg.Realtime.HandshakeTimeout,
		WriteTimeout:         cfg.Realtime.WriteTimeout,
		PingInterval:         cfg.Realtime.PingInterval,
		ReconnectBaseDelay:   cfg.Realtime.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Realtime.ReconnectMaxDelay,
		ReconnectGrowth:      cfg.Realtime.ReconnectGrowth,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		BufferSize:           cfg.Realtime.BufferSize,
	}, tokenProvider(cfg.Session, logger), logger)
	defer conn.Cleanup()

	cancelStatus := conn.OnStatusChange(func(s connection.Status) {
		logger.Info("connection status",
			"connected", s.Connected,
			"connecting", s.Connecting,
			"attempts", s.ReconnectAttempts,
			"failed", s.PermanentlyFailed,
			"queued", s.QueuedMessageCount,
			"last_error", s.LastError,
		)
	})
	defer cancelStatus()

	// Archive pipeline: recorder -> buffer -> batch writer
	archiveCfg := archive.Config{
		Channels:      cfg.Archive.Channels,
		BatchSize:     cfg.Archive.BatchSize,
		FlushInterval: cfg.Archive.FlushInterval,
		BufferSize:    cfg.Archive.BufferSize,
	}
	buffer := queue.NewBuffer[model.Record](archiveCfg.BufferSize)

	recorder := archive.NewRecorder(archiveCfg, conn, buffer, logger)
	recorder.Start()

	writer := archive.NewWriter(archiveCfg, buffer, pool, logger)
	if err := writer.Start(ctx); err != nil {
		logger.Error("failed to start archive writer", "error", err)
		os.Exit(1)
	}

	conn.Connect(ctx, cfg.Realtime.UserID)

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(pool, conn, writer),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("recorder running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	recorder.Stop()
	conn.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	writer.Stop(shutdownCtx)
	healthServer.Shutdown(shutdownCtx)

	logger.Info("recorder stopped")
}

// tokenProvider picks a token source from config: refresh endpoint, then token
// file, then static token. Returns nil for an anonymous session.
func tokenProvider(cfg config.SessionConfig, logger *slog.Logger) connection.TokenProvider {
	switch {
	case cfg.TokenURL != "":
		return session.NewClient(
			cfg.TokenURL,
			cfg.RefreshToken,
			session.WithLogger(logger),
			session.WithTimeout(cfg.Timeout),
			session.WithRetries(cfg.MaxRetries, time.Second),
		)
	case cfg.TokenFile != "":
		return session.File{Path: cfg.TokenFile}
	case cfg.Token != "":
		return session.Static{Token: cfg.Token}
	default:
		return nil
	}
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(pool *pgxpool.Pool, conn *connection.Conn, writer *archive.Writer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check database
		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		// Check realtime connection
		st := conn.Status()
		health.Components["realtime"] = st
		if st.PermanentlyFailed {
			health.Status = "unhealthy"
		} else if !st.Connected {
			health.Status = "degraded"
		}

		health.Components["writer"] = writer.Stats()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
