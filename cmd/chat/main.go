// chat connects to the unified realtime endpoint and bridges stdin to a
// conversation: every line typed is sent as a user message, every inbound
// message is printed to the console.
//
// Usage: go run ./cmd/chat --config configs/recorder.local.yaml --context ctx-1
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/planweave/realtime-go/internal/config"
	"github.com/planweave/realtime-go/internal/connection"
	"github.com/planweave/realtime-go/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/recorder.example.yaml", "path to config file")
	contextID := flag.String("context", "", "conversation context id")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if *contextID == "" {
		logger.Error("--context is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

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
	}, tokenProvider(cfg.Session), logger)
	defer conn.Cleanup()

	display := func(msg connection.Message) {
		if *verbose {
			data, _ := json.MarshalIndent(msg, "", "  ")
			fmt.Println(string(data))
			return
		}
		fmt.Printf("[%s/%s] %v\n", msg.Channel, msg.Type, msg.Payload)
	}

	conn.Subscribe(connection.ChannelConversation, display, *contextID)
	conn.Subscribe(connection.ChannelAgent, display, *contextID)
	conn.Subscribe(connection.ChannelDocument, display, *contextID)

	cancelStatus := conn.OnStatusChange(func(s connection.Status) {
		if s.PermanentlyFailed {
			logger.Error("connection permanently failed", "last_error", s.LastError)
			cancel()
			return
		}
		logger.Info("connection status", "connected", s.Connected, "attempts", s.ReconnectAttempts)
	})
	defer cancelStatus()

	conn.Connect(ctx, cfg.Realtime.UserID)

	// Stdin pump. Messages typed before the handshake completes queue and
	// flush once the connection opens.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			conn.SendConversationMessage(*contextID, line)
		}
		cancel()
	}()

	<-ctx.Done()
	conn.Disconnect()
	logger.Info("chat closed")
}

// tokenProvider picks a token source from config.
func tokenProvider(cfg config.SessionConfig) connection.TokenProvider {
	switch {
	case cfg.TokenURL != "":
		return session.NewClient(cfg.TokenURL, cfg.RefreshToken, session.WithTimeout(cfg.Timeout))
	case cfg.TokenFile != "":
		return session.File{Path: cfg.TokenFile}
	case cfg.Token != "":
		return session.Static{Token: cfg.Token}
	default:
		return nil
	}
}
