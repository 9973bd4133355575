// Command voice-gateway is the voice turn gateway for Even G2 smart glasses:
// it accepts one audio recording per request, transcribes it, relays the
// transcript to an OpenClaw agent over WebSocket, and answers with the
// glasses-shaped reply.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/app"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/config"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/logging"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/observe"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("voice-gateway", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voice-gateway: %v\n", err)
		return 1
	}
	if *configPath != "" {
		cfg, err = config.Load(*configPath, cfg)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "voice-gateway: config file %q not found\n", *configPath)
			} else {
				fmt.Fprintf(os.Stderr, "voice-gateway: %v\n", err)
			}
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := logging.New(logging.ParseLevel(os.Getenv("LOG_LEVEL")), os.Stderr)
	slog.SetDefault(logger)

	logger.Info("voice gateway starting",
		"version", version,
		"stt_provider", cfg.SttProvider,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"gateway_url", cfg.OpenclawGatewayURL,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voice-gateway",
		ServiceVersion: version,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Run ───────────────────────────────────────────────────────────────────
	application := app.New(cfg, logger, observe.DefaultMetrics())
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run error", "err", err)
		return 1
	}
	logger.Info("goodbye")
	return 0
}
