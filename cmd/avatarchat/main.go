// Command avatarchat is the conversational avatar client core. It captures
// microphone audio and camera frames from a configured platform, detects end
// of utterance locally, and drives turns against the inference backend while
// serving the websocket feed for view clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mirrorlab/avatarchat/internal/app"
	"github.com/mirrorlab/avatarchat/internal/config"
	"github.com/mirrorlab/avatarchat/internal/observe"
	device "github.com/mirrorlab/avatarchat/pkg/capture"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Environment ────────────────────────────────────────────────────────────
	// A local .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "avatarchat: load .env: %v\n", err)
		return 1
	}

	// ── Configuration (with hot reload) ────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	var application *app.App

	watcher, err := config.NewWatcher(*configPath, func(_, newCfg *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			levelVar.Set(diff.NewLogLevel.Level())
			slog.Info("log level updated", "level", diff.NewLogLevel)
		}
		if application != nil {
			application.ApplyReload(newCfg, diff)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "avatarchat: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "avatarchat: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(cfg.Server, levelVar))

	slog.Info("avatarchat starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"backend", cfg.Backend.BaseURL,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry provider ────────────────────────────────────────────────────
	telemetry, err := observe.Setup()
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Capture platform ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	platform, err := buildPlatform(cfg, reg)
	if err != nil {
		slog.Error("failed to create capture platform", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, platform != nil)

	application, err = app.New(cfg, platform)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Polling must not begin before the application the onChange callback
	// reads is assigned.
	watcher.Start()

	slog.Info("client ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Platform wiring ───────────────────────────────────────────────────────────

// buildPlatform instantiates the capture platform named in the config. An
// empty platform name or an unregistered one is tolerated: the client runs
// with voice and camera disabled and only text turns work. Capture adapter
// packages register themselves with reg here as they are added.
func buildPlatform(cfg *config.Config, reg *config.Registry) (device.Platform, error) {
	name := cfg.Capture.Platform
	if name == "" {
		slog.Info("no capture platform configured, voice disabled")
		return nil, nil
	}

	p, err := reg.CreatePlatform(cfg.Capture)
	if errors.Is(err, config.ErrPlatformNotRegistered) {
		slog.Warn("capture platform not available in this build, voice disabled",
			"platform", name,
			"registered", reg.PlatformNames(),
		)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create capture platform %q: %w", name, err)
	}
	slog.Info("capture platform created", "platform", name)
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, hasCapture bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        avatarchat — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Backend", cfg.Backend.BaseURL)
	if hasCapture {
		printRow("Capture", cfg.Capture.Platform)
	} else {
		printRow("Capture", "(disabled)")
	}
	printRow("VAD threshold", fmt.Sprintf("%.0f", cfg.VAD.Threshold))
	printRow("Silence window", cfg.VAD.Debounce().String())
	printRow("Frame cooldown", cfg.Camera.FrameCooldown().String())
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. When log_file is set the output is
// rotated with lumberjack; otherwise it goes to stderr. The level is driven
// by a LevelVar so config hot reload can change it without a restart.
func newLogger(srv config.ServerConfig, level *slog.LevelVar) *slog.Logger {
	var out io.Writer = os.Stderr
	if srv.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   srv.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
