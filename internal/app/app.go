// Package app wires all avatarchat subsystems into a running client.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control surface until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithBackend,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorlab/avatarchat/internal/backend"
	"github.com/mirrorlab/avatarchat/internal/capture"
	"github.com/mirrorlab/avatarchat/internal/chat"
	"github.com/mirrorlab/avatarchat/internal/config"
	"github.com/mirrorlab/avatarchat/internal/feed"
	"github.com/mirrorlab/avatarchat/internal/health"
	"github.com/mirrorlab/avatarchat/internal/observe"
	"github.com/mirrorlab/avatarchat/internal/session"
	device "github.com/mirrorlab/avatarchat/pkg/capture"
	"github.com/mirrorlab/avatarchat/pkg/vad"
)

// ErrVoiceDisabled is returned for recording commands when no capture
// platform is configured. Text turns keep working.
var ErrVoiceDisabled = errors.New("app: no capture platform configured, voice is disabled")

// Backend is the full inference surface the app depends on. *backend.Client
// satisfies it; tests inject a double via [WithBackend].
type Backend interface {
	CreateSession(ctx context.Context) (string, error)
	UploadFrame(ctx context.Context, sessionID string, image []byte) error
	Transcribe(ctx context.Context, sessionID string, audio []byte) (string, error)
	Converse(ctx context.Context, sessionID, text string, image []byte) (string, error)
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes and drives the conversation loop.
type App struct {
	cfg      *config.Config
	platform device.Platform

	// Subsystems, initialised in New and torn down in Shutdown.
	backend    Backend
	sessions   *session.Manager
	log        *chat.Log
	pipeline   *chat.Pipeline
	throttler  *chat.FrameThrottler
	camera     *capture.Camera
	controller *capture.Controller
	hub        *feed.Hub
	metrics    *observe.Metrics
	health     *health.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend injects a backend instead of creating an HTTP client from
// config.
func WithBackend(b Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithMetrics injects a metrics instance instead of using the process-global
// one. Tests use this to avoid cross-test pollution.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. platform comes from
// main (instantiated via the config registry) and may be nil, in which case
// voice and camera are disabled and only text turns work.
func New(cfg *config.Config, platform device.Platform, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		platform: platform,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Backend client ────────────────────────────────────────────────
	if a.backend == nil {
		bopts := []backend.Option{backend.WithAuthToken(cfg.Backend.AuthToken)}
		if cfg.Backend.RequestTimeoutMs > 0 {
			bopts = append(bopts, backend.WithTimeout(cfg.Backend.RequestTimeout()))
		}
		client, err := backend.New(cfg.Backend.BaseURL, bopts...)
		if err != nil {
			return nil, fmt.Errorf("app: init backend: %w", err)
		}
		a.backend = client
	}

	// ── 2. Session manager + conversation log ────────────────────────────
	a.sessions = session.NewManager(a.backend)
	a.log = chat.NewLog()

	// ── 3. Feed hub ──────────────────────────────────────────────────────
	a.hub = feed.NewHub(a, a.log, a.sessions, feed.WithClientGauge(a.metrics.FeedClients))

	// ── 4. Camera + frame side channel ───────────────────────────────────
	streamCfg := device.StreamConfig{
		SampleRate:  cfg.Capture.SampleRate,
		Channels:    cfg.Capture.Channels,
		FrameSizeMs: cfg.Capture.FrameSizeMs,
	}
	var cam chat.Camera
	if platform != nil {
		a.camera = capture.NewCamera(platform, streamCfg)
		a.closers = append(a.closers, a.camera.Close)
		cam = a.camera
	}
	a.throttler = chat.NewFrameThrottler(cam, a.backend, a.sessions,
		cfg.Camera.FrameCooldown(),
		chat.WithFrameRecorder(a.metrics),
	)

	// ── 5. Turn pipeline ─────────────────────────────────────────────────
	a.pipeline = chat.NewPipeline(a.sessions, a.backend, cam, a.log,
		chat.WithListener(a.hub),
		chat.WithFrameSender(a.throttler),
		chat.WithRecorder(a.metrics),
	)

	// ── 6. Recording controller ──────────────────────────────────────────
	if platform != nil {
		controller, err := capture.NewController(platform, a.pipeline, a.pipeline,
			capture.Config{
				Stream:   streamCfg,
				VAD:      vadConfig(cfg.VAD),
				Debounce: cfg.VAD.Debounce(),
			},
			capture.WithStateFunc(func(s capture.State) {
				a.hub.RecordingChanged(s.String())
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("app: init controller: %w", err)
		}
		a.controller = controller
	}

	// ── 7. Health checks ─────────────────────────────────────────────────
	checkers := []health.Checker{health.PingChecker("backend", a.backend)}
	if a.controller != nil {
		checkers = append(checkers,
			health.ReadyChecker("capture", a.controller.Ready, "no audio input device"))
	}
	a.health = health.New(checkers...)

	return a, nil
}

// Pipeline exposes the turn pipeline, primarily for tests.
func (a *App) Pipeline() *chat.Pipeline { return a.pipeline }

// Hub exposes the feed hub for registering on an external mux.
func (a *App) Hub() *feed.Hub { return a.hub }

// ApplyReload applies a hot-reloadable config change to the running app.
// Settings the diff marks as requiring a restart are left alone; the log
// level is main's concern (it owns the handler).
func (a *App) ApplyReload(cfg *config.Config, diff config.ConfigDiff) {
	if diff.VADChanged && a.controller != nil {
		if err := a.controller.SetTuning(vadConfig(cfg.VAD), cfg.VAD.Debounce()); err != nil {
			slog.Warn("app: reloaded vad tuning rejected", "err", err)
		} else {
			slog.Info("app: vad tuning updated",
				"threshold", cfg.VAD.Threshold,
				"window_samples", cfg.VAD.WindowSamples,
				"debounce", cfg.VAD.Debounce(),
			)
		}
	}
	if diff.CameraChanged {
		a.throttler.SetCooldown(cfg.Camera.FrameCooldown())
		slog.Info("app: frame cooldown updated", "cooldown", cfg.Camera.FrameCooldown())
	}
}

// ─── feed.Actions ────────────────────────────────────────────────────────────

var _ feed.Actions = (*App)(nil)

// StartRecording implements [feed.Actions].
func (a *App) StartRecording(ctx context.Context) error {
	// A new action dismisses whatever advisory the previous one left behind.
	a.pipeline.ClearAdvisory()
	if a.controller == nil {
		return ErrVoiceDisabled
	}
	if err := a.controller.Start(ctx); err != nil {
		return err
	}
	a.metrics.Recordings.Add(ctx, 1)
	return nil
}

// StopRecording implements [feed.Actions].
func (a *App) StopRecording() error {
	if a.controller == nil {
		return ErrVoiceDisabled
	}
	return a.controller.Stop()
}

// SubmitText implements [feed.Actions]. Validation and the busy check are
// synchronous so the client gets an immediate rejection; the turn itself runs
// in the background and reports through the feed listener.
func (a *App) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.ErrNoText
	}
	if a.pipeline.Busy() {
		return chat.ErrBusy
	}
	go func() {
		err := a.pipeline.ProcessText(context.WithoutCancel(ctx), text)
		if err != nil && !errors.Is(err, chat.ErrBusy) {
			slog.Warn("app: text turn failed", "err", err)
		}
	}()
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run probes devices, serves the control surface (feed, health, metrics) and
// blocks until ctx is cancelled. Device probe failures are not fatal: the
// client degrades to text turns and /readyz reports the failure.
func (a *App) Run(ctx context.Context) error {
	if a.controller != nil {
		if err := a.controller.Probe(ctx); err != nil {
			slog.Warn("app: device probe failed, voice disabled until restart", "err", err)
		}
	}
	if a.camera != nil {
		if err := a.camera.Open(ctx); err != nil {
			slog.Warn("app: camera unavailable, continuing without video", "err", err)
		}
	}

	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /feed", a.hub)

	srv := &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: observe.Middleware(a.metrics)(mux),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("app: control server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, the rest are skipped
// and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		if a.controller != nil {
			if err := a.controller.Stop(); err != nil {
				slog.Warn("app: stop recording error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

// vadConfig converts the config block to the analyzer's config.
func vadConfig(v config.VADConfig) vad.Config {
	return vad.Config{
		Threshold:     v.Threshold,
		WindowSamples: v.WindowSamples,
	}
}
