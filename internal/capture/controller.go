// Package capture drives the recording lifecycle: it owns the state machine
// that turns raw device streams into finished audio artifacts, using the
// voice-activity analyzer to decide when an utterance is over.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	device "github.com/mirrorlab/avatarchat/pkg/capture"
	"github.com/mirrorlab/avatarchat/pkg/vad"
)

// State is the recording lifecycle state.
type State int

const (
	// StateIdle: no recording in progress, a new one may start.
	StateIdle State = iota

	// StateRecording: a stream is live and accumulating chunks.
	StateRecording

	// StateFinalizing: the stream was stopped and the encoder is flushing.
	StateFinalizing
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotReady is returned by Start before a successful device probe.
var ErrNotReady = errors.New("capture: devices not ready")

// ErrAlreadyRecording is returned by Start while a recording is live.
var ErrAlreadyRecording = errors.New("capture: already recording")

// ErrFinalizing is returned by Start while the previous recording is still
// flushing its encoder.
var ErrFinalizing = errors.New("capture: previous recording still finalizing")

// ErrPipelineBusy is returned by Start while a conversation turn is in
// flight. Recording an utterance that could not be processed would only get
// dropped later; reject it up front.
var ErrPipelineBusy = errors.New("capture: response still being processed")

// Gate reports whether the downstream turn pipeline would reject a new
// utterance right now.
type Gate interface {
	Busy() bool
}

// Sink consumes a finished audio artifact. *chat.Pipeline satisfies it.
type Sink interface {
	ProcessAudio(ctx context.Context, audio []byte) error
}

// Config holds the controller parameters.
type Config struct {
	// Stream is the device configuration requested per recording.
	Stream device.StreamConfig

	// VAD configures the activity analyzer. Zero values select the
	// analyzer defaults.
	VAD vad.Config

	// Debounce is the silence window after a speech-end edge before the
	// recording auto-stops. Non-positive selects vad.DefaultDebounce.
	Debounce time.Duration
}

// Controller is the recording state machine.
//
// One recording at a time: Start transitions Idle -> Recording, Stop (or the
// silence timer) transitions Recording -> Finalizing, and once the stream's
// channels drain the controller joins the chunks, returns to Idle and hands
// the artifact to the sink. Stop outside Recording is a no-op, so the silence
// timer and a manual stop can race without harm.
type Controller struct {
	platform device.Platform
	gate     Gate
	sink     Sink
	cfg      Config

	analyzer *vad.Analyzer
	pending  *vad.Analyzer
	schedule vad.ScheduleFunc
	notify   func(State)

	mu      sync.Mutex
	state   State
	ready   bool
	opening bool
	stream  device.Stream
}

// ControllerOption configures a [Controller].
type ControllerOption func(*Controller)

// WithStateFunc registers a callback invoked on every state transition. The
// callback must not call back into the controller.
func WithStateFunc(fn func(State)) ControllerOption {
	return func(c *Controller) { c.notify = fn }
}

// WithScheduleFunc overrides the silence timer source for tests.
func WithScheduleFunc(s vad.ScheduleFunc) ControllerOption {
	return func(c *Controller) { c.schedule = s }
}

// NewController creates a controller in StateIdle. The controller is not
// ready to record until [Controller.Probe] succeeds.
func NewController(platform device.Platform, gate Gate, sink Sink, cfg Config, opts ...ControllerOption) (*Controller, error) {
	analyzer, err := vad.NewAnalyzer(cfg.VAD)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		platform: platform,
		gate:     gate,
		sink:     sink,
		cfg:      cfg,
		analyzer: analyzer,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Probe enumerates input devices and marks the controller ready when a
// microphone is present. Called once at startup; a failed probe leaves the
// controller unable to record until it is probed again.
func (c *Controller) Probe(ctx context.Context) error {
	devices, err := c.platform.Devices(ctx)
	if err != nil {
		c.setReady(false)
		return &device.DeviceError{Op: "probe", Err: err}
	}

	hasMic := false
	for _, d := range devices {
		slog.Info("capture: input device", "kind", d.Kind, "label", d.Label, "id", d.ID)
		if d.Kind == device.DeviceAudioInput {
			hasMic = true
		}
	}
	if !hasMic {
		c.setReady(false)
		return &device.DeviceError{Op: "probe", Err: errors.New("no audio input device")}
	}

	c.setReady(true)
	return nil
}

func (c *Controller) setReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

// Ready reports whether the device probe has succeeded.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens a fresh device stream and begins recording. It fails with
// [ErrAlreadyRecording] or [ErrFinalizing] when the controller is not idle,
// [ErrNotReady] before a successful probe, and [ErrPipelineBusy] while a
// turn is still being processed.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.state == StateRecording || c.opening:
		c.mu.Unlock()
		return ErrAlreadyRecording
	case c.state == StateFinalizing:
		c.mu.Unlock()
		return ErrFinalizing
	}
	if !c.ready {
		c.mu.Unlock()
		return ErrNotReady
	}
	if c.gate != nil && c.gate.Busy() {
		c.mu.Unlock()
		return ErrPipelineBusy
	}

	// Device acquisition can take a while; the lock is released so State,
	// Ready and Stop stay responsive. The opening flag keeps the slot
	// claimed meanwhile.
	c.opening = true
	streamCfg := c.cfg.Stream
	c.mu.Unlock()

	stream, err := c.platform.Open(ctx, streamCfg)

	c.mu.Lock()
	c.opening = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("capture: start: %w", err)
	}
	if c.state != StateIdle || !c.ready {
		c.mu.Unlock()
		_ = stream.Close()
		return ErrNotReady
	}

	if c.pending != nil {
		c.analyzer = c.pending
		c.pending = nil
	}
	c.analyzer.Reset()
	c.stream = stream
	c.state = StateRecording
	debounce := c.cfg.Debounce
	c.mu.Unlock()

	c.notifyState(StateRecording)
	slog.Info("capture: recording started")

	var timerOpts []vad.SilenceOption
	if c.schedule != nil {
		timerOpts = append(timerOpts, vad.WithSchedule(c.schedule))
	}
	timer := vad.NewSilenceTimer(debounce, func() {
		slog.Info("capture: silence window elapsed, stopping")
		_ = c.Stop()
	}, timerOpts...)

	go c.run(stream, timer)
	return nil
}

// SetTuning replaces the analyzer configuration and the silence debounce at
// runtime. A live recording keeps its current analyzer; the new tuning
// applies from the next recording. Used by config hot reload.
func (c *Controller) SetTuning(v vad.Config, debounce time.Duration) error {
	analyzer, err := vad.NewAnalyzer(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg.VAD = v
	c.cfg.Debounce = debounce
	if c.state == StateIdle {
		c.analyzer = analyzer
	} else {
		c.pending = analyzer
	}
	c.mu.Unlock()
	return nil
}

// Stop ends the live recording and begins finalization. Calling Stop when no
// recording is live is a no-op; the silence timer and a manual stop may
// therefore race freely.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil
	}
	c.state = StateFinalizing
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	c.notifyState(StateFinalizing)

	if err := stream.Close(); err != nil {
		return fmt.Errorf("capture: stop: %w", err)
	}
	return nil
}

// run drains the stream until both channels close, then finalizes. The
// analyzer is only ever touched from here; Start's Reset happens before the
// goroutine exists.
func (c *Controller) run(stream device.Stream, timer *vad.SilenceTimer) {
	var (
		parts [][]byte
		total int
	)
	frames := stream.Frames()
	chunks := stream.Chunks()

	for frames != nil || chunks != nil {
		select {
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			timer.Observe(c.analyzer.Process(f.PCM))
		case b, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			parts = append(parts, b)
			total += len(b)
		}
	}

	timer.Cancel()

	audio := make([]byte, 0, total)
	for _, p := range parts {
		audio = append(audio, p...)
	}
	c.finalize(audio)
}

// finalize returns the controller to Idle and hands the artifact to the
// sink. Idle is entered first: the user may start the next recording while
// the turn is in flight (the pipeline gate decides whether it is accepted).
func (c *Controller) finalize(audio []byte) {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	c.notifyState(StateIdle)

	if len(audio) == 0 {
		slog.Info("capture: recording produced no data, skipping")
		return
	}

	slog.Info("capture: recording finalized", "bytes", len(audio))
	if err := c.sink.ProcessAudio(context.Background(), audio); err != nil {
		slog.Warn("capture: processing recording failed", "err", err)
	}
}

func (c *Controller) notifyState(s State) {
	if c.notify != nil {
		c.notify(s)
	}
}
