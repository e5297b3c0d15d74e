package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// advisory kinds surfaced to the feed. At most one advisory is visible at a
// time; every turn entry clears the previous one.
const (
	AdvisoryEmptyTranscript = "empty_transcript"
	AdvisoryMediaError      = "media_error"
	AdvisoryTextError       = "text_error"
	AdvisoryBusy            = "busy"
)

// SessionSource supplies the backend session a turn rides on, creating it on
// first use.
type SessionSource interface {
	EnsureSession(ctx context.Context) (string, error)
}

// Backend is the inference surface the pipeline drives.
type Backend interface {
	Transcribe(ctx context.Context, sessionID string, audio []byte) (string, error)
	Converse(ctx context.Context, sessionID, text string, image []byte) (string, error)
}

// FrameSender is the ambient camera side channel, fired best-effort at the
// start of each audio turn.
type FrameSender interface {
	MaybeSend(ctx context.Context)
}

// Listener receives pipeline state changes. Implementations must not block;
// the feed hub fans these out asynchronously.
type Listener interface {
	TurnAppended(turn Turn)
	Advisory(kind, message string)
	ClearAdvisory()
	ProcessingChanged(busy bool)
}

// NopListener discards all notifications.
type NopListener struct{}

func (NopListener) TurnAppended(Turn) {}

func (NopListener) Advisory(string, string) {}

func (NopListener) ClearAdvisory() {}

func (NopListener) ProcessingChanged(bool) {}

var _ Listener = NopListener{}

// Recorder receives pipeline measurements. *observe.Metrics satisfies it.
type Recorder interface {
	ObserveTranscribe(ctx context.Context, d time.Duration)
	ObserveConverse(ctx context.Context, d time.Duration)
	AddTurn(ctx context.Context)
	AddEmptyTranscript(ctx context.Context)
	AddBackendError(ctx context.Context)
	SetBusy(ctx context.Context, busy bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTranscribe(context.Context, time.Duration) {}

func (nopRecorder) ObserveConverse(context.Context, time.Duration) {}

func (nopRecorder) AddTurn(context.Context) {}

func (nopRecorder) AddEmptyTranscript(context.Context) {}

func (nopRecorder) AddBackendError(context.Context) {}

func (nopRecorder) SetBusy(context.Context, bool) {}

// Pipeline runs one conversation turn at a time against the backend. A turn
// that arrives while another is in flight is rejected with [ErrBusy], never
// queued.
//
// The pipeline is the only writer of its [Log].
type Pipeline struct {
	sessions SessionSource
	backend  Backend
	camera   Camera
	frames   FrameSender
	log      *Log
	listener Listener
	metrics  Recorder

	mu   sync.Mutex
	busy bool
}

// PipelineOption configures a [Pipeline].
type PipelineOption func(*Pipeline)

// WithListener registers the state listener. Defaults to [NopListener].
func WithListener(l Listener) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.listener = l
		}
	}
}

// WithFrameSender registers the ambient camera side channel.
func WithFrameSender(f FrameSender) PipelineOption {
	return func(p *Pipeline) { p.frames = f }
}

// WithRecorder registers the metrics sink.
func WithRecorder(r Recorder) PipelineOption {
	return func(p *Pipeline) {
		if r != nil {
			p.metrics = r
		}
	}
}

// NewPipeline creates a turn pipeline. camera may be nil when no video
// device is available; turns then run text-and-audio only.
func NewPipeline(sessions SessionSource, backend Backend, camera Camera, log *Log, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		sessions: sessions,
		backend:  backend,
		camera:   camera,
		log:      log,
		listener: NopListener{},
		metrics:  nopRecorder{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Log returns the conversation log the pipeline appends to.
func (p *Pipeline) Log() *Log { return p.log }

// ClearAdvisory dismisses the currently visible advisory, if any. Called when
// the user takes a new action so a stale message never lingers over it.
func (p *Pipeline) ClearAdvisory() {
	p.listener.ClearAdvisory()
}

// Busy reports whether a turn is currently in flight.
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

func (p *Pipeline) acquire(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy {
		return false
	}
	p.busy = true
	p.metrics.SetBusy(ctx, true)
	p.listener.ProcessingChanged(true)
	return true
}

func (p *Pipeline) release(ctx context.Context) {
	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
	p.metrics.SetBusy(ctx, false)
	p.listener.ProcessingChanged(false)
}

// ProcessAudio runs a full voice turn from a finished recording: transcribe
// the audio, append the user turn, converse with a fresh camera still, append
// the assistant turn. Returns [ErrBusy] when a turn is already in flight and
// [ErrEmptyTranscript] when the recording contained no recognizable speech;
// the latter leaves the log untouched.
func (p *Pipeline) ProcessAudio(ctx context.Context, audio []byte) error {
	if !p.acquire(ctx) {
		// A silence-stopped recording has no command to answer; the
		// rejection still has to reach the user.
		p.listener.Advisory(AdvisoryBusy, "Still processing the previous turn")
		return ErrBusy
	}
	defer p.release(ctx)

	p.listener.ClearAdvisory()

	sessionID, err := p.sessions.EnsureSession(ctx)
	if err != nil {
		p.metrics.AddBackendError(ctx)
		p.listener.Advisory(AdvisoryMediaError, "Media processing error")
		return fmt.Errorf("chat: ensure session: %w", err)
	}

	if p.frames != nil {
		// Rides alongside the turn; its lifetime is not bound to it.
		go p.frames.MaybeSend(context.WithoutCancel(ctx))
	}

	start := time.Now()
	transcript, err := p.backend.Transcribe(ctx, sessionID, audio)
	p.metrics.ObserveTranscribe(ctx, time.Since(start))
	if err != nil {
		p.metrics.AddBackendError(ctx)
		p.listener.Advisory(AdvisoryMediaError, "Media processing error")
		return fmt.Errorf("chat: transcribe: %w", err)
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		p.metrics.AddEmptyTranscript(ctx)
		p.listener.Advisory(AdvisoryEmptyTranscript, "Transcription was empty")
		return ErrEmptyTranscript
	}

	p.appendTurn(ctx, RoleUser, transcript)
	if err := p.converse(ctx, sessionID, transcript); err != nil {
		p.listener.Advisory(AdvisoryMediaError, "Media processing error")
		return err
	}
	return nil
}

// ProcessText runs a typed turn. The user turn is appended before the
// backend call so the text shows up immediately, matching the voice path
// where the transcript is already known before conversing.
func (p *Pipeline) ProcessText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrNoText
	}
	if !p.acquire(ctx) {
		return ErrBusy
	}
	defer p.release(ctx)

	p.listener.ClearAdvisory()

	sessionID, err := p.sessions.EnsureSession(ctx)
	if err != nil {
		p.metrics.AddBackendError(ctx)
		p.listener.Advisory(AdvisoryTextError, "Text processing failed")
		return fmt.Errorf("chat: ensure session: %w", err)
	}

	p.appendTurn(ctx, RoleUser, text)
	if err := p.converse(ctx, sessionID, text); err != nil {
		p.listener.Advisory(AdvisoryTextError, "Text processing failed")
		return err
	}
	return nil
}

func (p *Pipeline) converse(ctx context.Context, sessionID, text string) error {
	var image []byte
	if p.camera != nil && p.camera.Ready() {
		// Always a fresh frame: the model should see the speaker as they
		// are now, not a throttled stale still.
		still, err := p.camera.Still(ctx)
		if err != nil {
			slog.Warn("chat: turn snapshot failed, continuing without image", "err", err)
		} else {
			image = still
		}
	}

	start := time.Now()
	reply, err := p.backend.Converse(ctx, sessionID, text, image)
	p.metrics.ObserveConverse(ctx, time.Since(start))
	if err != nil {
		p.metrics.AddBackendError(ctx)
		return fmt.Errorf("chat: converse: %w", err)
	}

	p.appendTurn(ctx, RoleAssistant, reply)
	return nil
}

func (p *Pipeline) appendTurn(ctx context.Context, role Role, content string) {
	turn := p.log.append(role, content)
	p.metrics.AddTurn(ctx)
	p.listener.TurnAppended(turn)
}
