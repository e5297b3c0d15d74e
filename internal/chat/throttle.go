package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultFrameCooldown is the minimum interval between ambient camera-frame
// uploads. An empirically chosen value carried over as configuration.
const DefaultFrameCooldown = 5 * time.Second

// Camera is the read-only view of the camera the turn pipeline and the frame
// side channel share.
type Camera interface {
	// Ready reports whether the camera has passed its one-time device
	// probe and can produce stills.
	Ready() bool

	// Still captures a fresh JPEG frame.
	Still(ctx context.Context) ([]byte, error)
}

// FrameUploader is the narrow backend surface the throttler needs.
type FrameUploader interface {
	UploadFrame(ctx context.Context, sessionID string, image []byte) error
}

// SessionID exposes the cached session id without forcing creation. The
// frame side channel never creates sessions; it only rides an existing one.
type SessionID interface {
	ID() (string, bool)
}

// FrameRecorder receives the outcome of each attempted frame upload.
// *observe.Metrics satisfies it.
type FrameRecorder interface {
	RecordFrameUpload(ctx context.Context, status string)
}

// FrameThrottler rate-limits ambient camera-snapshot uploads to at most one
// per cooldown, independent of the conversation turn cycle.
//
// The cooldown check and the lastSent update happen atomically under one
// lock, before the network call is issued, so a slow upload cannot cause a
// burst of parallel attempts. Upload failures are swallowed: losing one
// ambient frame is not conversation-critical.
//
// Safe for concurrent use.
type FrameThrottler struct {
	camera   Camera
	uploader FrameUploader
	sessions SessionID
	cooldown time.Duration

	mu       sync.Mutex
	lastSent time.Time

	// now is the time source; overridden in tests.
	now func() time.Time

	recorder FrameRecorder
}

// ThrottlerOption is a functional option for [NewFrameThrottler].
type ThrottlerOption func(*FrameThrottler)

// WithNow overrides the throttler's time source for deterministic tests.
func WithNow(now func() time.Time) ThrottlerOption {
	return func(t *FrameThrottler) { t.now = now }
}

// WithFrameRecorder wires the upload outcome recorder.
func WithFrameRecorder(r FrameRecorder) ThrottlerOption {
	return func(t *FrameThrottler) { t.recorder = r }
}

// NewFrameThrottler creates a throttler with the given cooldown. A
// non-positive cooldown selects [DefaultFrameCooldown].
func NewFrameThrottler(camera Camera, uploader FrameUploader, sessions SessionID, cooldown time.Duration, opts ...ThrottlerOption) *FrameThrottler {
	if cooldown <= 0 {
		cooldown = DefaultFrameCooldown
	}
	t := &FrameThrottler{
		camera:   camera,
		uploader: uploader,
		sessions: sessions,
		cooldown: cooldown,
		now:      time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// MaybeSend uploads one camera still. It returns without effect when the
// cooldown has not elapsed, the camera is not ready, or no session exists
// yet. The cooldown clock is advanced at attempt time, before the upload is
// awaited.
func (t *FrameThrottler) MaybeSend(ctx context.Context) {
	if t.camera == nil || !t.camera.Ready() {
		return
	}
	sessionID, ok := t.sessions.ID()
	if !ok {
		return
	}

	t.mu.Lock()
	now := t.now()
	if now.Sub(t.lastSent) < t.cooldown {
		t.mu.Unlock()
		return
	}
	t.lastSent = now
	t.mu.Unlock()

	image, err := t.camera.Still(ctx)
	if err != nil {
		slog.Warn("frame throttler: snapshot failed", "err", err)
		t.record(ctx, "error")
		return
	}

	if err := t.uploader.UploadFrame(ctx, sessionID, image); err != nil {
		slog.Warn("frame throttler: upload failed", "session_id", sessionID, "err", err)
		t.record(ctx, "error")
		return
	}
	t.record(ctx, "ok")
}

// SetCooldown changes the upload cooldown at runtime. A non-positive value
// selects [DefaultFrameCooldown]. Used by config hot reload.
func (t *FrameThrottler) SetCooldown(d time.Duration) {
	if d <= 0 {
		d = DefaultFrameCooldown
	}
	t.mu.Lock()
	t.cooldown = d
	t.mu.Unlock()
}

func (t *FrameThrottler) record(ctx context.Context, status string) {
	if t.recorder != nil {
		t.recorder.RecordFrameUpload(ctx, status)
	}
}
