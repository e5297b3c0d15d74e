package vad

import (
	"sync"
	"time"
)

// DefaultDebounce is the silence window that must elapse after a speech-end
// edge before an utterance is considered complete. An empirically chosen
// value carried over as configuration.
const DefaultDebounce = 1500 * time.Millisecond

// ScheduleFunc arms a one-shot timer that invokes fn after d. It returns a
// stop function that cancels the timer if it has not fired yet, reporting
// whether the cancellation won. The default implementation wraps
// [time.AfterFunc]; tests inject their own to simulate elapsed time
// deterministically.
type ScheduleFunc func(d time.Duration, fn func()) (stop func() bool)

// SilenceTimer implements end-of-utterance detection with hysteresis.
//
// On a speech-start edge any pending timer is cancelled; on a speech-end edge
// a timer is armed for the debounce window. If the window elapses without an
// intervening speech-start, the completion callback fires. At most one timer
// is armed at a time: re-arming always cancels the previous one first.
//
// All methods are safe for concurrent use.
type SilenceTimer struct {
	mu       sync.Mutex
	window   time.Duration
	schedule ScheduleFunc
	onSilent func()

	stop func() bool
	gen  uint64
}

// SilenceOption is a functional option for [NewSilenceTimer].
type SilenceOption func(*SilenceTimer)

// WithSchedule overrides the timer source. Primarily used in tests to fire
// the debounce window without waiting on a real clock.
func WithSchedule(s ScheduleFunc) SilenceOption {
	return func(t *SilenceTimer) { t.schedule = s }
}

// NewSilenceTimer creates a SilenceTimer that invokes onSilent after window
// of continuous silence following a speech-end edge. A non-positive window
// selects [DefaultDebounce].
func NewSilenceTimer(window time.Duration, onSilent func(), opts ...SilenceOption) *SilenceTimer {
	if window <= 0 {
		window = DefaultDebounce
	}
	t := &SilenceTimer{
		window:   window,
		onSilent: onSilent,
		schedule: func(d time.Duration, fn func()) func() bool {
			tm := time.AfterFunc(d, fn)
			return tm.Stop
		},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SpeechStart cancels any pending silence timer. The user resumed speaking
// before the debounce window elapsed, so the utterance continues.
func (t *SilenceTimer) SpeechStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// SpeechEnd arms the silence timer, cancelling any previously armed one
// first.
func (t *SilenceTimer) SpeechEnd() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	gen := t.gen
	t.stop = t.schedule(t.window, func() { t.fire(gen) })
}

// Cancel discards any pending timer. Called when recording leaves the
// Recording state through any path, so a stale timer can never fire an
// utterance-complete for a recording that already ended.
func (t *SilenceTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// Observe is a convenience that routes an analyzer edge to SpeechStart or
// SpeechEnd. [EdgeNone] is ignored.
func (t *SilenceTimer) Observe(e Edge) {
	switch e {
	case EdgeSpeechStart:
		t.SpeechStart()
	case EdgeSpeechEnd:
		t.SpeechEnd()
	}
}

// cancelLocked invalidates the armed timer. Must be called with t.mu held.
// Bumping the generation makes an already-fired-but-not-yet-run callback a
// no-op: the rearm-cancel is atomic relative to the tick that triggered it.
func (t *SilenceTimer) cancelLocked() {
	t.gen++
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
}

// fire runs when an armed timer elapses. The generation check discards fires
// that lost a race against SpeechStart/Cancel.
func (t *SilenceTimer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.stop = nil
	t.mu.Unlock()

	if t.onSilent != nil {
		t.onSilent()
	}
}
