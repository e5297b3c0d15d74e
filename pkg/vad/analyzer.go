// Package vad implements local voice-activity detection for the avatarchat
// client: an energy-based [Analyzer] that turns raw PCM into a boolean
// speaking signal, and a [SilenceTimer] that debounces the falling edge into
// an end-of-utterance decision.
//
// Detection is synchronous by design: [Analyzer.Process] returns immediately
// with the edge (if any) for the frame just seen, making it suitable for the
// per-frame sampling loop that gates the recorder. Neither type talks to the
// network; utterance segmentation happens entirely on the client.
//
// An Analyzer is owned by a single capture loop and is not safe for
// concurrent use. A SilenceTimer is safe for concurrent use.
package vad

import (
	"encoding/binary"
	"errors"
)

const (
	// defaultThreshold is the mean-absolute-deviation level (in 16-bit PCM
	// units, full scale 32767) above which a tick is classified as speech.
	// Chosen to reject ambient room noise while accepting normal speech;
	// treated as configuration, not a proven-optimal value.
	defaultThreshold = 2000.0

	// defaultWindowSamples is the size of the rolling time-domain sample
	// window the deviation is computed over.
	defaultWindowSamples = 2048
)

// Config holds the parameters for an [Analyzer]. Zero values select the
// package defaults.
type Config struct {
	// Threshold is the mean-absolute-deviation speech threshold in PCM
	// sample units. Must be positive.
	Threshold float64

	// WindowSamples is the size of the rolling sample window. Must be
	// positive.
	WindowSamples int
}

// Analyzer converts raw 16-bit signed little-endian PCM into a boolean
// speaking signal with edge deduplication: each transition is reported
// exactly once, as [EdgeSpeechStart] or [EdgeSpeechEnd].
//
// The analyzer maintains a fixed-size rolling window of recent samples and on
// every [Analyzer.Process] call computes the mean absolute deviation of the
// window from the PCM center value (zero). Activity = deviation > threshold.
type Analyzer struct {
	threshold float64

	// window is a ring buffer of recent sample magnitudes.
	window []float64
	head   int
	filled int
	sum    float64

	speaking bool
}

// NewAnalyzer creates an Analyzer with the given config. Returns an error if
// an explicitly-set value is out of range.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if cfg.Threshold < 0 {
		return nil, errors.New("vad: threshold must not be negative")
	}
	if cfg.WindowSamples < 0 {
		return nil, errors.New("vad: window size must not be negative")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.WindowSamples == 0 {
		cfg.WindowSamples = defaultWindowSamples
	}
	return &Analyzer{
		threshold: cfg.Threshold,
		window:    make([]float64, cfg.WindowSamples),
	}, nil
}

// Process feeds one frame of raw PCM into the rolling window and returns the
// edge for this tick: [EdgeSpeechStart] or [EdgeSpeechEnd] exactly once per
// transition, [EdgeNone] while the signal is unchanged. An empty frame is a
// valid tick that reuses the current window contents.
//
// Designed to be called synchronously from the capture loop; it never blocks.
func (a *Analyzer) Process(pcm []byte) Edge {
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		mag := float64(sample)
		if mag < 0 {
			mag = -mag
		}

		a.sum -= a.window[a.head]
		a.window[a.head] = mag
		a.sum += mag
		a.head = (a.head + 1) % len(a.window)
		if a.filled < len(a.window) {
			a.filled++
		}
	}

	if a.filled == 0 {
		return EdgeNone
	}

	deviation := a.sum / float64(a.filled)
	speaking := deviation > a.threshold
	if speaking == a.speaking {
		return EdgeNone
	}
	a.speaking = speaking

	if speaking {
		return EdgeSpeechStart
	}
	return EdgeSpeechEnd
}

// Speaking reports the current boolean activity signal.
func (a *Analyzer) Speaking() bool { return a.speaking }

// Reset clears the sample window and the speaking signal without emitting an
// edge. Use when a stream is restarted so stale samples from the previous
// stream cannot affect the next one.
func (a *Analyzer) Reset() {
	for i := range a.window {
		a.window[i] = 0
	}
	a.head = 0
	a.filled = 0
	a.sum = 0
	a.speaking = false
}
