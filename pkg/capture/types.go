package capture

import "time"

// Frame represents a single frame of raw audio flowing out of a live capture
// stream. Frames are the unit the voice-activity analyzer samples on; they are
// not the encoded artifact that is uploaded (see [Stream.Chunks] for that).
type Frame struct {
	// PCM audio data, 16-bit signed little-endian.
	PCM []byte

	// SampleRate in Hz (e.g., 44100 for typical microphone capture).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// StreamConfig holds the parameters requested when opening a capture stream.
type StreamConfig struct {
	// SampleRate is the requested audio sample rate in Hz.
	SampleRate int

	// Channels is the requested channel count.
	Channels int

	// FrameSizeMs is the duration of each PCM frame delivered on
	// [Stream.Frames], in milliseconds.
	FrameSizeMs int
}

// DeviceKind classifies an input device.
type DeviceKind string

const (
	DeviceAudioInput DeviceKind = "audioinput"
	DeviceVideoInput DeviceKind = "videoinput"
)

// DeviceInfo describes one available input device, as reported by
// [Platform.Devices].
type DeviceInfo struct {
	// ID is the platform-specific device identifier.
	ID string

	// Label is the human-readable device name.
	Label string

	// Kind indicates whether this is a microphone or a camera.
	Kind DeviceKind
}
