// Package capture defines the interfaces and types for microphone/camera
// device connectivity within the avatarchat client core.
//
// The two primary abstractions are:
//
//   - [Platform] — enumerates input devices and opens a [Stream].
//   - [Stream] — an exclusively-owned handle over a live microphone+camera
//     acquisition, delivering raw PCM frames for signal analysis, encoded
//     recorder chunks for upload, and camera stills on demand.
//
// Implementations wrap whatever media stack the host provides (a WebRTC
// capture backend, a test double, a file replayer). The interfaces are
// intentionally narrow so the recording controller stays decoupled from
// device details.
//
// This package lives under pkg/ because external capture adapters are
// expected to implement [Platform] and [Stream].
package capture

import (
	"context"
	"fmt"
)

// DeviceError reports a failed device acquisition: permission denied,
// hardware busy, or no matching device. It wraps the underlying platform
// error so callers can still inspect it with errors.As/Is.
type DeviceError struct {
	// Op names the failed operation (e.g., "open", "snapshot").
	Op string

	// Err is the underlying platform error.
	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture: device %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying platform error.
func (e *DeviceError) Unwrap() error { return e.Err }

// Stream is an active microphone+camera acquisition.
//
// A Stream is obtained from [Platform.Open] and is exclusively owned by its
// opener until [Stream.Close] releases every underlying device track. A
// Platform must never hand out two live Streams to the same caller.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Frames returns the read-only channel of raw PCM audio frames for
	// signal analysis. The channel is closed when the stream ends.
	Frames() <-chan Frame

	// Chunks returns the read-only channel of encoded recorder output.
	// Chunk encoding (webm/opus or whatever the platform records) is the
	// platform's concern; callers treat chunks as opaque bytes to be
	// concatenated into the final audio artifact. The channel is closed
	// only after the encoder has flushed its last buffered chunk.
	Chunks() <-chan []byte

	// Snapshot captures a single still frame from the camera track and
	// returns it as JPEG bytes. Returns a [DeviceError] if the camera is
	// unavailable.
	Snapshot(ctx context.Context) ([]byte, error)

	// Close stops every device track and ends the stream. Frames and
	// Chunks are closed after any buffered data has been delivered.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Platform is the entry point for a capture-device provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Devices lists the currently available input devices. Used for the
	// startup log and for readiness probing.
	Devices(ctx context.Context) ([]DeviceInfo, error)

	// Open acquires a fresh microphone+camera stream. Returns a
	// [DeviceError] if acquisition is rejected (permission denied,
	// hardware busy); no retry is attempted by the platform.
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}
