package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	device "github.com/mirrorlab/avatarchat/pkg/capture"
)

// Camera is the long-lived camera handle shared by the turn pipeline and the
// ambient frame side channel. Unlike recordings, which open and close a
// stream per utterance, the camera stream stays open for the life of the
// process so stills are available on demand.
//
// A Camera that failed to open stays in the not-ready state; callers are
// expected to degrade to audio-and-text turns rather than fail.
type Camera struct {
	platform device.Platform
	cfg      device.StreamConfig

	mu     sync.RWMutex
	stream device.Stream
}

// NewCamera creates an unopened camera.
func NewCamera(platform device.Platform, cfg device.StreamConfig) *Camera {
	return &Camera{platform: platform, cfg: cfg}
}

// Open probes for a video input device and acquires the persistent stream.
// Returns a [device.DeviceError] when no camera is present or acquisition
// fails; the camera then reports not ready.
func (c *Camera) Open(ctx context.Context) error {
	devices, err := c.platform.Devices(ctx)
	if err != nil {
		return &device.DeviceError{Op: "probe", Err: err}
	}
	hasCamera := false
	for _, d := range devices {
		if d.Kind == device.DeviceVideoInput {
			hasCamera = true
			break
		}
	}
	if !hasCamera {
		return &device.DeviceError{Op: "probe", Err: errors.New("no video input device")}
	}

	stream, err := c.platform.Open(ctx, c.cfg)
	if err != nil {
		return &device.DeviceError{Op: "open", Err: err}
	}

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
	slog.Info("capture: camera stream opened")
	return nil
}

// Ready reports whether the camera stream is live.
func (c *Camera) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stream != nil
}

// Still captures a fresh JPEG frame from the live stream.
func (c *Camera) Still(ctx context.Context) ([]byte, error) {
	c.mu.RLock()
	stream := c.stream
	c.mu.RUnlock()
	if stream == nil {
		return nil, &device.DeviceError{Op: "snapshot", Err: errors.New("camera not open")}
	}
	return stream.Snapshot(ctx)
}

// Close releases the camera stream. Safe to call on an unopened camera.
func (c *Camera) Close() error {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Close()
}
