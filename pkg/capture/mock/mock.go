// Package mock provides in-memory mock implementations of the
// [capture.Platform] and [capture.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record call counts so tests can
// assert on them, and expose exported Result/Err fields the test sets to
// control behaviour.
//
// Typical usage:
//
//	stream := mock.NewStream(16)
//	platform := &mock.Platform{OpenResult: stream}
//	stream.PushFrame(capture.Frame{PCM: loud})
//	stream.PushChunk([]byte("webm-0"))
package mock

import (
	"context"
	"sync"

	"github.com/mirrorlab/avatarchat/pkg/capture"
)

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [capture.Platform].
type Platform struct {
	mu sync.Mutex

	// DevicesResult is returned by Devices.
	DevicesResult []capture.DeviceInfo

	// DevicesErr is returned by Devices.
	DevicesErr error

	// OpenResult is returned by Open. When nil and OpenErr is nil, Open
	// returns a fresh [Stream].
	OpenResult capture.Stream

	// OpenErr is returned by Open.
	OpenErr error

	// CallCountDevices records how many times Devices was called.
	CallCountDevices int

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// OpenedConfigs records the StreamConfig of every Open call, in order.
	OpenedConfigs []capture.StreamConfig
}

var _ capture.Platform = (*Platform)(nil)

// Devices implements [capture.Platform].
func (p *Platform) Devices(_ context.Context) ([]capture.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountDevices++
	return p.DevicesResult, p.DevicesErr
}

// Open implements [capture.Platform].
func (p *Platform) Open(_ context.Context, cfg capture.StreamConfig) (capture.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountOpen++
	p.OpenedConfigs = append(p.OpenedConfigs, cfg)
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	if p.OpenResult != nil {
		return p.OpenResult, nil
	}
	return NewStream(16), nil
}

// OpenCount returns the number of Open calls so far.
func (p *Platform) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountOpen
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [capture.Stream]. Tests feed it with
// PushFrame/PushChunk and end it with Close; both channels are closed exactly
// once.
type Stream struct {
	mu sync.Mutex

	frames chan capture.Frame
	chunks chan []byte
	closed bool

	// SnapshotResult is returned by Snapshot.
	SnapshotResult []byte

	// SnapshotErr is returned by Snapshot.
	SnapshotErr error

	// CloseErr is returned by the first Close call.
	CloseErr error

	// CallCountSnapshot records how many times Snapshot was called.
	CallCountSnapshot int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ capture.Stream = (*Stream)(nil)

// NewStream creates a mock stream whose frame and chunk channels are buffered
// to depth buf.
func NewStream(buf int) *Stream {
	return &Stream{
		frames: make(chan capture.Frame, buf),
		chunks: make(chan []byte, buf),
	}
}

// PushFrame delivers a PCM frame to the stream's consumers. It is a no-op
// after Close.
func (s *Stream) PushFrame(f capture.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- f
}

// PushChunk delivers an encoded recorder chunk to the stream's consumers.
// It is a no-op after Close.
func (s *Stream) PushChunk(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.chunks <- chunk
}

// Frames implements [capture.Stream].
func (s *Stream) Frames() <-chan capture.Frame { return s.frames }

// Chunks implements [capture.Stream].
func (s *Stream) Chunks() <-chan []byte { return s.chunks }

// Snapshot implements [capture.Stream].
func (s *Stream) Snapshot(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountSnapshot++
	return s.SnapshotResult, s.SnapshotErr
}

// Close implements [capture.Stream]. The first call closes both channels and
// returns CloseErr; subsequent calls are no-ops returning nil.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	close(s.chunks)
	return s.CloseErr
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
