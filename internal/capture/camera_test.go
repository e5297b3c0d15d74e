package capture

import (
	"bytes"
	"context"
	"errors"
	"testing"

	device "github.com/mirrorlab/avatarchat/pkg/capture"
	"github.com/mirrorlab/avatarchat/pkg/capture/mock"
)

func TestCamera_OpenAndStill(t *testing.T) {
	stream := mock.NewStream(1)
	stream.SnapshotResult = []byte{0xff, 0xd8, 0xff}
	platform := &mock.Platform{DevicesResult: micAndCamera(), OpenResult: stream}

	cam := NewCamera(platform, device.StreamConfig{})
	if cam.Ready() {
		t.Fatal("camera ready before Open")
	}
	if _, err := cam.Still(context.Background()); err == nil {
		t.Fatal("Still() before Open must fail")
	}

	if err := cam.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !cam.Ready() {
		t.Fatal("camera not ready after Open")
	}

	still, err := cam.Still(context.Background())
	if err != nil {
		t.Fatalf("Still() error = %v", err)
	}
	if !bytes.Equal(still, stream.SnapshotResult) {
		t.Errorf("Still() = %v, want snapshot bytes", still)
	}

	if err := cam.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if cam.Ready() {
		t.Error("camera still ready after Close")
	}
	if !stream.Closed() {
		t.Error("underlying stream not closed")
	}
}

func TestCamera_OpenWithoutVideoDevice(t *testing.T) {
	platform := &mock.Platform{DevicesResult: []device.DeviceInfo{
		{ID: "mic-0", Label: "Microphone", Kind: device.DeviceAudioInput},
	}}
	cam := NewCamera(platform, device.StreamConfig{})

	err := cam.Open(context.Background())
	var devErr *device.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Open() error = %v, want *DeviceError", err)
	}
	if cam.Ready() {
		t.Error("camera ready despite failed open")
	}
	if platform.OpenCount() != 0 {
		t.Error("no stream must be opened without a video device")
	}
}

func TestCamera_CloseUnopened(t *testing.T) {
	cam := NewCamera(&mock.Platform{}, device.StreamConfig{})
	if err := cam.Close(); err != nil {
		t.Fatalf("Close() on unopened camera error = %v", err)
	}
}
