package app_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mirrorlab/avatarchat/internal/app"
	"github.com/mirrorlab/avatarchat/internal/chat"
	"github.com/mirrorlab/avatarchat/internal/config"
	"github.com/mirrorlab/avatarchat/internal/feed"
	"github.com/mirrorlab/avatarchat/pkg/capture"
	capturemock "github.com/mirrorlab/avatarchat/pkg/capture/mock"
)

// testConfig returns a minimal valid config for tests.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Backend: config.BackendConfig{
			BaseURL: "http://backend.test",
		},
	}
}

// fakeBackend satisfies app.Backend in-memory.
type fakeBackend struct {
	mu sync.Mutex

	converseGate chan struct{}
	converseErr  error

	converseCount int
}

func (f *fakeBackend) CreateSession(context.Context) (string, error) {
	return "session-1", nil
}

func (f *fakeBackend) UploadFrame(context.Context, string, []byte) error {
	return nil
}

func (f *fakeBackend) Transcribe(context.Context, string, []byte) (string, error) {
	return "hello there", nil
}

func (f *fakeBackend) Converse(_ context.Context, _ string, text string, _ []byte) (string, error) {
	if f.converseGate != nil {
		<-f.converseGate
	}
	f.mu.Lock()
	f.converseCount++
	f.mu.Unlock()
	if f.converseErr != nil {
		return "", f.converseErr
	}
	return "echo: " + text, nil
}

func (f *fakeBackend) Ping(context.Context) error {
	return nil
}

func TestApp_VoiceDisabledWithoutPlatform(t *testing.T) {
	a, err := app.New(testConfig(), nil, app.WithBackend(&fakeBackend{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.StartRecording(context.Background()); !errors.Is(err, app.ErrVoiceDisabled) {
		t.Errorf("StartRecording error = %v, want ErrVoiceDisabled", err)
	}
	if err := a.StopRecording(); !errors.Is(err, app.ErrVoiceDisabled) {
		t.Errorf("StopRecording error = %v, want ErrVoiceDisabled", err)
	}
}

func TestApp_StartRecordingRequiresProbe(t *testing.T) {
	platform := &capturemock.Platform{
		DevicesResult: []capture.DeviceInfo{
			{ID: "mic0", Kind: capture.DeviceAudioInput},
		},
	}
	a, err := app.New(testConfig(), platform, app.WithBackend(&fakeBackend{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.StartRecording(context.Background()); err == nil {
		t.Error("StartRecording before probe should fail")
	}
}

func TestApp_StartRecordingClearsAdvisory(t *testing.T) {
	platform := &capturemock.Platform{
		DevicesResult: []capture.DeviceInfo{
			{ID: "mic0", Kind: capture.DeviceAudioInput},
		},
	}
	a, err := app.New(testConfig(), platform, app.WithBackend(&fakeBackend{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(a.Hub())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var hello feed.Event
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}

	// Start fails before the probe, but any banner left over from a
	// previous action must be dismissed regardless.
	if err := a.StartRecording(ctx); err == nil {
		t.Fatal("StartRecording before probe should fail")
	}

	var ev feed.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != "advisory_cleared" {
		t.Errorf("event type = %q, want advisory_cleared", ev.Type)
	}
}

func TestApp_SubmitText(t *testing.T) {
	backend := &fakeBackend{}
	a, err := app.New(testConfig(), nil, app.WithBackend(backend))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.SubmitText(context.Background(), "what do you see?"); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		turns := a.Pipeline().Log().Turns()
		if len(turns) == 2 {
			if turns[0].Role != chat.RoleUser || turns[1].Role != chat.RoleAssistant {
				t.Fatalf("turn roles = %q, %q", turns[0].Role, turns[1].Role)
			}
			if !strings.Contains(turns[1].Content, "what do you see?") {
				t.Fatalf("assistant text = %q", turns[1].Content)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("turn never completed, log has %d entries", len(turns))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestApp_SubmitTextRejectsEmpty(t *testing.T) {
	a, err := app.New(testConfig(), nil, app.WithBackend(&fakeBackend{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.SubmitText(context.Background(), ""); !errors.Is(err, chat.ErrNoText) {
		t.Errorf("SubmitText error = %v, want ErrNoText", err)
	}
}

func TestApp_SubmitTextRejectsWhileBusy(t *testing.T) {
	backend := &fakeBackend{converseGate: make(chan struct{})}
	a, err := app.New(testConfig(), nil, app.WithBackend(backend))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.SubmitText(context.Background(), "first"); err != nil {
		t.Fatalf("first SubmitText: %v", err)
	}

	// Wait until the background turn holds the pipeline.
	deadline := time.After(2 * time.Second)
	for !a.Pipeline().Busy() {
		select {
		case <-deadline:
			t.Fatal("pipeline never became busy")
		case <-time.After(time.Millisecond):
		}
	}

	if err := a.SubmitText(context.Background(), "second"); !errors.Is(err, chat.ErrBusy) {
		t.Errorf("second SubmitText error = %v, want ErrBusy", err)
	}
	close(backend.converseGate)
}

func TestApp_RunStopsOnContextCancel(t *testing.T) {
	a, err := app.New(testConfig(), nil, app.WithBackend(&fakeBackend{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	// Second call is a no-op.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("repeat Shutdown: %v", err)
	}
}
