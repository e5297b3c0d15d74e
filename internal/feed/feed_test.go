package feed

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mirrorlab/avatarchat/internal/chat"
)

type stubSessionID struct {
	id string
	ok bool
}

func (s stubSessionID) ID() (string, bool) { return s.id, s.ok }

type stubActions struct {
	mu        sync.Mutex
	started   int
	stopped   int
	texts     []string
	startErr  error
	submitErr error
	stopErr   error
}

func (a *stubActions) StartRecording(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started++
	return a.startErr
}

func (a *stubActions) StopRecording() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped++
	return a.stopErr
}

func (a *stubActions) SubmitText(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return a.submitErr
}

// dialHub starts an httptest server for the hub and returns a connected
// client that has already consumed the hello event.
func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, Event) {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	var hello Event
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	return conn, hello
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ev Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestHub_HelloCarriesSnapshot(t *testing.T) {
	log := chat.NewLog()
	hub := NewHub(&stubActions{}, log, stubSessionID{id: "0123456789abcdef", ok: true})
	_, hello := dialHub(t, hub)

	if hello.Type != "hello" {
		t.Fatalf("first event type = %q, want hello", hello.Type)
	}
	if hello.SessionID != "01234567" {
		t.Errorf("session id = %q, want 8-char prefix", hello.SessionID)
	}
}

func TestHub_HelloWithoutSession(t *testing.T) {
	hub := NewHub(&stubActions{}, chat.NewLog(), stubSessionID{})
	_, hello := dialHub(t, hub)
	if hello.SessionID != "" {
		t.Errorf("session id = %q, want empty before first turn", hello.SessionID)
	}
}

func TestHub_BroadcastsListenerEvents(t *testing.T) {
	log := chat.NewLog()
	hub := NewHub(&stubActions{}, log, stubSessionID{})
	conn, _ := dialHub(t, hub)

	hub.ProcessingChanged(true)
	if ev := readEvent(t, conn); ev.Type != "processing" || !ev.Busy {
		t.Errorf("event = %+v, want processing busy", ev)
	}

	hub.TurnAppended(chat.Turn{ID: "t-1", Role: chat.RoleUser, Content: "hi"})
	ev := readEvent(t, conn)
	if ev.Type != "turn" || ev.Turn == nil || ev.Turn.Content != "hi" {
		t.Errorf("event = %+v, want turn", ev)
	}

	hub.Advisory("empty_transcript", "Transcription was empty")
	if ev := readEvent(t, conn); ev.Type != "advisory" || ev.Kind != "empty_transcript" {
		t.Errorf("event = %+v, want advisory", ev)
	}

	hub.ClearAdvisory()
	if ev := readEvent(t, conn); ev.Type != "advisory_cleared" {
		t.Errorf("event = %+v, want advisory_cleared", ev)
	}

	hub.RecordingChanged("recording")
	if ev := readEvent(t, conn); ev.Type != "recording" || ev.State != "recording" {
		t.Errorf("event = %+v, want recording state", ev)
	}
}

func TestHub_RoutesCommands(t *testing.T) {
	actions := &stubActions{}
	hub := NewHub(actions, chat.NewLog(), stubSessionID{})
	conn, _ := dialHub(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, cmd := range []Command{
		{Type: "start_recording"},
		{Type: "stop_recording"},
		{Type: "submit_text", Text: "hello"},
	} {
		if err := wsjson.Write(ctx, conn, cmd); err != nil {
			t.Fatalf("write command: %v", err)
		}
	}

	deadline := time.After(3 * time.Second)
	for {
		actions.mu.Lock()
		done := actions.started == 1 && actions.stopped == 1 && len(actions.texts) == 1
		actions.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("commands not routed: %+v", actions)
		case <-time.After(5 * time.Millisecond):
		}
	}

	actions.mu.Lock()
	defer actions.mu.Unlock()
	if actions.texts[0] != "hello" {
		t.Errorf("submitted text = %q", actions.texts[0])
	}
}

func TestHub_RejectionsGoBackToClient(t *testing.T) {
	actions := &stubActions{submitErr: chat.ErrBusy}
	hub := NewHub(actions, chat.NewLog(), stubSessionID{})
	conn, _ := dialHub(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, Command{Type: "submit_text", Text: "x"}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != "error" || ev.Kind != "busy" {
		t.Errorf("event = %+v, want busy error", ev)
	}
}

func TestHub_UnknownCommand(t *testing.T) {
	hub := NewHub(&stubActions{}, chat.NewLog(), stubSessionID{})
	conn, _ := dialHub(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, Command{Type: "reboot"}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != "error" || ev.Kind != "rejected" {
		t.Errorf("event = %+v, want rejected error", ev)
	}
}
