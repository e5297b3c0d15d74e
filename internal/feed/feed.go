// Package feed pushes conversation state to connected view clients over a
// websocket and accepts their commands. It is the replacement for a direct
// UI binding: every client sees the same append-only conversation, the same
// advisory, and the same processing/recording indicators.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric"

	"github.com/mirrorlab/avatarchat/internal/chat"
)

// Event is one feed message pushed to clients. Type discriminates which of
// the optional fields are set.
type Event struct {
	// Type is one of: hello, turn, advisory, advisory_cleared, processing,
	// recording, error.
	Type string `json:"type"`

	// SessionID is the shortened session id (hello only).
	SessionID string `json:"session_id,omitempty"`

	// Turns is the conversation snapshot (hello only).
	Turns []chat.Turn `json:"turns,omitempty"`

	// Turn is the newly appended turn (turn only).
	Turn *chat.Turn `json:"turn,omitempty"`

	// Kind and Message carry advisory and error content.
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`

	// Busy is the pipeline indicator (processing only).
	Busy bool `json:"busy,omitempty"`

	// State is the recording state (recording only).
	State string `json:"state,omitempty"`
}

// Command is a client request read from the websocket.
type Command struct {
	// Type is one of: start_recording, stop_recording, submit_text.
	Type string `json:"type"`

	// Text is the typed message (submit_text only).
	Text string `json:"text,omitempty"`
}

// Actions is the control surface the hub drives on behalf of clients. The
// app wires it to the capture controller and the turn pipeline.
type Actions interface {
	StartRecording(ctx context.Context) error
	StopRecording() error
	SubmitText(ctx context.Context, text string) error
}

// Gauge tracks the connected client count. The signature matches otel
// up/down counters so *observe.Metrics's FeedClients instrument can be wired
// in directly.
type Gauge interface {
	Add(ctx context.Context, incr int64, opts ...metric.AddOption)
}

// writeTimeout bounds a single event write to one client.
const writeTimeout = 5 * time.Second

// sendBuffer is the per-client outbound queue depth. A client that cannot
// drain this many events is dropped rather than allowed to stall the rest.
const sendBuffer = 64

// Hub fans conversation events out to websocket clients and routes their
// commands. It implements the turn pipeline's listener interface, so wiring
// it as the pipeline listener is all the integration needed.
type Hub struct {
	actions  Actions
	log      *chat.Log
	sessions chat.SessionID
	clients  Gauge

	mu    sync.Mutex
	conns map[*client]struct{}
}

var _ chat.Listener = (*Hub)(nil)

type client struct {
	send chan Event
}

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithClientGauge wires the connected-clients gauge.
func WithClientGauge(g Gauge) HubOption {
	return func(h *Hub) { h.clients = g }
}

// NewHub creates a hub. log supplies the conversation snapshot for new
// clients; sessions supplies the session id for the hello event.
func NewHub(actions Actions, log *chat.Log, sessions chat.SessionID, opts ...HubOption) *Hub {
	h := &Hub{
		actions:  actions,
		log:      log,
		sessions: sessions,
		conns:    make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request to a websocket, sends the hello snapshot,
// and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("feed: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	cl := &client{send: make(chan Event, sendBuffer)}
	h.register(cl)
	defer h.unregister(cl)

	cl.send <- h.helloEvent()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		h.writeLoop(ctx, conn, cl)
	}()

	h.readLoop(ctx, conn, cl)
	cancel()
	<-writeDone
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) register(cl *client) {
	h.mu.Lock()
	h.conns[cl] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	if h.clients != nil {
		h.clients.Add(context.Background(), 1)
	}
	slog.Info("feed: client connected", "clients", n)
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	_, ok := h.conns[cl]
	delete(h.conns, cl)
	n := len(h.conns)
	h.mu.Unlock()
	if ok && h.clients != nil {
		h.clients.Add(context.Background(), -1)
	}
	slog.Info("feed: client disconnected", "clients", n)
}

func (h *Hub) helloEvent() Event {
	ev := Event{Type: "hello", Turns: h.log.Turns()}
	if id, ok := h.sessions.ID(); ok {
		ev.SessionID = shortID(id)
	}
	return ev
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, cl *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-cl.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, cl *client) {
	for {
		var cmd Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			return
		}
		h.handle(ctx, cl, cmd)
	}
}

// handle runs one client command. Rejections (busy pipeline, empty text,
// devices not ready) go back to the issuing client only; they are not a
// shared state change.
func (h *Hub) handle(ctx context.Context, cl *client, cmd Command) {
	var err error
	switch cmd.Type {
	case "start_recording":
		err = h.actions.StartRecording(ctx)
	case "stop_recording":
		err = h.actions.StopRecording()
	case "submit_text":
		err = h.actions.SubmitText(ctx, cmd.Text)
	default:
		err = errors.New("unknown command " + cmd.Type)
	}
	if err != nil {
		h.sendTo(cl, Event{Type: "error", Kind: errorKind(err), Message: err.Error()})
	}
}

// errorKind classifies command failures for the client.
func errorKind(err error) string {
	switch {
	case errors.Is(err, chat.ErrBusy):
		return "busy"
	case errors.Is(err, chat.ErrNoText):
		return "no_text"
	default:
		return "rejected"
	}
}

// broadcast queues ev for every connected client, dropping it for clients
// whose send queue is full.
func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.conns {
		select {
		case cl.send <- ev:
		default:
			slog.Warn("feed: dropping event for slow client", "type", ev.Type)
		}
	}
}

func (h *Hub) sendTo(cl *client, ev Event) {
	select {
	case cl.send <- ev:
	default:
	}
}

// TurnAppended implements the pipeline listener.
func (h *Hub) TurnAppended(turn chat.Turn) {
	h.broadcast(Event{Type: "turn", Turn: &turn})
}

// Advisory implements the pipeline listener.
func (h *Hub) Advisory(kind, message string) {
	h.broadcast(Event{Type: "advisory", Kind: kind, Message: message})
}

// ClearAdvisory implements the pipeline listener.
func (h *Hub) ClearAdvisory() {
	h.broadcast(Event{Type: "advisory_cleared"})
}

// ProcessingChanged implements the pipeline listener.
func (h *Hub) ProcessingChanged(busy bool) {
	h.broadcast(Event{Type: "processing", Busy: busy})
}

// RecordingChanged broadcasts the capture state. Wired to the capture
// controller's state callback.
func (h *Hub) RecordingChanged(state string) {
	h.broadcast(Event{Type: "recording", State: state})
}

// shortID trims a session id to a log-and-display-friendly prefix.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
