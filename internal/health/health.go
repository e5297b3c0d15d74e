// Package health serves the liveness and readiness endpoints of the client
// process.
//
// /healthz reports liveness; reaching the handler at all is the signal, so
// it always answers 200. /readyz runs every registered [Checker] and answers
// 200 only when all of them pass. Responses are JSON: a top-level "status"
// of "ok" or "fail" plus a per-check breakdown.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeTimeout bounds each individual readiness probe.
const probeTimeout = 5 * time.Second

// Checker probes one named dependency. A nil error from Check means healthy.
// Check must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler answers the health endpoints. The checker set is fixed at
// construction; the handler itself is stateless and safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] over the given checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts both endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// report is the response body of both endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs all checkers concurrently, each under its own [probeTimeout],
// and answers 503 when any of them fails. A check that times out counts as
// failed; it does not hold up the others.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
		failed bool
	)
	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
				return
			}
			checks[c.Name] = "ok"
		}()
	}
	wg.Wait()

	rep := report{Status: "ok", Checks: checks}
	code := http.StatusOK
	if failed {
		rep.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	respond(w, code, rep)
}

func respond(w http.ResponseWriter, code int, rep report) {
	body, err := json.Marshal(rep)
	if err != nil {
		http.Error(w, "health: encode report", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
