// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 while the process runs. GET /readyz answers 200
// only when the process is not draining and every [Checker] passes. Both
// reply with a JSON object: "status" is "ok", "fail" or "draining" and
// "checks" maps each checker name to "ok" or "fail: <reason>".
package health

import (
	"cmp"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 5 * time.Second

// Checker probes one dependency.
type Checker struct {
	// Name keys the check in responses, e.g. "transcripts" or "discord".
	Name string

	// Check returns nil when the dependency is usable. It must return when
	// ctx is done.
	Check func(ctx context.Context) error

	// Timeout bounds one run of Check. Default: 5s.
	Timeout time.Duration
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed by [New].
type Handler struct {
	checkers []Checker
	draining atomic.Bool

	mu        sync.Mutex
	lastReady *bool
}

// New returns a handler running checkers concurrently on every /readyz
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Drain fails /readyz from now on so no new work is routed here while
// shutting down.
func (h *Handler) Drain() { h.draining.Store(true) }

// Register adds both probes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz reports whether every checker passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: "draining"})
		return
	}

	res := h.run(r.Context())
	code := http.StatusOK
	if res.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	h.noteReadiness(res)
	writeJSON(w, code, res)
}

func (h *Handler) run(ctx context.Context) result {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, cmp.Or(c.Timeout, defaultCheckTimeout))
			defer cancel()
			errs[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		if errs[i] == nil {
			res.Checks[c.Name] = "ok"
			continue
		}
		res.Checks[c.Name] = "fail: " + errs[i].Error()
		res.Status = "fail"
	}
	return res
}

// noteReadiness logs when readiness flips, not on every probe.
func (h *Handler) noteReadiness(res result) {
	ready := res.Status == "ok"
	h.mu.Lock()
	changed := h.lastReady == nil || *h.lastReady != ready
	h.lastReady = &ready
	h.mu.Unlock()
	switch {
	case !changed:
	case ready:
		slog.Info("health: ready")
	default:
		slog.Warn("health: not ready", "checks", res.Checks)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
