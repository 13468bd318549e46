// Package health serves the worker's liveness and readiness probes.
//
//   - /healthz — liveness; a process that can serve HTTP is alive.
//   - /readyz  — readiness; 200 only while the worker can actually take
//     tasks, meaning its two hard dependencies answer: the Redis node
//     registry and the PostgreSQL task store.
//
// Responses are JSON with the node id, a top-level "status" ("ok" or
// "fail"), and a "checks" map naming each dependency's result. The
// coordinator uses /readyz to decide whether a node that still heartbeats
// should keep receiving dispatches.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds each dependency probe. A registry or store that cannot
// answer within this window is reported as failing.
const checkTimeout = 5 * time.Second

// Checker is a named dependency probe. Check returns nil when the dependency
// is healthy and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Registry builds the readiness checker for the Redis node registry. ping is
// typically the go-redis Ping wrapped in a closure.
func Registry(ping func(ctx context.Context) error) Checker {
	return Checker{Name: "registry", Check: ping}
}

// TaskStore builds the readiness checker for the PostgreSQL task store. ping
// is typically the pgx pool's Ping.
func TaskStore(ping func(ctx context.Context) error) Checker {
	return Checker{Name: "task_store", Check: ping}
}

// result is the JSON response body for both probes.
type result struct {
	Node   string            `json:"node,omitempty"`
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints for one worker node. It is safe for
// concurrent use; the checker list is fixed at construction time.
type Handler struct {
	nodeID   string
	checkers []Checker
}

// New creates a [Handler] identifying itself as nodeID. The checkers are
// evaluated sequentially on each /readyz request, in the order given.
func New(nodeID string, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{nodeID: nodeID, checkers: c}
}

// Healthz is the liveness probe; it always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Node: h.nodeID, Status: "ok"})
}

// Readyz is the readiness probe: 200 only when every dependency checker
// passes. Each checker runs under a [checkTimeout] deadline derived from the
// request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Node:   h.nodeID,
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
