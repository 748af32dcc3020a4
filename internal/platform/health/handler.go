// Package health serves the liveness, readiness and status endpoints.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"trustid/pkg/platform/httputil"
)

// Version is set at build time via ldflags.
var Version = "dev"

// CheckFunc reports a dependency as healthy by returning nil. It must honor
// ctx's deadline.
type CheckFunc func(ctx context.Context) error

const checkTimeout = 2 * time.Second

// Handler serves the health endpoints. Checks run concurrently, each under its own
// deadline.
type Handler struct {
	started   time.Time
	backend   string
	ledgerTip func(ctx context.Context) (uint64, error)

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// New creates a handler; backend names the ledger backend on /health.
func New(backend string) *Handler {
	return &Handler{
		started: time.Now(),
		backend: backend,
		checks:  make(map[string]CheckFunc),
	}
}

// WithLedgerTip reports the ledger tip on /health.
func (h *Handler) WithLedgerTip(tip func(ctx context.Context) (uint64, error)) *Handler {
	h.ledgerTip = tip
	return h
}

// RegisterCheck adds a dependency to the readiness check. A second
// registration under the same name replaces the first.
func (h *Handler) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Register mounts the health routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

type LivenessResponse struct {
	Status string `json:"status"`
}

// HandleLiveness answers 200 while the process serves requests.
func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// run executes every registered check and reports each as "up" or
// "down: <error>".
func (h *Handler) run(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(checks))
		healthy = true
	)
	for name, check := range checks {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[name] = "down: " + err.Error()
				healthy = false
				return
			}
			results[name] = "up"
		})
	}
	wg.Wait()
	return results, healthy
}

// HandleReadiness answers 503 when any dependency is down.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	results, healthy := h.run(r.Context())
	if !healthy {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, ReadinessResponse{Status: "not_ready", Checks: results})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: results})
}

type StatusResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	LedgerBackend  string `json:"ledger_backend"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Timestamp      string `json:"timestamp"`
	LedgerTip      uint64 `json:"ledger_tip"`
	LedgerTipError string `json:"ledger_tip_error,omitempty"`
}

// HandleStatus reports build, uptime and the ledger tip. It answers 200 even
// when the tip cannot be read, with status "degraded".
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:        "healthy",
		Version:       Version,
		LedgerBackend: h.backend,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if h.ledgerTip != nil {
		tip, err := h.ledgerTip(r.Context())
		if err != nil {
			resp.Status = "degraded"
			resp.LedgerTipError = err.Error()
		}
		resp.LedgerTip = tip
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
