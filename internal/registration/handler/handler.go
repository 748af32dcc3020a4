package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trustid/internal/registration"
	dErrors "trustid/pkg/domain-errors"
	"trustid/pkg/platform/httputil"
	"trustid/pkg/requestcontext"
)

// Registrar creates accounts across the ledger and the identity store.
type Registrar interface {
	Register(ctx context.Context, req registration.Request) (*registration.Result, error)
}

// Reconciler exposes the last reconciliation report and on-demand runs.
type Reconciler interface {
	Last() *registration.Report
	RunOnce(ctx context.Context) (*registration.Report, error)
}

type Handler struct {
	registrar  Registrar
	reconciler Reconciler
	logger     *slog.Logger
}

func New(registrar Registrar, reconciler Reconciler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{registrar: registrar, reconciler: reconciler, logger: logger}
}

// RegisterPublic mounts account creation.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/api/register", h.handleRegister)
}

// RegisterAdmin mounts the reconciliation endpoints. The caller is expected
// to guard the router with the admin role.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/reconciliation", h.handleLastReport)
	r.Post("/admin/reconciliation/run", h.handleRun)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeJSON[registration.Request](w, r, h.logger)
	if !ok {
		return
	}

	res, err := h.registrar.Register(ctx, *req)
	if err != nil {
		h.logger.WarnContext(ctx, "registration failed",
			"request_id", requestID,
			"username", req.Username,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleLastReport(w http.ResponseWriter, r *http.Request) {
	report := h.reconciler.Last()
	if report == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "reconciliation has not run yet"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.reconciler.RunOnce(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "reconciliation run failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
