package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trustid/internal/identity/models"
	"trustid/internal/identity/service"
	id "trustid/pkg/domain"
	"trustid/pkg/platform/httputil"
	"trustid/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mock_service.go -package=mocks Service

// Service is the identity store surface the public endpoints need.
type Service interface {
	Login(ctx context.Context, username, password string) (*service.LoginResult, error)
	ListByRole(ctx context.Context, role id.Role) ([]models.Listing, error)
}

// Handler serves the public identity endpoints.
type Handler struct {
	identities Service
	logger     *slog.Logger
}

func New(identities Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{identities: identities, logger: logger}
}

// Register mounts the identity routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/login", h.handleLogin)
	r.Get("/api/employers", h.handleEmployers)
	r.Get("/api/institutions", h.handleInstitutions)
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Role      id.Role   `json:"role"`
	Address   string    `json:"address"`
}

type EmployersResponse struct {
	Employers []models.Listing `json:"employers"`
}

type InstitutionsResponse struct {
	Institutions []string `json:"institutions"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[LoginRequest](w, r, h.logger)
	if !ok {
		return
	}

	res, err := h.identities.Login(ctx, req.Username, req.Password)
	if err != nil {
		h.logger.WarnContext(ctx, "login failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, LoginResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		Username:  res.Record.Username,
		Role:      res.Record.Role,
		Address:   res.Record.Address.String(),
	})
}

func (h *Handler) handleEmployers(w http.ResponseWriter, r *http.Request) {
	listings, ok := h.list(w, r, id.RoleEmployer)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EmployersResponse{Employers: listings})
}

// handleInstitutions returns names only; an institution's username is its
// ledger name.
func (h *Handler) handleInstitutions(w http.ResponseWriter, r *http.Request) {
	listings, ok := h.list(w, r, id.RoleInstitution)
	if !ok {
		return
	}
	names := make([]string, 0, len(listings))
	for _, l := range listings {
		names = append(names, l.Username)
	}
	httputil.WriteJSON(w, http.StatusOK, InstitutionsResponse{Institutions: names})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, role id.Role) ([]models.Listing, bool) {
	ctx := r.Context()
	listings, err := h.identities.ListByRole(ctx, role)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list identities",
			"request_id", requestcontext.RequestID(ctx),
			"role", role,
			"error", err,
		)
		httputil.WriteError(w, err)
		return nil, false
	}
	if listings == nil {
		listings = []models.Listing{}
	}
	return listings, true
}
