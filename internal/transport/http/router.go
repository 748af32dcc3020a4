// Package httptransport assembles the HTTP surface: the middleware stack,
// the public identity endpoints, the authenticated ledger endpoints and the
// admin reconciliation endpoints.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	identityhandler "trustid/internal/identity/handler"
	ledgerhandler "trustid/internal/ledger/handler"
	"trustid/internal/platform/health"
	registrationhandler "trustid/internal/registration/handler"
	id "trustid/pkg/domain"
	"trustid/pkg/platform/middleware/auth"
	"trustid/pkg/platform/middleware/request"
	"trustid/pkg/platform/middleware/requesttime"
)

const defaultRequestTimeout = 30 * time.Second

// Routes carries the handlers and cross-cutting dependencies of the router.
type Routes struct {
	Identity     *identityhandler.Handler
	Registration *registrationhandler.Handler
	Ledger       *ledgerhandler.Handler
	Health       *health.Handler

	Tokens   auth.TokenValidator
	Metrics  *request.Metrics
	Gatherer prometheus.Gatherer

	// BodyLimits caps JSON calls and raw document uploads separately.
	BodyLimits     request.Limits
	RequestTimeout time.Duration
}

// NewRouter wires all endpoints with middleware.
func NewRouter(routes Routes, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := routes.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(logger))
	r.Use(request.Latency(routes.Metrics))
	r.Use(request.Timeout(timeout))
	r.Use(request.BodyLimit(routes.BodyLimits))

	if routes.Health != nil {
		routes.Health.Register(r)
	}
	if routes.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(routes.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		routes.Identity.Register(r)
		routes.Registration.RegisterPublic(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(routes.Tokens, logger))
		routes.Ledger.Register(r)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(logger, id.RoleAdmin))
			routes.Registration.RegisterAdmin(r)
		})
	})

	return r
}
