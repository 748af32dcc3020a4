// Package requesttime pins a single "now" for the lifetime of a request so
// journal entries, identity records and session tokens written while
// serving it share one timestamp.
package requesttime

import (
	"net/http"
	"time"

	"trustid/pkg/requestcontext"
)

// Middleware stores the request start time (UTC) in the context. Services
// read it with requestcontext.Now.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
