package request

import (
	"mime"
	"net/http"
)

// Limits caps request bodies by media type. JSON calls carry a handful of
// fields; raw bodies are résumé documents. A zero limit disables the cap.
type Limits struct {
	JSON int64
	Raw  int64
}

func (l Limits) forContentType(ct string) int64 {
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil && mediaType == "application/json" && l.JSON > 0 {
		return l.JSON
	}
	return l.Raw
}

// BodyLimit wraps the body in http.MaxBytesReader so handlers see a
// *http.MaxBytesError past the limit. A declared Content-Length over the
// limit is refused before the handler runs.
func BodyLimit(l Limits) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit := l.forContentType(r.Header.Get("Content-Type"))
			if limit > 0 {
				if r.ContentLength > limit {
					writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds the size limit")
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
