package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "trustid/pkg/domain-errors"
	"trustid/pkg/requestcontext"
)

// Preparable requests clean themselves up and check their own invariants
// after decoding. Either half is optional.
type (
	Normalizable interface{ Normalize() }
	Validatable  interface{ Validate() error }
)

// DecodeJSON strictly decodes a single JSON object from the body: unknown
// fields and trailing data are rejected. On failure it writes the error
// response and returns nil, false.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	var req T
	if err := decodeStrict(r.Body, &req); err != nil {
		ctx := r.Context()
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			WriteTooLarge(w, "request body exceeds the size limit")
		case errors.Is(err, io.EOF):
			WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body is required"))
		default:
			WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		}
		return nil, false
	}
	return &req, true
}

func decodeStrict(body io.Reader, dst any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

// PrepareRequest normalizes, then validates a request.
func PrepareRequest(req any) error {
	if n, ok := req.(Normalizable); ok {
		n.Normalize()
	}
	if v, ok := req.(Validatable); ok {
		return v.Validate()
	}
	return nil
}

// DecodeAndPrepare decodes the body, then normalizes and validates it.
// Validation errors that are not already domain errors are reported as
// validation_error.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	req, ok := DecodeJSON[T](w, r, logger)
	if !ok {
		return nil, false
	}

	if err := PrepareRequest(req); err != nil {
		ctx := r.Context()
		logger.WarnContext(ctx, "invalid request",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		var domainErr *dErrors.Error
		if !errors.As(err, &domainErr) {
			err = dErrors.New(dErrors.CodeValidation, err.Error())
		}
		WriteError(w, err)
		return nil, false
	}

	return req, true
}
