package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestReadiness(t *testing.T) {
	h := New("test")
	h.RegisterCheck("postgres", func(context.Context) error { return nil })

	rec, body := serve(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])

	h.RegisterCheck("kafka", func(context.Context) error { return errors.New("no brokers") })
	rec, body = serve(t, h, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "up", checks["postgres"])
	assert.Equal(t, "down: no brokers", checks["kafka"])
}

func TestStatusReportsLedgerTip(t *testing.T) {
	h := New("test").WithLedgerTip(func(context.Context) (uint64, error) { return 42, nil })

	rec, body := serve(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(42), body["ledger_tip"])

	rec, body = serve(t, h, "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", body["status"])
}

func TestStatusDegradesWhenTipFails(t *testing.T) {
	h := New("postgres").WithLedgerTip(func(context.Context) (uint64, error) { return 0, errors.New("log closed") })

	rec, body := serve(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "log closed", body["ledger_tip_error"])
	assert.Equal(t, "postgres", body["ledger_backend"])
}

func TestReadinessChecksRunConcurrently(t *testing.T) {
	h := New("test")
	release := make(chan struct{})
	// Each check waits for the other; run serially they would both time out.
	wait := func(ctx context.Context) error {
		select {
		case release <- struct{}{}:
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	h.RegisterCheck("postgres", wait)
	h.RegisterCheck("redis", wait)

	rec, body := serve(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
}
