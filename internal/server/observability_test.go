// Tests for the observability HTTP endpoints
package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fleetmesh/scheddb/internal/logger"
)

func setupTestServer(t *testing.T) *ObservabilityServer {
	t.Helper()
	log := logger.NewLogger(logger.Config{Level: "error"})
	return NewObservabilityServer(0, log)
}

func TestHealthEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"service":"scheddb"`) {
		t.Errorf("Unexpected health body: %s", rec.Body.String())
	}
}

func TestReadyEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}
