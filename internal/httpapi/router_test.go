package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthzReportsHealthy(t *testing.T) {
	status := func() (bool, map[string]string) { return true, map[string]string{"buffer": "ok"} }
	router := NewRouter(testLogger(), status)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Healthy {
		t.Fatal("resp.Healthy = false, want true")
	}
}

func TestHealthzReportsUnavailableWhenUnhealthy(t *testing.T) {
	status := func() (bool, map[string]string) { return false, map[string]string{"buffer": "ffmpeg restarting"} }
	router := NewRouter(testLogger(), status)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
