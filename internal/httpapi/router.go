// Package httpapi exposes Device Pilot's two diagnostic HTTP surfaces:
// a liveness probe and a live log tail. It carries no camera/recording
// control surface — sessions are driven entirely by the detector, not
// by operator requests.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Seer-Labs-Inc/device-pilot/internal/logging"
)

// HealthStatus reports process liveness for /healthz.
type HealthStatus func() (healthy bool, detail map[string]string)

// NewRouter builds the chi router serving /healthz and /logs/stream.
func NewRouter(logger *slog.Logger, status HealthStatus) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", healthzHandler(status))
	r.Handle("/logs/stream", NewLogStreamHandler(logging.GetLogBuffer(), logger))

	return r
}

type healthzResponse struct {
	Healthy bool              `json:"healthy"`
	Time    time.Time         `json:"time"`
	Detail  map[string]string `json:"detail,omitempty"`
}

func healthzHandler(status HealthStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy, detail := status()
		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(healthzResponse{Healthy: healthy, Time: time.Now().UTC(), Detail: detail})
	}
}
