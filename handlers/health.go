package handlers

import (
	"net/http"
	"time"

	"github.com/arkantrust/geocrud-api/config"
)

// ReadinessChecker reports whether a dependency can serve requests.
type ReadinessChecker interface {
	CheckReady() (status string, message string)
}

// HealthHandler serves /health/live and /health/ready.
type HealthHandler struct {
	version string
	store   ReadinessChecker
}

// NewHealthHandler creates the health handler. store is probed on every
// readiness request.
func NewHealthHandler(store ReadinessChecker) *HealthHandler {
	return &HealthHandler{version: config.Version, store: store}
}

// Live answers 200 while the process runs. Dependencies are not checked.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "geocrud-api",
	})
}

// Ready answers 200 when the store responds and 503 otherwise.
func (h *HealthHandler) Ready(w http.ResponseWriter, _ *http.Request) {
	status, message := h.store.CheckReady()

	httpStatus := http.StatusOK
	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": map[string]any{
			"store": map[string]string{"status": status, "message": message},
		},
	})
}
