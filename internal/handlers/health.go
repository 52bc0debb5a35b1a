package handlers

import (
	"net/http"
)

// HealthCheck returns the health status of the gateway
// @Summary Health check
// @Description Reports gateway status and shared store reachability
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "Health status"
// @Failure 503 {object} map[string]interface{} "Store unreachable and rate limiting fails closed"
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": h.now().UTC(),
	}
	code := http.StatusOK

	if h.store == nil {
		status["store_status"] = "not_configured"
	} else if err := h.store.Health(r.Context()); err != nil {
		status["store_status"] = "unhealthy"
		status["store_error"] = err.Error()
		status["status"] = "degraded"
		if h.limiter != nil && h.limiter.Enabled() && !h.failOpen {
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	} else {
		status["store_status"] = "healthy"
	}

	sendJSON(w, code, status)
}
