package handlers

import (
	"net/http"
)

type healthResponse struct {
	Status    string            `json:"status"`
	Platforms []string          `json:"platforms"`
	Checks    map[string]string `json:"checks"`
}

// HealthCheck reports process and dependency health
// @Summary Health check
// @Description Returns storage health and the enabled platform set
// @Tags health
// @Produce json
// @Success 200 {object} healthResponse
// @Failure 503 {object} healthResponse "A dependency is unhealthy"
// @Router /healthz [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := "ok"
	httpStatus := http.StatusOK

	if err := h.storage.Health(); err != nil {
		checks["storage"] = err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["storage"] = "ok"
	}

	h.writeJSON(w, httpStatus, healthResponse{
		Status:    status,
		Platforms: h.config.EnabledPlatforms(),
		Checks:    checks,
	})
}
