package api

import (
	"context"
	"net/http"
	"time"
)

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 1)
	if h.Cache != nil {
		components = append(components, recordComponent("cache_store", h.Cache.Ping(ctx)))
	}
	return components, overallStatus, statusCode
}

// Health serves GET /healthz. A degraded cache store reports 503 even
// though requests still succeed by computing fresh, so operators notice
// before the upstream fan-out load becomes a problem.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components, overall, status := h.componentHealth(ctx)
	writeJSON(w, status, map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}
