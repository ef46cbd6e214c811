package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the checks run by one /health request.
const healthCheckTimeout = 3 * time.Second

// healthResponse reports overall and per-component health.
type healthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Components  map[string]string `json:"components,omitempty"`
	Accessories map[string]bool   `json:"accessories"`
}

// handleHealth reports "ok" when every backend check passes and every
// accessory is connected to its broker, otherwise "degraded" with a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:      "ok",
		Version:     s.version,
		Accessories: make(map[string]bool, len(s.accessories)),
	}

	for _, acc := range s.accessories {
		connected := acc.Connected()
		resp.Accessories[acc.Name()] = connected
		if !connected {
			resp.Status = "degraded"
		}
	}

	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check.HealthCheck(ctx); err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
