package server

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 3 * time.Second

// health handles GET /health. The service stays "healthy" while the
// completion provider is down; the ollama field reports it.
func (s *HTTPServer) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := map[string]string{"status": "healthy", "ollama": "disconnected"}
	if s.LLM != nil && s.LLM.Health(ctx) == nil {
		resp["ollama"] = "connected"
	}
	if s.DB != nil {
		resp["database"] = "connected"
		if err := s.DB.HealthCheck(ctx, healthTimeout); err != nil {
			s.logger.Warn("http.health.db_failed", "error", err)
			resp["database"] = "disconnected"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
