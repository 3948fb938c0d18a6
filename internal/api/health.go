package api

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status   string `json:"status"`
	Services int    `json:"services"`
	Error    string `json:"error,omitempty"`
}

// handleHealthz reports ok when the invocation database answers.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Services: len(s.engine.Registry().List())}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("health check: store unreachable", "error", err)
		resp.Status = "unavailable"
		resp.Error = "store unreachable"
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}
