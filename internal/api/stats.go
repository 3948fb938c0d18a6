package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /restate/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByService     map[string]int `json:"by_service"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	// InFlight counts attempts executing in this process; by_status counts
	// what the store has recorded.
	InFlight int `json:"in_flight"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetInvocationStats(r.Context())
	if err != nil {
		s.logger.Error("get invocation stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByService:     stats.CountByService,
		AvgDurationMS: stats.AvgDurationMS,
		InFlight:      s.engine.InFlight(),
	})
}
