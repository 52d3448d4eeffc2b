package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dyluth/easel/pkg/board"
)

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
	Boards int    `json:"boards"`
	Error  string `json:"error,omitempty"`
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK if the store is reachable, 503 Service Unavailable otherwise.
// Stores that cannot be pinged are reported healthy.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status: "healthy",
		Boards: s.cfg.Registry.Stats().Boards,
	}
	status := http.StatusOK

	if pinger, ok := s.cfg.Store.(board.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Store = "disconnected"
			response.Error = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response.Store = "connected"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
