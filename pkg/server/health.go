package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus is the /health response body
type HealthStatus struct {
	Status        string `json:"status"`
	Connections   int    `json:"connections"`
	Joined        int    `json:"joined"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// HealthHandler reports liveness and room occupancy as JSON
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	registry := s.engine.Registry()
	status := HealthStatus{
		Status:        "ok",
		Connections:   registry.Len(),
		Joined:        registry.Joined(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		debugLog.Printf("Failed to write health response: %v", err)
	}
}
