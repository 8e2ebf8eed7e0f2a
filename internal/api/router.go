package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter mounts every route. Only /health is reachable without the
// allowlist and webhook secret.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
		s.corsMiddleware,
		s.bodySizeLimitMiddleware,
	)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.webhookAuthMiddleware)

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/ingest/events", s.handleIngestEvent)
			r.Post("/ingest/alarm", s.handleIngestAlarm)
			r.Post("/reminders", s.handleSetReminder)

			r.Post("/workflows/execute", s.handleExecuteDefinition)
			r.Post("/workflows/{name}/execute", s.handleExecuteNamed)

			r.Get("/devices/{ieee}/history", s.handleDeviceHistory)
			r.Get("/supervisor", s.handleSupervisor)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// healthResponse is the body of GET /health. MQTT is omitted when the
// server was built without a broker.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	MQTT    string `json:"mqtt,omitempty"`
}

// handleHealth always answers 200 while the process is serving; a lost
// broker connection reports "degraded" because paho reconnects on its own.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Version: s.version}
	if s.broker != nil {
		resp.MQTT = "connected"
		if !s.broker.IsConnected() {
			resp.Status = "degraded"
			resp.MQTT = "disconnected"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
