package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/dispatcher"
	"github.com/nerrad567/homegateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/homegateway/internal/supervisor"
)

// History query limits.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// historyResponse is the body of GET /devices/{ieee}/history.
type historyResponse struct {
	IEEE    string                     `json:"ieee"`
	Entries []device.StateHistoryEntry `json:"entries"`
}

// supervisorResponse is the body of GET /supervisor.
type supervisorResponse struct {
	Children   []supervisor.Stats       `json:"children"`
	Dispatcher *dispatcher.Stats        `json:"dispatcher,omitempty"`
	MQTT       []mqtt.SubscriptionStats `json:"mqtt_subscriptions,omitempty"`
	Actors     []string                 `json:"actors"`
	WSClients  int                      `json:"ws_clients"`
}

// handleDeviceHistory returns the newest transitions for one device.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "state history not available")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ieee := chi.URLParam(r, "ieee")
	entries, err := s.history.GetHistory(r.Context(), ieee, limit)
	if err != nil {
		s.logger.Error("reading state history failed", "ieee", ieee, "error", err)
		writeInternalError(w, "reading state history failed")
		return
	}
	if entries == nil {
		entries = []device.StateHistoryEntry{}
	}

	writeJSON(w, http.StatusOK, historyResponse{IEEE: ieee, Entries: entries})
}

// handleSupervisor reports supervised children and runtime counters.
func (s *Server) handleSupervisor(w http.ResponseWriter, _ *http.Request) {
	resp := supervisorResponse{
		Children: []supervisor.Stats{},
		Actors:   s.sys.Registered(),
	}
	if s.supervisor != nil {
		resp.Children = s.supervisor.Stats()
	}
	if s.dispatcher != nil {
		st := s.dispatcher.Stats()
		resp.Dispatcher = &st
	}
	if s.broker != nil {
		resp.MQTT = s.broker.Subscriptions()
	}
	if s.hub != nil {
		resp.WSClients = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
