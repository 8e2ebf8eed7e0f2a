package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/alarm"
	"github.com/nerrad567/homegateway/internal/dispatcher"
	"github.com/nerrad567/homegateway/internal/reminder"
)

// localTimeLayout is accepted for alarm times without a zone offset; they
// are read in the site timezone.
const localTimeLayout = "2006-01-02T15:04:05"

// alarmRequest is the body of POST /ingest/alarm.
type alarmRequest struct {
	// LocalTime is the next alarm, RFC 3339 or zone-less local time.
	// Empty clears the stored alarm.
	LocalTime string `json:"local_time"`
}

// reminderRequest is the body of POST /reminders.
type reminderRequest struct {
	Message string `json:"message"`
	// Delay is a Go duration string such as "90m".
	Delay string `json:"delay"`
}

// acceptedResponse is returned for every accepted ingestion.
type acceptedResponse struct {
	Status      string `json:"status"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// handleIngestEvent relays a raw device message into the dispatcher. The
// optional topic query parameter is kept so directory snapshots and
// bridge topics classify the same way as on the bus.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body failed")
		return
	}
	if len(strings.TrimSpace(string(payload))) == 0 {
		writeBadRequest(w, "request body is required")
		return
	}

	msg := dispatcher.Message{
		Topic:   r.URL.Query().Get("topic"),
		Payload: payload,
		Source:  dispatcher.SourceWebhook,
	}
	if err := dispatcher.Submit(s.sys, msg); err != nil {
		s.logger.Error("forwarding webhook event failed",
			"target", dispatcher.Name,
			"caller", callerFrom(r.Context()),
			"error", err,
		)
		if errors.Is(err, actor.ErrNotRegistered) {
			writeUnavailable(w, "event dispatcher")
			return
		}
		writeInternalError(w, "event could not be forwarded")
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
}

// handleIngestAlarm records the next alarm time with the alarm actor.
func (s *Server) handleIngestAlarm(w http.ResponseWriter, r *http.Request) {
	var req alarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	at, err := parseAlarmTime(req.LocalTime, s.loc)
	if err != nil {
		writeBadRequest(w, "local_time must be RFC 3339 or "+localTimeLayout)
		return
	}

	if err := alarm.Record(r.Context(), s.sys, at, s.askTimeout); err != nil {
		s.logger.Error("recording alarm failed",
			"target", alarm.Name,
			"caller", callerFrom(r.Context()),
			"error", err,
		)
		writeInternalError(w, "alarm could not be recorded")
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
}

// handleSetReminder schedules a one-off reminder.
func (s *Server) handleSetReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	delay, err := time.ParseDuration(req.Delay)
	if err != nil {
		writeBadRequest(w, "delay must be a duration such as 90m")
		return
	}

	err = reminder.Set(r.Context(), s.sys, req.Message, delay, s.askTimeout)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
	case errors.Is(err, reminder.ErrInvalid):
		writeValidation(w, err)
	default:
		s.logger.Error("setting reminder failed",
			"target", reminder.Name,
			"caller", callerFrom(r.Context()),
			"error", err,
		)
		writeInternalError(w, "reminder could not be scheduled")
	}
}

// parseAlarmTime accepts RFC 3339 or zone-less time in loc. Empty input
// yields the zero time.
func parseAlarmTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation(localTimeLayout, v, loc)
}
