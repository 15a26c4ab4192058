package api

import (
	"net/http"
	"time"

	"github.com/ayusman/eyesoff/internal/store"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// EventHandler serves the alert event history.
type EventHandler struct {
	store *store.Store
}

// NewEventHandler creates an EventHandler backed by s.
func NewEventHandler(s *store.Store) *EventHandler {
	return &EventHandler{store: s}
}

type eventResponse struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Kind       string `json:"kind"`
	Trigger    string `json:"trigger,omitempty"`
	FaceCount  int    `json:"face_count"`
	Threshold  int    `json:"threshold"`
	Mode       string `json:"mode"`
	Manual     bool   `json:"manual,omitempty"`
	Error      string `json:"error,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

type listEventsResponse struct {
	Events []eventResponse `json:"events"`
}

func toEventResponse(e *store.Event) eventResponse {
	return eventResponse{
		ID:         e.ID,
		SessionID:  e.SessionID,
		Kind:       e.Kind,
		Trigger:    e.Trigger,
		FaceCount:  e.FaceCount,
		Threshold:  e.Threshold,
		Mode:       e.Mode,
		Manual:     e.Manual,
		Error:      e.Error,
		OccurredAt: e.OccurredAt.Format(time.RFC3339Nano),
	}
}

func toEventList(events []*store.Event) listEventsResponse {
	resp := listEventsResponse{Events: make([]eventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, toEventResponse(e))
	}
	return resp
}

// ServeHTTP handles GET /api/events?limit=N and DELETE /api/events?before=T.
func (h *EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodDelete:
		h.prune(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *EventHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r, defaultEventLimit, maxEventLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	events, err := h.store.Events().ListRecent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, toEventList(events))
}

// prune deletes events older than the RFC 3339 time in the before parameter.
func (h *EventHandler) prune(w http.ResponseWriter, r *http.Request) {
	before, err := time.Parse(time.RFC3339, r.URL.Query().Get("before"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "before must be an RFC 3339 time")
		return
	}

	n, err := h.store.Events().DeleteBefore(before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
