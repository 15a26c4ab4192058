package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSessionHandler_List(t *testing.T) {
	s := newTestStore(t)
	older := seedSession(t, s, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	newer := seedSession(t, s, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	if err := s.Sessions().End(older.ID, older.StartedAt.Add(time.Hour), 120, 1); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	handler := NewSessionHandler(s)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp listSessionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(resp.Sessions))
	}
	if resp.Sessions[0].ID != newer.ID || !resp.Sessions[0].Active {
		t.Errorf("first session = %+v, want the active newer one", resp.Sessions[0])
	}
	ended := resp.Sessions[1]
	if ended.Active || ended.EndedAt == nil || ended.TotalDetections != 120 || ended.AlertCount != 1 {
		t.Errorf("ended session = %+v", ended)
	}
}

func TestSessionHandler_Get(t *testing.T) {
	s := newTestStore(t)
	sess := seedSession(t, s, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	handler := NewSessionHandler(s)

	t.Run("with events", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}

		var resp sessionDetailResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.ID != sess.ID || resp.Detector != "yunet" {
			t.Errorf("session = %+v", resp.sessionResponse)
		}
		if len(resp.Events) != 2 || resp.Events[0].Kind != "raised" {
			t.Errorf("events = %+v, want raised then dismissed", resp.Events)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestSessionHandler_Delete(t *testing.T) {
	s := newTestStore(t)
	sess := seedSession(t, s, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	handler := NewSessionHandler(s)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+sess.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	events, err := s.Events().ListBySession(sess.ID)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events after delete, want 0", len(events))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+sess.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSessionHandler_MethodNotAllowed(t *testing.T) {
	handler := NewSessionHandler(newTestStore(t))
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/sessions"},
		{http.MethodPut, "/api/sessions/abc"},
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d, want %d", tc.method, tc.path, rec.Code, http.StatusMethodNotAllowed)
		}
	}
}
