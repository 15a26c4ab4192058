package api

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/eyesoff/internal/store"
)

// newTestStore creates a Store in a temporary directory.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedSession records a session with one raised and one dismissed event.
func seedSession(t *testing.T, s *store.Store, started time.Time) *store.Session {
	t.Helper()

	sess := &store.Session{Detector: "yunet", FaceThreshold: 1, StartedAt: started}
	if err := s.Sessions().Create(sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	for i, kind := range []string{store.EventKindRaised, store.EventKindDismissed} {
		ev := &store.Event{
			SessionID:  sess.ID,
			Kind:       kind,
			FaceCount:  2,
			Threshold:  1,
			Mode:       "overlay",
			OccurredAt: started.Add(time.Duration(i+1) * time.Second),
		}
		if kind == store.EventKindDismissed {
			ev.Trigger = "user_action"
		}
		if err := s.Events().Create(ev); err != nil {
			t.Fatalf("failed to create event: %v", err)
		}
	}
	return sess
}

var quietLogger = slog.New(slog.DiscardHandler)
