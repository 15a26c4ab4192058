package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Event kinds stored in the alert_events table.
const (
	EventKindRaised             = "raised"
	EventKindDismissed          = "dismissed"
	EventKindPresentationFailed = "presentation_failed"
)

// Event is a persisted alert lifecycle event.
type Event struct {
	ID         string
	SessionID  string
	Kind       string
	Trigger    string
	FaceCount  int
	Threshold  int
	Mode       string
	Manual     bool
	Error      string
	OccurredAt time.Time
}

// EventRepository provides access to stored alert events.
type EventRepository struct {
	db *sql.DB
}

// Events returns the event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Create inserts a new event. The session must exist.
func (r *EventRepository) Create(e *Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}

	manual := 0
	if e.Manual {
		manual = 1
	}

	_, err := r.db.Exec(
		`INSERT INTO alert_events (id, session_id, kind, trigger, face_count, threshold, mode, manual, error, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Kind, e.Trigger, e.FaceCount, e.Threshold, e.Mode, manual, e.Error, e.OccurredAt.UTC(),
	)
	return err
}

// ListRecent returns up to limit events across all sessions, newest first.
func (r *EventRepository) ListRecent(limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.query(
		`SELECT id, session_id, kind, trigger, face_count, threshold, mode, manual, error, occurred_at
		 FROM alert_events ORDER BY occurred_at DESC LIMIT ?`,
		limit,
	)
}

// ListBySession returns the events of one session in the order they happened.
func (r *EventRepository) ListBySession(sessionID string) ([]*Event, error) {
	return r.query(
		`SELECT id, session_id, kind, trigger, face_count, threshold, mode, manual, error, occurred_at
		 FROM alert_events WHERE session_id = ? ORDER BY occurred_at ASC`,
		sessionID,
	)
}

// DeleteBefore removes events older than cutoff and returns how many went.
func (r *EventRepository) DeleteBefore(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM alert_events WHERE occurred_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *EventRepository) query(q string, args ...any) ([]*Event, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var manual int

		err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Trigger, &e.FaceCount, &e.Threshold,
			&e.Mode, &manual, &e.Error, &e.OccurredAt)
		if err != nil {
			return nil, err
		}

		e.Manual = manual != 0
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
