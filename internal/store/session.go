package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Session is one monitoring run, from Start to Stop.
type Session struct {
	ID              string
	Detector        string
	FaceThreshold   int
	StartedAt       time.Time
	EndedAt         *time.Time
	TotalDetections uint64
	AlertCount      uint64
}

// Active reports whether the session has not been ended yet.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// SessionRepository provides access to stored sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new session. An empty ID is filled with a fresh UUID and a
// zero StartedAt with the current time. Times are stored in UTC so they sort
// as text.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, detector, face_threshold, started_at, total_detections, alert_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Detector, sess.FaceThreshold, sess.StartedAt.UTC(), sess.TotalDetections, sess.AlertCount,
	)
	return err
}

// End stamps the session with its end time and final counters.
func (r *SessionRepository) End(id string, endedAt time.Time, totalDetections, alertCount uint64) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ?, total_detections = ?, alert_count = ?
		 WHERE id = ?`,
		endedAt.UTC(), totalDetections, alertCount, id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	row := r.db.QueryRow(
		`SELECT id, detector, face_threshold, started_at, ended_at, total_detections, alert_count
		 FROM sessions WHERE id = ?`,
		id,
	)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// List retrieves the most recent sessions, newest first. A limit of zero or
// less returns all of them.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, detector, face_threshold, started_at, ended_at, total_detections, alert_count
		 FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// CloseDangling ends every session left open by a crash, using its start
// time as the end time. It returns how many sessions were closed.
func (r *SessionRepository) CloseDangling() (int64, error) {
	result, err := r.db.Exec(`UPDATE sessions SET ended_at = started_at WHERE ended_at IS NULL`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Delete removes a session and, through the foreign key, its events.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var ended sql.NullTime

	err := row.Scan(&sess.ID, &sess.Detector, &sess.FaceThreshold, &sess.StartedAt, &ended,
		&sess.TotalDetections, &sess.AlertCount)
	if err != nil {
		return nil, err
	}

	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return sess, nil
}
