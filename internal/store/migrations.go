package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per monitoring run
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			detector TEXT NOT NULL,
			face_threshold INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			total_detections INTEGER NOT NULL DEFAULT 0,
			alert_count INTEGER NOT NULL DEFAULT 0
		)`,

		// Alert events table - raised/dismissed/failed alerts
		`CREATE TABLE IF NOT EXISTS alert_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			kind TEXT NOT NULL CHECK(kind IN ('raised', 'dismissed', 'presentation_failed')),
			trigger TEXT NOT NULL DEFAULT '',
			face_count INTEGER NOT NULL,
			threshold INTEGER NOT NULL,
			mode TEXT NOT NULL,
			manual INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			occurred_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_alert_events_session_id ON alert_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_occurred_at ON alert_events(occurred_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
