package alert

import (
	"fmt"
	"sync"
	"time"
)

// Statistics is an immutable snapshot of session counters.
type Statistics struct {
	TotalDetections   uint64         `json:"total_detections"`
	AlertCount        uint64         `json:"alert_count"`
	LastDetectionTime time.Time      `json:"last_detection_time"`
	SessionStartTime  time.Time      `json:"session_start_time"`
	FaceCounts        map[int]uint64 `json:"face_counts"`
}

// SessionDuration returns how long the session has been running at now.
func (s Statistics) SessionDuration(now time.Time) time.Duration {
	if s.SessionStartTime.IsZero() {
		return 0
	}
	return now.Sub(s.SessionStartTime)
}

// Summary formats the status line shown in the tray and status viewer.
func (s Statistics) Summary(now time.Time) string {
	elapsed := s.SessionDuration(now)
	minutes := int(elapsed / time.Minute)
	seconds := int((elapsed % time.Minute) / time.Second)
	return fmt.Sprintf("Alerts: %d | Session: %dm %ds", s.AlertCount, minutes, seconds)
}

// Stats accumulates session counters. It is safe for concurrent use.
type Stats struct {
	mu    sync.Mutex
	stats Statistics
}

// NewStats creates a Stats whose session started at start.
func NewStats(start time.Time) *Stats {
	s := &Stats{}
	s.Reset(start)
	return s
}

// RecordTick counts one processed tick and returns the new total.
func (s *Stats) RecordTick(sample Sample) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalDetections++
	s.stats.LastDetectionTime = sample.At
	s.stats.FaceCounts[sample.FaceCount]++
	return s.stats.TotalDetections
}

// RecordAlertRaised counts one raised alert.
func (s *Stats) RecordAlertRaised() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.AlertCount++
}

// Snapshot returns a deep copy of the counters.
func (s *Stats) Snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.stats
	snap.FaceCounts = make(map[int]uint64, len(s.stats.FaceCounts))
	for k, v := range s.stats.FaceCounts {
		snap.FaceCounts[k] = v
	}
	return snap
}

// Reset zeroes all counters and starts a new session.
func (s *Stats) Reset(sessionStart time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats = Statistics{
		SessionStartTime: sessionStart,
		FaceCounts:       make(map[int]uint64),
	}
}
