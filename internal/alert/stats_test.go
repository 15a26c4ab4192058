package alert

import (
	"sync"
	"testing"
	"time"
)

func TestStats_RecordAndSnapshot(t *testing.T) {
	start := time.Unix(1000, 0)
	s := NewStats(start)

	for i, c := range []int{0, 1, 1, 2} {
		s.RecordTick(Sample{FaceCount: c, At: start.Add(time.Duration(i) * time.Second)})
	}
	s.RecordAlertRaised()

	snap := s.Snapshot()
	if snap.TotalDetections != 4 {
		t.Errorf("TotalDetections = %d, want 4", snap.TotalDetections)
	}
	if snap.AlertCount != 1 {
		t.Errorf("AlertCount = %d, want 1", snap.AlertCount)
	}
	if got := snap.FaceCounts[1]; got != 2 {
		t.Errorf("FaceCounts[1] = %d, want 2", got)
	}
	if !snap.LastDetectionTime.Equal(start.Add(3 * time.Second)) {
		t.Errorf("LastDetectionTime = %v", snap.LastDetectionTime)
	}

	// Mutating the snapshot must not leak into the aggregator.
	snap.FaceCounts[1] = 99
	if got := s.Snapshot().FaceCounts[1]; got != 2 {
		t.Errorf("snapshot aliased internal map: FaceCounts[1] = %d", got)
	}
}

func TestStats_Reset(t *testing.T) {
	s := NewStats(time.Unix(1000, 0))
	s.RecordTick(Sample{FaceCount: 3, At: time.Unix(1001, 0)})
	s.RecordAlertRaised()

	next := time.Unix(2000, 0)
	s.Reset(next)

	snap := s.Snapshot()
	if snap.TotalDetections != 0 || snap.AlertCount != 0 || len(snap.FaceCounts) != 0 {
		t.Errorf("counters not reset: %+v", snap)
	}
	if !snap.SessionStartTime.Equal(next) {
		t.Errorf("SessionStartTime = %v, want %v", snap.SessionStartTime, next)
	}
}

func TestStatistics_Summary(t *testing.T) {
	start := time.Unix(1000, 0)
	snap := Statistics{AlertCount: 3, SessionStartTime: start}

	got := snap.Summary(start.Add(2*time.Minute + 5*time.Second))
	if want := "Alerts: 3 | Session: 2m 5s"; got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}

func TestStats_ConcurrentSnapshot(t *testing.T) {
	s := NewStats(time.Now())
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				s.RecordTick(Sample{FaceCount: n, At: time.Now()})
				_ = s.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	if got := s.Snapshot().TotalDetections; got != 1000 {
		t.Errorf("TotalDetections = %d, want 1000", got)
	}
}
