package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ayusman/eyesoff/internal/alert"
	"github.com/ayusman/eyesoff/internal/store"
)

var quiet = slog.New(slog.DiscardHandler)

// memorySink collects records in memory.
type memorySink struct {
	mu      sync.Mutex
	records []Record
	err     error
	closed  bool
	block   chan struct{}
}

func (m *memorySink) Write(_ context.Context, rec Record) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memorySink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type fakeConn struct {
	msgs    []*nats.Msg
	drained bool
	err     error
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func raisedEvent() alert.Event {
	return alert.Event{
		Kind:      alert.EventRaised,
		At:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		FaceCount: 2,
		Threshold: 1,
		Mode:      "overlay",
	}
}

func TestMulti(t *testing.T) {
	a := &memorySink{}
	b := &memorySink{err: errors.New("disk full")}

	err := Multi{a, b}.Write(context.Background(), Record{Event: raisedEvent()})
	if err == nil || err.Error() != "disk full" {
		t.Errorf("Write() error = %v, want disk full", err)
	}
	if a.len() != 1 || b.len() != 1 {
		t.Error("every sink should receive the record")
	}

	if err := (Multi{a, b}).Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("every sink should be closed")
	}
}

func TestStoreSink(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	sess := &store.Session{Detector: "mock", FaceThreshold: 1}
	if err := s.Sessions().Create(sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	sink := NewStoreSink(s)
	if err := sink.Write(context.Background(), Record{Event: raisedEvent()}); !errors.Is(err, ErrNoSession) {
		t.Errorf("Write() without session = %v, want ErrNoSession", err)
	}

	ev := raisedEvent()
	ev.Kind = alert.EventDismissed
	ev.Trigger = alert.TriggerUserAction.String()
	if err := sink.Write(context.Background(), Record{SessionID: sess.ID, Event: ev}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	stored, err := s.Events().ListBySession(sess.ID)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("got %d events, want 1", len(stored))
	}
	if stored[0].Kind != store.EventKindDismissed || stored[0].Trigger != "user_action" {
		t.Errorf("stored event = %+v", stored[0])
	}
	if !stored[0].OccurredAt.Equal(ev.At) {
		t.Errorf("OccurredAt = %v, want %v", stored[0].OccurredAt, ev.At)
	}
}

func TestNATSSink_Write(t *testing.T) {
	conn := &fakeConn{}
	sink := newNATSSink(conn, "privacy.alerts.")

	rec := Record{SessionID: "s-1", Host: "desk", Event: raisedEvent()}
	if err := sink.Write(context.Background(), rec); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if len(conn.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(conn.msgs))
	}
	msg := conn.msgs[0]
	if msg.Subject != "privacy.alerts.raised" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if got := msg.Header.Get("Eyesoff-Session"); got != "s-1" {
		t.Errorf("session header = %q", got)
	}

	var payload map[string]any
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if payload["kind"] != "raised" || payload["face_count"] != float64(2) || payload["host"] != "desk" {
		t.Errorf("payload = %v", payload)
	}
}

func TestNATSSink_DefaultsAndErrors(t *testing.T) {
	conn := &fakeConn{err: nats.ErrConnectionClosed}
	sink := newNATSSink(conn, "")

	if got := sink.Subject(Record{Event: raisedEvent()}); got != DefaultSubject+".raised" {
		t.Errorf("Subject() = %q", got)
	}
	if err := sink.Write(context.Background(), Record{Event: raisedEvent()}); !errors.Is(err, nats.ErrConnectionClosed) {
		t.Errorf("Write() error = %v, want ErrConnectionClosed", err)
	}
	if err := sink.Close(); err != nil || !conn.drained {
		t.Errorf("Close() = %v, drained = %v", err, conn.drained)
	}
}

func TestRecorder_TagsAndFlushes(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(sink, 8, WithLogger(quiet))

	r.SetSession("s-1")
	r.Observe(raisedEvent())
	r.SetSession("s-2")
	r.Observe(raisedEvent())

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !sink.closed {
		t.Error("sink not closed")
	}
	if sink.len() != 2 {
		t.Fatalf("got %d records, want 2", sink.len())
	}
	if sink.records[0].SessionID != "s-1" || sink.records[1].SessionID != "s-2" {
		t.Errorf("sessions = %q, %q", sink.records[0].SessionID, sink.records[1].SessionID)
	}

	// Observing after Close is a no-op.
	r.Observe(raisedEvent())
	if err := r.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	var mu sync.Mutex
	dropped := 0
	r := NewRecorder(sink, 1, WithLogger(quiet), WithDropHook(func() {
		mu.Lock()
		dropped++
		mu.Unlock()
	}))

	// One record is held by the blocked writer, one fills the queue and the
	// rest are dropped.
	for i := 0; i < 5; i++ {
		r.Observe(raisedEvent())
		if i == 0 {
			time.Sleep(50 * time.Millisecond)
		}
	}
	close(sink.block)
	r.Close()

	mu.Lock()
	defer mu.Unlock()
	if dropped != 3 {
		t.Errorf("dropped %d records, want 3", dropped)
	}
	if sink.len() != 2 {
		t.Errorf("wrote %d records, want 2", sink.len())
	}
}

func TestRecorder_SinkErrorsDoNotStopIt(t *testing.T) {
	sink := &memorySink{err: errors.New("locked")}
	r := NewRecorder(sink, 4, WithLogger(quiet))

	r.Observe(raisedEvent())
	r.Observe(raisedEvent())
	r.Close()

	if sink.len() != 2 {
		t.Errorf("got %d write attempts, want 2", sink.len())
	}
}
