package events

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ayusman/eyesoff/internal/alert"
)

// DefaultQueueSize is the number of records buffered before new ones are dropped.
const DefaultQueueSize = 64

const writeTimeout = 5 * time.Second

// Recorder is an alert.Observer that hands events to a Sink on its own
// goroutine, so database and network I/O never run on the alert path.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	host   string
	onDrop func()

	mu      sync.Mutex
	queue   chan Record
	session string
	closed  bool
	done    chan struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLogger sets the recorder's logger.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDropHook is called whenever a record is dropped because the queue is full.
func WithDropHook(f func()) RecorderOption {
	return func(r *Recorder) { r.onDrop = f }
}

// NewRecorder starts a recorder draining into sink.
func NewRecorder(sink Sink, size int, opts ...RecorderOption) *Recorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	host, _ := os.Hostname()
	r := &Recorder{
		sink:   sink,
		logger: slog.Default(),
		host:   host,
		queue:  make(chan Record, size),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.run()
	return r
}

// SetSession tags subsequent events with id. An empty id stops tagging.
func (r *Recorder) SetSession(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = id
}

// Observe queues ev without blocking.
func (r *Recorder) Observe(ev alert.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	select {
	case r.queue <- Record{SessionID: r.session, Host: r.host, Event: ev}:
	default:
		r.logger.Warn("event queue full, dropping event", "kind", ev.Kind)
		if r.onDrop != nil {
			r.onDrop()
		}
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.sink.Write(ctx, rec); err != nil {
			r.logger.Warn("failed to record event", "kind", rec.Kind, "error", err)
		}
		cancel()
	}
}

// Close flushes queued records and closes the sink.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	return r.sink.Close()
}
