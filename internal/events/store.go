package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayusman/eyesoff/internal/store"
)

// ErrNoSession is returned for records written outside a monitoring session.
var ErrNoSession = errors.New("record has no session")

// StoreSink writes records to the alert_events table.
type StoreSink struct {
	events *store.EventRepository
}

// NewStoreSink creates a sink over s. The store is owned by the caller and is
// not closed by Close.
func NewStoreSink(s *store.Store) *StoreSink {
	return &StoreSink{events: s.Events()}
}

func (s *StoreSink) Write(_ context.Context, rec Record) error {
	if rec.SessionID == "" {
		return ErrNoSession
	}
	err := s.events.Create(&store.Event{
		SessionID:  rec.SessionID,
		Kind:       string(rec.Kind),
		Trigger:    rec.Trigger,
		FaceCount:  rec.FaceCount,
		Threshold:  rec.Threshold,
		Mode:       rec.Mode,
		Manual:     rec.Manual,
		Error:      rec.Error,
		OccurredAt: rec.At,
	})
	if err != nil {
		return fmt.Errorf("store event: %w", err)
	}
	return nil
}

func (s *StoreSink) Close() error { return nil }
