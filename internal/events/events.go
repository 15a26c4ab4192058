// Package events records alert lifecycle events to the local database and,
// optionally, to a NATS subject.
package events

import (
	"context"
	"errors"

	"github.com/ayusman/eyesoff/internal/alert"
)

// Record is an alert event tagged with the monitoring session it belongs to.
type Record struct {
	SessionID string `json:"session_id"`
	Host      string `json:"host,omitempty"`
	alert.Event
}

// Sink persists or forwards records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Nop discards every record.
type Nop struct{}

func (Nop) Write(context.Context, Record) error { return nil }
func (Nop) Close() error                        { return nil }

// Multi writes each record to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
