package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject prefix alert events are published under.
const DefaultSubject = "eyesoff.alerts"

// publisher is the part of *nats.Conn the sink uses.
type publisher interface {
	PublishMsg(m *nats.Msg) error
	Drain() error
}

// NATSSink publishes each record as JSON to "<prefix>.<kind>".
type NATSSink struct {
	nc     publisher
	prefix string
}

// NewNATSSink wraps an established connection.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	return newNATSSink(nc, prefix)
}

func newNATSSink(nc publisher, prefix string) *NATSSink {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubject
	}
	return &NATSSink{nc: nc, prefix: prefix}
}

// DialNATS connects to url. The connection keeps reconnecting in the
// background and buffers publishes while the server is away.
func DialNATS(url, prefix string, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(
		url,
		nats.Name("eyesoff"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
				return
			}
			logger.Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return NewNATSSink(nc, prefix), nil
}

// Subject returns the subject a record is published to.
func (s *NATSSink) Subject(rec Record) string {
	return fmt.Sprintf("%s.%s", s.prefix, rec.Kind)
}

func (s *NATSSink) Write(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: s.Subject(rec),
		Data:    payload,
		Header:  nats.Header{},
	}
	if rec.SessionID != "" {
		msg.Header.Set("Eyesoff-Session", rec.SessionID)
	}
	if deadline, ok := ctx.Deadline(); ok {
		msg.Header.Set("Deadline", deadline.UTC().Format(time.RFC3339Nano))
	}

	if err := s.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	return s.nc.Drain()
}
