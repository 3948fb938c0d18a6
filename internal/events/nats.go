package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const connectTimeout = 5 * time.Second

var _ Publisher = (*NATSPublisher)(nil)

// NATSPublisher publishes events as JSON on "<prefix>.<type>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, subjectPrefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("doss"),
		nats.Timeout(connectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, prefix: subjectPrefix}, nil
}

// Subject returns the subject an event of the given type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return subject(p.prefix, eventType)
}

func subject(prefix, eventType string) string {
	return prefix + "." + eventType
}

// Publish sends ev without waiting for acknowledgement.
func (p *NATSPublisher) Publish(_ context.Context, ev InvocationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
