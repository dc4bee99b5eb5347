package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Publisher is the part of *nats.Conn used by NATSPublisher.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON on "<prefix>.<node>.<kind>".
type NATSPublisher struct {
	conn   Publisher
	prefix string
}

// NewNATSPublisher creates a publisher. The prefix must not be empty.
func NewNATSPublisher(conn Publisher, prefix string) (*NATSPublisher, error) {
	if conn == nil {
		return nil, errors.New("NATS connection is required")
	}
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		return nil, errors.New("subject prefix is required")
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(ev Event) string {
	return p.prefix + "." + ev.NodeID + "." + string(ev.Kind)
}

func (p *NATSPublisher) Send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
