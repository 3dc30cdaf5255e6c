package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATS publishes each event on <subject>.<kind>.
type NATS struct {
	nc      *nats.Conn
	subject string
}

// NewNATS connects to the NATS server at url
func NewNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("energy-market"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATS{nc: nc, subject: subject}, nil
}

func (p *NATS) Publish(ctx context.Context, e Event) error {
	data, err := e.encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.nc.Publish(Subject(p.subject, e.Kind), data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", e.Kind, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (p *NATS) Close() error {
	return p.nc.Drain()
}

// Subject joins the base subject and the event kind.
func Subject(base string, kind Kind) string {
	if base == "" {
		return string(kind)
	}
	return base + "." + string(kind)
}
