// Package events publishes ledger changes to a message bus.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/xtrntr/energy-market/internal/models"
)

// Kind names an event type. It doubles as the NATS subject suffix.
type Kind string

const (
	KindParticipantRegistered Kind = "participant.registered"
	KindTransactionCreated    Kind = "transaction.created"
)

// Event is one change to the ledger. Exactly one of Participant and
// Transaction is set.
type Event struct {
	Kind              Kind                `json:"kind"`
	Participant       *models.Participant `json:"participant,omitempty"`
	Transaction       *models.Transaction `json:"transaction,omitempty"`
	TotalEnergyTraded float64             `json:"total_energy_traded"`
}

// Key returns the id of the record the event is about.
func (e Event) Key() string {
	switch {
	case e.Transaction != nil:
		return e.Transaction.ID
	case e.Participant != nil:
		return e.Participant.ID
	default:
		return ""
	}
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Publish must not retain e.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(ctx context.Context, e Event) error { return nil }
func (Noop) Close() error                               { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
