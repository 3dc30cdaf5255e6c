package store

import (
	"context"
	"sync"

	"github.com/xtrntr/energy-market/internal/models"
)

// Memory is a process-local Store. Values are returned in insertion order.
type Memory struct {
	mu sync.RWMutex

	participants     map[string]models.Participant
	participantOrder []string

	transactions     map[string]models.Transaction
	transactionOrder []string
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		participants: make(map[string]models.Participant),
		transactions: make(map[string]models.Transaction),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) InsertParticipant(ctx context.Context, p models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putParticipant(p)
	return nil
}

func (m *Memory) Participant(ctx context.Context, id string) (models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[id]
	if !ok {
		return models.Participant{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) Participants(ctx context.Context) ([]models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Participant, 0, len(m.participantOrder))
	for _, id := range m.participantOrder {
		out = append(out, m.participants[id])
	}
	return out, nil
}

func (m *Memory) InsertTransaction(ctx context.Context, t models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putTransaction(t)
	return nil
}

func (m *Memory) Transactions(ctx context.Context) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Transaction, 0, len(m.transactionOrder))
	for _, id := range m.transactionOrder {
		out = append(out, m.transactions[id])
	}
	return out, nil
}

func (m *Memory) CommitTrade(ctx context.Context, t models.Transaction, parties ...models.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putTransaction(t)
	for _, p := range parties {
		m.putParticipant(p)
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) putParticipant(p models.Participant) {
	if _, ok := m.participants[p.ID]; !ok {
		m.participantOrder = append(m.participantOrder, p.ID)
	}
	m.participants[p.ID] = p
}

func (m *Memory) putTransaction(t models.Transaction) {
	if _, ok := m.transactions[t.ID]; !ok {
		m.transactionOrder = append(m.transactionOrder, t.ID)
	}
	m.transactions[t.ID] = t
}
