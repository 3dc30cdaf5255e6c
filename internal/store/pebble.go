package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/xtrntr/energy-market/internal/models"
)

const (
	participantPrefix = "participant/"
	transactionPrefix = "transaction/"
)

// participantRecord is the on-disk form of a participant. It differs from
// models.Participant in that the password hash is serialised.
type participantRecord struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	PasswordHash  string  `json:"password_hash"`
	EnergyBalance float64 `json:"energy_balance"`
}

func toParticipantRecord(p models.Participant) participantRecord {
	return participantRecord(p)
}

func (r participantRecord) model() models.Participant {
	return models.Participant(r)
}

// Pebble is a Store on top of a local Pebble database. Every write is synced.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a Pebble database in dir
func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}
	return &Pebble{db: db}, nil
}

var _ Store = (*Pebble)(nil)

func (s *Pebble) InsertParticipant(ctx context.Context, p models.Participant) error {
	val, err := json.Marshal(toParticipantRecord(p))
	if err != nil {
		return fmt.Errorf("failed to encode participant: %w", err)
	}
	if err := s.db.Set(participantKey(p.ID), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}

func (s *Pebble) Participant(ctx context.Context, id string) (models.Participant, error) {
	val, closer, err := s.db.Get(participantKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Participant{}, ErrNotFound
		}
		return models.Participant{}, fmt.Errorf("failed to get participant: %w", err)
	}
	defer closer.Close()

	var rec participantRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return models.Participant{}, fmt.Errorf("failed to decode participant %s: %w", id, err)
	}
	return rec.model(), nil
}

func (s *Pebble) Participants(ctx context.Context) ([]models.Participant, error) {
	var participants []models.Participant
	err := s.scan(participantPrefix, func(val []byte) error {
		var rec participantRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("failed to decode participant: %w", err)
		}
		participants = append(participants, rec.model())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return participants, nil
}

func (s *Pebble) InsertTransaction(ctx context.Context, t models.Transaction) error {
	val, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	if err := s.db.Set(transactionKey(t.ID), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Pebble) Transactions(ctx context.Context) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := s.scan(transactionPrefix, func(val []byte) error {
		var t models.Transaction
		if err := json.Unmarshal(val, &t); err != nil {
			return fmt.Errorf("failed to decode transaction: %w", err)
		}
		transactions = append(transactions, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

// CommitTrade writes the transaction and the parties in a single synced batch
func (s *Pebble) CommitTrade(ctx context.Context, t models.Transaction, parties ...models.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	val, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	if err := batch.Set(transactionKey(t.ID), val, nil); err != nil {
		return fmt.Errorf("failed to stage transaction: %w", err)
	}

	for _, p := range parties {
		val, err := json.Marshal(toParticipantRecord(p))
		if err != nil {
			return fmt.Errorf("failed to encode participant: %w", err)
		}
		if err := batch.Set(participantKey(p.ID), val, nil); err != nil {
			return fmt.Errorf("failed to stage participant %s: %w", p.ID, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit trade: %w", err)
	}
	return nil
}

func (s *Pebble) Close() error {
	return s.db.Close()
}

// scan calls fn with the value of every key under prefix, in key order.
func (s *Pebble) scan(prefix string, fn func(val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func participantKey(id string) []byte {
	return []byte(participantPrefix + id)
}

func transactionKey(id string) []byte {
	return []byte(transactionPrefix + id)
}

// upperBound returns the smallest key greater than every key with the prefix.
func upperBound(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}
