// Package store defines the durable participant and transaction storage used
// by the ledger, with in-memory and Pebble backends.
package store

import (
	"context"
	"errors"

	"github.com/xtrntr/energy-market/internal/models"
)

// ErrNotFound is returned by point reads for an unknown id.
var ErrNotFound = errors.New("record not found")

// Store persists participants and transactions keyed by id.
//
// Participant writes overwrite the whole record. Transactions are append-only.
// CommitTrade stages one transaction and the updated parties and makes them
// visible together, or not at all.
type Store interface {
	InsertParticipant(ctx context.Context, p models.Participant) error
	Participant(ctx context.Context, id string) (models.Participant, error)
	Participants(ctx context.Context) ([]models.Participant, error)

	InsertTransaction(ctx context.Context, t models.Transaction) error
	Transactions(ctx context.Context) ([]models.Transaction, error)

	CommitTrade(ctx context.Context, t models.Transaction, parties ...models.Participant) error

	Close() error
}
