package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xtrntr/energy-market/internal/models"
	"github.com/xtrntr/energy-market/internal/store"
)

//go:embed schema.sql
var schema string

// DB wraps a PostgreSQL connection pool and implements store.Store
type DB struct {
	Pool *pgxpool.Pool
}

var _ store.Store = (*DB)(nil)

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Migrate creates the participants and transactions tables if missing
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

const upsertParticipant = `
	INSERT INTO participants (id, username, password_hash, energy_balance)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE
	SET username = EXCLUDED.username,
	    password_hash = EXCLUDED.password_hash,
	    energy_balance = EXCLUDED.energy_balance`

const insertTransaction = `
	INSERT INTO transactions (id, amount, timestamp, buyer_id, seller_id, operation)
	VALUES ($1, $2, $3, $4, $5, $6)`

// InsertParticipant inserts or fully overwrites a participant
func (db *DB) InsertParticipant(ctx context.Context, p models.Participant) error {
	_, err := db.Pool.Exec(ctx, upsertParticipant, p.ID, p.Username, p.PasswordHash, p.EnergyBalance)
	if err != nil {
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}

// Participant retrieves a participant by id
func (db *DB) Participant(ctx context.Context, id string) (models.Participant, error) {
	var p models.Participant
	err := db.Pool.QueryRow(ctx,
		"SELECT id::text, username, password_hash, energy_balance FROM participants WHERE id = $1",
		id).Scan(&p.ID, &p.Username, &p.PasswordHash, &p.EnergyBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Participant{}, store.ErrNotFound
		}
		return models.Participant{}, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// Participants retrieves every participant in registration order
func (db *DB) Participants(ctx context.Context) ([]models.Participant, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id::text, username, password_hash, energy_balance FROM participants ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.Username, &p.PasswordHash, &p.EnergyBalance); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read participants: %w", err)
	}
	return participants, nil
}

// InsertTransaction inserts a new transaction
func (db *DB) InsertTransaction(ctx context.Context, t models.Transaction) error {
	_, err := db.Pool.Exec(ctx, insertTransaction,
		t.ID, t.Amount, int64(t.Timestamp), t.BuyerID, t.SellerID, string(t.Operation))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// Transactions retrieves every transaction ordered by timestamp
func (db *DB) Transactions(ctx context.Context) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id::text, amount, timestamp, buyer_id::text, seller_id::text, operation FROM transactions ORDER BY timestamp")
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var (
			t  models.Transaction
			ts int64
			op string
		)
		if err := rows.Scan(&t.ID, &t.Amount, &ts, &t.BuyerID, &t.SellerID, &op); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Timestamp = uint64(ts)
		t.Operation = models.Operation(op)
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return transactions, nil
}

// CommitTrade records the transaction and overwrites both parties in one SQL transaction
func (db *DB) CommitTrade(ctx context.Context, t models.Transaction, parties ...models.Participant) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range parties {
		if _, err := tx.Exec(ctx, upsertParticipant, p.ID, p.Username, p.PasswordHash, p.EnergyBalance); err != nil {
			return fmt.Errorf("failed to update participant %s: %w", p.ID, err)
		}
	}

	_, err = tx.Exec(ctx, insertTransaction,
		t.ID, t.Amount, int64(t.Timestamp), t.BuyerID, t.SellerID, string(t.Operation))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
