// Package storetest holds behaviour tests shared by every store.Store backend.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/energy-market/internal/models"
	"github.com/xtrntr/energy-market/internal/store"
)

// Factory returns an empty store. The caller's cleanup closes it.
type Factory func(t *testing.T) store.Store

// Run exercises the store.Store contract against the backend built by newStore.
// Participant and transaction ids must be valid UUIDs for the SQL backend.
func Run(t *testing.T, newStore Factory) {
	t.Run("ParticipantRoundTrip", func(t *testing.T) { testParticipantRoundTrip(t, newStore(t)) })
	t.Run("ParticipantOverwrite", func(t *testing.T) { testParticipantOverwrite(t, newStore(t)) })
	t.Run("ParticipantNotFound", func(t *testing.T) { testParticipantNotFound(t, newStore(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("CommitTrade", func(t *testing.T) { testCommitTrade(t, newStore(t)) })
	t.Run("CommitTradeCanceled", func(t *testing.T) { testCommitTradeCanceled(t, newStore(t)) })
}

const (
	aliceID = "6f1c2b8e-8d4a-4a57-9d0e-3f3f7b1d2a01"
	bobID   = "6f1c2b8e-8d4a-4a57-9d0e-3f3f7b1d2a02"
	carolID = "6f1c2b8e-8d4a-4a57-9d0e-3f3f7b1d2a03"
	tx1ID   = "0b6d1e7a-5c38-4f0e-8b61-9a4d2c7e1f01"
	tx2ID   = "0b6d1e7a-5c38-4f0e-8b61-9a4d2c7e1f02"
)

func alice() models.Participant {
	return models.Participant{ID: aliceID, Username: "alice", PasswordHash: "hash-a", EnergyBalance: 100}
}

func bob() models.Participant {
	return models.Participant{ID: bobID, Username: "bob", PasswordHash: "hash-b", EnergyBalance: 50}
}

func testParticipantRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertParticipant(ctx, alice()))
	require.NoError(t, s.InsertParticipant(ctx, bob()))

	got, err := s.Participant(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, alice(), got)

	all, err := s.Participants(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.Participant{alice(), bob()}, all)
}

func testParticipantOverwrite(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertParticipant(ctx, alice()))

	updated := alice()
	updated.EnergyBalance = 12.5
	require.NoError(t, s.InsertParticipant(ctx, updated))

	all, err := s.Participants(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 12.5, all[0].EnergyBalance)
}

func testParticipantNotFound(t *testing.T, s store.Store) {
	_, err := s.Participant(context.Background(), carolID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertParticipant(ctx, alice()))
	require.NoError(t, s.InsertParticipant(ctx, bob()))

	empty, err := s.Transactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	txs := []models.Transaction{
		{ID: tx1ID, Amount: 20, Timestamp: 1, BuyerID: aliceID, SellerID: bobID, Operation: models.OperationBuy},
		{ID: tx2ID, Amount: 5, Timestamp: 2, BuyerID: bobID, SellerID: aliceID, Operation: models.OperationSell},
	}
	for _, tx := range txs {
		require.NoError(t, s.InsertTransaction(ctx, tx))
	}

	all, err := s.Transactions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, txs, all)
}

func testCommitTrade(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertParticipant(ctx, alice()))
	require.NoError(t, s.InsertParticipant(ctx, bob()))

	a, b := alice(), bob()
	a.EnergyBalance -= 20
	b.EnergyBalance += 20
	tx := models.Transaction{ID: tx1ID, Amount: 20, Timestamp: 7, BuyerID: aliceID, SellerID: bobID, Operation: models.OperationBuy}

	require.NoError(t, s.CommitTrade(ctx, tx, a, b))

	gotA, err := s.Participant(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, 80.0, gotA.EnergyBalance)
	gotB, err := s.Participant(ctx, bobID)
	require.NoError(t, err)
	assert.Equal(t, 70.0, gotB.EnergyBalance)

	txs, err := s.Transactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Transaction{tx}, txs)
}

func testCommitTradeCanceled(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertParticipant(ctx, alice()))
	require.NoError(t, s.InsertParticipant(ctx, bob()))

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	a := alice()
	a.EnergyBalance = 0
	tx := models.Transaction{ID: tx1ID, Amount: 100, Timestamp: 1, BuyerID: aliceID, SellerID: bobID, Operation: models.OperationBuy}
	assert.Error(t, s.CommitTrade(canceled, tx, a, bob()))

	got, err := s.Participant(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.EnergyBalance)

	txs, err := s.Transactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
}
