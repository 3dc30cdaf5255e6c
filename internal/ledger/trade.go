package ledger

import (
	"context"
	"fmt"
	"math"

	"github.com/xtrntr/energy-market/internal/events"
	"github.com/xtrntr/energy-market/internal/models"
	"github.com/xtrntr/energy-market/internal/session"
)

// Trade moves amount of energy between the authenticated participant and the
// counterparty.
//
// "buy" debits the caller and credits the counterparty; "sell" does the
// opposite. amount must be positive and finite, and the side being debited
// must hold at least amount. The caller is
// always recorded as BuyerID and the counterparty as SellerID.
//
// The transaction and both updated participants are committed to the store
// together; the in-memory total and the session snapshot only change after
// the commit succeeds.
func (s *Service) Trade(ctx context.Context, sess *session.Session, amount float64, operation models.Operation, counterparty string) (string, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "", ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	me, err := s.current(ctx, sess)
	if err != nil {
		return "", err
	}

	other, found, err := s.findByUsername(ctx, counterparty)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrCounterpartyNotFound
	}
	if other.ID == me.ID {
		return "", ErrSelfTrade
	}

	switch operation {
	case models.OperationBuy:
		if me.EnergyBalance < amount {
			return "", fmt.Errorf("%w for buying", ErrInsufficientBalance)
		}
		me.EnergyBalance -= amount
		other.EnergyBalance += amount
	case models.OperationSell:
		if other.EnergyBalance < amount {
			return "", fmt.Errorf("%w for selling", ErrInsufficientBalance)
		}
		me.EnergyBalance += amount
		other.EnergyBalance -= amount
	default:
		return "", ErrInvalidOperation
	}

	tx := models.Transaction{
		ID:        s.ids.New(),
		Amount:    amount,
		Timestamp: s.clock.Now(),
		BuyerID:   me.ID,
		SellerID:  other.ID,
		Operation: operation,
	}
	if err := s.store.CommitTrade(ctx, tx, me, other); err != nil {
		return "", err
	}

	s.totalEnergyTraded += amount
	sess.Set(me)

	s.log.Info("transaction recorded",
		"transaction_id", tx.ID,
		"operation", tx.Operation,
		"amount", tx.Amount,
		"buyer_id", tx.BuyerID,
		"seller_id", tx.SellerID,
	)
	s.publish(ctx, events.Event{
		Kind:              events.KindTransactionCreated,
		Transaction:       &tx,
		TotalEnergyTraded: s.totalEnergyTraded,
	})
	return "Transaction successful.", nil
}
