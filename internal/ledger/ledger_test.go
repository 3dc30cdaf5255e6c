package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/energy-market/internal/auth"
	"github.com/xtrntr/energy-market/internal/clock"
	"github.com/xtrntr/energy-market/internal/events"
	"github.com/xtrntr/energy-market/internal/ids"
	"github.com/xtrntr/energy-market/internal/models"
	"github.com/xtrntr/energy-market/internal/session"
	"github.com/xtrntr/energy-market/internal/store"
)

type fixture struct {
	svc       *Service
	store     store.Store
	published *events.Recorder
}

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()
	passwords, err := auth.NewPasswords(bcrypt.MinCost)
	require.NoError(t, err)

	n := 0
	rec := &events.Recorder{}
	svc := NewService(st, passwords,
		WithIDGenerator(ids.Func(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		})),
		WithClock(clock.NewManual(0)),
		WithPublisher(rec),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return &fixture{svc: svc, store: st, published: rec}
}

func (f *fixture) participant(t *testing.T, username string) models.Participant {
	t.Helper()
	all, err := f.store.Participants(context.Background())
	require.NoError(t, err)
	for _, p := range all {
		if p.Username == username {
			return p
		}
	}
	t.Fatalf("participant %q not found", username)
	return models.Participant{}
}

// aliceAndBob registers alice (100) and bob (50) and signs alice in.
func (f *fixture) aliceAndBob(t *testing.T) *session.Session {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "alice", "pw1", 100.0)
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, "bob", "pw2", 50.0)
	require.NoError(t, err)

	sess := session.New()
	_, err = f.svc.Authenticate(ctx, sess, "alice", "pw1")
	require.NoError(t, err)
	return sess
}

func TestService_Register(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	ctx := context.Background()

	msg, err := f.svc.Register(ctx, "alice", "pw1", 100.0)
	require.NoError(t, err)
	assert.Equal(t, "Participant alice added successfully.", msg)

	alice := f.participant(t, "alice")
	assert.Equal(t, "id-1", alice.ID)
	assert.Equal(t, 100.0, alice.EnergyBalance)
	assert.NotEqual(t, "pw1", alice.PasswordHash)

	_, err = f.svc.Register(ctx, "alice", "other", 5.0)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	all, err := f.store.Participants(ctx)
	require.NoError(t, err)
	count := 0
	for _, p := range all {
		if p.Username == "alice" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 100.0, f.participant(t, "alice").EnergyBalance)

	published := f.published.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.KindParticipantRegistered, published[0].Kind)
	assert.Equal(t, "id-1", published[0].Key())
}

func TestService_Register_AcceptsAnyBalance(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	_, err := f.svc.Register(context.Background(), "debtor", "pw", -10)
	require.NoError(t, err)
	assert.Equal(t, -10.0, f.participant(t, "debtor").EnergyBalance)
}

func TestService_Authenticate(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "alice", "pw1", 100.0)
	require.NoError(t, err)

	tests := []struct {
		name        string
		username    string
		password    string
		expectError error
	}{
		{name: "Success", username: "alice", password: "pw1"},
		{name: "WrongPassword", username: "alice", password: "wrong", expectError: ErrBadCredentials},
		{name: "NonExistentUser", username: "bob", password: "pw1", expectError: ErrBadCredentials},
		{name: "UsernameIsCaseSensitive", username: "Alice", password: "pw1", expectError: ErrBadCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := session.New()
			msg, err := f.svc.Authenticate(ctx, sess, tt.username, tt.password)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				_, ok := sess.Current()
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Logged in", msg)
			who, err := f.svc.WhoAmI(ctx, sess)
			require.NoError(t, err)
			assert.Equal(t, "alice", who)
		})
	}
}

func TestService_Authenticate_SameErrorForUnknownAndWrongPassword(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "alice", "pw1", 100.0)
	require.NoError(t, err)

	_, wrongPassword := f.svc.Authenticate(ctx, session.New(), "alice", "nope")
	_, unknownUser := f.svc.Authenticate(ctx, session.New(), "mallory", "pw1")
	assert.Equal(t, wrongPassword, unknownUser)
}

func TestService_SignOut(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	ctx := context.Background()
	sess := f.aliceAndBob(t)

	msg, err := f.svc.SignOut(sess)
	require.NoError(t, err)
	assert.Equal(t, "Logged out.", msg)

	_, err = f.svc.SignOut(sess)
	assert.ErrorIs(t, err, session.ErrNoActiveSession)

	_, err = f.svc.WhoAmI(ctx, sess)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, err, session.ErrNoActiveSession)
	assert.EqualError(t, err, "there is no logged-in participant")
	_, err = f.svc.MyBalance(ctx, sess)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.EqualError(t, err, "there is no logged-in participant")
	_, err = f.svc.MyTransactions(ctx, sess)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = f.svc.Trade(ctx, sess, 1, models.OperationBuy, "bob")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestService_Trade_BuyScenario(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	ctx := context.Background()
	sess := f.aliceAndBob(t)

	msg, err := f.svc.Trade(ctx, sess, 20.0, models.OperationBuy, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Transaction successful.", msg)

	alice := f.participant(t, "alice")
	bob := f.participant(t, "bob")
	assert.Equal(t, 80.0, alice.EnergyBalance)
	assert.Equal(t, 70.0, bob.EnergyBalance)
	assert.Equal(t, 20.0, f.svc.TotalEnergyTraded())

	txs, err := f.store.Transactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, alice.ID, txs[0].BuyerID)
	assert.Equal(t, bob.ID, txs[0].SellerID)
	assert.Equal(t, 20.0, txs[0].Amount)
	assert.Equal(t, models.OperationBuy, txs[0].Operation)
	assert.Equal(t, uint64(1), txs[0].Timestamp)

	balance, err := f.svc.MyBalance(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "Your energy balance is 80", balance)

	published := f.published.Events()
	require.Len(t, published, 3)
	last := published[2]
	assert.Equal(t, events.KindTransactionCreated, last.Kind)
	assert.Equal(t, 20.0, last.TotalEnergyTraded)
	assert.Equal(t, txs[0].ID, last.Key())
}

func TestService_Trade_Sell(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	ctx := context.Background()
	sess := f.aliceAndBob(t)

	_, err := f.svc.Trade(ctx, sess, 30.0, models.OperationSell, "bob")
	require.NoError(t, err)

	assert.Equal(t, 130.0, f.participant(t, "alice").EnergyBalance)
	assert.Equal(t, 20.0, f.participant(t, "bob").EnergyBalance)

	_, err = f.svc.Trade(ctx, sess, 20.5, models.OperationSell, "bob")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.EqualError(t, err, "insufficient energy balance for selling")
}

func TestService_Trade_Errors(t *testing.T) {
	tests := []struct {
		name         string
		amount       float64
		operation    models.Operation
		counterparty string
		expectError  error
	}{
		{name: "InsufficientBalance", amount: 1000.0, operation: models.OperationBuy, counterparty: "bob", expectError: ErrInsufficientBalance},
		{name: "CounterpartyNotFound", amount: 1.0, operation: models.OperationBuy, counterparty: "carol", expectError: ErrCounterpartyNotFound},
		{name: "InvalidOperation", amount: 1.0, operation: "transfer", counterparty: "bob", expectError: ErrInvalidOperation},
		{name: "SelfTrade", amount: 1.0, operation: models.OperationBuy, counterparty: "alice", expectError: ErrSelfTrade},
		{name: "NegativeBuy", amount: -80.0, operation: models.OperationBuy, counterparty: "bob", expectError: ErrInvalidAmount},
		{name: "NegativeSell", amount: -80.0, operation: models.OperationSell, counterparty: "bob", expectError: ErrInvalidAmount},
		{name: "ZeroAmount", amount: 0, operation: models.OperationBuy, counterparty: "bob", expectError: ErrInvalidAmount},
		{name: "NaNAmount", amount: math.NaN(), operation: models.OperationBuy, counterparty: "bob", expectError: ErrInvalidAmount},
		{name: "InfiniteAmount", amount: math.Inf(1), operation: models.OperationSell, counterparty: "bob", expectError: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, store.NewMemory())
			ctx := context.Background()
			sess := f.aliceAndBob(t)

			_, err := f.svc.Trade(ctx, sess, tt.amount, tt.operation, tt.counterparty)
			assert.ErrorIs(t, err, tt.expectError)

			assert.Equal(t, 100.0, f.participant(t, "alice").EnergyBalance)
			assert.Equal(t, 50.0, f.participant(t, "bob").EnergyBalance)
			assert.Equal(t, 0.0, f.svc.TotalEnergyTraded())
			txs, err := f.store.Transactions(ctx)
			require.NoError(t, err)
			assert.Empty(t, txs)
		})
	}
}

func TestService_Trade_ExactBalance(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	sess := f.aliceAndBob(t)

	_, err := f.svc.Trade(context.Background(), sess, 100.0, models.OperationBuy, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0.0, f.participant(t, "alice").EnergyBalance)
}

func TestService_Trade_Conservation(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	ctx := context.Background()
	sess := f.aliceAndBob(t)

	trades := []struct {
		amount    float64
		operation models.Operation
	}{
		{10, models.OperationBuy},
		{25.5, models.OperationSell},
		{0.25, models.OperationBuy},
		{60, models.OperationSell},
		{1000, models.OperationBuy},
		{7, models.OperationSell},
	}

	for _, tr := range trades {
		before := f.participant(t, "alice").EnergyBalance + f.participant(t, "bob").EnergyBalance
		totalBefore := f.svc.TotalEnergyTraded()

		_, err := f.svc.Trade(ctx, sess, tr.amount, tr.operation, "bob")

		after := f.participant(t, "alice").EnergyBalance + f.participant(t, "bob").EnergyBalance
		assert.InDelta(t, before, after, 1e-9)
		if err != nil {
			assert.ErrorIs(t, err, ErrInsufficientBalance)
			assert.Equal(t, totalBefore, f.svc.TotalEnergyTraded())
			continue
		}
		assert.InDelta(t, totalBefore+tr.amount, f.svc.TotalEnergyTraded(), 1e-9)
		assert.GreaterOrEqual(t, f.participant(t, "alice").EnergyBalance, 0.0)
		assert.GreaterOrEqual(t, f.participant(t, "bob").EnergyBalance, 0.0)
	}

	txs, err := f.store.Transactions(ctx)
	require.NoError(t, err)
	var sum float64
	for _, tx := range txs {
		sum += tx.Amount
	}
	assert.InDelta(t, sum, f.svc.TotalEnergyTraded(), 1e-9)
}

func TestService_SessionSeesStoreUpdates(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	ctx := context.Background()
	aliceSess := f.aliceAndBob(t)

	bobSess := session.New()
	_, err := f.svc.Authenticate(ctx, bobSess, "bob", "pw2")
	require.NoError(t, err)

	_, err = f.svc.Trade(ctx, aliceSess, 20, models.OperationBuy, "bob")
	require.NoError(t, err)

	// bob signed in before the trade; his view must include it.
	balance, err := f.svc.MyBalance(ctx, bobSess)
	require.NoError(t, err)
	assert.Equal(t, "Your energy balance is 70", balance)

	snapshot, ok := bobSess.Current()
	require.True(t, ok)
	assert.Equal(t, 70.0, snapshot.EnergyBalance)

	// bob can now spend what alice sent him.
	_, err = f.svc.Trade(ctx, bobSess, 70, models.OperationBuy, "alice")
	require.NoError(t, err)
	assert.Equal(t, 150.0, f.participant(t, "alice").EnergyBalance)
}

func TestService_MyTransactions(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	ctx := context.Background()
	aliceSess := f.aliceAndBob(t)
	_, err := f.svc.Register(ctx, "carol", "pw3", 10)
	require.NoError(t, err)

	carolSess := session.New()
	_, err = f.svc.Authenticate(ctx, carolSess, "carol", "pw3")
	require.NoError(t, err)

	empty, err := f.svc.MyTransactions(ctx, carolSess)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = f.svc.Trade(ctx, aliceSess, 5, models.OperationBuy, "bob")
	require.NoError(t, err)
	_, err = f.svc.Trade(ctx, carolSess, 1, models.OperationSell, "alice")
	require.NoError(t, err)

	aliceTxs, err := f.svc.MyTransactions(ctx, aliceSess)
	require.NoError(t, err)
	assert.Len(t, aliceTxs, 2)

	carolTxs, err := f.svc.MyTransactions(ctx, carolSess)
	require.NoError(t, err)
	require.Len(t, carolTxs, 1)
	assert.Equal(t, f.participant(t, "carol").ID, carolTxs[0].BuyerID)

	bobSess := session.New()
	_, err = f.svc.Authenticate(ctx, bobSess, "bob", "pw2")
	require.NoError(t, err)
	bobTxs, err := f.svc.MyTransactions(ctx, bobSess)
	require.NoError(t, err)
	require.Len(t, bobTxs, 1)
	assert.Equal(t, f.participant(t, "bob").ID, bobTxs[0].SellerID)
}

func TestService_MarketDetails(t *testing.T) {
	f := newFixture(t, store.NewMemory())
	ctx := context.Background()

	market, err := f.svc.MarketDetails(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, market.TotalEnergyTraded)
	assert.NotNil(t, market.Participants)
	assert.NotNil(t, market.Transactions)

	sess := f.aliceAndBob(t)
	_, err = f.svc.Trade(ctx, sess, 12.5, models.OperationBuy, "bob")
	require.NoError(t, err)

	market, err = f.svc.MarketDetails(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12.5, market.TotalEnergyTraded)
	assert.Len(t, market.Participants, 2)
	assert.Len(t, market.Transactions, 1)
}

func TestService_Restore(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	f := newFixture(t, st)
	sess := f.aliceAndBob(t)
	_, err = f.svc.Trade(ctx, sess, 20, models.OperationBuy, "bob")
	require.NoError(t, err)
	_, err = f.svc.Trade(ctx, sess, 5, models.OperationSell, "bob")
	require.NoError(t, err)

	restarted := newFixture(t, st)
	assert.Equal(t, 0.0, restarted.svc.TotalEnergyTraded())
	require.NoError(t, restarted.svc.Restore(ctx))
	assert.Equal(t, 25.0, restarted.svc.TotalEnergyTraded())
}

// failingStore rejects trade commits.
type failingStore struct {
	store.Store
}

func (failingStore) CommitTrade(ctx context.Context, t models.Transaction, parties ...models.Participant) error {
	return errors.New("disk full")
}

func TestService_Trade_CommitFailure(t *testing.T) {
	f := newFixture(t, failingStore{Store: store.NewMemory()})
	ctx := context.Background()
	sess := f.aliceAndBob(t)

	_, err := f.svc.Trade(ctx, sess, 20, models.OperationBuy, "bob")
	require.Error(t, err)
	assert.EqualError(t, err, "disk full")

	assert.Equal(t, 0.0, f.svc.TotalEnergyTraded())
	snapshot, ok := sess.Current()
	require.True(t, ok)
	assert.Equal(t, 100.0, snapshot.EnergyBalance)
	assert.Equal(t, 100.0, f.participant(t, "alice").EnergyBalance)
	assert.Len(t, f.published.Events(), 2, "no transaction event after a failed commit")
}

// gatedPasswords blocks Compare until release is closed.
type gatedPasswords struct {
	PasswordHasher
	entered chan struct{}
	release chan struct{}
}

func (g *gatedPasswords) Compare(hash, password string) bool {
	g.entered <- struct{}{}
	<-g.release
	return g.PasswordHasher.Compare(hash, password)
}

func TestService_Authenticate_DoesNotBlockLedger(t *testing.T) {
	ctx := context.Background()
	passwords, err := auth.NewPasswords(bcrypt.MinCost)
	require.NoError(t, err)
	gated := &gatedPasswords{
		PasswordHasher: passwords,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	svc := NewService(store.NewMemory(), gated, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err = svc.Register(ctx, "alice", "pw1", 100)
	require.NoError(t, err)

	loggedIn := make(chan error, 1)
	sess := session.New()
	go func() {
		_, err := svc.Authenticate(ctx, sess, "alice", "pw1")
		loggedIn <- err
	}()
	<-gated.entered

	queried := make(chan error, 1)
	go func() {
		_, err := svc.MarketDetails(ctx)
		queried <- err
	}()
	select {
	case err := <-queried:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("market query blocked behind password check")
	}

	close(gated.release)
	require.NoError(t, <-loggedIn)
	_, ok := sess.Current()
	assert.True(t, ok)
}
