// Package ledger implements the energy market: participant registration,
// session authentication, balance queries and buy/sell trades between two
// named participants.
//
// Store reads and writes of every operation run under one lock, so concurrent
// callers observe the ledger as if calls were made one at a time. Password
// hashing and comparison happen outside it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/xtrntr/energy-market/internal/clock"
	"github.com/xtrntr/energy-market/internal/events"
	"github.com/xtrntr/energy-market/internal/ids"
	"github.com/xtrntr/energy-market/internal/models"
	"github.com/xtrntr/energy-market/internal/session"
	"github.com/xtrntr/energy-market/internal/store"
)

var (
	ErrUnauthenticated      = errors.New("only logged-in participants can perform this operation")
	ErrAlreadyExists        = errors.New("participant already exists")
	ErrCounterpartyNotFound = errors.New("seller does not exist")
	ErrInsufficientBalance  = errors.New("insufficient energy balance")
	ErrInvalidOperation     = errors.New("invalid operation type")
	ErrBadCredentials       = errors.New("participant does not exist or incorrect password")
	ErrSelfTrade            = errors.New("cannot trade with yourself")
	ErrInvalidAmount        = errors.New("amount must be positive")
)

// errNoParticipant is returned by the session queries. It reads like
// session.ErrNoActiveSession and matches both that and ErrUnauthenticated.
var errNoParticipant error = noParticipantError{}

type noParticipantError struct{}

func (noParticipantError) Error() string { return session.ErrNoActiveSession.Error() }

func (noParticipantError) Unwrap() []error {
	return []error{ErrUnauthenticated, session.ErrNoActiveSession}
}

// PasswordHasher hashes registration passwords and checks login attempts.
// Compare is called with an empty hash for unknown usernames.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

// Service is the market ledger
type Service struct {
	mu sync.Mutex

	store     store.Store
	passwords PasswordHasher
	ids       ids.Generator
	clock     clock.Clock
	publisher events.Publisher
	log       *slog.Logger

	totalEnergyTraded float64
}

// Option configures a Service
type Option func(*Service)

// WithIDGenerator overrides the UUID generator
func WithIDGenerator(g ids.Generator) Option {
	return func(s *Service) { s.ids = g }
}

// WithClock overrides the transaction clock
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithPublisher sends ledger events to p
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a ledger over st. Passwords are required; everything
// else has a default.
func NewService(st store.Store, passwords PasswordHasher, opts ...Option) *Service {
	s := &Service{
		store:     st,
		passwords: passwords,
		ids:       ids.UUID{},
		clock:     clock.NewMonotonic(),
		publisher: events.Noop{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore recomputes the traded-energy total from the stored transactions.
// It is meant to run once at startup, before the service takes traffic.
func (s *Service) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs, err := s.store.Transactions(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore market: %w", err)
	}
	var total float64
	for _, tx := range txs {
		total += tx.Amount
	}
	s.totalEnergyTraded = total
	s.log.Info("market restored", "transactions", len(txs), "total_energy_traded", total)
	return nil
}

// Register creates a participant with the given credentials and starting balance
func (s *Service) Register(ctx context.Context, username, password string, energyBalance float64) (string, error) {
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, found, err := s.findByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if found {
		return "", ErrAlreadyExists
	}

	p := models.Participant{
		ID:            s.ids.New(),
		Username:      username,
		PasswordHash:  hash,
		EnergyBalance: energyBalance,
	}
	if err := s.store.InsertParticipant(ctx, p); err != nil {
		return "", err
	}

	s.log.Info("participant registered", "participant_id", p.ID, "username", p.Username)
	s.publish(ctx, events.Event{
		Kind:              events.KindParticipantRegistered,
		Participant:       &p,
		TotalEnergyTraded: s.totalEnergyTraded,
	})
	return fmt.Sprintf("Participant %s added successfully.", p.Username), nil
}

// Authenticate signs sess in as the participant with the given credentials.
// An unknown username and a wrong password are indistinguishable.
func (s *Service) Authenticate(ctx context.Context, sess *session.Session, username, password string) (string, error) {
	s.mu.Lock()
	p, found, err := s.findByUsername(ctx, username)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	// Password checks run outside the lock.
	if !found {
		s.passwords.Compare("", password)
		return "", ErrBadCredentials
	}
	if !s.passwords.Compare(p.PasswordHash, password) {
		return "", ErrBadCredentials
	}

	sess.Set(p)
	s.log.Debug("participant authenticated", "participant_id", p.ID)
	return "Logged in", nil
}

// SignOut clears sess
func (s *Service) SignOut(sess *session.Session) (string, error) {
	if err := sess.Clear(); err != nil {
		return "", err
	}
	return "Logged out.", nil
}

// WhoAmI returns the username of the authenticated participant
func (s *Service) WhoAmI(ctx context.Context, sess *session.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, err := s.current(ctx, sess)
	if errors.Is(err, ErrUnauthenticated) {
		return "", errNoParticipant
	}
	if err != nil {
		return "", err
	}
	return me.Username, nil
}

// MyBalance describes the authenticated participant's energy balance
func (s *Service) MyBalance(ctx context.Context, sess *session.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, err := s.current(ctx, sess)
	if errors.Is(err, ErrUnauthenticated) {
		return "", errNoParticipant
	}
	if err != nil {
		return "", err
	}
	return "Your energy balance is " + strconv.FormatFloat(me.EnergyBalance, 'f', -1, 64), nil
}

// MyTransactions returns every transaction the authenticated participant is part of
func (s *Service) MyTransactions(ctx context.Context, sess *session.Session) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, err := s.current(ctx, sess)
	if err != nil {
		return nil, err
	}

	all, err := s.store.Transactions(ctx)
	if err != nil {
		return nil, err
	}
	mine := []models.Transaction{}
	for _, tx := range all {
		if tx.Involves(me.ID) {
			mine = append(mine, tx)
		}
	}
	return mine, nil
}

// MarketDetails returns the market aggregate. Lists are read from the store.
func (s *Service) MarketDetails(ctx context.Context) (models.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	participants, err := s.store.Participants(ctx)
	if err != nil {
		return models.Market{}, err
	}
	transactions, err := s.store.Transactions(ctx)
	if err != nil {
		return models.Market{}, err
	}
	if participants == nil {
		participants = []models.Participant{}
	}
	if transactions == nil {
		transactions = []models.Transaction{}
	}
	return models.Market{
		TotalEnergyTraded: s.totalEnergyTraded,
		Transactions:      transactions,
		Participants:      participants,
	}, nil
}

// TotalEnergyTraded returns the running sum of traded amounts
func (s *Service) TotalEnergyTraded() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalEnergyTraded
}

// current resolves the session to a fresh copy of its participant and
// refreshes the session snapshot with it.
func (s *Service) current(ctx context.Context, sess *session.Session) (models.Participant, error) {
	snapshot, ok := sess.Current()
	if !ok {
		return models.Participant{}, ErrUnauthenticated
	}
	me, err := s.store.Participant(ctx, snapshot.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Participant{}, ErrUnauthenticated
		}
		return models.Participant{}, err
	}
	sess.Set(me)
	return me, nil
}

// findByUsername scans every participant for an exact username match.
func (s *Service) findByUsername(ctx context.Context, username string) (models.Participant, bool, error) {
	participants, err := s.store.Participants(ctx)
	if err != nil {
		return models.Participant{}, false, err
	}
	for _, p := range participants {
		if p.Username == username {
			return p, true, nil
		}
	}
	return models.Participant{}, false, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Warn("failed to publish event", "kind", e.Kind, "key", e.Key(), "error", err)
	}
}
