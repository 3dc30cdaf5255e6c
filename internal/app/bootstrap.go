package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xtrntr/energy-market/internal/auth"
	"github.com/xtrntr/energy-market/internal/config"
	"github.com/xtrntr/energy-market/internal/db"
	"github.com/xtrntr/energy-market/internal/events"
	"github.com/xtrntr/energy-market/internal/ledger"
	"github.com/xtrntr/energy-market/internal/store"
)

// App holds the long-lived dependencies shared by the binaries
type App struct {
	Config    *config.Config
	Log       *slog.Logger
	Store     store.Store
	Publisher events.Publisher
	Ledger    *ledger.Service
}

// New opens the configured store and event publisher and builds a ledger
// whose traded total has been restored from the store.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("store opened", "backend", cfg.Store)

	pub, err := NewPublisher(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	log.Info("event publisher ready", "backend", cfg.Events)

	passwords, err := auth.NewPasswords(cfg.BcryptCost)
	if err != nil {
		pub.Close()
		st.Close()
		return nil, err
	}

	l := ledger.NewService(st, passwords,
		ledger.WithPublisher(pub),
		ledger.WithLogger(log.With("component", "ledger")),
	)
	if err := l.Restore(ctx); err != nil {
		pub.Close()
		st.Close()
		return nil, err
	}

	return &App{
		Config:    cfg,
		Log:       log,
		Store:     st,
		Publisher: pub,
		Ledger:    l,
	}, nil
}

// OpenStore opens the storage backend named in cfg
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StorePebble:
		if err := os.MkdirAll(filepath.Dir(cfg.PebbleDir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create pebble dir: %w", err)
		}
		return store.OpenPebble(cfg.PebbleDir)
	case config.StorePostgres:
		database, err := db.NewDB(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, err
		}
		return database, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// NewPublisher connects the event backend named in cfg
func NewPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.Events {
	case config.EventsNone, "":
		return events.Noop{}, nil
	case config.EventsNATS:
		return events.NewNATS(cfg.NATSURL, cfg.NATSSubject)
	case config.EventsKafka:
		return events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Events)
	}
}

// Close releases the publisher and the store
func (a *App) Close() error {
	return errors.Join(a.Publisher.Close(), a.Store.Close())
}
