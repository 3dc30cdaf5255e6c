package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/xtrntr/energy-market/internal/app"
	"github.com/xtrntr/energy-market/internal/config"
	"github.com/xtrntr/energy-market/internal/ledger"
	"github.com/xtrntr/energy-market/internal/logging"
	"github.com/xtrntr/energy-market/internal/models"
	"github.com/xtrntr/energy-market/internal/session"
)

// Seed the configured store with demo participants and trades
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Env, os.Stdout)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// First check if we already have transactions
	market, err := a.Ledger.MarketDetails(ctx)
	if err != nil {
		log.Error("failed to check transactions", "error", err)
		os.Exit(1)
	}
	if len(market.Transactions) > 0 {
		fmt.Printf("Store already has %d transactions. No need to seed.\n", len(market.Transactions))
		return
	}

	// Create demo participants if they don't exist
	participants := []struct {
		username string
		password string
		balance  float64
	}{
		{"solar-farm", "solar-pass", 500},
		{"household-1", "house-pass", 40},
		{"household-2", "house-pass", 25},
	}
	for _, p := range participants {
		_, err := a.Ledger.Register(ctx, p.username, p.password, p.balance)
		if err != nil && !errors.Is(err, ledger.ErrAlreadyExists) {
			log.Error("failed to create participant", "username", p.username, "error", err)
			os.Exit(1)
		}
	}

	// The solar farm supplies both households, then household-1 passes some on
	trades := []struct {
		as           string
		password     string
		amount       float64
		operation    models.Operation
		counterparty string
	}{
		{"solar-farm", "solar-pass", 120, models.OperationBuy, "household-1"},
		{"solar-farm", "solar-pass", 80, models.OperationBuy, "household-2"},
		{"household-1", "house-pass", 30, models.OperationBuy, "household-2"},
		{"household-2", "house-pass", 10, models.OperationSell, "solar-farm"},
	}
	for i, tr := range trades {
		sess := session.New()
		if _, err := a.Ledger.Authenticate(ctx, sess, tr.as, tr.password); err != nil {
			log.Error("failed to log in", "username", tr.as, "error", err)
			os.Exit(1)
		}
		if _, err := a.Ledger.Trade(ctx, sess, tr.amount, tr.operation, tr.counterparty); err != nil {
			log.Error("failed to create trade", "trade", i+1, "error", err)
			os.Exit(1)
		}
	}

	fmt.Println("Successfully seeded the store with demo participants and trades!")
}
