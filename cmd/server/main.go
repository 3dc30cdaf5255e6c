package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtrntr/energy-market/internal/api"
	"github.com/xtrntr/energy-market/internal/app"
	"github.com/xtrntr/energy-market/internal/auth"
	"github.com/xtrntr/energy-market/internal/config"
	"github.com/xtrntr/energy-market/internal/logging"
	"github.com/xtrntr/energy-market/internal/session"
)

// Main entry point: sets up storage, ledger, and HTTP server
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(logging.EnvProd, os.Stderr).Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Env, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store, publisher and ledger
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Initialize API handlers
	tokens := auth.NewTokenService([]byte(cfg.JWTSecret), cfg.TokenTTL)
	hub := api.NewHub(log.With("component", "ws"))
	handler := api.NewHandler(a.Ledger, tokens, session.NewRegistry(), hub, log.With("component", "api"))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start periodic market broadcast
	go func() {
		ticker := time.NewTicker(cfg.BroadcastInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				handler.BroadcastMarket(ctx)
			}
		}
	}()

	go func() {
		log.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	log.Info("service stopped")
}
