package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/xtrntr/energy-market/internal/auth"
	"github.com/xtrntr/energy-market/internal/ids"
	"github.com/xtrntr/energy-market/internal/ledger"
	"github.com/xtrntr/energy-market/internal/models"
	"github.com/xtrntr/energy-market/internal/session"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Ledger   *ledger.Service
	Tokens   *auth.TokenService
	Sessions *session.Registry
	Hub      *Hub
	IDs      ids.Generator
	Log      *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(l *ledger.Service, tokens *auth.TokenService, sessions *session.Registry, hub *Hub, log *slog.Logger) *Handler {
	return &Handler{
		Ledger:   l,
		Tokens:   tokens,
		Sessions: sessions,
		Hub:      hub,
		IDs:      ids.UUID{},
		Log:      log,
	}
}

// Routes builds the HTTP router
func (h *Handler) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ws", h.Hub.ServeWS(h.marketSnapshot))

	// Public endpoints
	r.Get("/market", h.GetMarket)
	r.Post("/participants", h.Register)
	r.Post("/auth/login", h.Login)

	// Protected endpoints (require a session token)
	r.Group(func(r chi.Router) {
		r.Use(h.SessionMiddleware)
		r.Post("/auth/logout", h.Logout)
		r.Get("/me", h.WhoAmI)
		r.Get("/me/balance", h.GetBalance)
		r.Get("/me/transactions", h.GetMyTransactions)
		r.Post("/transactions", h.CreateTransaction)
	})

	return r
}

type sessionIDKey struct{}

// SessionMiddleware resolves the bearer token to a registered session
func (h *Handler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		// Remove "Bearer " prefix if present
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		claims, err := h.Tokens.Parse(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		sess, ok := h.Sessions.Get(claims.SessionID)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		if p, ok := sess.Current(); !ok || p.ID != claims.ParticipantID {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := session.NewContext(r.Context(), sess)
		ctx = context.WithValue(ctx, sessionIDKey{}, claims.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestSession(r *http.Request) *session.Session {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		return session.New()
	}
	return sess
}

// Register handles participant registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username      string  `json:"username"`
		Password      string  `json:"password"`
		EnergyBalance float64 `json:"energy_balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}
	if len(req.Username) > 50 {
		writeError(w, http.StatusBadRequest, "Username too long (max 50 characters)")
		return
	}
	if len(req.Password) > 72 {
		writeError(w, http.StatusBadRequest, "Password too long (max 72 bytes)")
		return
	}

	msg, err := h.Ledger.Register(r.Context(), req.Username, req.Password, req.EnergyBalance)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": msg})
	h.BroadcastMarket(r.Context())
}

// Login authenticates a participant into a fresh session and returns its token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sess := session.New()
	msg, err := h.Ledger.Authenticate(r.Context(), sess, req.Username, req.Password)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	participant, _ := sess.Current()

	sessionID := h.IDs.New()
	token, expiresAt, err := h.Tokens.Issue(sessionID, participant)
	if err != nil {
		h.Log.Error("failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.Sessions.Put(sessionID, sess, expiresAt)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    msg,
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

// Logout signs the session out and invalidates its token
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	msg, err := h.Ledger.SignOut(requestSession(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	if sessionID, ok := r.Context().Value(sessionIDKey{}).(string); ok {
		h.Sessions.Delete(sessionID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// WhoAmI returns the authenticated participant's username
func (h *Handler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	username, err := h.Ledger.WhoAmI(r.Context(), requestSession(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": username})
}

// GetBalance returns the authenticated participant's energy balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	msg, err := h.Ledger.MyBalance(r.Context(), requestSession(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// GetMyTransactions retrieves the authenticated participant's trade history
func (h *Handler) GetMyTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Ledger.MyTransactions(r.Context(), requestSession(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// CreateTransaction executes a trade against the named counterparty
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount       float64 `json:"amount"`
		Operation    string  `json:"operation"`
		Counterparty string  `json:"counterparty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg, err := h.Ledger.Trade(r.Context(), requestSession(r), req.Amount, models.Operation(req.Operation), req.Counterparty)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": msg})
	h.BroadcastMarket(r.Context())
}

// GetMarket returns the market aggregate
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := h.Ledger.MarketDetails(r.Context())
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// BroadcastMarket pushes the current market aggregate to websocket clients
func (h *Handler) BroadcastMarket(ctx context.Context) {
	if h.Hub.Clients() == 0 {
		return
	}
	data, err := h.marketJSON(ctx)
	if err != nil {
		h.Log.Error("failed to build market snapshot", "error", err)
		return
	}
	h.Hub.Broadcast(data)
}

func (h *Handler) marketSnapshot(r *http.Request) ([]byte, error) {
	return h.marketJSON(r.Context())
}

func (h *Handler) marketJSON(ctx context.Context) ([]byte, error) {
	market, err := h.Ledger.MarketDetails(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(market)
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnauthenticated),
		errors.Is(err, ledger.ErrBadCredentials),
		errors.Is(err, session.ErrNoActiveSession):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ledger.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrCounterpartyNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrInvalidOperation),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrSelfTrade):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
