// Package server exposes the HTTP surface: card lifecycle, the internal
// authorization and settlement endpoints, processor webhooks, and the
// operational endpoints.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"cardcore/authorization"
	"cardcore/bank"
	"cardcore/cards"
	"cardcore/idempotency"
	"cardcore/ledger"
	"cardcore/money"
	"cardcore/processor"
	"cardcore/settlement"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	DB         *gorm.DB
	Cards      *cards.Service
	Auth       *authorization.Service
	Settle     *settlement.Service
	Ledger     *ledger.Service
	Adapter    bank.AccountAdapter
	Processors map[string]*processor.Adapter
	Log        *slog.Logger
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	db         *gorm.DB
	cards      *cards.Service
	auth       *authorization.Service
	settle     *settlement.Service
	ledger     *ledger.Service
	adapter    bank.AccountAdapter
	processors map[string]*processor.Adapter
	log        *slog.Logger

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	srv := &Server{
		db:         cfg.DB,
		cards:      cfg.Cards,
		auth:       cfg.Auth,
		settle:     cfg.Settle,
		ledger:     cfg.Ledger,
		adapter:    cfg.Adapter,
		processors: cfg.Processors,
		log:        cfg.Log,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/cards", s.IssueCard)
		api.Get("/cards/{id}", s.GetCard)
		api.Post("/cards/{id}/freeze", s.FreezeCard)
		api.Post("/cards/{id}/unfreeze", s.UnfreezeCard)
		api.Post("/cards/{id}/activate", s.ActivateCard)
		api.Post("/cards/{id}/close", s.CloseCard)
		api.Get("/owners/{ownerId}/cards", s.ListOwnerCards)

		api.Post("/authorizations", s.CreateAuthorization)
		api.Get("/authorizations/{id}", s.GetAuthorization)

		api.Post("/settlement/clear/{id}", s.ClearAuthorization)
		api.Post("/settlement/release/{id}", s.ReleaseAuthorization)
		api.Post("/settlement/reverse/{id}", s.ReverseAuthorization)

		api.Get("/accounts/{accountRef}/ledger", s.AccountLedger)
	})

	r.Route("/webhooks/processor/{name}", func(hooks chi.Router) {
		hooks.Post("/authorize", s.WebhookAuthorize)
		hooks.Post("/clear", s.WebhookClear)
		hooks.Post("/reverse", s.WebhookReverse)
	})

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Health reports process liveness and CBS adapter connectivity.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status": "ok",
		"bank": map[string]any{
			"adapter": s.adapter.Name(),
			"healthy": s.adapter.Healthy(r.Context()),
		},
	}
	s.writeJSON(w, status, body)
}

// AccountLedger returns the audit trail for one account, newest first.
func (s *Server) AccountLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.AccountLedger(r.Context(), chi.URLParam(r, "accountRef"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// idempotencyKey resolves the effective key for a request: the
// Idempotency-Key header wins over any body-supplied fallback, and a missing
// key is minted server-side.
func idempotencyKey(r *http.Request, fallback string) string {
	if header := r.Header.Get("Idempotency-Key"); header != "" {
		return header
	}
	if fallback != "" {
		return fallback
	}
	return idempotency.Generate()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, cards.ErrNotFound),
		errors.Is(err, authorization.ErrNotFound),
		errors.Is(err, bank.ErrMappingNotFound),
		errors.Is(err, processor.ErrUnknownTransaction):
		status = http.StatusNotFound
	case errors.Is(err, authorization.ErrInvalidState),
		errors.Is(err, cards.ErrInvalidTransition),
		errors.Is(err, idempotency.ErrInvalidKey),
		errors.Is(err, money.ErrUnknownCurrency),
		errors.Is(err, money.ErrCurrencyMismatch),
		errors.Is(err, settlement.ErrExceedsAuthorized),
		errors.Is(err, settlement.ErrExceedsCleared):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
		// Internal detail stays out of the response body.
		s.writeJSON(w, status, map[string]any{"error": "internal error", "status": status})
		return
	}
	s.writeJSON(w, status, map[string]any{"error": err.Error(), "status": status})
}
