package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cardcore/authorization"
	"cardcore/money"
)

type createAuthorizationRequest struct {
	CardID               string          `json:"cardId"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	MerchantName         string          `json:"merchantName"`
	MerchantCategoryCode string          `json:"merchantCategoryCode"`
	MerchantCity         string          `json:"merchantCity"`
	MerchantCountry      string          `json:"merchantCountry"`
	IdempotencyKey       string          `json:"idempotencyKey"`
}

// CreateAuthorization runs the authorization pipeline for a direct API
// caller. The Idempotency-Key header supersedes a body-supplied key; absent
// both, the server mints one and the request is effectively fire-once.
func (s *Server) CreateAuthorization(w http.ResponseWriter, r *http.Request) {
	var req createAuthorizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid payload")
		return
	}
	amount, err := parseMoney(req.Amount, req.Currency)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !amount.IsPositive() {
		s.badRequest(w, "amount must be positive")
		return
	}

	resp, err := s.auth.Authorize(r.Context(), authorization.Request{
		AuthorizationID:      uuid.NewString(),
		CardID:               req.CardID,
		Amount:               amount,
		MerchantName:         req.MerchantName,
		MerchantCategoryCode: req.MerchantCategoryCode,
		MerchantCity:         req.MerchantCity,
		MerchantCountry:      req.MerchantCountry,
		IdempotencyKey:       idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Status == authorization.StatusDeclined {
		status = http.StatusOK
	}
	s.writeJSON(w, status, resp)
}

// GetAuthorization loads one authorization record.
func (s *Server) GetAuthorization(w http.ResponseWriter, r *http.Request) {
	auth, err := s.auth.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, auth)
}

// ClearAuthorization finalises an approved authorization, optionally for a
// smaller amount. Amount and currency come from query parameters.
func (s *Server) ClearAuthorization(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.queryAmount(w, r)
	if !ok {
		return
	}
	auth, err := s.settle.Clear(r.Context(), chi.URLParam(r, "id"), amount, idempotencyKey(r, ""))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, auth)
}

// ReleaseAuthorization cancels an approved authorization without a debit.
func (s *Server) ReleaseAuthorization(w http.ResponseWriter, r *http.Request) {
	auth, err := s.settle.Release(r.Context(), chi.URLParam(r, "id"), idempotencyKey(r, ""))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, auth)
}

// ReverseAuthorization refunds a cleared authorization, fully or partially.
func (s *Server) ReverseAuthorization(w http.ResponseWriter, r *http.Request) {
	amount, ok := s.queryAmount(w, r)
	if !ok {
		return
	}
	auth, err := s.settle.Reverse(r.Context(), chi.URLParam(r, "id"), amount, idempotencyKey(r, ""))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, auth)
}

func (s *Server) queryAmount(w http.ResponseWriter, r *http.Request) (money.Money, bool) {
	raw := r.URL.Query().Get("amount")
	if raw == "" {
		s.badRequest(w, "amount query parameter is required")
		return money.Money{}, false
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		s.badRequest(w, "amount must be a decimal number")
		return money.Money{}, false
	}
	amount, err := parseMoney(value, r.URL.Query().Get("currency"))
	if err != nil {
		s.writeError(w, err)
		return money.Money{}, false
	}
	if !amount.IsPositive() {
		s.badRequest(w, "amount must be positive")
		return money.Money{}, false
	}
	return amount, true
}

func parseMoney(amount decimal.Decimal, currency string) (money.Money, error) {
	parsed, err := money.ParseCurrency(currency)
	if err != nil {
		return money.Money{}, err
	}
	return money.New(amount, parsed)
}
