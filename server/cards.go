package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cardcore/cards"
)

type issueCardRequest struct {
	CardholderName string `json:"cardholderName"`
	Last4          string `json:"last4"`
	ExpirationDate string `json:"expirationDate"`
	OwnerID        string `json:"ownerId"`
	BankClientRef  string `json:"bankClientRef"`
	BankAccountRef string `json:"bankAccountRef"`
	CreatedBy      string `json:"createdBy"`
}

// IssueCard creates a card linked to an existing CBS account. New cards start
// FROZEN and need an explicit activation.
func (s *Server) IssueCard(w http.ResponseWriter, r *http.Request) {
	var req issueCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid payload")
		return
	}
	expiration, err := time.Parse("2006-01-02", req.ExpirationDate)
	if err != nil {
		s.badRequest(w, "expirationDate must be YYYY-MM-DD")
		return
	}

	card, err := s.cards.Issue(r.Context(), cards.IssueRequest{
		CardholderName: req.CardholderName,
		Last4:          req.Last4,
		ExpirationDate: expiration,
		OwnerID:        req.OwnerID,
		BankClientRef:  req.BankClientRef,
		BankAccountRef: req.BankAccountRef,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, card)
}

// GetCard loads one card.
func (s *Server) GetCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.cards.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, card)
}

// ListOwnerCards returns an owner's cards, newest first.
func (s *Server) ListOwnerCards(w http.ResponseWriter, r *http.Request) {
	result, err := s.cards.ListByOwner(r.Context(), chi.URLParam(r, "ownerId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// FreezeCard suspends the card.
func (s *Server) FreezeCard(w http.ResponseWriter, r *http.Request) {
	s.transitionCard(w, r, s.cards.Freeze)
}

// UnfreezeCard reactivates a frozen card.
func (s *Server) UnfreezeCard(w http.ResponseWriter, r *http.Request) {
	s.transitionCard(w, r, s.cards.Unfreeze)
}

// ActivateCard moves a freshly issued card into service.
func (s *Server) ActivateCard(w http.ResponseWriter, r *http.Request) {
	s.transitionCard(w, r, s.cards.Activate)
}

// CloseCard terminates the card permanently.
func (s *Server) CloseCard(w http.ResponseWriter, r *http.Request) {
	s.transitionCard(w, r, s.cards.Close)
}

func (s *Server) transitionCard(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, cardID string) error) {
	cardID := chi.URLParam(r, "id")
	if err := apply(r.Context(), cardID); err != nil {
		s.writeError(w, err)
		return
	}
	card, err := s.cards.Get(r.Context(), cardID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, card)
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg, "status": http.StatusBadRequest})
}
