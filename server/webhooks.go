package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cardcore/authorization"
	"cardcore/processor"
)

// WebhookAuthorize receives an authorization request from a processor. The
// response is always a decision: unresolvable cards come back DECLINED so the
// network can answer the merchant.
func (s *Server) WebhookAuthorize(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.processor(w, r)
	if !ok {
		return
	}
	var hook processor.AuthorizationWebhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		s.badRequest(w, "invalid payload")
		return
	}
	resp, err := adapter.HandleAuthorization(r.Context(), hook)
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

// WebhookClear receives a clearing notification from a processor.
func (s *Server) WebhookClear(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.processor(w, r)
	if !ok {
		return
	}
	var hook processor.ClearingWebhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		s.badRequest(w, "invalid payload")
		return
	}
	auth, err := adapter.HandleClearing(r.Context(), hook)
	if err != nil {
		s.writeWebhookError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, auth)
}

// WebhookReverse receives a reversal notification from a processor.
func (s *Server) WebhookReverse(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.processor(w, r)
	if !ok {
		return
	}
	var hook processor.ReversalWebhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		s.badRequest(w, "invalid payload")
		return
	}
	auth, err := adapter.HandleReversal(r.Context(), hook)
	if err != nil {
		s.writeWebhookError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, auth)
}

// writeWebhookError maps failures on the webhook routes. An unknown processor
// transaction answers 5xx, not 404: the clearing may have raced ahead of its
// authorization, and the processor only retries on server errors.
func (s *Server) writeWebhookError(w http.ResponseWriter, err error) {
	if errors.Is(err, processor.ErrUnknownTransaction) {
		s.log.Error("webhook referenced unknown processor transaction", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  err.Error(),
			"status": http.StatusInternalServerError,
		})
		return
	}
	s.writeError(w, err)
}

func (s *Server) processor(w http.ResponseWriter, r *http.Request) (*processor.Adapter, bool) {
	name := chi.URLParam(r, "name")
	adapter, ok := s.processors[name]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]any{
			"error":  "unknown processor: " + name,
			"status": http.StatusNotFound,
		})
		return nil, false
	}
	return adapter, true
}
