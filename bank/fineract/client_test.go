package fineract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"cardcore/money"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{
		BaseURL:  srv.URL,
		Username: "mifos",
		Password: "password",
		Tenant:   "default",
		Timeout:  2 * time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestAccountBalance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/savingsaccounts/42", r.URL.Path)
		require.Equal(t, "default", r.Header.Get("Fineract-Platform-TenantId"))
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "mifos", user)
		require.Equal(t, "password", pass)
		json.NewEncoder(w).Encode(map[string]any{
			"summary":  map[string]any{"availableBalance": "250.50"},
			"currency": map[string]any{"code": "USD"},
		})
	})

	balance, err := client.AccountBalance(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "250.50 USD", balance.String())
}

func TestPostJournalEntry(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/journalentries", r.URL.Path)
		var req journalEntryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "USD", req.CurrencyCode)
		require.Len(t, req.Debits, 1)
		require.Len(t, req.Credits, 1)
		require.EqualValues(t, 10, req.Debits[0].GLAccountID)
		require.EqualValues(t, 20, req.Credits[0].GLAccountID)
		require.True(t, req.Debits[0].Amount.Equal(decimal.RequireFromString("99.99")))
		json.NewEncoder(w).Encode(map[string]string{"transactionId": "jrnl-7"})
	})

	amount, err := money.New(decimal.RequireFromString("99.99"), money.USD)
	require.NoError(t, err)
	id, err := client.PostJournalEntry(context.Background(), amount, 10, 20, "ref-1", "hold")
	require.NoError(t, err)
	require.Equal(t, "jrnl-7", id)
}

func TestAPIErrorSurfacesBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"defaultUserMessage":"Insufficient account balance"}`))
	})

	amount, err := money.New(decimal.RequireFromString("10.00"), money.USD)
	require.NoError(t, err)
	err = client.Withdraw(context.Background(), "42", amount, "ref-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.Status)
	require.Contains(t, apiErr.Body, "Insufficient account balance")
}
