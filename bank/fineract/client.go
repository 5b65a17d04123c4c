// Package fineract integrates a Fineract-style core banking system as the
// backing ledger for card accounts. Holds are shadow journal entries against a
// dedicated GL account because the CBS has no native hold primitive.
package fineract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"cardcore/money"
)

const (
	tenantHeader   = "Fineract-Platform-TenantId"
	dateFormat     = "dd MMMM yyyy"
	dateLayout     = "02 January 2006"
	defaultTimeout = 10 * time.Second
)

// Config carries the connection and chart-of-accounts settings for one
// Fineract deployment.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Tenant   string

	// SavingsGLAccountID is the GL control account backing customer savings;
	// HoldsGLAccountID is the liability account shadow holds park funds in.
	SavingsGLAccountID int64
	HoldsGLAccountID   int64
	OfficeID           int64

	Timeout time.Duration
}

// Client is a thin REST client over the Fineract API. It owns authentication
// and wire shapes; the adapter owns hold semantics.
type Client struct {
	baseURL  string
	username string
	password string
	tenant   string
	officeID int64
	http     *http.Client
	now      func() time.Time
}

// NewClient builds a client from cfg. Requests carry basic auth and the
// platform tenant header, and are traced through the shared otel transport.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("fineract base URL is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("fineract credentials are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	officeID := cfg.OfficeID
	if officeID == 0 {
		officeID = 1
	}
	return &Client{
		baseURL:  base,
		username: cfg.Username,
		password: cfg.Password,
		tenant:   cfg.Tenant,
		officeID: officeID,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// APIError reports a non-2xx response from the CBS.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fineract returned %d: %s", e.Status, e.Body)
}

type savingsSummary struct {
	AvailableBalance decimal.Decimal `json:"availableBalance"`
}

type savingsCurrency struct {
	Code string `json:"code"`
}

type savingsAccountResponse struct {
	Summary  savingsSummary  `json:"summary"`
	Currency savingsCurrency `json:"currency"`
}

type glEntry struct {
	GLAccountID int64           `json:"glAccountId"`
	Amount      decimal.Decimal `json:"amount"`
}

type journalEntryRequest struct {
	OfficeID        int64     `json:"officeId"`
	TransactionDate string    `json:"transactionDate"`
	CurrencyCode    string    `json:"currencyCode"`
	Locale          string    `json:"locale"`
	DateFormat      string    `json:"dateFormat"`
	ReferenceNumber string    `json:"referenceNumber,omitempty"`
	Comments        string    `json:"comments,omitempty"`
	Debits          []glEntry `json:"debits"`
	Credits         []glEntry `json:"credits"`
}

type journalEntryResponse struct {
	TransactionID string `json:"transactionId"`
}

type withdrawalRequest struct {
	TransactionDate   string          `json:"transactionDate"`
	TransactionAmount decimal.Decimal `json:"transactionAmount"`
	Locale            string          `json:"locale"`
	DateFormat        string          `json:"dateFormat"`
	PaymentTypeID     int64           `json:"paymentTypeId"`
	ReceiptNumber     string          `json:"receiptNumber,omitempty"`
}

// AccountBalance fetches the savings account's available balance as reported
// by the CBS. Shadow holds are not visible here; the adapter nets them out.
func (c *Client) AccountBalance(ctx context.Context, accountRef string) (money.Money, error) {
	var out savingsAccountResponse
	path := fmt.Sprintf("/savingsaccounts/%s?fields=summary,currency", accountRef)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return money.Money{}, err
	}
	currency, err := money.ParseCurrency(out.Currency.Code)
	if err != nil {
		return money.Money{}, fmt.Errorf("account %s: %w", accountRef, err)
	}
	return money.New(out.Summary.AvailableBalance, currency)
}

// PostJournalEntry posts a balanced double-entry journal and returns the CBS
// transaction id for later reversal.
func (c *Client) PostJournalEntry(ctx context.Context, amount money.Money, debitGL, creditGL int64, reference, comment string) (string, error) {
	req := journalEntryRequest{
		OfficeID:        c.officeID,
		TransactionDate: c.now().Format(dateLayout),
		CurrencyCode:    string(amount.Currency()),
		Locale:          "en",
		DateFormat:      dateFormat,
		ReferenceNumber: reference,
		Comments:        comment,
		Debits:          []glEntry{{GLAccountID: debitGL, Amount: amount.Amount()}},
		Credits:         []glEntry{{GLAccountID: creditGL, Amount: amount.Amount()}},
	}
	var out journalEntryResponse
	if err := c.do(ctx, http.MethodPost, "/journalentries", req, &out); err != nil {
		return "", err
	}
	if out.TransactionID == "" {
		return "", fmt.Errorf("fineract journal entry response missing transactionId")
	}
	return out.TransactionID, nil
}

// ReverseJournalEntry reverses a previously posted journal by transaction id
// and returns the reversal's transaction id.
func (c *Client) ReverseJournalEntry(ctx context.Context, journalEntryID, comment string) (string, error) {
	body := map[string]string{"comments": comment}
	var out journalEntryResponse
	path := fmt.Sprintf("/journalentries/%s?command=reverse", journalEntryID)
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	return out.TransactionID, nil
}

// Withdraw debits the savings account itself. Used when a cleared card
// transaction finalises and real funds leave the account.
func (c *Client) Withdraw(ctx context.Context, accountRef string, amount money.Money, reference string) error {
	req := withdrawalRequest{
		TransactionDate:   c.now().Format(dateLayout),
		TransactionAmount: amount.Amount(),
		Locale:            "en",
		DateFormat:        dateFormat,
		PaymentTypeID:     1,
		ReceiptNumber:     reference,
	}
	path := fmt.Sprintf("/savingsaccounts/%s/transactions?command=withdrawal", accountRef)
	return c.do(ctx, http.MethodPost, path, req, nil)
}

// Ping checks CBS reachability with a cheap authenticated read.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/offices?limit=1", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode fineract request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build fineract request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tenant != "" {
		req.Header.Set(tenantHeader, c.tenant)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call fineract %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read fineract response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode fineract response: %w", err)
		}
	}
	return nil
}
