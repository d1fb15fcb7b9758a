package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kanakku/bankfeed/pkg/models"
)

// ErrRejected marks a permanent rejection: the accounting API refused the
// transaction on business grounds (4xx). Retrying the same candidate will
// not help. Every other submission failure is transient.
var ErrRejected = errors.New("transaction rejected")

// Config for the accounting API client
type Config struct {
	BaseURL string // e.g., http://localhost:8000/api/v1/transactions
	APIKey  string
	Timeout time.Duration

	// Posting account resolution. Maps go from the alert's masked account
	// number / payee to ledger account names; misses use the defaults.
	BankAccounts    map[string]string
	ExpenseAccounts map[string]string
	DefaultBank     string
	DefaultExpense  string
}

// Client submits validated transaction candidates to the accounting API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// posting is one leg of the double-entry payload
type posting struct {
	Account  string `json:"account"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type transactionPayload struct {
	Date     string    `json:"date"`
	Payee    string    `json:"payee"`
	Postings []posting `json:"postings"`
}

// NewClient creates a new accounting API client
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.DefaultBank == "" {
		cfg.DefaultBank = "Assets:Bank:Checking"
	}
	if cfg.DefaultExpense == "" {
		cfg.DefaultExpense = "Expenses:Unclassified"
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Submit posts a candidate as a balanced two-posting transaction: the
// bank account is credited, the expense account debited. A 4xx response
// wraps ErrRejected; network errors and 5xx responses do not.
func (c *Client) Submit(ctx context.Context, cand *models.TransactionCandidate, userID int64) error {
	if err := cand.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}

	amount := cand.Amount.String()
	payload := transactionPayload{
		Date:  cand.Date.Format("2006-01-02"),
		Payee: c.payeeString(cand),
		Postings: []posting{
			{Account: c.bankAccount(cand.AccountHint), Amount: "-" + amount, Currency: cand.Currency},
			{Account: c.expenseAccount(cand.Payee), Amount: amount, Currency: cand.Currency},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send transaction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return fmt.Errorf("accounting API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}

// payeeString mirrors the accounting side's display convention: payee name
// plus the transaction time when the alert carried one.
func (c *Client) payeeString(cand *models.TransactionCandidate) string {
	if cand.Time == "" {
		return cand.Payee
	}
	return cand.Payee + " " + cand.Time
}

func (c *Client) bankAccount(hint string) string {
	if account, ok := c.cfg.BankAccounts[hint]; ok {
		return account
	}
	return c.cfg.DefaultBank
}

func (c *Client) expenseAccount(payee string) string {
	if account, ok := c.cfg.ExpenseAccounts[payee]; ok {
		return account
	}
	return c.cfg.DefaultExpense
}
