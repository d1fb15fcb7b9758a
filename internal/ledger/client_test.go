package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanakku/bankfeed/pkg/models"
)

func testCandidate() *models.TransactionCandidate {
	return &models.TransactionCandidate{
		Amount:      decimal.RequireFromString("499.50"),
		Date:        time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC),
		Time:        "14:30:52",
		Payee:       "Amazon Pay",
		AccountHint: "XX1648",
		Currency:    "INR",
	}
}

func TestSubmitPayload(t *testing.T) {
	var got transactionPayload
	var gotAPIKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-API-Key")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "secret",
		BankAccounts: map[string]string{
			"XX1648": "Assets:Bank:Axis",
		},
		ExpenseAccounts: map[string]string{
			"Amazon Pay": "Expenses:Shopping",
		},
	})

	require.NoError(t, client.Submit(context.Background(), testCandidate(), 7))

	assert.Equal(t, "secret", gotAPIKey)
	assert.Equal(t, "2025-06-21", got.Date)
	assert.Equal(t, "Amazon Pay 14:30:52", got.Payee)
	require.Len(t, got.Postings, 2)

	// Bank leg negative, expense leg positive, amounts balance
	assert.Equal(t, posting{Account: "Assets:Bank:Axis", Amount: "-499.5", Currency: "INR"}, got.Postings[0])
	assert.Equal(t, posting{Account: "Expenses:Shopping", Amount: "499.5", Currency: "INR"}, got.Postings[1])
}

func TestSubmitDefaultAccounts(t *testing.T) {
	var got transactionPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"})
	cand := testCandidate()
	cand.AccountHint = "XX9999"
	cand.Payee = "Some New Merchant"

	require.NoError(t, client.Submit(context.Background(), cand, 7))
	assert.Equal(t, "Assets:Bank:Checking", got.Postings[0].Account)
	assert.Equal(t, "Expenses:Unclassified", got.Postings[1].Account)
}

func TestSubmitWithoutTime(t *testing.T) {
	var got transactionPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"})
	cand := testCandidate()
	cand.Time = ""

	require.NoError(t, client.Submit(context.Background(), cand, 7))
	assert.Equal(t, "Amazon Pay", got.Payee)
}

func TestSubmitRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unbalanced postings", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"})
	err := client.Submit(context.Background(), testCandidate(), 7)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "unbalanced postings")
}

func TestSubmitServerErrorIsNotRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"})
	err := client.Submit(context.Background(), testCandidate(), 7)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestSubmitInvalidCandidateRejectedLocally(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"})
	cand := testCandidate()
	cand.Amount = decimal.Zero

	err := client.Submit(context.Background(), cand, 7)
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, called, "invalid candidate must not reach the API")
}
