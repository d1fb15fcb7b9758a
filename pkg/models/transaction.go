package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionCandidate is a structured transaction proposal extracted from
// one bank notification message. It lives only for the duration of a single
// job: submitted to the accounting API or dropped with a recorded reason.
type TransactionCandidate struct {
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Time        string          `json:"time,omitempty"` // HH:MM:SS when the alert carried one
	Payee       string          `json:"payee"`
	AccountHint string          `json:"account_hint"` // masked number from the alert, e.g. "XX1648"
	Currency    string          `json:"currency"`
	Confidence  float64         `json:"confidence"`
}

// candidate date layouts seen in bank alerts, tried in order
var candidateDateLayouts = []string{
	"02-01-06",
	"02-01-2006",
	"02/01/06",
	"02/01/2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2006-01-02",
}

// ParseCandidateDate parses the date formats bank alert emails use.
func ParseCandidateDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range candidateDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", s)
}

// Validate applies the business rules a candidate must satisfy before
// submission. A violation is a permanent per-message failure.
func (c *TransactionCandidate) Validate() error {
	if c.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("amount must be positive, got %s", c.Amount)
	}
	if c.Date.IsZero() {
		return fmt.Errorf("missing transaction date")
	}
	if strings.TrimSpace(c.Payee) == "" {
		return fmt.Errorf("missing payee")
	}
	if strings.TrimSpace(c.AccountHint) == "" {
		return fmt.Errorf("missing source account")
	}
	return nil
}
