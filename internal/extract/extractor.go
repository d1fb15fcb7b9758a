package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kanakku/bankfeed/pkg/models"
)

// Extractor turns a cleaned message body into a transaction candidate.
// A nil candidate with a non-empty reason means the message is not a
// usable bank alert (parse-skip); an error means the extraction service
// itself failed and the message should be skipped as transient.
type Extractor interface {
	Extract(ctx context.Context, body string, samples []models.SampleEmail) (*models.TransactionCandidate, string, error)
}

// rawExtraction is the JSON shape the extraction model is asked to return.
// "Unknown" marks a field the model could not find, matching the prompt.
type rawExtraction struct {
	Amount        string  `json:"amount"`
	Date          string  `json:"date"`
	Time          string  `json:"transaction_time"`
	AccountNumber string  `json:"account_number"`
	Recipient     string  `json:"recipient"`
	Confidence    float64 `json:"confidence"`
}

const unknown = "Unknown"

// parseExtraction converts the model's JSON into a validated candidate.
// Returns a rejection reason instead of a candidate when required fields
// are missing or unparsable.
func parseExtraction(data []byte, currency string) (*models.TransactionCandidate, string, error) {
	var raw rawExtraction
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, "", fmt.Errorf("failed to decode extraction response: %w", err)
	}

	if isUnknown(raw.Amount) || isUnknown(raw.Date) {
		return nil, "no transaction found in message", nil
	}

	amount, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(raw.Amount), ",", ""))
	if err != nil {
		return nil, fmt.Sprintf("unparsable amount %q", raw.Amount), nil
	}

	date, err := models.ParseCandidateDate(raw.Date)
	if err != nil {
		return nil, fmt.Sprintf("unparsable date %q", raw.Date), nil
	}

	cand := &models.TransactionCandidate{
		Amount:      amount,
		Date:        date,
		Payee:       strings.TrimSpace(raw.Recipient),
		AccountHint: strings.TrimSpace(raw.AccountNumber),
		Currency:    currency,
		Confidence:  raw.Confidence,
	}
	if !isUnknown(raw.Time) {
		cand.Time = strings.TrimSpace(raw.Time)
	}
	if isUnknown(cand.Payee) {
		cand.Payee = ""
	}
	if isUnknown(cand.AccountHint) {
		cand.AccountHint = ""
	}

	if err := cand.Validate(); err != nil {
		return nil, fmt.Sprintf("invalid candidate: %v", err), nil
	}
	return cand, "", nil
}

func isUnknown(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, unknown)
}
