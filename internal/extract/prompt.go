package extract

import (
	"fmt"
	"strings"

	"github.com/kanakku/bankfeed/pkg/models"
)

const promptHeader = `You are a parser for bank transaction alert emails.
Extract the transaction details from the email body below and answer with JSON only.

Fields:
- amount: numeric amount without currency symbol or thousand separators, or "Unknown"
- date: transaction date exactly as written in the email, or "Unknown"
- transaction_time: time as HH:MM:SS if present, or "Unknown"
- account_number: masked account or card number (e.g. "XX1648"), or "Unknown"
- recipient: merchant or payee name, or "Unknown"
- confidence: your confidence between 0 and 1 that this email describes a single completed debit transaction

If the email is not a transaction alert (statements, promotions, OTP mails), set amount and date to "Unknown".`

// buildPrompt assembles the extraction prompt, using the user's sample
// messages as few-shot context when available.
func buildPrompt(body string, samples []models.SampleEmail) string {
	var b strings.Builder
	b.WriteString(promptHeader)

	for i, sample := range samples {
		if strings.TrimSpace(sample.Body) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\nExample bank email %d:\n%s", i+1, strings.TrimSpace(sample.Body))
	}

	b.WriteString("\n\nEmail body:\n")
	b.WriteString(body)
	return b.String()
}
