package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/kanakku/bankfeed/pkg/models"
)

// DefaultModel is the default extraction model
const DefaultModel = "gemini-2.0-flash"

// GeminiConfig holds the configuration for the Gemini extractor
type GeminiConfig struct {
	APIKey   string
	Model    string
	Currency string
	Timeout  time.Duration
}

// Gemini extracts transaction candidates with the Gemini API, forcing a
// JSON response that matches the extraction schema.
type Gemini struct {
	client  *genai.Client
	model   string
	curr    string
	timeout time.Duration
	log     *slog.Logger
}

// extractionSchema constrains the model's response to the rawExtraction shape
var extractionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"amount":           {Type: genai.TypeString},
		"date":             {Type: genai.TypeString},
		"transaction_time": {Type: genai.TypeString},
		"account_number":   {Type: genai.TypeString},
		"recipient":        {Type: genai.TypeString},
		"confidence":       {Type: genai.TypeNumber},
	},
	Required: []string{"amount", "date", "account_number", "recipient", "confidence"},
}

// NewGemini creates a new Gemini extractor
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Gemini{
		client:  client,
		model:   cfg.Model,
		curr:    cfg.Currency,
		timeout: cfg.Timeout,
		log:     logger.With("component", "extractor"),
	}, nil
}

// Extract implements Extractor.
func (g *Gemini) Extract(ctx context.Context, body string, samples []models.SampleEmail) (*models.TransactionCandidate, string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	prompt := buildPrompt(body, samples)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   extractionSchema,
	})
	if err != nil {
		return nil, "", fmt.Errorf("extraction request failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, "", fmt.Errorf("empty extraction response")
	}

	cand, reason, err := parseExtraction([]byte(text), g.curr)
	if err != nil {
		return nil, "", err
	}

	if cand != nil {
		g.log.Debug("extraction produced candidate",
			"payee", cand.Payee,
			"amount", cand.Amount,
			"confidence", cand.Confidence,
			"elapsed_ms", time.Since(start).Milliseconds())
	} else {
		g.log.Debug("extraction rejected message",
			"reason", reason,
			"elapsed_ms", time.Since(start).Milliseconds())
	}
	return cand, reason, nil
}
