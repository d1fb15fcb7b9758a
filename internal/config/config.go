package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/bankfeed.db"`

	// Scheduler / workers
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"5m"`
	WorkerCount       int           `env:"WORKER_COUNT" envDefault:"4"`

	// Mailbox
	IMAPDialTimeout  time.Duration `env:"IMAP_DIAL_TIMEOUT" envDefault:"30s"`
	IMAPFetchTimeout time.Duration `env:"IMAP_FETCH_TIMEOUT" envDefault:"2m"`

	// Extraction (Gemini)
	GeminiAPIKey   string        `env:"GEMINI_API_KEY,required"`
	GeminiModel    string        `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	ExtractTimeout time.Duration `env:"EXTRACT_TIMEOUT" envDefault:"60s"`

	// Accounting API
	LedgerAPIURL    string        `env:"LEDGER_API_URL,required"` // e.g., http://localhost:8000/api/v1/transactions
	LedgerAPIKey    string        `env:"LEDGER_API_KEY,required"`
	SubmitTimeout   time.Duration `env:"SUBMIT_TIMEOUT" envDefault:"15s"`
	DefaultCurrency string        `env:"DEFAULT_CURRENCY" envDefault:"INR"`

	// Account mapping: last-4-digits of account number -> ledger account,
	// and payee keyword -> expense account.
	BankAccountMap        map[string]string `env:"BANK_ACCOUNT_MAP" envSeparator:"," envKeyValSeparator:"="`
	ExpenseAccountMap     map[string]string `env:"EXPENSE_ACCOUNT_MAP" envSeparator:"," envKeyValSeparator:"="`
	DefaultBankAccount    string            `env:"DEFAULT_BANK_ACCOUNT" envDefault:"Assets:Bank:Checking"`
	DefaultExpenseAccount string            `env:"DEFAULT_EXPENSE_ACCOUNT" envDefault:"Expenses:Unclassified"`

	// HTTP server
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate encryption key length (32 bytes for AES-256)
	if len(cfg.EncryptionKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(cfg.EncryptionKey))
	}

	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("WORKER_COUNT must be at least 1, got %d", cfg.WorkerCount)
	}

	return cfg, nil
}
