package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kanakku/bankfeed/internal/crypto"
	"github.com/kanakku/bankfeed/internal/database"
	"github.com/kanakku/bankfeed/internal/email"
	"github.com/kanakku/bankfeed/internal/extract"
	"github.com/kanakku/bankfeed/internal/ledger"
	"github.com/kanakku/bankfeed/pkg/models"
)

// Error kinds recorded on failed jobs
const (
	KindConfiguration = "configuration"
	KindConnectivity  = "connectivity"
)

// ConfigStore is the narrow accessor onto the web backend's configuration
// table. This service never creates or deletes configurations through it.
type ConfigStore interface {
	GetConfiguration(ctx context.Context, userID int64) (*models.EmailConfiguration, error)
	UpdateCursor(ctx context.Context, userID int64, checkTime time.Time, lastProcessedID string) error
}

// MailboxDialer opens one mailbox session per job.
type MailboxDialer interface {
	Dial(ctx context.Context, settings email.Settings) (MailboxSession, error)
}

// MailboxSession fetches messages newer than a caller-supplied watermark.
type MailboxSession interface {
	FetchSince(ctx context.Context, sinceID string, senders []string) ([]email.Message, error)
	Close() error
}

// Submitter posts a candidate to the accounting API.
type Submitter interface {
	Submit(ctx context.Context, cand *models.TransactionCandidate, userID int64) error
}

// Cleaner normalizes raw message bodies before extraction.
type Cleaner interface {
	Clean(bodyText, bodyHTML string) (string, error)
}

// WorkerDeps collects the worker pipeline's collaborators.
type WorkerDeps struct {
	Configs   ConfigStore
	Cipher    *crypto.Cipher
	Dialer    MailboxDialer
	Cleaner   Cleaner
	Extractor extract.Extractor
	Submitter Submitter
	Logger    *slog.Logger

	DialTimeout  time.Duration
	FetchTimeout time.Duration
}

// Worker processes one job at a time: mailbox fetch, per-message
// extraction and submission, cursor update. Parallelism across users
// comes from running several workers; within a user the pending-job
// invariant keeps runs serial.
type Worker struct {
	deps WorkerDeps
	log  *slog.Logger
}

// NewWorker creates a new worker
func NewWorker(deps WorkerDeps) *Worker {
	return &Worker{
		deps: deps,
		log:  deps.Logger.With("component", "worker"),
	}
}

// Process runs one job to completion and returns its terminal state,
// aggregate counts, and the failure classification when it failed.
func (w *Worker) Process(ctx context.Context, job *models.Job) (models.JobState, models.JobResult, string, error) {
	log := w.log.With("job_id", job.ID, "user_id", job.UserID, "run_id", uuid.NewString())
	var result models.JobResult

	// Reload the configuration: the user may have disabled automation
	// after the job was scheduled. That is a clean no-op, not a failure.
	cfg, err := w.deps.Configs.GetConfiguration(ctx, job.UserID)
	if errors.Is(err, database.ErrNotFound) {
		log.Info("configuration missing, finishing as no-op")
		return models.JobFinished, result, "", nil
	}
	if err != nil {
		return models.JobFailed, result, KindConfiguration, fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.IsEnabled {
		log.Info("configuration disabled, finishing as no-op")
		return models.JobFinished, result, "", nil
	}

	password, err := w.deps.Cipher.Decrypt(cfg.EncryptedPassword)
	if err != nil {
		// Wrong key or corrupted ciphertext: retrying cannot help.
		return models.JobFailed, result, KindConfiguration, fmt.Errorf("failed to decrypt credential: %w", err)
	}

	session, err := w.deps.Dialer.Dial(ctx, email.Settings{
		Server:       cfg.IMAPServer,
		Port:         cfg.IMAPPort,
		Address:      cfg.EmailAddress,
		Password:     password,
		DialTimeout:  w.deps.DialTimeout,
		FetchTimeout: w.deps.FetchTimeout,
	})
	if err != nil {
		return models.JobFailed, result, KindConnectivity, fmt.Errorf("failed to open mailbox: %w", err)
	}
	defer session.Close()

	samples := parseSampleEmails(log, cfg.SampleEmails)
	senders := bankSenders(samples)

	messages, err := session.FetchSince(ctx, cfg.LastProcessedID, senders)
	if err != nil {
		// A corrupt persisted watermark cannot be fixed by retrying on the
		// next run; everything else fetch-related is session-level.
		if errors.Is(err, email.ErrMalformedWatermark) {
			return models.JobFailed, result, KindConfiguration, fmt.Errorf("failed to fetch messages: %w", err)
		}
		return models.JobFailed, result, KindConnectivity, fmt.Errorf("failed to fetch messages: %w", err)
	}
	log.Info("fetched messages", "count", len(messages), "since", cfg.LastProcessedID)

	var lastID string
	for _, msg := range messages {
		w.processMessage(ctx, log, cfg, samples, msg, &result)
		lastID = msg.ID // messages arrive oldest first
	}

	// Advance the cursor even on partial failure: failed messages are
	// surfaced through the job result, not retried on the next run. The
	// write gets its own context so transactions already submitted to the
	// accounting API are not refetched just because the job context died.
	cursorCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.deps.Configs.UpdateCursor(cursorCtx, job.UserID, time.Now(), lastID); err != nil {
		return models.JobFailed, result, KindConnectivity, fmt.Errorf("failed to update cursor: %w", err)
	}

	log.Info("job finished",
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed)
	return models.JobFinished, result, "", nil
}

// processMessage handles a single message. Every failure here is local:
// it is counted and the batch continues.
func (w *Worker) processMessage(ctx context.Context, log *slog.Logger, cfg *models.EmailConfiguration, samples []models.SampleEmail, msg email.Message, result *models.JobResult) {
	log = log.With("message_id", msg.ID)

	body, err := w.deps.Cleaner.Clean(msg.BodyText, msg.BodyHTML)
	if err != nil || body == "" {
		log.Warn("skipping message with unusable body", "error", err)
		result.Skipped++
		return
	}

	cand, reason, err := w.deps.Extractor.Extract(ctx, body, samples)
	if err != nil {
		// Extraction service failure: skip this message only.
		log.Warn("extraction failed", "error", err)
		result.Skipped++
		return
	}
	if cand == nil {
		log.Debug("no candidate extracted", "reason", reason)
		result.Skipped++
		return
	}

	if err := w.deps.Submitter.Submit(ctx, cand, cfg.UserID); err != nil {
		if errors.Is(err, ledger.ErrRejected) {
			log.Warn("transaction rejected", "error", err)
		} else {
			log.Warn("submission failed", "error", err)
		}
		result.Failed++
		return
	}

	log.Info("transaction submitted", "payee", cand.Payee, "amount", cand.Amount)
	result.Processed++
}

// parseSampleEmails decodes the configuration's sample messages; a broken
// JSON blob degrades to no samples with a warning.
func parseSampleEmails(log *slog.Logger, raw string) []models.SampleEmail {
	if raw == "" || raw == "[]" {
		return nil
	}
	var samples []models.SampleEmail
	if err := json.Unmarshal([]byte(raw), &samples); err != nil {
		log.Warn("failed to parse sample emails", "error", err)
		return nil
	}
	return samples
}

// bankSenders derives the mailbox sender filter from the sample messages.
// Without samples the default bank alert address is used.
func bankSenders(samples []models.SampleEmail) []string {
	seen := make(map[string]struct{})
	var senders []string
	for _, s := range samples {
		if s.From == "" {
			continue
		}
		if _, ok := seen[s.From]; ok {
			continue
		}
		seen[s.From] = struct{}{}
		senders = append(senders, s.From)
	}
	if len(senders) == 0 {
		senders = []string{"alerts@axisbank.com"}
	}
	return senders
}
