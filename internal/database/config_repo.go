package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kanakku/bankfeed/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// GetConfiguration returns the email configuration for a user.
func (db *DB) GetConfiguration(ctx context.Context, userID int64) (*models.EmailConfiguration, error) {
	var cfg models.EmailConfiguration
	query := `SELECT * FROM email_configurations WHERE user_id = ?`
	err := db.GetContext(ctx, &cfg, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return &cfg, nil
}

// GetEnabledConfigurations returns all configurations with automation enabled.
func (db *DB) GetEnabledConfigurations(ctx context.Context) ([]*models.EmailConfiguration, error) {
	var configs []*models.EmailConfiguration
	query := `SELECT * FROM email_configurations WHERE is_enabled = true`
	err := db.SelectContext(ctx, &configs, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get enabled configurations: %w", err)
	}
	return configs, nil
}

// UpdateCursor advances a configuration's cursor after a run: the check
// time always, and the watermark only when it moved forward. The watermark
// never goes backwards here; an empty lastProcessedID leaves it untouched.
func (db *DB) UpdateCursor(ctx context.Context, userID int64, checkTime time.Time, lastProcessedID string) error {
	var err error
	if lastProcessedID != "" {
		query := `UPDATE email_configurations
			SET last_check_time = ?, last_processed_id = ?, updated_at = ?
			WHERE user_id = ?`
		_, err = db.ExecContext(ctx, query, checkTime, lastProcessedID, time.Now(), userID)
	} else {
		query := `UPDATE email_configurations
			SET last_check_time = ?, updated_at = ?
			WHERE user_id = ?`
		_, err = db.ExecContext(ctx, query, checkTime, time.Now(), userID)
	}
	if err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	return nil
}

// CreateConfiguration inserts a configuration row. The web backend owns
// configuration lifecycle; this exists for wiring tests and local setups.
func (db *DB) CreateConfiguration(ctx context.Context, cfg *models.EmailConfiguration) error {
	query := `
		INSERT INTO email_configurations (user_id, is_enabled, imap_server, imap_port, email_address, encrypted_password, polling_interval, last_check_time, sample_emails, last_processed_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		cfg.UserID,
		cfg.IsEnabled,
		cfg.IMAPServer,
		cfg.IMAPPort,
		cfg.EmailAddress,
		cfg.EncryptedPassword,
		cfg.PollingInterval,
		cfg.LastCheckTime,
		cfg.SampleEmails,
		cfg.LastProcessedID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create configuration: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	cfg.ID = id
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	return nil
}
