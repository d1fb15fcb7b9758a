package models

import "time"

// Polling intervals supported by the scheduler
const (
	PollingHourly = "hourly"
	PollingDaily  = "daily"
)

// EmailConfiguration represents one user's mailbox automation settings.
// The web backend owns the row; this service only reads it and advances
// the cursor fields (last_check_time, last_processed_id).
type EmailConfiguration struct {
	ID                int64      `db:"id"`
	UserID            int64      `db:"user_id"`
	IsEnabled         bool       `db:"is_enabled"`
	IMAPServer        string     `db:"imap_server"`
	IMAPPort          int        `db:"imap_port"`
	EmailAddress      string     `db:"email_address"`
	EncryptedPassword string     `db:"encrypted_password"` // AES-256-GCM, base64
	PollingInterval   string     `db:"polling_interval"`   // "hourly" or "daily"
	LastCheckTime     *time.Time `db:"last_check_time"`
	SampleEmails      string     `db:"sample_emails"`     // JSON array of example messages
	LastProcessedID   string     `db:"last_processed_id"` // watermark, empty = never processed
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// SampleEmail is one user-supplied example message used to improve
// extraction accuracy and to derive the bank sender filter.
type SampleEmail struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// NextRun computes when this configuration is next due. A configuration
// that has never been checked is due immediately; an overdue one is due
// now (a single catch-up run, never one per missed interval).
func (c *EmailConfiguration) NextRun(now time.Time) time.Time {
	if c.LastCheckTime == nil {
		return now
	}

	var next time.Time
	switch c.PollingInterval {
	case PollingDaily:
		next = c.LastCheckTime.Add(24 * time.Hour)
	default:
		// Unrecognized intervals fall back to hourly, like "hourly" itself
		next = c.LastCheckTime.Add(time.Hour)
	}

	if next.Before(now) {
		return now
	}
	return next
}
