package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kanakku/bankfeed/pkg/models"
)

// EnqueueJob inserts a job row. The primary key on the job id makes the
// enqueue idempotent: a duplicate id is a no-op and returns false.
func (db *DB) EnqueueJob(ctx context.Context, job *models.Job) (bool, error) {
	query := `
		INSERT OR IGNORE INTO jobs (id, user_id, state, run_at, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := db.ExecContext(ctx, query, job.ID, job.UserID, job.State, job.RunAt, job.EnqueuedAt)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// PendingJobStates returns the distinct non-terminal states currently held
// by a user's jobs.
func (db *DB) PendingJobStates(ctx context.Context, userID int64) ([]models.JobState, error) {
	var states []models.JobState
	query := `SELECT DISTINCT state FROM jobs WHERE user_id = ? AND state IN ('scheduled', 'queued', 'running')`
	err := db.SelectContext(ctx, &states, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	return states, nil
}

// ClaimDueJob atomically picks the oldest due job (queued, or scheduled
// with run_at in the past) and marks it running. Returns nil when no job
// is due.
func (db *DB) ClaimDueJob(ctx context.Context, now time.Time) (*models.Job, error) {
	query := `
		UPDATE jobs SET state = 'running', started_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE state = 'queued' OR (state = 'scheduled' AND run_at <= ?)
			ORDER BY run_at
			LIMIT 1
		)
		RETURNING *
	`
	var job models.Job
	err := db.QueryRowxContext(ctx, query, now, now).StructScan(&job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

// PromoteDueScheduled flips scheduled jobs whose run_at has passed to
// queued. Purely cosmetic for status reporting; ClaimDueJob picks up
// scheduled-and-due jobs either way.
func (db *DB) PromoteDueScheduled(ctx context.Context, now time.Time) error {
	query := `UPDATE jobs SET state = 'queued' WHERE state = 'scheduled' AND run_at <= ?`
	if _, err := db.ExecContext(ctx, query, now); err != nil {
		return fmt.Errorf("failed to promote scheduled jobs: %w", err)
	}
	return nil
}

// CompleteJob records a job's terminal state and aggregate counts.
func (db *DB) CompleteJob(ctx context.Context, jobID string, state models.JobState, result models.JobResult, jobErr string, errKind string) error {
	query := `
		UPDATE jobs
		SET state = ?, finished_at = ?, processed = ?, skipped = ?, failed = ?, error = ?, error_kind = ?
		WHERE id = ?
	`
	_, err := db.ExecContext(ctx, query, state, time.Now(), result.Processed, result.Skipped, result.Failed, jobErr, errKind, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// GetLastTerminalJob returns a user's most recently finished or failed job.
func (db *DB) GetLastTerminalJob(ctx context.Context, userID int64) (*models.Job, error) {
	var job models.Job
	query := `
		SELECT * FROM jobs
		WHERE user_id = ? AND state IN ('finished', 'failed')
		ORDER BY finished_at DESC
		LIMIT 1
	`
	err := db.GetContext(ctx, &job, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last terminal job: %w", err)
	}
	return &job, nil
}
