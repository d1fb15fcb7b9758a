package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kanakku/bankfeed/internal/database"
	"github.com/kanakku/bankfeed/pkg/models"
)

// Store is the persistence the registry needs from the queue backend.
// *database.DB satisfies it; anything with idempotent insert-by-id and a
// pending-state query would do.
type Store interface {
	EnqueueJob(ctx context.Context, job *models.Job) (bool, error)
	PendingJobStates(ctx context.Context, userID int64) ([]models.JobState, error)
	GetLastTerminalJob(ctx context.Context, userID int64) (*models.Job, error)
}

// Registry is the job identity service: it creates deduplicated jobs and
// answers pending-state questions. The at-most-one-pending-job-per-user
// invariant is enforced here, at enqueue time; workers never lock.
type Registry struct {
	store  Store
	logger *slog.Logger
}

// NewRegistry creates a new job registry
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.With("component", "job_registry"),
	}
}

// Status returns the pending breakdown for a user. A lookup failure
// degrades to all-false (fail-open) but is logged, never swallowed.
func (r *Registry) Status(ctx context.Context, userID int64) models.JobStatus {
	states, err := r.store.PendingJobStates(ctx, userID)
	if err != nil {
		r.logger.Error("failed to check pending jobs", "user_id", userID, "error", err)
		return models.JobStatus{}
	}

	var status models.JobStatus
	for _, state := range states {
		switch state {
		case models.JobRunning:
			status.HasRunning = true
		case models.JobScheduled:
			status.HasScheduled = true
		case models.JobQueued:
			status.HasQueued = true
		}
	}
	return status
}

// IsPending reports whether the user has any scheduled, queued, or
// running job.
func (r *Registry) IsPending(ctx context.Context, userID int64) bool {
	return r.Status(ctx, userID).AnyPending()
}

// ScheduleAt enqueues a scheduler-issued job to run at runAt under a
// deterministic id. Returns the job and whether it was newly created; a
// duplicate id is a no-op.
func (r *Registry) ScheduleAt(ctx context.Context, userID int64, runAt time.Time) (*models.Job, bool, error) {
	job := &models.Job{
		ID:         ScheduledJobID(userID, runAt),
		UserID:     userID,
		State:      models.JobScheduled,
		RunAt:      runAt,
		EnqueuedAt: time.Now(),
	}
	created, err := r.store.EnqueueJob(ctx, job)
	if err != nil {
		return nil, false, err
	}
	return job, created, nil
}

// EnqueueNow enqueues a manually-triggered job that is due immediately.
func (r *Registry) EnqueueNow(ctx context.Context, userID int64) (*models.Job, bool, error) {
	now := time.Now()
	job := &models.Job{
		ID:         ManualJobID(userID, now),
		UserID:     userID,
		State:      models.JobQueued,
		RunAt:      now,
		EnqueuedAt: now,
	}
	created, err := r.store.EnqueueJob(ctx, job)
	if err != nil {
		return nil, false, err
	}
	return job, created, nil
}

// LastResult returns the user's most recent terminal job, or nil when no
// job has completed yet.
func (r *Registry) LastResult(ctx context.Context, userID int64) *models.Job {
	job, err := r.store.GetLastTerminalJob(ctx, userID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			r.logger.Error("failed to load last job result", "user_id", userID, "error", err)
		}
		return nil
	}
	return job
}
