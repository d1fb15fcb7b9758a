package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanakku/bankfeed/internal/database"
	"github.com/kanakku/bankfeed/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	jobs     map[string]*models.Job
	failWith error
	terminal *models.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*models.Job)}
}

func (f *fakeStore) EnqueueJob(_ context.Context, job *models.Job) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	if _, exists := f.jobs[job.ID]; exists {
		return false, nil
	}
	f.jobs[job.ID] = job
	return true, nil
}

func (f *fakeStore) PendingJobStates(_ context.Context, userID int64) ([]models.JobState, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	seen := make(map[models.JobState]struct{})
	var states []models.JobState
	for _, job := range f.jobs {
		if job.UserID != userID || !job.State.Pending() {
			continue
		}
		if _, ok := seen[job.State]; ok {
			continue
		}
		seen[job.State] = struct{}{}
		states = append(states, job.State)
	}
	return states, nil
}

func (f *fakeStore) GetLastTerminalJob(_ context.Context, _ int64) (*models.Job, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.terminal == nil {
		return nil, database.ErrNotFound
	}
	return f.terminal, nil
}

func TestRegistryScheduleAtDeduplicates(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(store, testLogger())
	ctx := context.Background()
	runAt := time.Unix(1750000000, 0)

	job, created, err := reg.ScheduleAt(ctx, 7, runAt)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "email_process_7_1750000000", job.ID)
	assert.Equal(t, models.JobScheduled, job.State)

	// Same user and run time collapse into the existing job
	_, created, err = reg.ScheduleAt(ctx, 7, runAt)
	require.NoError(t, err)
	assert.False(t, created)

	// A different run time is a new job
	_, created, err = reg.ScheduleAt(ctx, 7, runAt.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRegistryStatus(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(store, testLogger())
	ctx := context.Background()

	assert.False(t, reg.IsPending(ctx, 7))

	_, _, err := reg.ScheduleAt(ctx, 7, time.Now().Add(time.Hour))
	require.NoError(t, err)

	status := reg.Status(ctx, 7)
	assert.True(t, status.HasScheduled)
	assert.False(t, status.HasRunning)
	assert.False(t, status.HasQueued)
	assert.True(t, reg.IsPending(ctx, 7))

	// Other users are unaffected
	assert.False(t, reg.IsPending(ctx, 8))
}

func TestRegistryEnqueueNow(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(store, testLogger())
	ctx := context.Background()

	job, created, err := reg.EnqueueNow(ctx, 7)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.JobQueued, job.State)
	assert.Contains(t, job.ID, "_manual_")
	assert.True(t, reg.Status(ctx, 7).HasQueued)
}

func TestRegistryFailOpen(t *testing.T) {
	store := newFakeStore()
	store.failWith = errors.New("db gone")
	reg := NewRegistry(store, testLogger())
	ctx := context.Background()

	// Status degrades to all-false rather than blocking the scheduler
	assert.Equal(t, models.JobStatus{}, reg.Status(ctx, 7))
	assert.False(t, reg.IsPending(ctx, 7))

	_, _, err := reg.ScheduleAt(ctx, 7, time.Now())
	assert.Error(t, err)

	assert.Nil(t, reg.LastResult(ctx, 7))
}

func TestRegistryLastResult(t *testing.T) {
	store := newFakeStore()
	reg := NewRegistry(store, testLogger())
	ctx := context.Background()

	assert.Nil(t, reg.LastResult(ctx, 7))

	store.terminal = &models.Job{
		ID:        "email_process_7_1",
		UserID:    7,
		State:     models.JobFinished,
		Processed: 4,
	}
	got := reg.LastResult(ctx, 7)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.Processed)
}
