package models

import "time"

// JobState is the lifecycle state of a processing job.
type JobState string

const (
	JobScheduled JobState = "scheduled" // waiting for run_at
	JobQueued    JobState = "queued"    // due, waiting for a worker
	JobRunning   JobState = "running"   // claimed by a worker
	JobFinished  JobState = "finished"  // terminal
	JobFailed    JobState = "failed"    // terminal
)

// Pending reports whether the state counts against the one-pending-job-per-user
// invariant.
func (s JobState) Pending() bool {
	return s == JobScheduled || s == JobQueued || s == JobRunning
}

// Job is one email-processing job held by the job registry.
type Job struct {
	ID         string     `db:"id"`
	UserID     int64      `db:"user_id"`
	State      JobState   `db:"state"`
	RunAt      time.Time  `db:"run_at"`
	EnqueuedAt time.Time  `db:"enqueued_at"`
	StartedAt  *time.Time `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`

	// Terminal result. Counts stay zero while the job is pending.
	Processed int    `db:"processed"`
	Skipped   int    `db:"skipped"`
	Failed    int    `db:"failed"`
	Error     string `db:"error"`
	ErrorKind string `db:"error_kind"`
}

// JobStatus is the per-user pending breakdown returned when a trigger is
// rejected and by the status endpoint.
type JobStatus struct {
	HasRunning   bool `json:"has_running"`
	HasScheduled bool `json:"has_scheduled"`
	HasQueued    bool `json:"has_queued"`
}

// AnyPending reports whether any pending job exists.
func (s JobStatus) AnyPending() bool {
	return s.HasRunning || s.HasScheduled || s.HasQueued
}

// JobResult is the aggregate outcome of one worker run.
type JobResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
