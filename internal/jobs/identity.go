package jobs

import (
	"fmt"
	"time"
)

// Job ids are deterministic so that enqueueing the same (user, timestamp)
// twice collapses into one job, and share a per-user prefix so the pending
// check sees scheduler-issued and manually-triggered jobs alike.

// ScheduledJobID returns the id for a scheduler-issued job at runAt.
func ScheduledJobID(userID int64, runAt time.Time) string {
	return fmt.Sprintf("email_process_%d_%d", userID, runAt.Unix())
}

// ManualJobID returns the id for a manually-triggered job.
func ManualJobID(userID int64, now time.Time) string {
	return fmt.Sprintf("email_process_%d_manual_%d", userID, now.Unix())
}

// JobIDPrefix returns the prefix shared by all of a user's job ids.
func JobIDPrefix(userID int64) string {
	return fmt.Sprintf("email_process_%d_", userID)
}
