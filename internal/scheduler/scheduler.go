package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kanakku/bankfeed/pkg/models"
)

// ConfigLister loads the configurations eligible for scheduling.
type ConfigLister interface {
	GetEnabledConfigurations(ctx context.Context) ([]*models.EmailConfiguration, error)
}

// Enqueuer is the registry surface the scheduler needs.
type Enqueuer interface {
	Status(ctx context.Context, userID int64) models.JobStatus
	ScheduleAt(ctx context.Context, userID int64, runAt time.Time) (*models.Job, bool, error)
}

// Scheduler is the single periodic control loop: on every wake it walks
// the enabled configurations and schedules one deduplicated job per due
// user. Wakes never overlap; a slow tick makes the next one be skipped
// rather than run concurrently.
type Scheduler struct {
	configs  ConfigLister
	registry Enqueuer
	logger   *slog.Logger
	cron     *cron.Cron
}

// New creates a new scheduler
func New(configs ConfigLister, registry Enqueuer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		configs:  configs,
		registry: registry,
		logger:   logger.With("component", "scheduler"),
	}
}

// Start begins the periodic loop with the given wake interval.
func (s *Scheduler) Start(interval time.Duration) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	if _, err := s.cron.AddFunc("@every "+interval.String(), s.tick); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "interval", interval)
	return nil
}

// Stop stops the loop and waits for a tick in flight.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.Tick(ctx)
}

// Tick runs one scheduling pass. One user's failure never aborts the
// pass for the others.
func (s *Scheduler) Tick(ctx context.Context) {
	configs, err := s.configs.GetEnabledConfigurations(ctx)
	if err != nil {
		s.logger.Error("failed to load configurations", "error", err)
		return
	}

	for _, cfg := range configs {
		s.scheduleUser(ctx, cfg)
	}
}

// scheduleUser is the per-user error boundary of the loop.
func (s *Scheduler) scheduleUser(ctx context.Context, cfg *models.EmailConfiguration) {
	log := s.logger.With("user_id", cfg.UserID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while scheduling user", "panic", r)
		}
	}()

	// The anti-duplication rule: one pending job per user, ever.
	if status := s.registry.Status(ctx, cfg.UserID); status.AnyPending() {
		log.Info("skipping user with pending job", "status", status)
		return
	}

	nextRun := cfg.NextRun(time.Now())
	job, created, err := s.registry.ScheduleAt(ctx, cfg.UserID, nextRun)
	if err != nil {
		log.Error("failed to schedule job", "error", err)
		return
	}
	if !created {
		// Identical id already enqueued; the broker's idempotency bounds
		// the check-then-enqueue race.
		log.Debug("job already enqueued", "job_id", job.ID)
		return
	}

	log.Info("scheduled job", "job_id", job.ID, "mailbox", cfg.EmailAddress, "run_at", nextRun)
}
