package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kanakku/bankfeed/pkg/models"
)

// PoolStore is the claim/complete side of the job table, used only by the
// worker pool.
type PoolStore interface {
	ClaimDueJob(ctx context.Context, now time.Time) (*models.Job, error)
	PromoteDueScheduled(ctx context.Context, now time.Time) error
	CompleteJob(ctx context.Context, jobID string, state models.JobState, result models.JobResult, jobErr string, errKind string) error
}

// Pool runs N workers pulling due jobs from the registry store. Jobs for
// different users run in parallel; the enqueue-time dedup check keeps any
// single user's jobs serial.
type Pool struct {
	store  PoolStore
	worker *Worker
	logger *slog.Logger
	size   int
	poll   time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool creates a worker pool of the given size.
func NewPool(store PoolStore, worker *Worker, size int, logger *slog.Logger) *Pool {
	return &Pool{
		store:  store,
		worker: worker,
		logger: logger.With("component", "worker_pool"),
		size:   size,
		poll:   2 * time.Second,
	}
}

// Start launches the workers. They run until Stop is called or ctx is
// cancelled; a running job is never cancelled mid-flight, it finishes its
// batch.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("starting workers", "count", p.size)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("all workers stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With("worker", id)

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		if err := p.store.PromoteDueScheduled(ctx, now); err != nil {
			log.Error("failed to promote scheduled jobs", "error", err)
		}

		// Drain everything that is due before sleeping again.
		for {
			job, err := p.store.ClaimDueJob(ctx, now)
			if err != nil {
				log.Error("failed to claim job", "error", err)
				break
			}
			if job == nil {
				break
			}
			p.execute(log, job)

			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

// execute runs one claimed job and records its terminal state. A claimed
// job always runs its batch to completion: every blocking call inside the
// worker carries its own timeout, so there is no whole-job deadline to cut
// a large batch off mid-flight.
func (p *Pool) execute(log *slog.Logger, job *models.Job) {
	start := time.Now()
	state, result, errKind, err := p.worker.Process(context.Background(), job)

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		log.Error("job failed",
			"job_id", job.ID,
			"user_id", job.UserID,
			"error", err,
			"kind", errKind,
			"duration", time.Since(start))
	} else {
		log.Info("job completed",
			"job_id", job.ID,
			"user_id", job.UserID,
			"state", state,
			"duration", time.Since(start))
	}

	// Terminal state is written with a fresh context: even when the job
	// context expired or the pool is shutting down, the outcome must be
	// recorded.
	recordCtx, recordCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer recordCancel()
	if err := p.store.CompleteJob(recordCtx, job.ID, state, result, errMsg, errKind); err != nil {
		log.Error("failed to record job result", "job_id", job.ID, "error", err)
	}
}
