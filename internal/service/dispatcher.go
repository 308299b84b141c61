package service

import (
	"context"
	"echoscribe/internal/metrics"
	"echoscribe/internal/models"
	"echoscribe/internal/reporting"
	"echoscribe/internal/repository"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TaskProcessor handles one delivery of a task message
type TaskProcessor interface {
	Process(ctx context.Context, msg models.TaskMessage, attempt int) error
}

// DispatcherConfig holds the queue tunables
type DispatcherConfig struct {
	Queue            string
	Workers          int
	PollInterval     time.Duration
	AttemptTimeout   time.Duration
	LeaseMargin      time.Duration
	DispatchDeadline time.Duration
	SweepInterval    time.Duration
	Retry            RetryPolicy
}

// DefaultDispatcherConfig returns 3 workers, 1h attempts and a 30m dispatch deadline
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Queue:            "articles",
		Workers:          3,
		PollInterval:     time.Second,
		AttemptTimeout:   3600 * time.Second,
		LeaseMargin:      time.Minute,
		DispatchDeadline: 1800 * time.Second,
		SweepInterval:    time.Minute,
		Retry:            DefaultRetryPolicy(),
	}
}

// Dispatcher leases tasks from the queue and runs them with retry and backoff
type Dispatcher struct {
	queue     repository.TaskQueue
	jobs      repository.JobRepository
	processor TaskProcessor
	limiter   *RateLimiter
	cfg       DispatcherConfig
	reporter  reporting.Reporter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	queue repository.TaskQueue,
	jobs repository.JobRepository,
	processor TaskProcessor,
	limiter *RateLimiter,
	cfg DispatcherConfig,
	reporter reporting.Reporter,
	metrics *metrics.Metrics,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = limiter.MaxConcurrent()
	}
	return &Dispatcher{
		queue:     queue,
		jobs:      jobs,
		processor: processor,
		limiter:   limiter,
		cfg:       cfg,
		reporter:  reporter,
		metrics:   metrics,
		logger:    logger.With("component", "dispatcher", "queue", cfg.Queue),
	}
}

// Run processes tasks until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		"workers", d.cfg.Workers,
		"max_concurrent", d.limiter.MaxConcurrent(),
		"max_attempts", d.cfg.Retry.MaxAttempts,
		"attempt_timeout", d.cfg.AttemptTimeout,
		"dispatch_deadline", d.cfg.DispatchDeadline,
	)

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.work(ctx, worker)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.sweep(ctx)
	}()

	wg.Wait()
	d.logger.Info("dispatcher stopped")
	return ctx.Err()
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dispatched, err := d.DispatchOne(ctx)
		if err != nil {
			d.logger.Error("error leasing task", "worker", worker, "error", err)
		}
		if !dispatched {
			if !sleepCtx(ctx, d.cfg.PollInterval) {
				return
			}
		}
	}
}

func (d *Dispatcher) sweep(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		if _, err := d.AbandonExpired(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("error abandoning expired tasks", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOne leases and runs at most one task, reporting whether one was run
func (d *Dispatcher) DispatchOne(ctx context.Context) (bool, error) {
	inFlight, err := d.queue.CountLeasedTasks(ctx)
	if err != nil {
		return false, err
	}
	if d.limiter.CheckConcurrentLimit(ctx, inFlight) != nil {
		return false, nil
	}

	// a lease spends an attempt, so the dispatch slot is taken first
	for d.limiter.CheckDispatchRate(ctx, d.cfg.Queue) != nil {
		if !sleepCtx(ctx, d.cfg.PollInterval) {
			return false, ctx.Err()
		}
	}

	leaseDuration := d.cfg.AttemptTimeout + d.cfg.LeaseMargin
	task, err := d.queue.LeaseTask(ctx, leaseDuration, d.limiter.MaxConcurrent())
	if err != nil || task == nil {
		d.limiter.ReleaseDispatch(d.cfg.Queue)
		return false, err
	}

	d.runTask(ctx, task)
	return true, nil
}

func (d *Dispatcher) runTask(ctx context.Context, task *models.Task) {
	log := d.logger.With("task_id", task.ID, "job_id", task.JobID, "attempt", task.Attempts)
	bookkeeping := context.WithoutCancel(ctx)

	maxAttempts := d.policy(task).MaxAttempts
	if task.Attempts > maxAttempts {
		// the previous holder's lease expired on the final attempt
		reason := fmt.Sprintf("lease expired on final attempt %d/%d", maxAttempts, maxAttempts)
		d.markJobError(bookkeeping, task, models.ErrorCodeAttemptTimeout, reason)
		d.deadLetter(bookkeeping, task, reason)
		return
	}

	log.Info("task leased", "source_path", task.SourcePath)

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	err := d.processor.Process(attemptCtx, task.Message(), task.Attempts)
	cancel()

	if err == nil {
		if err := d.queue.CompleteTask(bookkeeping, task.ID); err != nil {
			log.Error("error acknowledging task", "error", err)
		}
		return
	}

	d.handleFailure(bookkeeping, task, err)
}

// handleFailure reschedules a failed task or stops delivering it
func (d *Dispatcher) handleFailure(ctx context.Context, task *models.Task, failure error) {
	log := d.logger.With("task_id", task.ID, "job_id", task.JobID)
	policy := d.policy(task)

	if !IsRetryable(failure) {
		d.deadLetter(ctx, task, fmt.Sprintf("non-retryable: %v", failure))
		return
	}

	if policy.Exhausted(task.Attempts) {
		d.deadLetter(ctx, task, fmt.Sprintf("max attempts exceeded: %v", failure))
		return
	}

	delay := policy.Backoff(task.Attempts)
	if err := d.queue.RetryTask(ctx, task.ID, time.Now().Add(delay), failure.Error()); err != nil {
		log.Error("error rescheduling task", "error", err)
		return
	}

	d.metrics.IncrementTasksRetried()
	log.Info("task failed, retrying", "attempt", task.Attempts, "max_attempts", policy.MaxAttempts, "backoff", delay, "reason", failure)
}

// AbandonExpired dead-letters tasks that waited longer than the dispatch deadline and
// moves their jobs to error. It returns how many tasks were abandoned.
func (d *Dispatcher) AbandonExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-d.cfg.DispatchDeadline)
	tasks, err := d.queue.ListAbandonedTasks(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}

	abandoned := 0
	for _, task := range tasks {
		reason := fmt.Sprintf("not dispatched within %s", d.cfg.DispatchDeadline)
		ok, err := d.queue.AbandonTask(ctx, task, reason)
		if err != nil {
			d.logger.Error("error abandoning task", "task_id", task.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		abandoned++
		d.metrics.IncrementTasksDeadLettered()
		d.markJobError(ctx, task, models.ErrorCodeDispatchDeadline, "task "+reason)
		d.logger.Warn("task abandoned", "task_id", task.ID, "job_id", task.JobID, "reason", reason)
	}
	return abandoned, nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, task *models.Task, reason string) {
	if err := d.queue.DeadLetterTask(ctx, task, reason); err != nil {
		d.logger.Error("error moving task to dead letter queue", "task_id", task.ID, "job_id", task.JobID, "error", err)
		return
	}

	d.metrics.IncrementTasksDeadLettered()
	d.logger.Warn("task moved to dead letter queue", "task_id", task.ID, "job_id", task.JobID, "attempts", task.Attempts, "reason", reason)
	d.reporter.Capture(ctx, fmt.Errorf("task dead-lettered: %s", reason), reporting.Report{
		Component: "dispatcher",
		Tags:      map[string]string{"job_id": task.JobID, "task_id": task.ID},
		Extra:     map[string]any{"attempts": task.Attempts, "source_path": task.SourcePath},
	})
}

func (d *Dispatcher) markJobError(ctx context.Context, task *models.Task, code, message string) {
	detail := &models.ErrorDetail{
		Code:      code,
		Message:   message,
		Attempt:   task.Attempts,
		Timestamp: time.Now().UTC(),
	}
	if err := d.jobs.MarkError(ctx, task.JobID, detail); err != nil {
		d.logger.Error("error marking job error", "job_id", task.JobID, "error", err)
	}
}

// policy applies the attempt limit stored on the task
func (d *Dispatcher) policy(task *models.Task) RetryPolicy {
	p := d.cfg.Retry
	if task.MaxAttempts > 0 {
		p.MaxAttempts = task.MaxAttempts
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
