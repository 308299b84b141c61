package metrics

import (
	"sync"
)

// Metrics tracks pipeline and billing counters
type Metrics struct {
	mu sync.RWMutex

	jobsCreated            int64
	jobsCompleted          int64
	jobsFailed             int64
	tasksRetried           int64
	tasksDeadLettered      int64
	quotaIncrementFailures int64
	billingOutcomes        map[string]int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{billingOutcomes: make(map[string]int64)}
}

// IncrementJobsCreated counts a job accepted by ingestion
func (m *Metrics) IncrementJobsCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsCreated++
}

// IncrementJobsCompleted counts a job that produced an article
func (m *Metrics) IncrementJobsCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsCompleted++
}

// IncrementJobsFailed counts a failed processing attempt
func (m *Metrics) IncrementJobsFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsFailed++
}

// IncrementTasksRetried counts a task rescheduled with backoff
func (m *Metrics) IncrementTasksRetried() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasksRetried++
}

// IncrementTasksDeadLettered counts a task the queue stopped delivering
func (m *Metrics) IncrementTasksDeadLettered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasksDeadLettered++
}

// IncrementQuotaIncrementFailures counts usage updates that failed after completion
func (m *Metrics) IncrementQuotaIncrementFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotaIncrementFailures++
}

// IncrementBillingOutcome counts a reconciled billing event by outcome
func (m *Metrics) IncrementBillingOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.billingOutcomes[outcome]++
}

// GetSnapshot returns a snapshot of all metrics
func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := map[string]int64{
		"jobs_created":             m.jobsCreated,
		"jobs_completed":           m.jobsCompleted,
		"jobs_failed":              m.jobsFailed,
		"tasks_retried":            m.tasksRetried,
		"tasks_dead_lettered":      m.tasksDeadLettered,
		"quota_increment_failures": m.quotaIncrementFailures,
	}
	for outcome, n := range m.billingOutcomes {
		snapshot["billing_"+outcome] = n
	}
	return snapshot
}
