package service

import (
	"context"
	"echoscribe/internal/billing"
	"echoscribe/internal/models"
	"echoscribe/internal/reporting"
	"echoscribe/internal/repository"
	"echoscribe/internal/storage"
	"errors"
	"strings"
	"sync"
	"time"
)

// mockJobRepository is a mock implementation of JobRepository
type mockJobRepository struct {
	jobs             map[string]*models.Job
	createJobError   error
	getJobError      error
	markCompleteErr  error
	deleteError      error
	markErrorDetails []*models.ErrorDetail
}

func newMockJobRepository() *mockJobRepository {
	return &mockJobRepository{jobs: make(map[string]*models.Job)}
}

func (m *mockJobRepository) CreateJob(ctx context.Context, job *models.Job) error {
	if m.createJobError != nil {
		return m.createJobError
	}
	for _, existing := range m.jobs {
		if existing.SourcePath == job.SourcePath {
			return &repository.ErrDuplicateSourcePath{SourcePath: job.SourcePath}
		}
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepository) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	if m.getJobError != nil {
		return nil, m.getJobError
	}
	job, exists := m.jobs[id]
	if !exists {
		return nil, repository.ErrNotFound
	}
	return job, nil
}

func (m *mockJobRepository) GetJobBySourcePath(ctx context.Context, sourcePath string) (*models.Job, error) {
	for _, job := range m.jobs {
		if job.SourcePath == sourcePath {
			return job, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockJobRepository) ListJobsByOwner(ctx context.Context, ownerID string, status models.JobStatus) ([]*models.Job, error) {
	var result []*models.Job
	for _, job := range m.jobs {
		if job.OwnerID == ownerID && (status == "" || job.Status == status) {
			result = append(result, job)
		}
	}
	return result, nil
}

func (m *mockJobRepository) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	job, exists := m.jobs[id]
	if !exists {
		return repository.ErrNotFound
	}
	job.Status = models.StatusProcessing
	job.ProcessingStartedAt = &at
	return nil
}

func (m *mockJobRepository) MarkCompleted(ctx context.Context, id, resultID string, at time.Time) error {
	if m.markCompleteErr != nil {
		return m.markCompleteErr
	}
	job, exists := m.jobs[id]
	if !exists {
		return repository.ErrNotFound
	}
	job.Status = models.StatusCompleted
	job.ResultID = resultID
	job.ProcessingCompletedAt = &at
	job.ErrorMessage = ""
	job.ErrorDetail = nil
	job.ErrorAt = nil
	return nil
}

func (m *mockJobRepository) MarkError(ctx context.Context, id string, detail *models.ErrorDetail) error {
	m.markErrorDetails = append(m.markErrorDetails, detail)
	job, exists := m.jobs[id]
	if !exists {
		return repository.ErrNotFound
	}
	if job.Status == models.StatusCompleted {
		return nil
	}
	job.Status = models.StatusError
	job.ErrorMessage = detail.Message
	job.ErrorDetail = detail
	job.ErrorAt = &detail.Timestamp
	return nil
}

func (m *mockJobRepository) DeleteJobsByOwner(ctx context.Context, ownerID string) (int64, error) {
	if m.deleteError != nil {
		return 0, m.deleteError
	}
	var n int64
	for id, job := range m.jobs {
		if job.OwnerID == ownerID {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

// mockArticleRepository is a mock implementation of ArticleRepository
type mockArticleRepository struct {
	articles    map[string]*models.Article
	createError error
	deleteError error
}

func newMockArticleRepository() *mockArticleRepository {
	return &mockArticleRepository{articles: make(map[string]*models.Article)}
}

func (m *mockArticleRepository) CreateArticle(ctx context.Context, article *models.Article) error {
	if m.createError != nil {
		return m.createError
	}
	m.articles[article.ID] = article
	return nil
}

func (m *mockArticleRepository) GetArticleByID(ctx context.Context, id string) (*models.Article, error) {
	article, exists := m.articles[id]
	if !exists {
		return nil, repository.ErrNotFound
	}
	return article, nil
}

func (m *mockArticleRepository) GetArticleByJobID(ctx context.Context, jobID string) (*models.Article, error) {
	for _, article := range m.articles {
		if article.JobID == jobID {
			return article, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockArticleRepository) ListArticlesByOwner(ctx context.Context, ownerID string) ([]*models.Article, error) {
	var result []*models.Article
	for _, article := range m.articles {
		if article.OwnerID == ownerID {
			result = append(result, article)
		}
	}
	return result, nil
}

func (m *mockArticleRepository) DeleteArticlesByOwner(ctx context.Context, ownerID string) (int64, error) {
	if m.deleteError != nil {
		return 0, m.deleteError
	}
	var n int64
	for id, article := range m.articles {
		if article.OwnerID == ownerID {
			delete(m.articles, id)
			n++
		}
	}
	return n, nil
}

// mockObjectStore serves source media from memory
type mockObjectStore struct {
	objects     map[string][]byte
	getError    error
	deleteError error
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: make(map[string][]byte)}
}

func (m *mockObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	data, exists := m.objects[key]
	if !exists {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (m *mockObjectStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if m.deleteError != nil {
		return 0, m.deleteError
	}
	n := 0
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			delete(m.objects, key)
			n++
		}
	}
	return n, nil
}

// mockGenerator returns a canned reply
type mockGenerator struct {
	reply string
	err   error
	calls int
}

func (m *mockGenerator) Generate(ctx context.Context, media []byte, contentType string) (string, error) {
	m.calls++
	return m.reply, m.err
}

// mockUsageRecorder records usage calls
type mockUsageRecorder struct {
	err    error
	owners []string
}

func (m *mockUsageRecorder) RecordUsage(ctx context.Context, ownerID string) error {
	m.owners = append(m.owners, ownerID)
	return m.err
}

// mockReporter collects captured errors
type mockReporter struct {
	mu       sync.Mutex
	captured []error
}

func (m *mockReporter) Capture(ctx context.Context, err error, report reporting.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captured = append(m.captured, err)
}

func (m *mockReporter) Flush(time.Duration) {}

type retryCall struct {
	id          string
	availableAt time.Time
	lastError   string
}

// mockTaskQueue is a mock implementation of TaskQueue
type mockTaskQueue struct {
	enqueued     []*models.Task
	leaseQueue   []*models.Task
	abandonable  []*models.Task
	stillPending map[string]bool
	completed    []string
	retried      []retryCall
	deadLettered []*models.DeadLetterTask
	enqueueError error
	leaseError   error
	leased       int
	leaseCalls   int
}

func newMockTaskQueue() *mockTaskQueue {
	return &mockTaskQueue{stillPending: make(map[string]bool)}
}

func (m *mockTaskQueue) EnqueueTask(ctx context.Context, task *models.Task) error {
	if m.enqueueError != nil {
		return m.enqueueError
	}
	m.enqueued = append(m.enqueued, task)
	return nil
}

func (m *mockTaskQueue) LeaseTask(ctx context.Context, leaseDuration time.Duration, maxLeased int) (*models.Task, error) {
	m.leaseCalls++
	if m.leaseError != nil {
		return nil, m.leaseError
	}
	if len(m.leaseQueue) == 0 {
		return nil, nil
	}
	task := m.leaseQueue[0]
	m.leaseQueue = m.leaseQueue[1:]
	return task, nil
}

func (m *mockTaskQueue) ListAbandonedTasks(ctx context.Context, cutoff time.Time, limit int) ([]*models.Task, error) {
	return m.abandonable, nil
}

func (m *mockTaskQueue) AbandonTask(ctx context.Context, task *models.Task, failureReason string) (bool, error) {
	if !m.stillPending[task.ID] {
		return false, nil
	}
	m.stillPending[task.ID] = false
	m.deadLettered = append(m.deadLettered, &models.DeadLetterTask{TaskID: task.ID, JobID: task.JobID, FailureReason: failureReason})
	return true, nil
}

func (m *mockTaskQueue) CompleteTask(ctx context.Context, id string) error {
	m.completed = append(m.completed, id)
	return nil
}

func (m *mockTaskQueue) RetryTask(ctx context.Context, id string, availableAt time.Time, lastError string) error {
	m.retried = append(m.retried, retryCall{id: id, availableAt: availableAt, lastError: lastError})
	return nil
}

func (m *mockTaskQueue) DeadLetterTask(ctx context.Context, task *models.Task, failureReason string) error {
	m.deadLettered = append(m.deadLettered, &models.DeadLetterTask{
		TaskID:        task.ID,
		JobID:         task.JobID,
		SourcePath:    task.SourcePath,
		Attempts:      task.Attempts,
		FailureReason: failureReason,
		FailedAt:      time.Now(),
	})
	return nil
}

func (m *mockTaskQueue) CountLeasedTasks(ctx context.Context) (int, error) {
	return m.leased, nil
}

func (m *mockTaskQueue) ListDeadLetterTasks(ctx context.Context) ([]*models.DeadLetterTask, error) {
	return m.deadLettered, nil
}

// mockEntitlementRepository is a mock implementation of EntitlementRepository
type mockEntitlementRepository struct {
	entitlements   map[string]*models.Entitlement
	incrementError error
	upsertError    error
}

func newMockEntitlementRepository() *mockEntitlementRepository {
	return &mockEntitlementRepository{entitlements: make(map[string]*models.Entitlement)}
}

func (m *mockEntitlementRepository) GetEntitlement(ctx context.Context, ownerID string) (*models.Entitlement, error) {
	ent, exists := m.entitlements[ownerID]
	if !exists {
		return nil, repository.ErrNotFound
	}
	copied := *ent
	return &copied, nil
}

func (m *mockEntitlementRepository) UpsertEntitlement(ctx context.Context, ent *models.Entitlement) error {
	if m.upsertError != nil {
		return m.upsertError
	}
	copied := *ent
	m.entitlements[ent.OwnerID] = &copied
	return nil
}

func (m *mockEntitlementRepository) CreateEntitlementIfAbsent(ctx context.Context, ent *models.Entitlement) (bool, error) {
	if _, exists := m.entitlements[ent.OwnerID]; exists {
		return false, nil
	}
	copied := *ent
	m.entitlements[ent.OwnerID] = &copied
	return true, nil
}

func (m *mockEntitlementRepository) IncrementUsage(ctx context.Context, ownerID string) error {
	if m.incrementError != nil {
		return m.incrementError
	}
	ent, exists := m.entitlements[ownerID]
	if !exists {
		return repository.ErrNotFound
	}
	ent.Used++
	if ent.Tier == models.TierFree {
		ent.LifetimeUsed++
	}
	return nil
}

func (m *mockEntitlementRepository) DeleteEntitlement(ctx context.Context, ownerID string) error {
	if _, exists := m.entitlements[ownerID]; !exists {
		return repository.ErrNotFound
	}
	delete(m.entitlements, ownerID)
	return nil
}

// mockSubscriptionRepository is a mock implementation of SubscriptionRepository
type mockSubscriptionRepository struct {
	subs map[string]*models.Subscription
}

func newMockSubscriptionRepository() *mockSubscriptionRepository {
	return &mockSubscriptionRepository{subs: make(map[string]*models.Subscription)}
}

func (m *mockSubscriptionRepository) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	sub, exists := m.subs[id]
	if !exists {
		return nil, repository.ErrNotFound
	}
	copied := *sub
	return &copied, nil
}

func (m *mockSubscriptionRepository) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	copied := *sub
	m.subs[sub.ID] = &copied
	return nil
}

func (m *mockSubscriptionRepository) ListSubscriptionsByOwner(ctx context.Context, ownerID string) ([]*models.Subscription, error) {
	var result []*models.Subscription
	for _, sub := range m.subs {
		if sub.OwnerID == ownerID {
			copied := *sub
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (m *mockSubscriptionRepository) DeleteSubscriptionsByOwner(ctx context.Context, ownerID string) (int64, error) {
	var n int64
	for id, sub := range m.subs {
		if sub.OwnerID == ownerID {
			delete(m.subs, id)
			n++
		}
	}
	return n, nil
}

// mockEventLog is a mock implementation of BillingEventLog
type mockEventLog struct {
	events map[string]*models.BillingEvent
}

func newMockEventLog() *mockEventLog {
	return &mockEventLog{events: make(map[string]*models.BillingEvent)}
}

func (m *mockEventLog) RecordEvent(ctx context.Context, event *models.BillingEvent) error {
	deliveries := 1
	if existing, ok := m.events[event.ID]; ok {
		deliveries = existing.Deliveries + 1
	}
	copied := *event
	copied.Deliveries = deliveries
	m.events[event.ID] = &copied
	return nil
}

func (m *mockEventLog) GetEvent(ctx context.Context, id string) (*models.BillingEvent, error) {
	event, exists := m.events[id]
	if !exists {
		return nil, repository.ErrNotFound
	}
	return event, nil
}

// mockBillingProcessor is a mock implementation of BillingProcessor
type mockBillingProcessor struct {
	states       map[string]*billing.SubscriptionState
	activeByCust map[string]string
	getError     error
	cancelErrors map[string]error
	canceled     []string
}

func newMockBillingProcessor() *mockBillingProcessor {
	return &mockBillingProcessor{
		states:       make(map[string]*billing.SubscriptionState),
		activeByCust: make(map[string]string),
		cancelErrors: make(map[string]error),
	}
}

func (m *mockBillingProcessor) GetSubscription(ctx context.Context, id string) (*billing.SubscriptionState, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	state, exists := m.states[id]
	if !exists {
		return nil, errors.New("no such subscription: " + id)
	}
	copied := *state
	return &copied, nil
}

func (m *mockBillingProcessor) FindActiveSubscription(ctx context.Context, customerID string) (string, error) {
	return m.activeByCust[customerID], nil
}

func (m *mockBillingProcessor) CancelSubscription(ctx context.Context, id string) error {
	if err := m.cancelErrors[id]; err != nil {
		return err
	}
	m.canceled = append(m.canceled, id)
	if state, ok := m.states[id]; ok {
		state.Status = models.SubscriptionCanceled
	}
	return nil
}

func (m *mockBillingProcessor) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*billing.SubscriptionState, error) {
	state, exists := m.states[id]
	if !exists {
		return nil, errors.New("no such subscription: " + id)
	}
	state.CancelAtPeriodEnd = cancel
	copied := *state
	return &copied, nil
}
