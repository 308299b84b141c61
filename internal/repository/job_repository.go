package repository

import (
	"context"
	"echoscribe/internal/models"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// ErrDuplicateSourcePath is returned when a job for the same uploaded object already exists
type ErrDuplicateSourcePath struct {
	SourcePath string
}

func (e *ErrDuplicateSourcePath) Error() string {
	return fmt.Sprintf("job for source_path %s already exists", e.SourcePath)
}

// JobRepository defines the interface for job persistence
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	GetJobBySourcePath(ctx context.Context, sourcePath string) (*models.Job, error)
	ListJobsByOwner(ctx context.Context, ownerID string, status models.JobStatus) ([]*models.Job, error)
	MarkProcessing(ctx context.Context, id string, at time.Time) error
	MarkCompleted(ctx context.Context, id, resultID string, at time.Time) error
	MarkError(ctx context.Context, id string, detail *models.ErrorDetail) error
	DeleteJobsByOwner(ctx context.Context, ownerID string) (int64, error)
}

// ArticleRepository persists generated articles
type ArticleRepository interface {
	CreateArticle(ctx context.Context, article *models.Article) error
	GetArticleByID(ctx context.Context, id string) (*models.Article, error)
	GetArticleByJobID(ctx context.Context, jobID string) (*models.Article, error)
	ListArticlesByOwner(ctx context.Context, ownerID string) ([]*models.Article, error)
	DeleteArticlesByOwner(ctx context.Context, ownerID string) (int64, error)
}

// EntitlementRepository persists per-owner quota records
type EntitlementRepository interface {
	GetEntitlement(ctx context.Context, ownerID string) (*models.Entitlement, error)
	UpsertEntitlement(ctx context.Context, ent *models.Entitlement) error
	// CreateEntitlementIfAbsent reports whether a new record was written
	CreateEntitlementIfAbsent(ctx context.Context, ent *models.Entitlement) (bool, error)
	IncrementUsage(ctx context.Context, ownerID string) error
	DeleteEntitlement(ctx context.Context, ownerID string) error
}

// SubscriptionRepository persists mirrored processor subscriptions
type SubscriptionRepository interface {
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	ListSubscriptionsByOwner(ctx context.Context, ownerID string) ([]*models.Subscription, error)
	DeleteSubscriptionsByOwner(ctx context.Context, ownerID string) (int64, error)
}

// TaskQueue is the durable delivery queue feeding the dispatcher
type TaskQueue interface {
	EnqueueTask(ctx context.Context, task *models.Task) error
	// LeaseTask returns nil when nothing is due or maxLeased tasks are already in flight
	LeaseTask(ctx context.Context, leaseDuration time.Duration, maxLeased int) (*models.Task, error)
	// ListAbandonedTasks returns pending tasks due before cutoff that were never leased since
	ListAbandonedTasks(ctx context.Context, cutoff time.Time, limit int) ([]*models.Task, error)
	// AbandonTask dead-letters a task only if it is still pending, reporting whether it did
	AbandonTask(ctx context.Context, task *models.Task, failureReason string) (bool, error)
	CompleteTask(ctx context.Context, id string) error
	RetryTask(ctx context.Context, id string, availableAt time.Time, lastError string) error
	DeadLetterTask(ctx context.Context, task *models.Task, failureReason string) error
	CountLeasedTasks(ctx context.Context) (int, error)
	ListDeadLetterTasks(ctx context.Context) ([]*models.DeadLetterTask, error)
}

// BillingEventLog records verified billing webhook deliveries
type BillingEventLog interface {
	RecordEvent(ctx context.Context, event *models.BillingEvent) error
	GetEvent(ctx context.Context, id string) (*models.BillingEvent, error)
}
