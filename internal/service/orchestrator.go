package service

import (
	"context"
	"echoscribe/internal/generation"
	"echoscribe/internal/metrics"
	"echoscribe/internal/models"
	"echoscribe/internal/reporting"
	"echoscribe/internal/repository"
	"echoscribe/internal/storage"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// maxErrorContext bounds the diagnostic context stored on a failed job
const maxErrorContext = 1000

// ObjectStore reads uploaded source media
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Generator turns source media into a free-form reply containing an article
type Generator interface {
	Generate(ctx context.Context, media []byte, contentType string) (string, error)
}

// UsageRecorder counts a completed article against the owner's quota
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ownerID string) error
}

// Orchestrator runs the job state machine for one delivered task
type Orchestrator struct {
	jobs      repository.JobRepository
	articles  repository.ArticleRepository
	objects   ObjectStore
	generator Generator
	usage     UsageRecorder
	reporter  reporting.Reporter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	jobs repository.JobRepository,
	articles repository.ArticleRepository,
	objects ObjectStore,
	generator Generator,
	usage UsageRecorder,
	reporter reporting.Reporter,
	metrics *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		jobs:      jobs,
		articles:  articles,
		objects:   objects,
		generator: generator,
		usage:     usage,
		reporter:  reporter,
		metrics:   metrics,
		logger:    logger.With("component", "orchestrator"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Process handles one delivery of msg. A returned error means the attempt failed
// and the job has been moved to error; IsRetryable tells whether redelivery can help.
func (o *Orchestrator) Process(ctx context.Context, msg models.TaskMessage, attempt int) error {
	log := o.logger.With("job_id", msg.JobID, "attempt", attempt)

	job, err := o.jobs.GetJobByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = Permanent(fmt.Errorf("%w: %s", ErrJobNotFound, msg.JobID))
			log.Error("job missing for task", "source_path", msg.SourcePath)
			o.reporter.Capture(ctx, err, reporting.Report{
				Component: "orchestrator",
				Tags:      map[string]string{"job_id": msg.JobID, "code": models.ErrorCodeJobNotFound},
				Extra:     map[string]any{"source_path": msg.SourcePath, "attempt": attempt},
			})
			return err
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	if job.Status == models.StatusCompleted {
		log.Info("job already completed, acknowledging redelivery", "result_id", job.ResultID)
		return nil
	}

	if err := o.jobs.MarkProcessing(ctx, job.ID, o.now()); err != nil {
		return o.fail(ctx, job, attempt, models.ErrorCodeInternal, fmt.Errorf("failed to mark processing: %w", err), "")
	}
	log.Info("processing started", "owner_id", job.OwnerID, "source_path", msg.SourcePath)

	article, err := o.articles.GetArticleByJobID(ctx, job.ID)
	switch {
	case err == nil:
		log.Info("reusing article persisted by an earlier attempt", "article_id", article.ID)
	case errors.Is(err, repository.ErrNotFound):
		article, err = o.produce(ctx, job, msg, attempt)
		if err != nil {
			return err
		}
	default:
		return o.fail(ctx, job, attempt, models.ErrorCodeInternal, fmt.Errorf("failed to check existing article: %w", err), "")
	}

	if err := o.jobs.MarkCompleted(ctx, job.ID, article.ID, o.now()); err != nil {
		return o.fail(ctx, job, attempt, models.ErrorCodePersist, fmt.Errorf("failed to mark completed: %w", err), "")
	}
	o.metrics.IncrementJobsCompleted()
	log.Info("job completed", "article_id", article.ID, "slug", article.Slug)

	if err := o.usage.RecordUsage(ctx, job.OwnerID); err != nil {
		o.metrics.IncrementQuotaIncrementFailures()
		log.Error("failed to record quota usage", "owner_id", job.OwnerID, "error", err)
		o.reporter.Capture(ctx, err, reporting.Report{
			Component: "quota",
			Tags:      map[string]string{"job_id": job.ID, "owner_id": job.OwnerID},
		})
	}
	return nil
}

// produce fetches the source, generates and persists the article
func (o *Orchestrator) produce(ctx context.Context, job *models.Job, msg models.TaskMessage, attempt int) (*models.Article, error) {
	media, err := o.objects.Get(ctx, msg.SourcePath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, o.fail(ctx, job, attempt, models.ErrorCodeSourceNotFound,
				Permanent(fmt.Errorf("%w: %s", ErrSourceNotFound, msg.SourcePath)), "")
		}
		return nil, o.fail(ctx, job, attempt, models.ErrorCodeInternal, fmt.Errorf("failed to fetch source: %w", err), "")
	}

	reply, err := o.generator.Generate(ctx, media, job.ContentType)
	if err != nil {
		code := models.ErrorCodeGeneration
		if errors.Is(err, context.DeadlineExceeded) {
			code = models.ErrorCodeAttemptTimeout
		}
		err = fmt.Errorf("generation failed: %w", err)
		var statusErr *generation.StatusError
		if errors.As(err, &statusErr) && !statusErr.Transient() {
			err = Permanent(err)
		}
		return nil, o.fail(ctx, job, attempt, code, err, "")
	}

	generated, err := generation.ParseArticle(reply)
	if err != nil {
		var respErr *generation.ResponseError
		excerpt := ""
		if errors.As(err, &respErr) {
			excerpt = respErr.Excerpt
		}
		return nil, o.fail(ctx, job, attempt, models.ErrorCodeInvalidOutput, err, excerpt)
	}

	article := &models.Article{
		ID:              uuid.New().String(),
		JobID:           job.ID,
		OwnerID:         job.OwnerID,
		Title:           generated.Title,
		Slug:            generation.ResolveSlug(generated.Slug, generated.Title),
		MetaDescription: generated.MetaDescription,
		Keywords:        generated.Keywords,
		Markdown:        generated.Markdown,
		HTML:            generated.HTML,
		SchemaOrg:       generated.SchemaOrg,
		OpenGraph:       generated.OpenGraph,
		CreatedAt:       o.now(),
	}
	if article.Keywords == nil {
		article.Keywords = []string{}
	}

	meta, description, err := generation.ExtractMetadata(article.HTML)
	if err != nil {
		o.logger.Warn("failed to extract article metadata", "job_id", job.ID, "error", err)
	} else {
		article.Metadata = meta
		if article.MetaDescription == "" {
			article.MetaDescription = description
		}
	}

	if err := o.articles.CreateArticle(ctx, article); err != nil {
		return nil, o.fail(ctx, job, attempt, models.ErrorCodePersist, fmt.Errorf("failed to persist article: %w", err), "")
	}
	return article, nil
}

// fail records the attempt's failure on the job and returns err for the dispatcher
func (o *Orchestrator) fail(ctx context.Context, job *models.Job, attempt int, code string, err error, excerpt string) error {
	o.metrics.IncrementJobsFailed()

	diag := excerpt
	if diag == "" {
		diag = err.Error()
	}
	detail := &models.ErrorDetail{
		Code:      code,
		Message:   err.Error(),
		Context:   generation.Truncate(diag, maxErrorContext),
		Attempt:   attempt,
		Timestamp: o.now(),
	}

	// the attempt context may already be expired
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if markErr := o.jobs.MarkError(recordCtx, job.ID, detail); markErr != nil {
		o.logger.Error("failed to record job error", "job_id", job.ID, "error", markErr)
	}

	o.logger.Error("processing failed", "job_id", job.ID, "attempt", attempt, "code", code, "retryable", IsRetryable(err), "error", err)
	o.reporter.Capture(recordCtx, err, reporting.Report{
		Component: "orchestrator",
		Tags: map[string]string{
			"job_id":   job.ID,
			"owner_id": job.OwnerID,
			"code":     code,
			"attempt":  strconv.Itoa(attempt),
		},
		Extra: map[string]any{"context": detail.Context},
	})
	return err
}
