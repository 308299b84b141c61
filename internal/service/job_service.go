package service

import (
	"context"
	"echoscribe/internal/metrics"
	"echoscribe/internal/models"
	"echoscribe/internal/repository"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobService accepts upload notifications and serves job reads
type JobService struct {
	jobs        repository.JobRepository
	queue       repository.TaskQueue
	namespace   string
	maxAttempts int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewJobService creates a new job service
func NewJobService(jobs repository.JobRepository, queue repository.TaskQueue, namespace string, maxAttempts int, metrics *metrics.Metrics, logger *slog.Logger) *JobService {
	return &JobService{
		jobs:        jobs,
		queue:       queue,
		namespace:   strings.Trim(namespace, "/"),
		maxAttempts: maxAttempts,
		metrics:     metrics,
		logger:      logger.With("component", "ingestion"),
	}
}

// ParseUploadPath splits <namespace>/<ownerId>/<disambiguator>_<filename> into owner and file name
func ParseUploadPath(namespace, path string) (ownerID, fileName string, err error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if segments[0] != namespace {
		return "", "", ErrOutsideNamespace
	}
	if len(segments) < 3 || segments[1] == "" {
		return "", "", ErrMalformedPath
	}

	last := segments[len(segments)-1]
	if last == "" {
		return "", "", ErrMalformedPath
	}
	fileName = last
	if _, after, found := strings.Cut(last, "_"); found && after != "" {
		fileName = after
	}
	return segments[1], fileName, nil
}

// HandleUpload creates one queued job and one task per uploaded object. Redelivered
// notifications return the existing job without enqueueing again.
func (s *JobService) HandleUpload(ctx context.Context, n *models.UploadNotification) (*models.Job, error) {
	ownerID, fileName, err := ParseUploadPath(s.namespace, n.Path)
	if err != nil {
		if errors.Is(err, ErrMalformedPath) {
			s.logger.Warn("ignoring malformed upload path", "path", n.Path)
		}
		return nil, err
	}

	existing, err := s.jobs.GetJobBySourcePath(ctx, n.Path)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing job: %w", err)
	}
	if existing != nil {
		s.logger.Info("duplicate upload notification", "job_id", existing.ID, "path", n.Path)
		return existing, nil
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		SourcePath:  n.Path,
		FileName:    fileName,
		Size:        n.Size,
		ContentType: n.ContentType,
		Status:      models.StatusQueued,
		QueuedAt:    &now,
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		var dupErr *repository.ErrDuplicateSourcePath
		if errors.As(err, &dupErr) {
			existing, fetchErr := s.jobs.GetJobBySourcePath(ctx, dupErr.SourcePath)
			if fetchErr != nil {
				return nil, fmt.Errorf("failed to fetch existing job: %w", fetchErr)
			}
			s.logger.Info("duplicate upload notification (race condition)", "job_id", existing.ID, "path", n.Path)
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.metrics.IncrementJobsCreated()

	task := &models.Task{
		ID:          uuid.New().String(),
		JobID:       job.ID,
		SourcePath:  job.SourcePath,
		MaxAttempts: s.maxAttempts,
	}
	if err := s.queue.EnqueueTask(ctx, task); err != nil {
		s.logger.Error("failed to enqueue task", "job_id", job.ID, "error", err)

		detail := &models.ErrorDetail{
			Code:      models.ErrorCodeEnqueueFailed,
			Message:   fmt.Sprintf("failed to enqueue processing task: %v", err),
			Timestamp: time.Now().UTC(),
		}
		if markErr := s.jobs.MarkError(ctx, job.ID, detail); markErr != nil {
			s.logger.Error("failed to mark job error after enqueue failure", "job_id", job.ID, "error", markErr)
			return job, fmt.Errorf("failed to enqueue task: %w", errors.Join(err, markErr))
		}
		job.Status = models.StatusError
		job.ErrorMessage = detail.Message
		job.ErrorDetail = detail
		job.ErrorAt = &detail.Timestamp
		return job, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info("job queued", "job_id", job.ID, "owner_id", ownerID, "task_id", task.ID, "size", n.Size)
	return job, nil
}

// GetJob retrieves a job by ID
func (s *JobService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.jobs.GetJobByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs retrieves an owner's jobs, optionally filtered by status
func (s *JobService) ListJobs(ctx context.Context, ownerID string, status models.JobStatus) ([]*models.Job, error) {
	jobs, err := s.jobs.ListJobsByOwner(ctx, ownerID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListDeadLetterTasks retrieves all dead letter tasks
func (s *JobService) ListDeadLetterTasks(ctx context.Context) ([]*models.DeadLetterTask, error) {
	tasks, err := s.queue.ListDeadLetterTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter tasks: %w", err)
	}
	return tasks, nil
}
