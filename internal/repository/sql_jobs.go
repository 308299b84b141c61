package repository

import (
	"context"
	"database/sql"
	"echoscribe/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var jobColumns = []string{
	"id", "owner_id", "source_path", "file_name", "size", "content_type", "status",
	"result_id", "error_message", "error_detail",
	"queued_at", "processing_started_at", "processing_completed_at", "error_at",
	"created_at", "updated_at",
}

// CreateJob creates a new job; a second job for the same source path yields ErrDuplicateSourcePath
func (s *SQLStore) CreateJob(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	insert := s.sb.Insert("jobs").Columns(jobColumns...).Values(
		job.ID,
		job.OwnerID,
		job.SourcePath,
		job.FileName,
		job.Size,
		job.ContentType,
		job.Status,
		stringOrNull(job.ResultID),
		stringOrNull(job.ErrorMessage),
		nil,
		unixOrNull(job.QueuedAt),
		unixOrNull(job.ProcessingStartedAt),
		unixOrNull(job.ProcessingCompletedAt),
		unixOrNull(job.ErrorAt),
		job.CreatedAt.Unix(),
		job.UpdatedAt.Unix(),
	)

	if _, err := s.exec(ctx, s.db, insert); err != nil {
		if isUniqueViolation(err) {
			return &ErrDuplicateSourcePath{SourcePath: job.SourcePath}
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJobByID retrieves a job by ID
func (s *SQLStore) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	return s.getJob(ctx, sq.Eq{"id": id})
}

// GetJobBySourcePath retrieves the job created for an uploaded object
func (s *SQLStore) GetJobBySourcePath(ctx context.Context, sourcePath string) (*models.Job, error) {
	return s.getJob(ctx, sq.Eq{"source_path": sourcePath})
}

func (s *SQLStore) getJob(ctx context.Context, where sq.Eq) (*models.Job, error) {
	row, err := s.queryRow(ctx, s.db, s.sb.Select(jobColumns...).From("jobs").Where(where))
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobsByOwner lists an owner's jobs, newest first; an empty status matches all
func (s *SQLStore) ListJobsByOwner(ctx context.Context, ownerID string, status models.JobStatus) ([]*models.Job, error) {
	q := s.sb.Select(jobColumns...).From("jobs").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC")
	if status != "" {
		q = q.Where(sq.Eq{"status": status})
	}

	rows, err := s.query(ctx, s.db, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// MarkProcessing moves a job into processing and stamps the attempt start
func (s *SQLStore) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	update := s.sb.Update("jobs").
		Set("status", models.StatusProcessing).
		Set("processing_started_at", at.Unix()).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id})
	if err := s.execAffecting(ctx, update); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	return nil
}

// MarkCompleted links the result and clears error state left by earlier attempts
func (s *SQLStore) MarkCompleted(ctx context.Context, id, resultID string, at time.Time) error {
	update := s.sb.Update("jobs").
		Set("status", models.StatusCompleted).
		Set("result_id", resultID).
		Set("processing_completed_at", at.Unix()).
		Set("error_message", nil).
		Set("error_detail", nil).
		Set("error_at", nil).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id})
	if err := s.execAffecting(ctx, update); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

// MarkError records the latest failure; completed jobs are left untouched
func (s *SQLStore) MarkError(ctx context.Context, id string, detail *models.ErrorDetail) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to encode error detail: %w", err)
	}

	update := s.sb.Update("jobs").
		Set("status", models.StatusError).
		Set("error_message", detail.Message).
		Set("error_detail", string(raw)).
		Set("error_at", detail.Timestamp.Unix()).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": models.StatusCompleted})
	if _, err := s.exec(ctx, s.db, update); err != nil {
		return fmt.Errorf("failed to mark job error: %w", err)
	}
	return nil
}

// DeleteJobsByOwner removes every job of an owner
func (s *SQLStore) DeleteJobsByOwner(ctx context.Context, ownerID string) (int64, error) {
	res, err := s.exec(ctx, s.db, s.sb.Delete("jobs").Where(sq.Eq{"owner_id": ownerID}))
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var resultID, errorMessage, errorDetail sql.NullString
	var queuedAt, startedAt, completedAt, errorAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.SourcePath,
		&job.FileName,
		&job.Size,
		&job.ContentType,
		&job.Status,
		&resultID,
		&errorMessage,
		&errorDetail,
		&queuedAt,
		&startedAt,
		&completedAt,
		&errorAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ResultID = resultID.String
	job.ErrorMessage = errorMessage.String
	if errorDetail.Valid && errorDetail.String != "" {
		var detail models.ErrorDetail
		if err := json.Unmarshal([]byte(errorDetail.String), &detail); err != nil {
			return nil, fmt.Errorf("failed to decode error detail: %w", err)
		}
		job.ErrorDetail = &detail
	}

	job.QueuedAt = timeFromNull(queuedAt)
	job.ProcessingStartedAt = timeFromNull(startedAt)
	job.ProcessingCompletedAt = timeFromNull(completedAt)
	job.ErrorAt = timeFromNull(errorAt)
	job.CreatedAt = time.Unix(createdAt, 0).UTC()
	job.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &job, nil
}
