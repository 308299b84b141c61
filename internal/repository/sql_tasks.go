package repository

import (
	"context"
	"database/sql"
	"echoscribe/internal/models"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// leaseLockKey serializes lease decisions across workers on postgres
const leaseLockKey = 7231001

var taskColumns = []string{
	"id", "job_id", "source_path", "status", "attempts", "max_attempts",
	"available_at", "leased_until", "last_error", "created_at", "updated_at",
}

// EnqueueTask stores a new pending task
func (s *SQLStore) EnqueueTask(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()
	task.Status = models.TaskPending
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.AvailableAt.IsZero() {
		task.AvailableAt = now
	}

	insert := s.sb.Insert("tasks").Columns(taskColumns...).Values(
		task.ID,
		task.JobID,
		task.SourcePath,
		task.Status,
		task.Attempts,
		task.MaxAttempts,
		task.AvailableAt.Unix(),
		nil,
		stringOrNull(task.LastError),
		task.CreatedAt.Unix(),
		task.UpdatedAt.Unix(),
	)
	if _, err := s.exec(ctx, s.db, insert); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// LeaseTask leases the oldest due task using a transaction. Tasks whose lease
// expired are redelivered. Each lease counts as one delivery attempt.
func (s *SQLStore) LeaseTask(ctx context.Context, leaseDuration time.Duration, maxLeased int) (*models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.driver == DriverPostgres {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", leaseLockKey); err != nil {
			return nil, fmt.Errorf("failed to acquire lease lock: %w", err)
		}
	}

	now := time.Now().UTC()
	nowUnix := now.Unix()

	if maxLeased > 0 {
		leased, err := s.countLeased(ctx, tx, nowUnix)
		if err != nil {
			return nil, err
		}
		if leased >= maxLeased {
			return nil, nil
		}
	}

	due := sq.Or{
		sq.And{sq.Eq{"status": models.TaskPending}, sq.LtOrEq{"available_at": nowUnix}},
		sq.And{sq.Eq{"status": models.TaskLeased}, sq.Lt{"leased_until": nowUnix}},
	}
	q := s.sb.Select(taskColumns...).From("tasks").
		Where(due).
		OrderBy("available_at ASC").
		Limit(1)
	if s.driver == DriverPostgres {
		q = q.Suffix("FOR UPDATE SKIP LOCKED")
	}

	row, err := s.queryRow(ctx, tx, q)
	if err != nil {
		return nil, err
	}
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find leasable task: %w", err)
	}

	leasedUntil := now.Add(leaseDuration)
	update := s.sb.Update("tasks").
		Set("status", models.TaskLeased).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("leased_until", leasedUntil.Unix()).
		Set("updated_at", nowUnix).
		Where(sq.Eq{"id": task.ID})
	if _, err := s.exec(ctx, tx, update); err != nil {
		return nil, fmt.Errorf("failed to lease task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lease: %w", err)
	}

	task.Status = models.TaskLeased
	task.Attempts++
	task.LeasedUntil = &leasedUntil
	task.UpdatedAt = now
	return task, nil
}

// ListAbandonedTasks returns pending tasks that became due before cutoff and were never picked up
func (s *SQLStore) ListAbandonedTasks(ctx context.Context, cutoff time.Time, limit int) ([]*models.Task, error) {
	q := s.sb.Select(taskColumns...).From("tasks").
		Where(sq.Eq{"status": models.TaskPending}).
		Where(sq.Lt{"available_at": cutoff.Unix()}).
		OrderBy("available_at ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	rows, err := s.query(ctx, s.db, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query abandoned tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// AbandonTask dead-letters a task that is still waiting for its first dispatch
func (s *SQLStore) AbandonTask(ctx context.Context, task *models.Task, failureReason string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	update := s.sb.Update("tasks").
		Set("status", models.TaskDead).
		Set("last_error", failureReason).
		Set("updated_at", now).
		Where(sq.Eq{"id": task.ID, "status": models.TaskPending})
	res, err := s.exec(ctx, tx, update)
	if err != nil {
		return false, fmt.Errorf("failed to abandon task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	insert := s.sb.Insert("dead_letter_tasks").
		Columns("id", "task_id", "job_id", "source_path", "attempts", "failure_reason", "failed_at").
		Values(uuid.New().String(), task.ID, task.JobID, task.SourcePath, task.Attempts, failureReason, now)
	if _, err := s.exec(ctx, tx, insert); err != nil {
		return false, fmt.Errorf("failed to insert dead letter task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// CompleteTask acknowledges a delivered task
func (s *SQLStore) CompleteTask(ctx context.Context, id string) error {
	update := s.sb.Update("tasks").
		Set("status", models.TaskDone).
		Set("leased_until", nil).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id})
	if err := s.execAffecting(ctx, update); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

// RetryTask releases a task for redelivery at availableAt
func (s *SQLStore) RetryTask(ctx context.Context, id string, availableAt time.Time, lastError string) error {
	update := s.sb.Update("tasks").
		Set("status", models.TaskPending).
		Set("available_at", availableAt.Unix()).
		Set("leased_until", nil).
		Set("last_error", lastError).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id})
	if err := s.execAffecting(ctx, update); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to reschedule task: %w", err)
	}
	return nil
}

// DeadLetterTask stops delivery of a task and records why, in one transaction
func (s *SQLStore) DeadLetterTask(ctx context.Context, task *models.Task, failureReason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	insert := s.sb.Insert("dead_letter_tasks").
		Columns("id", "task_id", "job_id", "source_path", "attempts", "failure_reason", "failed_at").
		Values(uuid.New().String(), task.ID, task.JobID, task.SourcePath, task.Attempts, failureReason, now)
	if _, err := s.exec(ctx, tx, insert); err != nil {
		return fmt.Errorf("failed to insert dead letter task: %w", err)
	}

	update := s.sb.Update("tasks").
		Set("status", models.TaskDead).
		Set("leased_until", nil).
		Set("last_error", failureReason).
		Set("updated_at", now).
		Where(sq.Eq{"id": task.ID})
	if _, err := s.exec(ctx, tx, update); err != nil {
		return fmt.Errorf("failed to mark task dead: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CountLeasedTasks returns the number of tasks currently in flight
func (s *SQLStore) CountLeasedTasks(ctx context.Context) (int, error) {
	return s.countLeased(ctx, s.db, time.Now().Unix())
}

func (s *SQLStore) countLeased(ctx context.Context, runner querier, nowUnix int64) (int, error) {
	q := s.sb.Select("COUNT(*)").From("tasks").
		Where(sq.Eq{"status": models.TaskLeased}).
		Where(sq.GtOrEq{"leased_until": nowUnix})
	row, err := s.queryRow(ctx, runner, q)
	if err != nil {
		return 0, err
	}
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count leased tasks: %w", err)
	}
	return count, nil
}

// ListDeadLetterTasks retrieves all dead letter tasks, newest first
func (s *SQLStore) ListDeadLetterTasks(ctx context.Context) ([]*models.DeadLetterTask, error) {
	q := s.sb.Select("id", "task_id", "job_id", "source_path", "attempts", "failure_reason", "failed_at").
		From("dead_letter_tasks").
		OrderBy("failed_at DESC")
	rows, err := s.query(ctx, s.db, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.DeadLetterTask
	for rows.Next() {
		var d models.DeadLetterTask
		var failedAt int64
		if err := rows.Scan(&d.ID, &d.TaskID, &d.JobID, &d.SourcePath, &d.Attempts, &d.FailureReason, &failedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter task: %w", err)
		}
		d.FailedAt = time.Unix(failedAt, 0).UTC()
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letter tasks: %w", err)
	}
	return out, nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	var leasedUntil sql.NullInt64
	var lastError sql.NullString
	var availableAt, createdAt, updatedAt int64

	err := row.Scan(
		&task.ID,
		&task.JobID,
		&task.SourcePath,
		&task.Status,
		&task.Attempts,
		&task.MaxAttempts,
		&availableAt,
		&leasedUntil,
		&lastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.AvailableAt = time.Unix(availableAt, 0).UTC()
	task.LeasedUntil = timeFromNull(leasedUntil)
	task.LastError = lastError.String
	task.CreatedAt = time.Unix(createdAt, 0).UTC()
	task.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &task, nil
}
