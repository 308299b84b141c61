package models

import "time"

// TaskStatus represents the queue state of a task
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskLeased  TaskStatus = "leased"
	TaskDone    TaskStatus = "done"
	TaskDead    TaskStatus = "dead"
)

// Task is a durable queue entry delivering a TaskMessage
type Task struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	SourcePath  string     `json:"source_path"`
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	AvailableAt time.Time  `json:"available_at"`
	LeasedUntil *time.Time `json:"leased_until,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Message returns the payload delivered to the orchestrator
func (t *Task) Message() TaskMessage {
	return TaskMessage{JobID: t.JobID, SourcePath: t.SourcePath}
}

// DeadLetterTask represents a task the queue stopped delivering
type DeadLetterTask struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	JobID         string    `json:"job_id"`
	SourcePath    string    `json:"source_path"`
	Attempts      int       `json:"attempts"`
	FailureReason string    `json:"failure_reason"`
	FailedAt      time.Time `json:"failed_at"`
}
