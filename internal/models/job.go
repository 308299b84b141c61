package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the state of a job
type JobStatus string

const (
	StatusUploaded   JobStatus = "uploaded"
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
)

// Valid reports whether s is one of the known job states
func (s JobStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusQueued, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Error codes recorded in ErrorDetail
const (
	ErrorCodeJobNotFound      = "job_not_found"
	ErrorCodeSourceNotFound   = "source_not_found"
	ErrorCodeGeneration       = "generation_failed"
	ErrorCodeInvalidOutput    = "invalid_output"
	ErrorCodePersist          = "persist_failed"
	ErrorCodeEnqueueFailed    = "enqueue_failed"
	ErrorCodeDispatchDeadline = "dispatch_deadline_exceeded"
	ErrorCodeAttemptTimeout   = "attempt_timeout"
	ErrorCodeInternal         = "internal"
)

// ErrorDetail is the structured failure record kept on a job in error state
type ErrorDetail struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Context   string    `json:"context,omitempty"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is one uploaded media file moving through the pipeline
type Job struct {
	ID                    string       `json:"id"`
	OwnerID               string       `json:"owner_id"`
	SourcePath            string       `json:"source_path"`
	FileName              string       `json:"file_name"`
	Size                  int64        `json:"size"`
	ContentType           string       `json:"content_type"`
	Status                JobStatus    `json:"status"`
	ResultID              string       `json:"result_id,omitempty"`
	ErrorMessage          string       `json:"error_message,omitempty"`
	ErrorDetail           *ErrorDetail `json:"error_detail,omitempty"`
	QueuedAt              *time.Time   `json:"queued_at,omitempty"`
	ProcessingStartedAt   *time.Time   `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time   `json:"processing_completed_at,omitempty"`
	ErrorAt               *time.Time   `json:"error_at,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// IsTerminal reports whether the job reached completed
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted
}

// UploadNotification is the finalized-upload event consumed by ingestion
type UploadNotification struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// UnmarshalJSON also accepts content_type from snake_case clients
func (n *UploadNotification) UnmarshalJSON(data []byte) error {
	type plain UploadNotification
	var aux struct {
		plain
		SnakeContentType string `json:"content_type"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*n = UploadNotification(aux.plain)
	if n.ContentType == "" {
		n.ContentType = aux.SnakeContentType
	}
	return nil
}

// TaskMessage is the unit of work handed to the orchestrator
type TaskMessage struct {
	JobID      string `json:"job_id"`
	SourcePath string `json:"source_path"`
}
