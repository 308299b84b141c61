package handler

import (
	"echoscribe/internal/models"
	"echoscribe/internal/service"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleUploadNotification handles POST /v1/notifications/upload
func (s *Server) handleUploadNotification(c *gin.Context) {
	var n models.UploadNotification
	if err := c.ShouldBindJSON(&n); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if n.Path == "" {
		errorJSON(c, http.StatusBadRequest, "path is required")
		return
	}

	job, err := s.deps.Jobs.HandleUpload(c.Request.Context(), &n)
	if err != nil {
		// not an upload this service owns
		if errors.Is(err, service.ErrMalformedPath) || errors.Is(err, service.ErrOutsideNamespace) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": err.Error()})
			return
		}
		s.logger.Error("error handling upload", "path", n.Path, "error", err)
		if job != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job", "job": job})
			return
		}
		errorJSON(c, http.StatusInternalServerError, "failed to create job")
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// handleGetJob handles GET /v1/jobs/:id
func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.deps.Jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			errorJSON(c, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("error getting job", "job_id", c.Param("id"), "error", err)
		errorJSON(c, http.StatusInternalServerError, "failed to retrieve job")
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleListJobs handles GET /v1/jobs?owner=&status=
func (s *Server) handleListJobs(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		errorJSON(c, http.StatusBadRequest, "owner query parameter is required")
		return
	}

	status := models.JobStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		errorJSON(c, http.StatusBadRequest, "invalid status")
		return
	}

	jobs, err := s.deps.Jobs.ListJobs(c.Request.Context(), owner, status)
	if err != nil {
		s.logger.Error("error listing jobs", "owner_id", owner, "error", err)
		errorJSON(c, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

// handleDeadLetterQueue handles GET /v1/dlq
func (s *Server) handleDeadLetterQueue(c *gin.Context) {
	tasks, err := s.deps.Jobs.ListDeadLetterTasks(c.Request.Context())
	if err != nil {
		s.logger.Error("error listing dead letter tasks", "error", err)
		errorJSON(c, http.StatusInternalServerError, "failed to list dead letter queue")
		return
	}
	if tasks == nil {
		tasks = []*models.DeadLetterTask{}
	}
	c.JSON(http.StatusOK, tasks)
}
