package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopfloor/pkg/api/middleware"
	"shopfloor/pkg/logger"
	"shopfloor/pkg/metrics"
	"shopfloor/pkg/models"
	"shopfloor/pkg/storage"
)

// --- Request/Response DTOs ---

// EnqueueJobRequest is the payload for enqueuing a new job.
type EnqueueJobRequest struct {
	Type        models.JobType `json:"type" binding:"required"`
	Payload     models.Payload `json:"payload"`
	MaxAttempts int            `json:"max_attempts"`
}

// --- Job Handlers ---

// createJob handles POST /v1/jobs
func (s *Server) createJob(c *gin.Context) {
	orgID, ok := middleware.OrgIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	if maxAttempts < 1 || maxAttempts > 10 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_attempts must be between 1 and 10"})
		return
	}

	job := &models.Job{
		OrgID:       orgID,
		Type:        req.Type,
		Payload:     req.Payload,
		MaxAttempts: maxAttempts,
	}

	if err := s.jobs.Enqueue(c.Request.Context(), job); err != nil {
		if errors.Is(err, storage.ErrUnknownJobType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job type: " + string(req.Type)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job: " + err.Error()})
		return
	}

	metrics.JobsEnqueued.WithLabelValues(string(job.Type)).Inc()

	// Best effort: a missed wake-up only costs one poll interval.
	if s.notifier != nil {
		if err := s.notifier.NotifyEnqueued(c.Request.Context(), job.Type); err != nil {
			logger.Warn("enqueue notification failed", zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":     job.ID,
		"status": job.Status,
	})
}

// getJob handles GET /v1/jobs/:id
func (s *Server) getJob(c *gin.Context) {
	orgID, ok := middleware.OrgIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job ID"})
		return
	}

	job, err := s.jobs.GetJob(c.Request.Context(), orgID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, job)
}

// listJobs handles GET /v1/jobs
func (s *Server) listJobs(c *gin.Context) {
	orgID, ok := middleware.OrgIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = parsed
	}

	filter := storage.JobFilter{
		Status: models.JobStatus(c.Query("status")),
		Type:   models.JobType(c.Query("type")),
		Limit:  limit,
	}

	jobs, err := s.jobs.ListJobs(c.Request.Context(), orgID, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}
