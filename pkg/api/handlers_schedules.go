package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopfloor/pkg/api/middleware"
	"shopfloor/pkg/logger"
	"shopfloor/pkg/metrics"
	"shopfloor/pkg/models"
	"shopfloor/pkg/storage"
)

// CreateScheduleRunRequest is the payload for triggering a schedule run.
type CreateScheduleRunRequest struct {
	HorizonStart     time.Time `json:"horizon_start" binding:"required"`
	HorizonEnd       time.Time `json:"horizon_end" binding:"required"`
	Trigger          string    `json:"trigger"`
	TimeLimitSeconds float64   `json:"time_limit_seconds"`
}

// createScheduleRun handles POST /v1/schedules. It records the run and
// enqueues the schedule_run job driving it; the solve happens on a worker.
func (s *Server) createScheduleRun(c *gin.Context) {
	orgID, ok := middleware.OrgIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req CreateScheduleRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.HorizonEnd.After(req.HorizonStart) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "horizon_end must be after horizon_start"})
		return
	}
	if req.TimeLimitSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "time_limit_seconds must be positive"})
		return
	}

	lockedCount, err := s.schedules.CountLockedTasks(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count locked tasks: " + err.Error()})
		return
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = "manual"
	}

	run := &models.ScheduleRun{
		OrgID:           orgID,
		HorizonStart:    req.HorizonStart,
		HorizonEnd:      req.HorizonEnd,
		Trigger:         trigger,
		LockedTaskCount: lockedCount,
	}
	if claims, ok := middleware.GetUserFromContext(c); ok {
		if actorID, err := uuid.Parse(claims.UserID); err == nil {
			run.CreatedBy = &actorID
		}
	}
	if err := s.schedules.CreateRun(c.Request.Context(), run); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create schedule run: " + err.Error()})
		return
	}

	payload := models.Payload{
		"schedule_run_id": run.ID.String(),
		"org_id":          orgID.String(),
		"horizon_start":   req.HorizonStart.Format(time.RFC3339),
		"horizon_end":     req.HorizonEnd.Format(time.RFC3339),
	}
	if req.TimeLimitSeconds > 0 {
		payload["time_limit_seconds"] = req.TimeLimitSeconds
	}

	job := &models.Job{
		OrgID:   orgID,
		Type:    models.JobTypeScheduleRun,
		Payload: payload,
		// A solve is deterministic for a given snapshot; retrying a
		// failed solve buys nothing.
		MaxAttempts: 1,
	}
	if err := s.jobs.Enqueue(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue schedule job: " + err.Error()})
		return
	}
	metrics.JobsEnqueued.WithLabelValues(string(models.JobTypeScheduleRun)).Inc()

	if s.notifier != nil {
		if err := s.notifier.NotifyEnqueued(c.Request.Context(), job.Type); err != nil {
			logger.Warn("enqueue notification failed", zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":     run.ID,
		"status": run.Status,
		"job_id": job.ID,
	})
}

// getScheduleRun handles GET /v1/schedules/:id
func (s *Server) getScheduleRun(c *gin.Context) {
	orgID, ok := middleware.OrgIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule run ID"})
		return
	}

	run, err := s.schedules.GetRun(c.Request.Context(), orgID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get schedule run: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, run)
}

// listScheduleRuns handles GET /v1/schedules
func (s *Server) listScheduleRuns(c *gin.Context) {
	orgID, ok := middleware.OrgIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = parsed
	}

	runs, err := s.schedules.ListRuns(c.Request.Context(), orgID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list schedule runs: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"schedule_runs": runs,
		"count":         len(runs),
	})
}

// listScheduleItems handles GET /v1/schedules/:id/items
func (s *Server) listScheduleItems(c *gin.Context) {
	orgID, ok := middleware.OrgIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule run ID"})
		return
	}

	// The run lookup both verifies existence and enforces the org scope.
	if _, err := s.schedules.GetRun(c.Request.Context(), orgID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get schedule run: " + err.Error()})
		return
	}

	items, err := s.schedules.ListItems(c.Request.Context(), orgID, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list schedule items: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}
