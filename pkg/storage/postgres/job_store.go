package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopfloor/pkg/models"
	"shopfloor/pkg/storage"
)

// knownJobTypes gates enqueue: a job with no handler would only burn its
// attempts in the dead-letter path.
var knownJobTypes = map[models.JobType]bool{
	models.JobTypeAIEnrich:    true,
	models.JobTypeScheduleRun: true,
}

// Enqueue persists a new queued job after validating its type.
func (s *PostgresStore) Enqueue(ctx context.Context, job *models.Job) error {
	if !knownJobTypes[job.Type] {
		return fmt.Errorf("%w: %q", storage.ErrUnknownJobType, job.Type)
	}
	job.Status = models.JobStatusQueued
	result := s.db.WithContext(ctx).Create(job)
	if result.Error != nil {
		return fmt.Errorf("failed to enqueue job: %w", result.Error)
	}
	return nil
}

// GetJob retrieves a job by ID scoped to an org. Rows belonging to other
// orgs are indistinguishable from missing rows.
func (s *PostgresStore) GetJob(ctx context.Context, orgID, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	result := s.db.WithContext(ctx).
		First(&job, "id = ? AND org_id = ?", id, orgID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &job, nil
}

// ListJobs returns recent jobs for an org, newest first.
func (s *PostgresStore) ListJobs(ctx context.Context, orgID uuid.UUID, filter storage.JobFilter) ([]models.Job, error) {
	query := s.db.WithContext(ctx).Where("org_id = ?", orgID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var jobs []models.Job
	result := query.Order("created_at desc").Limit(limit).Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", result.Error)
	}
	return jobs, nil
}

// ClaimNextJob atomically claims the oldest due queued job for a worker.
// SKIP LOCKED makes concurrent claimers pass over each other's rows
// instead of blocking, so exactly one claimer wins each job.
func (s *PostgresStore) ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error) {
	var job models.Job
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND run_after <= ?", models.JobStatusQueued, now).
			Order("run_after asc, created_at asc").
			First(&job)
		if result.Error != nil {
			return result.Error
		}

		// The row is locked; the plain increment cannot race.
		return tx.Model(&job).Updates(map[string]interface{}{
			"status":    models.JobStatusRunning,
			"locked_at": now,
			"locked_by": workerID,
			"attempts":  job.Attempts + 1,
		}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // Nothing due
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

// MarkJobSucceeded finalizes a running job and releases its lock.
func (s *PostgresStore) MarkJobSucceeded(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":    models.JobStatusSucceeded,
			"locked_at": nil,
			"locked_by": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job succeeded: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RequeueJob returns a failed job to the queue with a backoff delay.
func (s *PostgresStore) RequeueJob(ctx context.Context, id uuid.UUID, handlerErr string, backoff time.Duration) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":    models.JobStatusQueued,
			"run_after": time.Now().Add(backoff),
			"error":     handlerErr,
			"locked_at": nil,
			"locked_by": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to requeue job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeadLetterJob marks a job terminally failed with its final error.
func (s *PostgresStore) DeadLetterJob(ctx context.Context, id uuid.UUID, handlerErr string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":    models.JobStatusFailed,
			"error":     handlerErr,
			"locked_at": nil,
			"locked_by": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to dead-letter job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ReapStaleJobs requeues running jobs whose lock predates the cutoff,
// recovering work orphaned by crashed workers. Attempts keep the value
// stamped at claim time.
func (s *PostgresStore) ReapStaleJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("status = ? AND locked_at < ?", models.JobStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":    models.JobStatusQueued,
			"run_after": time.Now(),
			"locked_at": nil,
			"locked_by": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reap stale jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// QueueDepth counts jobs currently claimable.
func (s *PostgresStore) QueueDepth(ctx context.Context) (int64, error) {
	var n int64
	result := s.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("status = ? AND run_after <= ?", models.JobStatusQueued, time.Now()).
		Count(&n)
	if result.Error != nil {
		return 0, result.Error
	}
	return n, nil
}
