package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shopfloor/pkg/models"
	"shopfloor/pkg/scheduler"
	"shopfloor/pkg/storage"
)

// CreateRun persists a new queued schedule run.
func (s *PostgresStore) CreateRun(ctx context.Context, run *models.ScheduleRun) error {
	run.Status = models.RunStatusQueued
	result := s.db.WithContext(ctx).Create(run)
	if result.Error != nil {
		return fmt.Errorf("failed to create schedule run: %w", result.Error)
	}
	return nil
}

// GetRun retrieves a run by ID scoped to an org.
func (s *PostgresStore) GetRun(ctx context.Context, orgID, id uuid.UUID) (*models.ScheduleRun, error) {
	var run models.ScheduleRun
	result := s.db.WithContext(ctx).
		First(&run, "id = ? AND org_id = ?", id, orgID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &run, nil
}

// ListRuns returns recent runs for an org, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, orgID uuid.UUID, limit int) ([]models.ScheduleRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []models.ScheduleRun
	result := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at desc").
		Limit(limit).
		Find(&runs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list schedule runs: %w", result.Error)
	}
	return runs, nil
}

// ListItems returns a run's items ordered for the dispatch board: start
// time ascending, then technician name. Technician and bay names are
// joined in for display.
func (s *PostgresStore) ListItems(ctx context.Context, orgID, runID uuid.UUID) ([]models.ScheduleItem, error) {
	var items []models.ScheduleItem
	result := s.db.WithContext(ctx).
		Table("schedule_items").
		Select("schedule_items.*, technicians.name AS technician_name, bays.name AS bay_name").
		Joins("JOIN technicians ON technicians.id = schedule_items.technician_id").
		Joins("JOIN bays ON bays.id = schedule_items.bay_id").
		Where("schedule_items.schedule_run_id = ? AND schedule_items.org_id = ?", runID, orgID).
		Order("schedule_items.start_at asc, technicians.name asc").
		Scan(&items)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list schedule items: %w", result.Error)
	}
	return items, nil
}

// CountLockedTasks counts the org's locked todo tasks.
func (s *PostgresStore) CountLockedTasks(ctx context.Context, orgID uuid.UUID) (int, error) {
	var n int64
	result := s.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("org_id = ? AND status IN ? AND lock_flag = true", orgID,
			[]models.TaskStatus{models.TaskStatusTodo, models.TaskStatusScheduled}).
		Count(&n)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(n), nil
}

// openRunStatuses are the run states a worker may still act on. Terminal
// rows never transition again, even when a stray retry reaches them.
var openRunStatuses = []models.RunStatus{models.RunStatusQueued, models.RunStatusRunning}

// updateOpenRun applies fields to a run only while it is still open and
// belongs to the org. A vanished row maps to ErrNotFound, a terminal one
// to ErrConflict, so callers can tell "bad reference" from "already done".
func updateOpenRun(tx *gorm.DB, orgID, id uuid.UUID, fields map[string]interface{}) error {
	result := tx.Model(&models.ScheduleRun{}).
		Where("id = ? AND org_id = ? AND status IN ?", id, orgID, openRunStatuses).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var run models.ScheduleRun
		err := tx.First(&run, "id = ? AND org_id = ?", id, orgID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return storage.ErrConflict
	}
	return nil
}

// MarkRunRunning transitions a run to running. Re-running a reaped job
// finds the row already in running and proceeds; a terminal row returns
// ErrConflict.
func (s *PostgresStore) MarkRunRunning(ctx context.Context, orgID, id uuid.UUID) error {
	err := updateOpenRun(s.db.WithContext(ctx), orgID, id, map[string]interface{}{
		"status": models.RunStatusRunning,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	return nil
}

// MarkRunFailed finalizes a run that errored before or outside the
// solver (snapshot load failure, missing technicians, persistence error).
func (s *PostgresStore) MarkRunFailed(ctx context.Context, orgID, id uuid.UUID, reason string, wallTimeMS int64) error {
	err := updateOpenRun(s.db.WithContext(ctx), orgID, id, map[string]interface{}{
		"status":              models.RunStatusFailed,
		"infeasible_reason":   reason,
		"solver_wall_time_ms": wallTimeMS,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// MarkRunEmpty finalizes a run whose snapshot held no tasks.
func (s *PostgresStore) MarkRunEmpty(ctx context.Context, orgID, id uuid.UUID, wallTimeMS int64) error {
	err := updateOpenRun(s.db.WithContext(ctx), orgID, id, map[string]interface{}{
		"status":              models.RunStatusSucceeded,
		"task_count":          0,
		"objective_value":     int64(0),
		"solver_wall_time_ms": wallTimeMS,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to mark run empty: %w", err)
	}
	return nil
}

// SaveResult persists a solver outcome in one transaction. The run row,
// the item replacement and the task transitions commit or roll back
// together: a run in a terminal state always has consistent items. A run
// already finalized rejects the write with ErrConflict, so a stray retry
// can never flip a terminal run.
func (s *PostgresStore) SaveResult(ctx context.Context, orgID, runID uuid.UUID, res *scheduler.Result) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch res.Status {
		case scheduler.StatusSucceeded:
			return s.saveSucceeded(tx, orgID, runID, res)
		case scheduler.StatusInfeasible:
			return s.saveInfeasible(tx, orgID, runID, res)
		default:
			return fmt.Errorf("unexpected solver status %q", res.Status)
		}
	})
}

func (s *PostgresStore) saveSucceeded(tx *gorm.DB, orgID, runID uuid.UUID, res *scheduler.Result) error {
	taskCount := len(res.Items)
	wallMS := res.WallTimeMS()
	breakdown := res.Breakdown
	status := string(scheduler.StatusSucceeded)

	err := updateOpenRun(tx, orgID, runID, map[string]interface{}{
		"status":              models.RunStatusSucceeded,
		"task_count":          taskCount,
		"objective_value":     res.Objective,
		"objective_breakdown": breakdown,
		"solver_status":       status,
		"solver_wall_time_ms": wallMS,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to finalize run: %w", err)
	}

	// Replace, not merge: earlier partial writes for this run vanish.
	err = tx.Where("schedule_run_id = ? AND org_id = ?", runID, orgID).
		Delete(&models.ScheduleItem{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear old items: %w", err)
	}

	taskIDs := make([]uuid.UUID, 0, len(res.Items))
	for _, it := range res.Items {
		item := models.ScheduleItem{
			OrgID:         orgID,
			ScheduleRunID: runID,
			TaskID:        it.TaskID,
			TechnicianID:  it.TechnicianID,
			BayID:         it.BayID,
			StartAt:       it.StartAt,
			EndAt:         it.EndAt,
			IsLocked:      it.IsLocked,
			Why:           it.Why,
		}
		if err := tx.Create(&item).Error; err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		taskIDs = append(taskIDs, it.TaskID)
	}

	if len(taskIDs) > 0 {
		err = tx.Model(&models.Task{}).
			Where("id IN ? AND org_id = ? AND status = ?", taskIDs, orgID, models.TaskStatusTodo).
			Update("status", models.TaskStatusScheduled).Error
		if err != nil {
			return fmt.Errorf("failed to transition tasks: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) saveInfeasible(tx *gorm.DB, orgID, runID uuid.UUID, res *scheduler.Result) error {
	err := updateOpenRun(tx, orgID, runID, map[string]interface{}{
		"status":              models.RunStatusFailed,
		"solver_status":       models.SolverStatusInfeasible,
		"infeasible_reason":   res.Reason,
		"solver_wall_time_ms": res.WallTimeMS(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to record infeasible run: %w", err)
	}
	// No items survive an infeasible run.
	err = tx.Where("schedule_run_id = ? AND org_id = ?", runID, orgID).
		Delete(&models.ScheduleItem{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear old items: %w", err)
	}
	return nil
}

// AppendAudit inserts an audit entry. The table is append-only.
func (s *PostgresStore) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	result := s.db.WithContext(ctx).Create(entry)
	if result.Error != nil {
		return fmt.Errorf("failed to append audit entry: %w", result.Error)
	}
	return nil
}
