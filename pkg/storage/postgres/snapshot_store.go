package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"shopfloor/pkg/models"
	"shopfloor/pkg/scheduler"
)

// LoadSnapshot reads everything the solver needs inside one repeatable
// read transaction, so concurrent edits to tasks or staff cannot tear the
// view the solver reasons over.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, orgID, runID uuid.UUID, horizonStart, horizonEnd time.Time) (*scheduler.Snapshot, error) {
	snap := &scheduler.Snapshot{
		OrgID:         orgID,
		ScheduleRunID: runID,
		HorizonStart:  horizonStart,
		HorizonEnd:    horizonEnd,
		WorkOrders:    make(map[uuid.UUID]models.WorkOrder),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SET TRANSACTION ISOLATION LEVEL REPEATABLE READ").Error; err != nil {
			return err
		}

		// Already-scheduled tasks come back too: a re-solve may move them.
		if err := tx.
			Where("org_id = ? AND status IN ?", orgID,
				[]models.TaskStatus{models.TaskStatusTodo, models.TaskStatusScheduled}).
			Order("created_at asc").
			Find(&snap.Tasks).Error; err != nil {
			return fmt.Errorf("failed to load tasks: %w", err)
		}
		for i := range snap.Tasks {
			if err := checkLockFields(&snap.Tasks[i]); err != nil {
				return err
			}
		}

		if err := tx.
			Where("org_id = ?", orgID).
			Order("name asc").
			Find(&snap.Technicians).Error; err != nil {
			return fmt.Errorf("failed to load technicians: %w", err)
		}
		if err := loadSkills(tx, orgID, snap.Technicians); err != nil {
			return err
		}

		if err := tx.
			Where("org_id = ? AND is_active = true", orgID).
			Order("name asc").
			Find(&snap.Bays).Error; err != nil {
			return fmt.Errorf("failed to load bays: %w", err)
		}

		woIDs := make([]uuid.UUID, 0, len(snap.Tasks))
		seen := make(map[uuid.UUID]bool)
		for _, t := range snap.Tasks {
			if !seen[t.WorkOrderID] {
				seen[t.WorkOrderID] = true
				woIDs = append(woIDs, t.WorkOrderID)
			}
		}
		if len(woIDs) > 0 {
			var wos []models.WorkOrder
			if err := tx.Where("id IN ? AND org_id = ?", woIDs, orgID).Find(&wos).Error; err != nil {
				return fmt.Errorf("failed to load work orders: %w", err)
			}
			for _, wo := range wos {
				snap.WorkOrders[wo.ID] = wo
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// checkLockFields rejects a locked task whose reservation is incomplete.
// The schema does not enforce the quintuple, and a nil lock field would
// otherwise surface as a panic deep inside the solve.
func checkLockFields(t *models.Task) error {
	if !t.LockFlag {
		return nil
	}
	if t.LockedTechID == nil || t.LockedBayID == nil || t.LockedStartAt == nil || t.LockedEndAt == nil {
		return fmt.Errorf("task %s is locked but its reservation is incomplete", t.ID)
	}
	return nil
}

func loadSkills(tx *gorm.DB, orgID uuid.UUID, techs []models.Technician) error {
	if len(techs) == 0 {
		return nil
	}
	var rows []models.TechnicianSkill
	if err := tx.Where("org_id = ?", orgID).Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load technician skills: %w", err)
	}
	byTech := make(map[uuid.UUID][]string, len(techs))
	for _, r := range rows {
		byTech[r.TechnicianID] = append(byTech[r.TechnicianID], r.Skill)
	}
	for i := range techs {
		techs[i].Skills = byTech[techs[i].ID]
	}
	return nil
}
