package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunStatus represents the lifecycle of a schedule run.
// Runs advance queued -> running -> {succeeded, failed} exactly once.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// SolverStatusInfeasible is recorded on a run when the model had no
// feasible assignment. Infeasibility is a result, not an error.
const SolverStatusInfeasible = "INFEASIBLE"

// Breakdown decomposes the total penalty into its objective components.
// All terms are integers; the sum of the categories equals Total.
type Breakdown struct {
	Total         int64 `json:"total_penalty"`
	DueDate       int64 `json:"due_date_penalty"`
	Priority      int64 `json:"priority_penalty"`
	SkillMismatch int64 `json:"skill_mismatch_penalty"`
	PartsNotReady int64 `json:"parts_not_ready_penalty"`
}

func (b *Breakdown) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, b)
}

func (b Breakdown) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// ScheduleRun records one invocation of the schedule solver over a horizon.
type ScheduleRun struct {
	ID               uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	OrgID            uuid.UUID  `json:"org_id" gorm:"type:uuid;not null;index"`
	HorizonStart     time.Time  `json:"horizon_start" gorm:"not null"`
	HorizonEnd       time.Time  `json:"horizon_end" gorm:"not null"`
	Status           RunStatus  `json:"status" gorm:"type:varchar(20);not null;default:'queued'"`
	Trigger          string     `json:"trigger" gorm:"type:varchar(32);not null;default:'manual'"`
	LockedTaskCount  int        `json:"locked_task_count" gorm:"not null;default:0"`
	TaskCount        *int       `json:"task_count"`
	SolverWallTimeMS *int64     `json:"solver_wall_time_ms"`
	ObjectiveValue   *int64     `json:"objective_value"`
	Breakdown        *Breakdown `json:"objective_breakdown" gorm:"column:objective_breakdown;type:jsonb"`
	SolverStatus     *string    `json:"solver_status"`
	InfeasibleReason *string    `json:"infeasible_reason"`
	CreatedBy        *uuid.UUID `json:"created_by" gorm:"type:uuid"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (ScheduleRun) TableName() string { return "schedule_runs" }

func (r *ScheduleRun) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

// Why is the structured explanation attached to a schedule item.
type Why map[string]interface{}

func (w *Why) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, w)
}

func (w Why) Value() (driver.Value, error) {
	if w == nil {
		return nil, nil
	}
	return json.Marshal(w)
}

// ScheduleItem is one task assignment produced by a schedule run.
// Items for a run are replaced atomically: old rows deleted and new rows
// inserted in the same transaction.
type ScheduleItem struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	OrgID         uuid.UUID `json:"org_id" gorm:"type:uuid;not null;index"`
	ScheduleRunID uuid.UUID `json:"schedule_run_id" gorm:"type:uuid;not null;index"`
	TaskID        uuid.UUID `json:"task_id" gorm:"type:uuid;not null"`
	TechnicianID  uuid.UUID `json:"technician_id" gorm:"type:uuid;not null"`
	BayID         uuid.UUID `json:"bay_id" gorm:"type:uuid;not null"`
	StartAt       time.Time `json:"start_at" gorm:"not null"`
	EndAt         time.Time `json:"end_at" gorm:"not null"`
	IsLocked      bool      `json:"is_locked" gorm:"not null;default:false"`
	Why           Why       `json:"why" gorm:"type:jsonb"`
	CreatedAt     time.Time `json:"created_at"`

	// Denormalized for item listings (joined, not stored).
	TechnicianName string `json:"technician_name,omitempty" gorm:"-"`
	BayName        string `json:"bay_name,omitempty" gorm:"-"`
}

func (ScheduleItem) TableName() string { return "schedule_items" }

func (i *ScheduleItem) BeforeCreate(tx *gorm.DB) (err error) {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return
}
