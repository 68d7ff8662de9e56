package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskStatus represents the state of a shop-floor task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusScheduled  TaskStatus = "scheduled"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// Task is a schedulable unit of work belonging to a work order.
// Invariant: LockFlag implies all four lock fields are populated and
// LockedStartAt < LockedEndAt.
type Task struct {
	ID                  uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	OrgID               uuid.UUID  `json:"org_id" gorm:"type:uuid;not null;index"`
	WorkOrderID         uuid.UUID  `json:"work_order_id" gorm:"type:uuid;not null;index"`
	Type                string     `json:"type" gorm:"type:varchar(64);not null"`
	Status              TaskStatus `json:"status" gorm:"type:varchar(20);not null;default:'todo'"`
	RequiredSkill       *string    `json:"required_skill"`
	RequiredSkillIsHard bool       `json:"required_skill_is_hard" gorm:"not null;default:false"`
	RequiredBayType     *string    `json:"required_bay_type"`
	EarliestStart       *time.Time `json:"earliest_start"`
	LatestFinish        *time.Time `json:"latest_finish"`
	DurationMinutesLow  int        `json:"duration_minutes_low" gorm:"not null;default:0"`
	DurationMinutesHigh int        `json:"duration_minutes_high" gorm:"not null;default:0"`

	LockFlag      bool       `json:"lock_flag" gorm:"not null;default:false"`
	LockedTechID  *uuid.UUID `json:"locked_tech_id" gorm:"type:uuid"`
	LockedBayID   *uuid.UUID `json:"locked_bay_id" gorm:"type:uuid"`
	LockedStartAt *time.Time `json:"locked_start_at"`
	LockedEndAt   *time.Time `json:"locked_end_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }

func (t *Task) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return
}

// DurationMinutes is the planning duration: the floor of the mean of the
// low/high estimate.
func (t *Task) DurationMinutes() int {
	return (t.DurationMinutesLow + t.DurationMinutesHigh) / 2
}

// Technician performs tasks. Created and mutated by administrative
// collaborators; read-only to the scheduler core.
type Technician struct {
	ID                   uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	OrgID                uuid.UUID `json:"org_id" gorm:"type:uuid;not null;index"`
	Name                 string    `json:"name" gorm:"not null"`
	EfficiencyMultiplier float64   `json:"efficiency_multiplier" gorm:"not null;default:1.0"`
	WIPLimit             int       `json:"wip_limit" gorm:"column:wip_limit;not null;default:1"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`

	// Loaded from technician_skills, not a column.
	Skills []string `json:"skills" gorm:"-"`
}

func (Technician) TableName() string { return "technicians" }

func (t *Technician) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return
}

// HasSkill reports whether the technician holds the given skill tag.
func (t *Technician) HasSkill(skill string) bool {
	for _, s := range t.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// TechnicianSkill is one skill tag held by a technician.
type TechnicianSkill struct {
	TechnicianID uuid.UUID `json:"technician_id" gorm:"type:uuid;primaryKey"`
	Skill        string    `json:"skill" gorm:"primaryKey"`
	OrgID        uuid.UUID `json:"org_id" gorm:"type:uuid;not null;index"`
}

func (TechnicianSkill) TableName() string { return "technician_skills" }

// Bay is a physical work location. Only active bays participate in
// scheduling.
type Bay struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	OrgID     uuid.UUID `json:"org_id" gorm:"type:uuid;not null;index"`
	Name      string    `json:"name" gorm:"not null"`
	BayType   string    `json:"bay_type" gorm:"type:varchar(64);not null"`
	Capacity  int       `json:"capacity" gorm:"not null;default:1"`
	IsActive  bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Bay) TableName() string { return "bays" }

func (b *Bay) BeforeCreate(tx *gorm.DB) (err error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return
}

// WorkOrder is the scheduling projection of a work order: priority 1..5
// (5 highest), an optional due date, and the parts-readiness gate.
type WorkOrder struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	OrgID      uuid.UUID  `json:"org_id" gorm:"type:uuid;not null;index"`
	Priority   int        `json:"priority" gorm:"not null;default:3"`
	DueDate    *time.Time `json:"due_date"`
	PartsReady bool       `json:"parts_ready" gorm:"not null;default:true"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (WorkOrder) TableName() string { return "work_orders" }

func (w *WorkOrder) BeforeCreate(tx *gorm.DB) (err error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return
}
