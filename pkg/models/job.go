package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobType identifies which registered handler processes a job.
type JobType string

const (
	JobTypeAIEnrich    JobType = "ai_enrich"
	JobTypeScheduleRun JobType = "schedule_run"
)

// JobStatus represents the state of a job in the queue.
// succeeded and failed are terminal and absorbing.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is absorbing.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// JSONB structures need to implement Scanner/Valuer for GORM

// Payload is an opaque JSON document carried by a job. The store performs
// no schema check; the handler does.
type Payload map[string]interface{}

func (p *Payload) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, p)
}

func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return json.Marshal(Payload{})
	}
	return json.Marshal(p)
}

// Job is a durable unit of asynchronous work, tenant-scoped by OrgID.
// Invariant: status=running iff locked_by and locked_at are both set;
// attempts strictly increases on every claim. Rows are never deleted,
// terminal states persist for audit.
type Job struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	OrgID       uuid.UUID  `json:"org_id" gorm:"type:uuid;not null;index"`
	Type        JobType    `json:"type" gorm:"type:varchar(32);not null"`
	Payload     Payload    `json:"payload" gorm:"type:jsonb"`
	Status      JobStatus  `json:"status" gorm:"type:varchar(20);not null;default:'queued';index:idx_jobs_claim"`
	RunAfter    time.Time  `json:"run_after" gorm:"not null;index:idx_jobs_claim"`
	Attempts    int        `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts int        `json:"max_attempts" gorm:"not null;default:3"`
	LockedAt    *time.Time `json:"locked_at"`
	LockedBy    *string    `json:"locked_by"`
	Error       *string    `json:"error"`
	CreatedAt   time.Time  `json:"created_at" gorm:"index:idx_jobs_claim"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

// BeforeCreate hook to generate UUID if not present
func (j *Job) BeforeCreate(tx *gorm.DB) (err error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.RunAfter.IsZero() {
		j.RunAfter = time.Now()
	}
	return
}
