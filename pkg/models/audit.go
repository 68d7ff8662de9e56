package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Diff captures the structured change attached to an audit entry.
type Diff map[string]interface{}

func (d *Diff) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, d)
}

func (d Diff) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// AuditLog is an append-only record of a state boundary crossing.
// Rows are inserted, never updated or deleted.
type AuditLog struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	OrgID      uuid.UUID  `json:"org_id" gorm:"type:uuid;not null;index"`
	ActorID    *uuid.UUID `json:"actor_id" gorm:"type:uuid"`
	EntityType string     `json:"entity_type" gorm:"type:varchar(32);not null"`
	EntityID   uuid.UUID  `json:"entity_id" gorm:"type:uuid;not null"`
	Action     string     `json:"action" gorm:"type:varchar(32);not null"`
	Diff       Diff       `json:"diff" gorm:"type:jsonb"`
	Reason     *string    `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_log" }

func (a *AuditLog) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return
}
