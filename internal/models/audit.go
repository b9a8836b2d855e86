package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit actions
const (
	AuditActionIngest = "study.ingest"
	AuditActionDelete = "study.delete"
)

// AuditLog represents an audit log entry
type AuditLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID       string    `gorm:"type:varchar(255);index" json:"user_id,omitempty"`
	PatientID    uuid.UUID `gorm:"type:uuid;index" json:"patient_id"`
	Action       string    `gorm:"type:varchar(100);not null;index" json:"action"`
	ResourceUID  string    `gorm:"type:varchar(255);index" json:"resource_uid"`
	StorageID    string    `gorm:"type:varchar(255)" json:"storage_id,omitempty"`
	Status       string    `gorm:"type:varchar(20);index" json:"status"` // success, failure, partial
	ErrorKind    string    `gorm:"type:varchar(50)" json:"error_kind,omitempty"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	Duration     int64     `json:"duration_ms"`
	CreatedAt    time.Time `gorm:"index" json:"timestamp"`
}

// TableName overrides the table name
func (AuditLog) TableName() string {
	return "audit_logs"
}

// BeforeCreate hook
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
