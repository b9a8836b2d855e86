package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/otcheredev/ris-study-ingest/internal/models"
	"gorm.io/gorm"
)

// AuditStore records and queries audit log entries
type AuditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
	GetByPatientID(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
	GetByResourceUID(ctx context.Context, resourceUID string) ([]models.AuditLog, error)
}

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create creates a new audit log entry
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// GetByPatientID retrieves audit logs for a patient
func (r *AuditRepository) GetByPatientID(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	query := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to get audit logs: %w", err)
	}

	return logs, nil
}

// GetByResourceUID retrieves audit logs for a specific study
func (r *AuditRepository) GetByResourceUID(ctx context.Context, resourceUID string) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	if err := r.db.WithContext(ctx).
		Where("resource_uid = ?", resourceUID).
		Order("created_at DESC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to get audit logs: %w", err)
	}
	return logs, nil
}

// MemoryAuditRepository keeps audit logs in memory
type MemoryAuditRepository struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

// NewMemoryAuditRepository creates a new in-memory audit repository
func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

// Create appends an audit log entry
func (r *MemoryAuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	r.logs = append(r.logs, *log)
	return nil
}

// GetByPatientID retrieves audit logs for a patient, newest first
func (r *MemoryAuditRepository) GetByPatientID(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.AuditLog
	skipped := 0
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].PatientID != patientID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, r.logs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetByResourceUID retrieves audit logs for a specific study, newest first
func (r *MemoryAuditRepository) GetByResourceUID(ctx context.Context, resourceUID string) ([]models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].ResourceUID == resourceUID {
			out = append(out, r.logs[i])
		}
	}
	return out, nil
}
