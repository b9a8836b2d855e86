package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/otcheredev/ris-study-ingest/internal/apperr"
	"github.com/otcheredev/ris-study-ingest/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const uniqueViolation = "23505"

// GormStudyRepository handles study database operations
type GormStudyRepository struct {
	db       *gorm.DB
	patients PatientDirectory
}

// NewGormStudyRepository creates a new study repository
func NewGormStudyRepository(db *gorm.DB, patients PatientDirectory) *GormStudyRepository {
	return &GormStudyRepository{db: db, patients: patients}
}

// Create inserts the study, series and instances in one transaction
func (r *GormStudyRepository) Create(ctx context.Context, patientID uuid.UUID, meta *models.DicomMetadata, storageID string) (*models.StudyAggregate, error) {
	const op = "repository.Create"

	agg, err := newAggregate(patientID, meta, storageID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	exists, err := r.patients.PatientExists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.Newf(apperr.KindNotFound, op, "patient %s not found", patientID)
	}

	// Start transaction
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, classify(op, tx.Error, "failed to begin transaction")
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var count int64
	if err := tx.Model(&models.DicomStudy{}).
		Where("study_instance_uid = ?", agg.Study.StudyInstanceUID).
		Count(&count).Error; err != nil {
		tx.Rollback()
		return nil, classify(op, err, "failed to check existing study")
	}
	if count > 0 {
		tx.Rollback()
		return nil, apperr.Newf(apperr.KindConflict, op, "study %s already ingested", agg.Study.StudyInstanceUID)
	}

	if err := tx.Create(&agg.Study).Error; err != nil {
		tx.Rollback()
		return nil, classify(op, err, "failed to create study")
	}
	if len(agg.Series) > 0 {
		if err := tx.Create(&agg.Series).Error; err != nil {
			tx.Rollback()
			return nil, classify(op, err, "failed to create series")
		}
	}
	if len(agg.Instances) > 0 {
		if err := tx.CreateInBatches(&agg.Instances, 500).Error; err != nil {
			tx.Rollback()
			return nil, classify(op, err, "failed to create instances")
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, classify(op, err, "failed to commit study")
	}

	return agg, nil
}

// GetByStudyInstanceUID retrieves a study by its DICOM UID
func (r *GormStudyRepository) GetByStudyInstanceUID(ctx context.Context, studyUID string) (*models.StudyAggregate, error) {
	const op = "repository.GetByStudyInstanceUID"

	var study models.DicomStudy
	if err := r.db.WithContext(ctx).Where("study_instance_uid = ?", studyUID).First(&study).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Newf(apperr.KindNotFound, op, "study %s not found", studyUID)
		}
		return nil, classify(op, err, "failed to get study")
	}
	return r.loadChildren(ctx, op, study)
}

// GetByID retrieves a study by its surrogate id
func (r *GormStudyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.StudyAggregate, error) {
	const op = "repository.GetByID"

	var study models.DicomStudy
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&study).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Newf(apperr.KindNotFound, op, "study %s not found", id)
		}
		return nil, classify(op, err, "failed to get study")
	}
	return r.loadChildren(ctx, op, study)
}

func (r *GormStudyRepository) loadChildren(ctx context.Context, op string, study models.DicomStudy) (*models.StudyAggregate, error) {
	agg := &models.StudyAggregate{Study: study}

	if err := r.db.WithContext(ctx).
		Where("study_id = ?", study.ID).
		Order("created_at ASC, series_instance_uid ASC").
		Find(&agg.Series).Error; err != nil {
		return nil, classify(op, err, "failed to get series")
	}
	if len(agg.Series) == 0 {
		return agg, nil
	}

	seriesIDs := make([]uuid.UUID, len(agg.Series))
	for i, s := range agg.Series {
		seriesIDs[i] = s.ID
	}
	if err := r.db.WithContext(ctx).
		Where("series_id IN ?", seriesIDs).
		Order("created_at ASC, sop_instance_uid ASC").
		Find(&agg.Instances).Error; err != nil {
		return nil, classify(op, err, "failed to get instances")
	}

	return agg, nil
}

// GetByPatientID lists a patient's studies, newest study date first
func (r *GormStudyRepository) GetByPatientID(ctx context.Context, patientID uuid.UUID) ([]models.DicomStudy, error) {
	var studies []models.DicomStudy
	if err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("study_date DESC, study_instance_uid ASC").
		Find(&studies).Error; err != nil {
		return nil, classify("repository.GetByPatientID", err, "failed to get studies")
	}
	return studies, nil
}

// UpdateStatus moves a study through its lifecycle. The row is locked so
// concurrent transitions are serialized.
func (r *GormStudyRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.StudyStatus) error {
	const op = "repository.UpdateStatus"

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var study models.DicomStudy
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "status").
			Where("id = ?", id).
			First(&study).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.Newf(apperr.KindNotFound, op, "study %s not found", id)
			}
			return classify(op, err, "failed to lock study")
		}

		if !study.Status.CanTransitionTo(status) {
			return invalidTransition(op, study.Status, status)
		}

		if err := tx.Model(&models.DicomStudy{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":     status,
				"updated_at": time.Now().UTC(),
			}).Error; err != nil {
			return classify(op, err, "failed to update status")
		}
		return nil
	})
}

// Delete removes instances, series and the study in one transaction
func (r *GormStudyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "repository.Delete"

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seriesIDs := tx.Model(&models.DicomSeries{}).Select("id").Where("study_id = ?", id)

		if err := tx.Where("series_id IN (?)", seriesIDs).Delete(&models.DicomInstance{}).Error; err != nil {
			return classify(op, err, "failed to delete instances")
		}
		if err := tx.Where("study_id = ?", id).Delete(&models.DicomSeries{}).Error; err != nil {
			return classify(op, err, "failed to delete series")
		}

		res := tx.Where("id = ?", id).Delete(&models.DicomStudy{})
		if res.Error != nil {
			return classify(op, res.Error, "failed to delete study")
		}
		if res.RowsAffected == 0 {
			return apperr.Newf(apperr.KindNotFound, op, "study %s not found", id)
		}
		return nil
	})
}

// classify maps store errors onto the error taxonomy
func classify(op string, err error, msg string) error {
	switch {
	case isUniqueViolation(err):
		return apperr.Wrap(apperr.KindConflict, op, err, "study already ingested")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.FromContext(op, err)
	default:
		return apperr.Wrap(apperr.KindInternal, op, err, msg)
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// GormPatientDirectory looks patients up in an existing table. The table is
// owned by the patient registry and never migrated here.
type GormPatientDirectory struct {
	db    *gorm.DB
	table string
}

// NewGormPatientDirectory creates a directory over table (default "patients")
func NewGormPatientDirectory(db *gorm.DB, table string) (*GormPatientDirectory, error) {
	if table == "" {
		table = "patients"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid patient table name %q", table)
	}
	return &GormPatientDirectory{db: db, table: table}, nil
}

// PatientExists reports whether a row with the given id exists
func (d *GormPatientDirectory) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).Table(d.table).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, classify("repository.PatientExists", err, "failed to look up patient")
	}
	return count > 0, nil
}
