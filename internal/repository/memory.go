package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/otcheredev/ris-study-ingest/internal/apperr"
	"github.com/otcheredev/ris-study-ingest/internal/models"
)

// MemoryStudyRepository implements StudyRepository using in-memory storage
type MemoryStudyRepository struct {
	mu       sync.RWMutex
	studies  map[uuid.UUID]*models.StudyAggregate
	byUID    map[string]uuid.UUID
	patients PatientDirectory
	now      func() time.Time
}

// Stats counts the stored rows
type Stats struct {
	Studies   int
	Series    int
	Instances int
}

// NewMemoryStudyRepository creates a new in-memory study repository
func NewMemoryStudyRepository(patients PatientDirectory) *MemoryStudyRepository {
	return &MemoryStudyRepository{
		studies:  make(map[uuid.UUID]*models.StudyAggregate),
		byUID:    make(map[string]uuid.UUID),
		patients: patients,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new study aggregate
func (m *MemoryStudyRepository) Create(ctx context.Context, patientID uuid.UUID, meta *models.DicomMetadata, storageID string) (*models.StudyAggregate, error) {
	const op = "repository.Create"

	if err := ctx.Err(); err != nil {
		return nil, apperr.FromContext(op, err)
	}

	agg, err := newAggregate(patientID, meta, storageID, m.now())
	if err != nil {
		return nil, err
	}

	exists, err := m.patients.PatientExists(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.Newf(apperr.KindNotFound, op, "patient %s not found", patientID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.byUID[agg.Study.StudyInstanceUID]; dup {
		return nil, apperr.Newf(apperr.KindConflict, op, "study %s already ingested", agg.Study.StudyInstanceUID)
	}

	// The stored copy must not share pointers with meta.
	m.studies[agg.Study.ID] = agg.Clone()
	m.byUID[agg.Study.StudyInstanceUID] = agg.Study.ID

	return agg, nil
}

// GetByStudyInstanceUID retrieves a study by its DICOM UID
func (m *MemoryStudyRepository) GetByStudyInstanceUID(ctx context.Context, studyUID string) (*models.StudyAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUID[studyUID]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "repository.GetByStudyInstanceUID", "study %s not found", studyUID)
	}
	return m.studies[id].Clone(), nil
}

// GetByID retrieves a study by its surrogate id
func (m *MemoryStudyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.StudyAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg, ok := m.studies[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "repository.GetByID", "study %s not found", id)
	}
	return agg.Clone(), nil
}

// GetByPatientID lists a patient's studies, newest study date first
func (m *MemoryStudyRepository) GetByPatientID(ctx context.Context, patientID uuid.UUID) ([]models.DicomStudy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var studies []models.DicomStudy
	for _, agg := range m.studies {
		if agg.Study.PatientID == patientID {
			studies = append(studies, agg.Clone().Study)
		}
	}
	sort.Slice(studies, func(i, j int) bool {
		if !studies[i].StudyDate.Equal(studies[j].StudyDate) {
			return studies[i].StudyDate.After(studies[j].StudyDate)
		}
		return studies[i].StudyInstanceUID < studies[j].StudyInstanceUID
	})
	return studies, nil
}

// UpdateStatus moves a study through its lifecycle
func (m *MemoryStudyRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.StudyStatus) error {
	const op = "repository.UpdateStatus"

	m.mu.Lock()
	defer m.mu.Unlock()

	agg, ok := m.studies[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, op, "study %s not found", id)
	}
	if !agg.Study.Status.CanTransitionTo(status) {
		return invalidTransition(op, agg.Study.Status, status)
	}
	agg.Study.Status = status
	agg.Study.UpdatedAt = m.now()
	return nil
}

// Delete removes a study with its series and instances
func (m *MemoryStudyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg, ok := m.studies[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "repository.Delete", "study %s not found", id)
	}
	delete(m.byUID, agg.Study.StudyInstanceUID)
	delete(m.studies, id)
	return nil
}

// Stats returns the number of stored rows per table
func (m *MemoryStudyRepository) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, agg := range m.studies {
		s.Studies++
		s.Series += len(agg.Series)
		s.Instances += len(agg.Instances)
	}
	return s
}

// MemoryPatientDirectory is a fixed set of known patients
type MemoryPatientDirectory struct {
	mu  sync.RWMutex
	ids map[uuid.UUID]struct{}
}

// NewMemoryPatientDirectory creates a directory seeded with ids
func NewMemoryPatientDirectory(ids ...uuid.UUID) *MemoryPatientDirectory {
	d := &MemoryPatientDirectory{ids: make(map[uuid.UUID]struct{}, len(ids))}
	for _, id := range ids {
		d.ids[id] = struct{}{}
	}
	return d
}

// Add registers a patient
func (d *MemoryPatientDirectory) Add(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids[id] = struct{}{}
}

// PatientExists reports whether id is registered
func (d *MemoryPatientDirectory) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[id]
	return ok, nil
}
