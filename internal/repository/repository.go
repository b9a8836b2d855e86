package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/otcheredev/ris-study-ingest/internal/apperr"
	"github.com/otcheredev/ris-study-ingest/internal/models"
)

// StudyRepository persists study aggregates
type StudyRepository interface {
	// Create stores the study, its series and instances atomically with
	// status Processing.
	Create(ctx context.Context, patientID uuid.UUID, meta *models.DicomMetadata, storageID string) (*models.StudyAggregate, error)
	GetByStudyInstanceUID(ctx context.Context, studyUID string) (*models.StudyAggregate, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.StudyAggregate, error)
	GetByPatientID(ctx context.Context, patientID uuid.UUID) ([]models.DicomStudy, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.StudyStatus) error
	// Delete removes the study with all its series and instances.
	Delete(ctx context.Context, id uuid.UUID) error
}

// PatientDirectory answers whether a local patient record exists
type PatientDirectory interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// newAggregate maps extracted metadata onto fresh rows. A missing study date
// falls back to now.
func newAggregate(patientID uuid.UUID, meta *models.DicomMetadata, storageID string, now time.Time) (*models.StudyAggregate, error) {
	const op = "repository.Create"

	if meta == nil || meta.StudyInstanceUID == "" {
		return nil, apperr.New(apperr.KindValidation, op, "study instance UID is required")
	}
	if meta.Modality == "" {
		return nil, apperr.New(apperr.KindValidation, op, "modality is required")
	}
	if storageID == "" {
		return nil, apperr.New(apperr.KindValidation, op, "storage id is required")
	}
	if patientID == uuid.Nil {
		return nil, apperr.New(apperr.KindValidation, op, "patient id is required")
	}

	studyDate := now
	if meta.StudyDate != nil {
		studyDate = *meta.StudyDate
	}

	agg := &models.StudyAggregate{
		Study: models.DicomStudy{
			ID:                     uuid.New(),
			PatientID:              patientID,
			StudyInstanceUID:       meta.StudyInstanceUID,
			StorageID:              storageID,
			Modality:               meta.Modality,
			StudyDate:              studyDate,
			Description:            meta.StudyDescription,
			AccessionNumber:        meta.AccessionNumber,
			Status:                 models.StudyStatusProcessing,
			DicomPatientID:         meta.PatientID,
			PatientName:            meta.PatientName,
			PatientBirthDate:       meta.PatientBirthDate,
			PatientSex:             meta.PatientSex,
			InstitutionName:        meta.InstitutionName,
			ReferringPhysicianName: meta.ReferringPhysicianName,
			CreatedAt:              now,
			UpdatedAt:              now,
		},
	}
	if len(meta.Extra) > 0 {
		agg.Study.Attributes = make(map[string]string, len(meta.Extra))
		for k, v := range meta.Extra {
			agg.Study.Attributes[k] = v
		}
	}

	seen := make(map[string]struct{}, len(meta.Series))
	for _, s := range meta.Series {
		if s.SeriesInstanceUID == "" {
			return nil, apperr.New(apperr.KindValidation, op, "series instance UID is required")
		}
		if _, dup := seen[s.SeriesInstanceUID]; dup {
			return nil, apperr.Newf(apperr.KindValidation, op, "duplicate series %s", s.SeriesInstanceUID)
		}
		seen[s.SeriesInstanceUID] = struct{}{}

		modality := s.Modality
		if modality == "" {
			modality = meta.Modality
		}
		series := models.DicomSeries{
			ID:                uuid.New(),
			StudyID:           agg.Study.ID,
			SeriesInstanceUID: s.SeriesInstanceUID,
			Modality:          modality,
			SeriesDescription: s.Description,
			SeriesNumber:      s.Number,
			CreatedAt:         now,
		}
		agg.Series = append(agg.Series, series)

		sops := make(map[string]struct{}, len(s.Instances))
		for _, inst := range s.Instances {
			if inst.SOPInstanceUID == "" {
				return nil, apperr.New(apperr.KindValidation, op, "SOP instance UID is required")
			}
			if _, dup := sops[inst.SOPInstanceUID]; dup {
				return nil, apperr.Newf(apperr.KindValidation, op,
					"duplicate SOP instance %s in series %s", inst.SOPInstanceUID, s.SeriesInstanceUID)
			}
			sops[inst.SOPInstanceUID] = struct{}{}

			agg.Instances = append(agg.Instances, models.DicomInstance{
				ID:                        uuid.New(),
				SeriesID:                  series.ID,
				SOPInstanceUID:            inst.SOPInstanceUID,
				InstanceNumber:            inst.InstanceNumber,
				Rows:                      inst.Rows,
				Columns:                   inst.Columns,
				PhotometricInterpretation: inst.PhotometricInterpretation,
				NumberOfFrames:            inst.NumberOfFrames,
				FrameIndex:                inst.FrameIndex,
				CreatedAt:                 now,
			})
		}
	}

	agg.Study.SeriesCount = len(agg.Series)
	agg.Study.InstanceCount = len(agg.Instances)
	return agg, nil
}

func invalidTransition(op string, from, to models.StudyStatus) error {
	return apperr.Newf(apperr.KindValidation, op, "invalid status transition %s -> %s", from, to)
}
