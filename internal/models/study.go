package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StudyStatus is the ingestion lifecycle state of a study.
type StudyStatus string

const (
	StudyStatusUploading  StudyStatus = "uploading"
	StudyStatusProcessing StudyStatus = "processing"
	StudyStatusAvailable  StudyStatus = "available"
	StudyStatusError      StudyStatus = "error"
	StudyStatusDeleting   StudyStatus = "deleting"
)

var studyTransitions = map[StudyStatus][]StudyStatus{
	StudyStatusUploading:  {StudyStatusProcessing, StudyStatusError},
	StudyStatusProcessing: {StudyStatusAvailable, StudyStatusError, StudyStatusDeleting},
	StudyStatusAvailable:  {StudyStatusDeleting},
	StudyStatusError:      {StudyStatusDeleting},
}

// CanTransitionTo reports whether s may move to next.
func (s StudyStatus) CanTransitionTo(next StudyStatus) bool {
	for _, allowed := range studyTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s StudyStatus) Valid() bool {
	switch s {
	case StudyStatusUploading, StudyStatusProcessing, StudyStatusAvailable, StudyStatusError, StudyStatusDeleting:
		return true
	}
	return false
}

// DicomStudy is the persisted study header.
type DicomStudy struct {
	ID               uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PatientID        uuid.UUID   `gorm:"type:uuid;not null;index" json:"patient_id"`
	StudyInstanceUID string      `gorm:"type:varchar(64);not null;uniqueIndex" json:"study_instance_uid"`
	StorageID        string      `gorm:"type:varchar(255);not null;index" json:"storage_id"`
	Modality         Modality    `gorm:"type:varchar(16);not null" json:"modality"`
	StudyDate        time.Time   `gorm:"index" json:"study_date"`
	Description      string      `gorm:"type:text" json:"description,omitempty"`
	AccessionNumber  string      `gorm:"type:varchar(64);index" json:"accession_number,omitempty"`
	SeriesCount      int         `gorm:"not null;default:0" json:"series_count"`
	InstanceCount    int         `gorm:"not null;default:0" json:"instance_count"`
	Status           StudyStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	// Patient fields as captured in the file, independent of the local
	// patient record.
	DicomPatientID         string     `gorm:"type:varchar(64)" json:"dicom_patient_id,omitempty"`
	PatientName            string     `gorm:"type:varchar(255)" json:"patient_name,omitempty"`
	PatientBirthDate       *time.Time `json:"patient_birth_date,omitempty"`
	PatientSex             string     `gorm:"type:varchar(16)" json:"patient_sex,omitempty"`
	InstitutionName        string     `gorm:"type:varchar(255)" json:"institution_name,omitempty"`
	ReferringPhysicianName string     `gorm:"type:varchar(255)" json:"referring_physician_name,omitempty"`

	Attributes map[string]string `gorm:"serializer:json;type:jsonb" json:"attributes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (DicomStudy) TableName() string {
	return "dicom_studies"
}

// BeforeCreate hook
func (s *DicomStudy) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// DicomSeries belongs to exactly one study through StudyID.
type DicomSeries struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	StudyID           uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_series_study_uid" json:"study_id"`
	SeriesInstanceUID string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_series_study_uid" json:"series_instance_uid"`
	Modality          Modality  `gorm:"type:varchar(16)" json:"modality"`
	SeriesDescription string    `gorm:"type:text" json:"series_description,omitempty"`
	SeriesNumber      *int      `json:"series_number,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName overrides the table name
func (DicomSeries) TableName() string {
	return "dicom_series"
}

// BeforeCreate hook
func (s *DicomSeries) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// DicomInstance belongs to exactly one series through SeriesID.
type DicomInstance struct {
	ID                        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SeriesID                  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_instance_series_uid" json:"series_id"`
	SOPInstanceUID            string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_instance_series_uid" json:"sop_instance_uid"`
	InstanceNumber            *int      `json:"instance_number,omitempty"`
	Rows                      int       `json:"rows"`
	Columns                   int       `json:"columns"`
	PhotometricInterpretation string    `gorm:"type:varchar(32)" json:"photometric_interpretation,omitempty"`
	NumberOfFrames            int       `json:"number_of_frames,omitempty"`
	FrameIndex                *int      `json:"frame_index,omitempty"`
	CreatedAt                 time.Time `json:"created_at"`
}

// TableName overrides the table name
func (DicomInstance) TableName() string {
	return "dicom_instances"
}

// BeforeCreate hook
func (i *DicomInstance) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// StudyAggregate is a study with its series and instances. Children refer to
// their parent by id only; use InstancesOf to walk the hierarchy.
type StudyAggregate struct {
	Study     DicomStudy      `json:"study"`
	Series    []DicomSeries   `json:"series"`
	Instances []DicomInstance `json:"instances"`
}

// InstancesOf returns the instances whose parent is seriesID.
func (a *StudyAggregate) InstancesOf(seriesID uuid.UUID) []DicomInstance {
	var out []DicomInstance
	for _, inst := range a.Instances {
		if inst.SeriesID == seriesID {
			out = append(out, inst)
		}
	}
	return out
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (a *StudyAggregate) Clone() *StudyAggregate {
	out := &StudyAggregate{
		Study:     a.Study,
		Series:    append([]DicomSeries(nil), a.Series...),
		Instances: append([]DicomInstance(nil), a.Instances...),
	}
	out.Study.PatientBirthDate = clonePtr(a.Study.PatientBirthDate)
	if a.Study.Attributes != nil {
		out.Study.Attributes = make(map[string]string, len(a.Study.Attributes))
		for k, v := range a.Study.Attributes {
			out.Study.Attributes[k] = v
		}
	}
	for i := range out.Series {
		out.Series[i].SeriesNumber = clonePtr(out.Series[i].SeriesNumber)
	}
	for i := range out.Instances {
		out.Instances[i].InstanceNumber = clonePtr(out.Instances[i].InstanceNumber)
		out.Instances[i].FrameIndex = clonePtr(out.Instances[i].FrameIndex)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
