package models

import (
	"strings"
	"time"
)

// Modality is the normalized acquisition modality of a study or series.
type Modality string

const (
	ModalityCT    Modality = "CT"
	ModalityMR    Modality = "MR"
	ModalityXR    Modality = "XR"
	ModalityUS    Modality = "US"
	ModalityPT    Modality = "PT"
	ModalityOther Modality = "OTHER"
)

// ParseModality maps a DICOM (0008,0060) value onto the supported set.
// Projection radiography codes collapse into XR. Empty input yields "".
func ParseModality(raw string) Modality {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return ""
	case "CT":
		return ModalityCT
	case "MR":
		return ModalityMR
	case "XR", "CR", "DX", "DR", "RG":
		return ModalityXR
	case "US":
		return ModalityUS
	case "PT":
		return ModalityPT
	default:
		return ModalityOther
	}
}

// DicomMetadata is the header information extracted from one or more Part 10
// files of a single study. The flat fields describe the first file; Series
// holds the hierarchy that gets persisted.
type DicomMetadata struct {
	StudyInstanceUID  string   `json:"study_instance_uid"`
	SeriesInstanceUID string   `json:"series_instance_uid"`
	SOPInstanceUID    string   `json:"sop_instance_uid"`
	Modality          Modality `json:"modality"`

	// StudyDate is nil when the file carries no (0008,0020); the repository
	// substitutes the ingestion time.
	StudyDate        *time.Time `json:"study_date,omitempty"`
	StudyDescription string     `json:"study_description,omitempty"`
	AccessionNumber  string     `json:"accession_number,omitempty"`

	PatientID        string     `json:"patient_id,omitempty"`
	PatientName      string     `json:"patient_name,omitempty"`
	PatientBirthDate *time.Time `json:"patient_birth_date,omitempty"`
	PatientSex       string     `json:"patient_sex,omitempty"`

	InstitutionName        string `json:"institution_name,omitempty"`
	ReferringPhysicianName string `json:"referring_physician_name,omitempty"`

	SeriesDescription string `json:"series_description,omitempty"`
	SeriesNumber      *int   `json:"series_number,omitempty"`
	InstanceNumber    *int   `json:"instance_number,omitempty"`

	Rows                      int    `json:"rows,omitempty"`
	Columns                   int    `json:"columns,omitempty"`
	PhotometricInterpretation string `json:"photometric_interpretation,omitempty"`
	NumberOfFrames            int    `json:"number_of_frames,omitempty"`

	// Extra holds every unmodeled tag keyed "(GGGG,EEEE)".
	Extra map[string]string `json:"extra,omitempty"`

	Series []SeriesMetadata `json:"series"`
}

// SeriesMetadata is one series of the extracted hierarchy.
type SeriesMetadata struct {
	SeriesInstanceUID string             `json:"series_instance_uid"`
	Modality          Modality           `json:"modality"`
	Description       string             `json:"description,omitempty"`
	Number            *int               `json:"number,omitempty"`
	Instances         []InstanceMetadata `json:"instances"`
}

// InstanceMetadata is one SOP instance of the extracted hierarchy.
type InstanceMetadata struct {
	SOPInstanceUID            string `json:"sop_instance_uid"`
	InstanceNumber            *int   `json:"instance_number,omitempty"`
	Rows                      int    `json:"rows,omitempty"`
	Columns                   int    `json:"columns,omitempty"`
	PhotometricInterpretation string `json:"photometric_interpretation,omitempty"`
	NumberOfFrames            int    `json:"number_of_frames,omitempty"`
	FrameIndex                *int   `json:"frame_index,omitempty"`
}

// InstanceCount returns the number of instances across all series.
func (m *DicomMetadata) InstanceCount() int {
	n := 0
	for _, s := range m.Series {
		n += len(s.Instances)
	}
	return n
}
