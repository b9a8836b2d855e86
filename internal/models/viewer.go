package models

// ViewerConfiguration is the payload consumed by the web viewer. The JSON
// field names are a stable contract; do not rename them.
type ViewerConfiguration struct {
	StudyInstanceUID string         `json:"studyInstanceUid"`
	PatientName      string         `json:"patientName"`
	PatientID        string         `json:"patientId"`
	PatientBirthDate string         `json:"patientBirthDate,omitempty"`
	PatientSex       string         `json:"patientSex,omitempty"`
	StudyDate        string         `json:"studyDate"`
	StudyDescription string         `json:"studyDescription,omitempty"`
	Modality         string         `json:"modality"`
	WadoRoot         string         `json:"wadoRoot"`
	WadoRsRoot       string         `json:"wadoRsRoot"`
	QidoRsRoot       string         `json:"qidoRsRoot"`
	Series           []ViewerSeries `json:"series"`
}

// ViewerSeries is one series of a viewer configuration, ordered by number.
type ViewerSeries struct {
	SeriesInstanceUID string           `json:"seriesInstanceUid"`
	SeriesNumber      *int             `json:"seriesNumber,omitempty"`
	SeriesDescription string           `json:"seriesDescription,omitempty"`
	Modality          string           `json:"modality"`
	WadoURI           string           `json:"wadoUri"`
	Instances         []ViewerInstance `json:"instances"`
}

// ViewerInstance is one displayable instance with its WADO URI.
type ViewerInstance struct {
	SOPInstanceUID string `json:"sopInstanceUid"`
	InstanceNumber *int   `json:"instanceNumber,omitempty"`
	Rows           int    `json:"rows,omitempty"`
	Columns        int    `json:"columns,omitempty"`
	FrameIndex     *int   `json:"frameIndex,omitempty"`
	WadoURI        string `json:"wadoUri"`
}
