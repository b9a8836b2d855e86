package models

import (
	"time"
)

// UploadReceipt is the remote store's acknowledgment of an uploaded instance.
type UploadReceipt struct {
	InstanceID   string `json:"ID"`
	ParentStudy  string `json:"ParentStudy"`
	ParentSeries string `json:"ParentSeries"`
	Status       string `json:"Status"` // Success, AlreadyStored
}

// StorageID is the identifier that correlates the local study with the
// remote object.
func (r *UploadReceipt) StorageID() string {
	return r.ParentStudy
}

// AlreadyStored reports whether the instance was in the remote store before
// this upload.
func (r *UploadReceipt) AlreadyStored() bool {
	return r.Status == "AlreadyStored"
}

// RemoteStudy is the remote store's view of a stored study.
type RemoteStudy struct {
	ID              string `json:"ID"`
	PatientMainTags struct {
		PatientName      string `json:"PatientName,omitempty"`
		PatientID        string `json:"PatientID,omitempty"`
		PatientBirthDate string `json:"PatientBirthDate,omitempty"`
		PatientSex       string `json:"PatientSex,omitempty"`
	} `json:"PatientMainDicomTags"`
	MainTags struct {
		StudyInstanceUID       string `json:"StudyInstanceUID,omitempty"`
		StudyDate              string `json:"StudyDate,omitempty"`
		StudyTime              string `json:"StudyTime,omitempty"`
		StudyDescription       string `json:"StudyDescription,omitempty"`
		AccessionNumber        string `json:"AccessionNumber,omitempty"`
		InstitutionName        string `json:"InstitutionName,omitempty"`
		ReferringPhysicianName string `json:"ReferringPhysicianName,omitempty"`
	} `json:"MainDicomTags"`
	Series     []string `json:"Series"`
	IsStable   bool     `json:"IsStable"`
	LastUpdate string   `json:"LastUpdate"`
	Type       string   `json:"Type"`
}

// ConnectionStatus represents the status of a PACS connection
type ConnectionStatus struct {
	IsConnected  bool      `json:"is_connected"`
	LastChecked  time.Time `json:"last_checked"`
	ResponseTime int64     `json:"response_time_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Version      string    `json:"version,omitempty"`
}
