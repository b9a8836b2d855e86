package dicomtest

// Instance describes a single-file fixture. Empty fields are omitted from the
// encoded data set.
type Instance struct {
	StudyInstanceUID          string
	SeriesInstanceUID         string
	SOPInstanceUID            string
	Modality                  string
	StudyDate                 string
	StudyDescription          string
	AccessionNumber           string
	ReferringPhysicianName    string
	InstitutionName           string
	SeriesDescription         string
	PatientName               string
	PatientID                 string
	PatientBirthDate          string
	PatientSex                string
	SeriesNumber              string
	InstanceNumber            string
	NumberOfFrames            string
	PhotometricInterpretation string
	Rows                      uint16
	Columns                   uint16
}

// CT returns a populated CT instance fixture.
func CT(studyUID, seriesUID, sopUID string) Instance {
	return Instance{
		StudyInstanceUID:          studyUID,
		SeriesInstanceUID:         seriesUID,
		SOPInstanceUID:            sopUID,
		Modality:                  "CT",
		StudyDate:                 "20240131",
		StudyDescription:          "CT CHEST W/O CONTRAST",
		AccessionNumber:           "ACC1001",
		ReferringPhysicianName:    "House^Gregory",
		InstitutionName:           "General Hospital",
		SeriesDescription:         "AXIAL 5mm",
		PatientName:               "Doe^Jane",
		PatientID:                 "MRN-42",
		PatientBirthDate:          "19800215",
		PatientSex:                "F",
		SeriesNumber:              "1",
		InstanceNumber:            "1",
		PhotometricInterpretation: "MONOCHROME2",
		Rows:                      512,
		Columns:                   512,
	}
}

// File converts the fixture into a File so tests can tweak it further.
func (i Instance) File() *File {
	f := NewFile()
	set := func(group, elem uint16, vr, value string) {
		if value != "" {
			f.String(group, elem, vr, value)
		}
	}
	set(0x0008, 0x0016, "UI", defaultSOPClassUID)
	set(0x0008, 0x0018, "UI", i.SOPInstanceUID)
	set(0x0008, 0x0020, "DA", i.StudyDate)
	set(0x0008, 0x0050, "SH", i.AccessionNumber)
	set(0x0008, 0x0060, "CS", i.Modality)
	set(0x0008, 0x0080, "LO", i.InstitutionName)
	set(0x0008, 0x0090, "PN", i.ReferringPhysicianName)
	set(0x0008, 0x1030, "LO", i.StudyDescription)
	set(0x0008, 0x103E, "LO", i.SeriesDescription)
	set(0x0010, 0x0010, "PN", i.PatientName)
	set(0x0010, 0x0020, "LO", i.PatientID)
	set(0x0010, 0x0030, "DA", i.PatientBirthDate)
	set(0x0010, 0x0040, "CS", i.PatientSex)
	set(0x0020, 0x000D, "UI", i.StudyInstanceUID)
	set(0x0020, 0x000E, "UI", i.SeriesInstanceUID)
	set(0x0020, 0x0011, "IS", i.SeriesNumber)
	set(0x0020, 0x0013, "IS", i.InstanceNumber)
	set(0x0028, 0x0004, "CS", i.PhotometricInterpretation)
	set(0x0028, 0x0008, "IS", i.NumberOfFrames)
	if i.Rows != 0 {
		f.UInt16(0x0028, 0x0010, i.Rows)
	}
	if i.Columns != 0 {
		f.UInt16(0x0028, 0x0011, i.Columns)
	}
	return f
}

// Bytes encodes the fixture.
func (i Instance) Bytes() []byte {
	return i.File().Bytes()
}
