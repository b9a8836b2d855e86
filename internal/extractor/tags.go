package extractor

import (
	"fmt"

	"github.com/otcheredev/ris-study-ingest/internal/models"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// decoder copies one element into the metadata record.
type decoder func(m *models.DicomMetadata, v value) error

type knownTag struct {
	Tag    tag.Tag
	Name   string
	Decode decoder
}

var (
	tagStudyInstanceUID = tag.Tag{Group: 0x0020, Element: 0x000D}
	tagModality         = tag.Tag{Group: 0x0008, Element: 0x0060}
	tagPixelData        = tag.Tag{Group: 0x7FE0, Element: 0x0010}
)

// knownTags lists the attributes that map onto typed metadata fields. Every
// other element ends up in DicomMetadata.Extra.
var knownTags = []knownTag{
	{tag.Tag{Group: 0x0008, Element: 0x0018}, "SOPInstanceUID", func(m *models.DicomMetadata, v value) error {
		m.SOPInstanceUID = v.String()
		return nil
	}},
	{tag.Tag{Group: 0x0008, Element: 0x0020}, "StudyDate", func(m *models.DicomMetadata, v value) error {
		d, err := v.Date()
		m.StudyDate = d
		return err
	}},
	{tag.Tag{Group: 0x0008, Element: 0x0050}, "AccessionNumber", func(m *models.DicomMetadata, v value) error {
		m.AccessionNumber = v.String()
		return nil
	}},
	{tagModality, "Modality", func(m *models.DicomMetadata, v value) error {
		m.Modality = models.ParseModality(v.String())
		return nil
	}},
	{tag.Tag{Group: 0x0008, Element: 0x0080}, "InstitutionName", func(m *models.DicomMetadata, v value) error {
		m.InstitutionName = v.String()
		return nil
	}},
	{tag.Tag{Group: 0x0008, Element: 0x0090}, "ReferringPhysicianName", func(m *models.DicomMetadata, v value) error {
		m.ReferringPhysicianName = v.String()
		return nil
	}},
	{tag.Tag{Group: 0x0008, Element: 0x1030}, "StudyDescription", func(m *models.DicomMetadata, v value) error {
		m.StudyDescription = v.String()
		return nil
	}},
	{tag.Tag{Group: 0x0008, Element: 0x103E}, "SeriesDescription", func(m *models.DicomMetadata, v value) error {
		m.SeriesDescription = v.String()
		return nil
	}},
	{tag.Tag{Group: 0x0010, Element: 0x0010}, "PatientName", func(m *models.DicomMetadata, v value) error {
		m.PatientName = v.String()
		return nil
	}},
	{tag.Tag{Group: 0x0010, Element: 0x0020}, "PatientID", func(m *models.DicomMetadata, v value) error {
		m.PatientID = v.String()
		return nil
	}},
	{tag.Tag{Group: 0x0010, Element: 0x0030}, "PatientBirthDate", func(m *models.DicomMetadata, v value) error {
		d, err := v.Date()
		m.PatientBirthDate = d
		return err
	}},
	{tag.Tag{Group: 0x0010, Element: 0x0040}, "PatientSex", func(m *models.DicomMetadata, v value) error {
		m.PatientSex = v.String()
		return nil
	}},
	{tagStudyInstanceUID, "StudyInstanceUID", func(m *models.DicomMetadata, v value) error {
		m.StudyInstanceUID = v.String()
		return nil
	}},
	{tag.Tag{Group: 0x0020, Element: 0x000E}, "SeriesInstanceUID", func(m *models.DicomMetadata, v value) error {
		m.SeriesInstanceUID = v.String()
		return nil
	}},
	{tag.Tag{Group: 0x0020, Element: 0x0011}, "SeriesNumber", func(m *models.DicomMetadata, v value) error {
		n, err := v.OptionalInt()
		m.SeriesNumber = n
		return err
	}},
	{tag.Tag{Group: 0x0020, Element: 0x0013}, "InstanceNumber", func(m *models.DicomMetadata, v value) error {
		n, err := v.OptionalInt()
		m.InstanceNumber = n
		return err
	}},
	{tag.Tag{Group: 0x0028, Element: 0x0004}, "PhotometricInterpretation", func(m *models.DicomMetadata, v value) error {
		m.PhotometricInterpretation = v.String()
		return nil
	}},
	{tag.Tag{Group: 0x0028, Element: 0x0008}, "NumberOfFrames", func(m *models.DicomMetadata, v value) error {
		n, err := v.Int()
		m.NumberOfFrames = n
		return err
	}},
	{tag.Tag{Group: 0x0028, Element: 0x0010}, "Rows", func(m *models.DicomMetadata, v value) error {
		n, err := v.Int()
		m.Rows = n
		return err
	}},
	{tag.Tag{Group: 0x0028, Element: 0x0011}, "Columns", func(m *models.DicomMetadata, v value) error {
		n, err := v.Int()
		m.Columns = n
		return err
	}},
}

var knownTagIndex = func() map[tag.Tag]knownTag {
	idx := make(map[tag.Tag]knownTag, len(knownTags))
	for _, k := range knownTags {
		idx[k.Tag] = k
	}
	return idx
}()

// TagKey formats a tag as "(GGGG,EEEE)", the key used in the overflow map.
func TagKey(t tag.Tag) string {
	return fmt.Sprintf("(%04X,%04X)", t.Group, t.Element)
}
