// Package viewer projects persisted studies onto the configuration consumed
// by the web viewer.
package viewer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/otcheredev/ris-study-ingest/internal/models"
)

const dicomDate = "20060102"

// Endpoints are the roots the viewer fetches images and metadata from
type Endpoints struct {
	WadoRoot   string
	WadoRsRoot string
	QidoRsRoot string
}

// Normalize drops trailing slashes so joined URIs never contain "//".
func (e Endpoints) Normalize() Endpoints {
	return Endpoints{
		WadoRoot:   strings.TrimRight(e.WadoRoot, "/"),
		WadoRsRoot: strings.TrimRight(e.WadoRsRoot, "/"),
		QidoRsRoot: strings.TrimRight(e.QidoRsRoot, "/"),
	}
}

// Validate checks that every root is an absolute URL
func (e Endpoints) Validate() error {
	for name, root := range map[string]string{
		"wado root":    e.WadoRoot,
		"wado-rs root": e.WadoRsRoot,
		"qido-rs root": e.QidoRsRoot,
	} {
		u, err := url.Parse(root)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s %q", name, root)
		}
	}
	return nil
}

// Fingerprint identifies the endpoint set. Cached configurations built for
// other endpoints never match.
func (e Endpoints) Fingerprint() string {
	n := e.Normalize()
	sum := sha256.Sum256([]byte(n.WadoRoot + "\n" + n.WadoRsRoot + "\n" + n.QidoRsRoot))
	return hex.EncodeToString(sum[:6])
}

// Build produces the viewer configuration of a study. It performs no I/O and
// returns the same value for the same inputs.
func Build(study *models.StudyAggregate, endpoints Endpoints) models.ViewerConfiguration {
	ep := endpoints.Normalize()
	s := study.Study

	cfg := models.ViewerConfiguration{
		StudyInstanceUID: s.StudyInstanceUID,
		PatientName:      s.PatientName,
		PatientID:        s.DicomPatientID,
		PatientSex:       s.PatientSex,
		StudyDate:        s.StudyDate.Format(dicomDate),
		StudyDescription: s.Description,
		Modality:         string(s.Modality),
		WadoRoot:         ep.WadoRoot,
		WadoRsRoot:       ep.WadoRsRoot,
		QidoRsRoot:       ep.QidoRsRoot,
		Series:           make([]models.ViewerSeries, 0, len(study.Series)),
	}
	if s.PatientBirthDate != nil {
		cfg.PatientBirthDate = s.PatientBirthDate.Format(dicomDate)
	}

	series := append([]models.DicomSeries(nil), study.Series...)
	sort.SliceStable(series, func(i, j int) bool {
		return lessByNumber(series[i].SeriesNumber, series[j].SeriesNumber,
			series[i].SeriesInstanceUID, series[j].SeriesInstanceUID)
	})

	for _, sr := range series {
		seriesURI := ep.WadoRoot + "/studies/" + s.StudyInstanceUID + "/series/" + sr.SeriesInstanceUID

		modality := string(sr.Modality)
		if modality == "" {
			modality = string(s.Modality)
		}
		vs := models.ViewerSeries{
			SeriesInstanceUID: sr.SeriesInstanceUID,
			SeriesNumber:      sr.SeriesNumber,
			SeriesDescription: sr.SeriesDescription,
			Modality:          modality,
			WadoURI:           seriesURI,
			Instances:         []models.ViewerInstance{},
		}

		instances := study.InstancesOf(sr.ID)
		sort.SliceStable(instances, func(i, j int) bool {
			return lessByNumber(instances[i].InstanceNumber, instances[j].InstanceNumber,
				instances[i].SOPInstanceUID, instances[j].SOPInstanceUID)
		})
		for _, inst := range instances {
			uri := seriesURI + "/instances/" + inst.SOPInstanceUID
			if inst.FrameIndex != nil {
				uri += fmt.Sprintf("/frames/%d", *inst.FrameIndex)
			}
			vs.Instances = append(vs.Instances, models.ViewerInstance{
				SOPInstanceUID: inst.SOPInstanceUID,
				InstanceNumber: inst.InstanceNumber,
				Rows:           inst.Rows,
				Columns:        inst.Columns,
				FrameIndex:     inst.FrameIndex,
				WadoURI:        uri,
			})
		}
		cfg.Series = append(cfg.Series, vs)
	}

	return cfg
}

// lessByNumber orders by number ascending with nil last, then by uid.
func lessByNumber(a, b *int, uidA, uidB string) bool {
	switch {
	case a != nil && b != nil && *a != *b:
		return *a < *b
	case a != nil && b == nil:
		return true
	case a == nil && b != nil:
		return false
	}
	return uidA < uidB
}
