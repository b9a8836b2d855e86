package extractor

import (
	"github.com/otcheredev/ris-study-ingest/internal/apperr"
	"github.com/otcheredev/ris-study-ingest/internal/models"
)

// Merge combines per-file metadata of one study into a single record. Series
// keep the order in which they were first seen. Study-level fields come from
// the first item; StudyDate falls back to the first item that has one.
func Merge(items ...*models.DicomMetadata) (*models.DicomMetadata, error) {
	const op = "extractor.Merge"

	if len(items) == 0 {
		return nil, apperr.New(apperr.KindValidation, op, "no metadata to merge")
	}

	first := items[0]
	merged := *first
	merged.Extra = make(map[string]string, len(first.Extra))
	merged.Series = nil

	seriesIdx := make(map[string]int)
	sops := make(map[string]map[string]struct{})

	for i, item := range items {
		if item == nil {
			return nil, apperr.Newf(apperr.KindValidation, op, "item %d is empty", i)
		}
		if item.StudyInstanceUID != first.StudyInstanceUID {
			return nil, apperr.Newf(apperr.KindValidation, op,
				"files belong to different studies: %s and %s", first.StudyInstanceUID, item.StudyInstanceUID)
		}
		if merged.StudyDate == nil && item.StudyDate != nil {
			merged.StudyDate = item.StudyDate
		}
		for k, v := range item.Extra {
			if _, ok := merged.Extra[k]; !ok {
				merged.Extra[k] = v
			}
		}

		for _, s := range item.Series {
			idx, ok := seriesIdx[s.SeriesInstanceUID]
			if !ok {
				idx = len(merged.Series)
				seriesIdx[s.SeriesInstanceUID] = idx
				sops[s.SeriesInstanceUID] = make(map[string]struct{})
				cp := s
				cp.Instances = nil
				merged.Series = append(merged.Series, cp)
			}
			for _, inst := range s.Instances {
				if _, dup := sops[s.SeriesInstanceUID][inst.SOPInstanceUID]; dup {
					return nil, apperr.Newf(apperr.KindValidation, op,
						"duplicate SOP instance %s in series %s", inst.SOPInstanceUID, s.SeriesInstanceUID)
				}
				sops[s.SeriesInstanceUID][inst.SOPInstanceUID] = struct{}{}
				merged.Series[idx].Instances = append(merged.Series[idx].Instances, inst)
			}
		}
	}

	return &merged, nil
}
