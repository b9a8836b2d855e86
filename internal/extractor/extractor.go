// Package extractor reads DICOM Part 10 headers into models.DicomMetadata.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/otcheredev/ris-study-ingest/internal/apperr"
	"github.com/otcheredev/ris-study-ingest/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/suyashkumar/dicom"
)

const (
	preambleLength = 128
	magicWord      = "DICM"
)

// Extractor parses DICOM headers. It holds no state and is safe for
// concurrent use.
type Extractor struct{}

// New creates a new extractor
func New() *Extractor {
	return &Extractor{}
}

// Extract parses the Part 10 stream r. Pixel data is skipped. The stream is
// rewound to offset 0 before returning so the same bytes can be uploaded.
func (e *Extractor) Extract(ctx context.Context, r io.ReadSeeker) (meta *models.DicomMetadata, err error) {
	const op = "extractor.Extract"

	if err := ctx.Err(); err != nil {
		return nil, apperr.FromContext(op, err)
	}

	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedInput, op, err, "stream is not seekable")
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedInput, op, err, "stream is not seekable")
	}
	defer func() {
		if _, serr := r.Seek(0, io.SeekStart); serr != nil && err == nil {
			meta, err = nil, fmt.Errorf("rewind stream: %w", serr)
		}
	}()

	if size < preambleLength+int64(len(magicWord)) {
		return nil, apperr.Newf(apperr.KindMalformedInput, op,
			"data too short to be DICOM Part 10 (need at least %d bytes, got %d)", preambleLength+len(magicWord), size)
	}

	header := make([]byte, preambleLength+len(magicWord))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedInput, op, err, "read preamble")
	}
	if !bytes.Equal(header[preambleLength:], []byte(magicWord)) {
		return nil, apperr.New(apperr.KindMalformedInput, op, "missing DICM prefix at offset 128")
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedInput, op, err, "rewind stream")
	}

	ds, err := parse(r, size)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedInput, op, err, "unparseable data set")
	}

	meta, err = fromDataset(&ds)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("study_uid", meta.StudyInstanceUID).
		Str("sop_uid", meta.SOPInstanceUID).
		Str("modality", string(meta.Modality)).
		Int("extra_tags", len(meta.Extra)).
		Msg("Extracted DICOM metadata")

	return meta, nil
}

// parse guards against the parser panicking on corrupt input.
func parse(r io.Reader, size int64) (ds dicom.Dataset, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("parser panic: %v", p)
		}
	}()
	return dicom.Parse(r, size, nil, dicom.SkipPixelData())
}

func fromDataset(ds *dicom.Dataset) (*models.DicomMetadata, error) {
	const op = "extractor.Extract"

	meta := &models.DicomMetadata{Extra: make(map[string]string)}

	for _, el := range ds.Elements {
		// Group lengths and the file meta group describe the encoding, not
		// the study.
		if el == nil || el.Tag == tagPixelData || el.Tag.Element == 0x0000 || el.Tag.Group == 0x0002 {
			continue
		}
		v := newValue(el)
		if known, ok := knownTagIndex[el.Tag]; ok {
			if err := known.Decode(meta, v); err != nil {
				return nil, apperr.Wrap(apperr.KindMalformedInput, op, err,
					fmt.Sprintf("tag %s %s", TagKey(el.Tag), known.Name))
			}
			continue
		}
		if raw := v.Raw(); raw != "" {
			meta.Extra[TagKey(el.Tag)] = raw
		}
	}

	if meta.StudyInstanceUID == "" {
		return nil, apperr.Newf(apperr.KindValidation, op,
			"missing mandatory tag %s StudyInstanceUID", TagKey(tagStudyInstanceUID))
	}
	if meta.Modality == "" {
		return nil, apperr.Newf(apperr.KindValidation, op,
			"missing mandatory tag %s Modality", TagKey(tagModality))
	}

	buildHierarchy(meta)
	return meta, nil
}

// buildHierarchy derives the single-file series/instance tree from the flat
// fields. Multi-frame instances default to their first frame.
func buildHierarchy(meta *models.DicomMetadata) {
	if meta.SeriesInstanceUID == "" {
		return
	}
	series := models.SeriesMetadata{
		SeriesInstanceUID: meta.SeriesInstanceUID,
		Modality:          meta.Modality,
		Description:       meta.SeriesDescription,
		Number:            meta.SeriesNumber,
	}
	if meta.SOPInstanceUID != "" {
		inst := models.InstanceMetadata{
			SOPInstanceUID:            meta.SOPInstanceUID,
			InstanceNumber:            meta.InstanceNumber,
			Rows:                      meta.Rows,
			Columns:                   meta.Columns,
			PhotometricInterpretation: meta.PhotometricInterpretation,
			NumberOfFrames:            meta.NumberOfFrames,
		}
		if meta.NumberOfFrames > 1 {
			first := 1
			inst.FrameIndex = &first
		}
		series.Instances = append(series.Instances, inst)
	}
	meta.Series = []models.SeriesMetadata{series}
}
